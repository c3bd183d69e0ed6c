package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"stocksim/internal/bus"
	"stocksim/internal/models"
	"stocksim/internal/services"
	"stocksim/internal/store"
)

func TestListStocksParsesFilters(t *testing.T) {
	var captured store.StockFilters
	handler := newTestHandler(fakeTxRunner{}, handlerStubs{
		stocks: stubStockCatalog{
			listFn: func(_ context.Context, filters store.StockFilters) ([]store.StockListing, error) {
				captured = filters
				return []store.StockListing{{Symbol: "ACME", Price: "12.0000", Quantity: 100}}, nil
			},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/stocks?symbol=ACME&minPrice=5&maxQuantity=500&limit=10", nil)
	rr := httptest.NewRecorder()
	handler.ListStocks(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if captured.Symbol != "ACME" || captured.MinPrice != "5" || captured.Limit != 10 {
		t.Errorf("filters = %+v", captured)
	}
	if captured.MaxQty == nil || *captured.MaxQty != 500 {
		t.Errorf("max quantity not parsed: %+v", captured.MaxQty)
	}
}

func TestGetStockNotFound(t *testing.T) {
	handler := newTestHandler(fakeTxRunner{}, handlerStubs{})

	req := httptest.NewRequest(http.MethodGet, "/stocks/GHOST", nil)
	rr := httptest.NewRecorder()
	router := handler.Routes()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestGetStockIncludesResaleMetadata(t *testing.T) {
	handler := newTestHandler(fakeTxRunner{}, handlerStubs{
		stocks: stubStockCatalog{
			latestFn: func(_ context.Context, symbol string) (models.Stock, error) {
				return models.Stock{Symbol: symbol, Price: "11.40", Quantity: 10, Timestamp: time.Now()}, nil
			},
			discountFn: func(_ context.Context, symbol string) (models.ResaleDiscount, error) {
				return models.ResaleDiscount{Symbol: symbol, OriginalSymbol: "ACME", DiscountPct: "5.00", OriginalPrice: "12.0000"}, nil
			},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/stocks/ACME_r", nil)
	rr := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var payload map[string]any
	_ = json.NewDecoder(rr.Body).Decode(&payload)
	if payload["original_symbol"] != "ACME" || payload["discount_percentage"] != "5.00" {
		t.Errorf("resale metadata missing: %v", payload)
	}
}

func TestIngestMarketEventOutcomes(t *testing.T) {
	cases := []struct {
		name       string
		applyErr   error
		wantStatus int
	}{
		{"applied", nil, http.StatusCreated},
		{"duplicate ignored", services.ErrDuplicateEvent, http.StatusOK},
		{"unknown kind", services.ErrUnknownEventKind, http.StatusBadRequest},
		{"unknown symbol", store.ErrSymbolNotFound, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := newTestHandler(fakeTxRunner{}, handlerStubs{
				market: stubMarketService{
					applyFn: func(context.Context, bus.MarketEvent) error {
						return tc.applyErr
					},
				},
			})
			body := []byte(`{"kind":"IPO","symbol":"ACME","price":12,"quantity":100}`)
			req := httptest.NewRequest(http.MethodPost, "/admin/stocks", bytes.NewReader(body))
			rr := httptest.NewRecorder()
			handler.IngestMarketEvent(rr, req)
			if rr.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, rr.Code)
			}
		})
	}
}

func TestIngestMarketEventRequiresAdmin(t *testing.T) {
	handler := newTestHandler(fakeTxRunner{}, handlerStubs{})
	router := handler.Routes()

	body := []byte(`{"kind":"IPO","symbol":"ACME","price":12,"quantity":100}`)
	req := withAuthContext(t, httptest.NewRequest(http.MethodPost, "/admin/stocks", bytes.NewReader(body)), "user-1", false)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", rr.Code)
	}
}

func TestCreateResalePassesDiscount(t *testing.T) {
	var gotSymbol string
	var gotQty int64
	var gotDiscount decimal.Decimal
	handler := newTestHandler(fakeTxRunner{}, handlerStubs{
		market: stubMarketService{
			resaleFn: func(_ context.Context, symbol string, quantity int64, discountPct decimal.Decimal) (services.ResaleResult, error) {
				gotSymbol, gotQty, gotDiscount = symbol, quantity, discountPct
				return services.ResaleResult{Symbol: symbol + "_r", Price: "11.40", Quantity: quantity, DiscountPct: "5.00"}, nil
			},
		},
	})

	body := []byte(`{"quantity":10,"discount_percentage":"5"}`)
	req := withAuthContext(t, httptest.NewRequest(http.MethodPost, "/admin/stocks/ACME/resale", bytes.NewReader(body)), "admin-1", true)
	rr := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	if gotSymbol != "ACME" || gotQty != 10 || !gotDiscount.Equal(decimal.NewFromInt(5)) {
		t.Errorf("got %s/%d/%s", gotSymbol, gotQty, gotDiscount)
	}
}

func TestCreateResaleConflict(t *testing.T) {
	handler := newTestHandler(fakeTxRunner{}, handlerStubs{
		market: stubMarketService{
			resaleFn: func(context.Context, string, int64, decimal.Decimal) (services.ResaleResult, error) {
				return services.ResaleResult{}, services.ErrResaleExists
			},
		},
	})

	body := []byte(`{"quantity":10,"discount_percentage":"5"}`)
	req := withAuthContext(t, httptest.NewRequest(http.MethodPost, "/admin/stocks/ACME/resale", bytes.NewReader(body)), "admin-1", true)
	rr := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
}
