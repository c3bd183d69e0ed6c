package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"stocksim/internal/models"
	"stocksim/internal/services"
	"stocksim/internal/store"
)

func TestListAuctionsIsPublic(t *testing.T) {
	handler := newTestHandler(fakeTxRunner{}, handlerStubs{
		auctions: stubAuctionService{
			listFn: func(context.Context, int, int) ([]models.AuctionOffer, error) {
				return []models.AuctionOffer{{AuctionID: "auc-1", GroupID: "7", Symbol: "ZINC", Quantity: 20}}, nil
			},
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/auctions/", nil)
	rr := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var offers []models.AuctionOffer
	_ = json.NewDecoder(rr.Body).Decode(&offers)
	if len(offers) != 1 || offers[0].AuctionID != "auc-1" {
		t.Errorf("offers = %+v", offers)
	}
}

func TestCreateAuctionRequiresAdmin(t *testing.T) {
	handler := newTestHandler(fakeTxRunner{}, handlerStubs{})

	body := []byte(`{"symbol":"ACME","quantity":30}`)
	req := withAuthContext(t, httptest.NewRequest(http.MethodPost, "/auctions/", bytes.NewReader(body)), "user-1", false)
	rr := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestCreateAuctionSuccess(t *testing.T) {
	handler := newTestHandler(fakeTxRunner{}, handlerStubs{
		auctions: stubAuctionService{
			createFn: func(_ context.Context, symbol string, quantity int64) (string, error) {
				if symbol != "ACME" || quantity != 30 {
					t.Errorf("got %s/%d", symbol, quantity)
				}
				return "auc-1", nil
			},
		},
	})

	body := []byte(`{"symbol":"ACME","quantity":30}`)
	req := withAuthContext(t, httptest.NewRequest(http.MethodPost, "/auctions/", bytes.NewReader(body)), "admin-1", true)
	rr := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
}

func TestRespondProposalConflict(t *testing.T) {
	handler := newTestHandler(fakeTxRunner{}, handlerStubs{
		auctions: stubAuctionService{
			respondFn: func(context.Context, string, string, bool) error {
				return services.ErrAlreadyResponded
			},
		},
	})

	body := []byte(`{"accept":true}`)
	req := withAuthContext(t, httptest.NewRequest(http.MethodPost, "/auctions/auc-1/proposals/prop-1/response", bytes.NewReader(body)), "admin-1", true)
	rr := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
}

func TestProposeExchangeUnknownAuction(t *testing.T) {
	handler := newTestHandler(fakeTxRunner{}, handlerStubs{
		auctions: stubAuctionService{
			proposeFn: func(context.Context, string, string, int64) (string, error) {
				return "", store.ErrOfferNotFound
			},
		},
	})

	body := []byte(`{"symbol":"ACME","quantity":10}`)
	req := withAuthContext(t, httptest.NewRequest(http.MethodPost, "/auctions/auc-9/proposals", bytes.NewReader(body)), "admin-1", true)
	rr := httptest.NewRecorder()
	handler.Routes().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}
