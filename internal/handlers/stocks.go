package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"stocksim/internal/bus"
	"stocksim/internal/services"
	"stocksim/internal/store"
)

func (h *Handler) ListStocks(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filters := store.StockFilters{
		Symbol:   query.Get("symbol"),
		Name:     query.Get("name"),
		MinPrice: query.Get("minPrice"),
		MaxPrice: query.Get("maxPrice"),
		Limit:    queryInt(r, "limit", 25),
		Offset:   queryInt(r, "offset", 0),
	}
	if raw := query.Get("minQuantity"); raw != "" {
		if value, err := strconv.ParseInt(raw, 10, 64); err == nil {
			filters.MinQty = &value
		}
	}
	if raw := query.Get("maxQuantity"); raw != "" {
		if value, err := strconv.ParseInt(raw, 10, 64); err == nil {
			filters.MaxQty = &value
		}
	}
	if raw := query.Get("since"); raw != "" {
		if value, err := time.Parse(time.RFC3339, raw); err == nil {
			filters.Since = &value
		}
	}
	if raw := query.Get("until"); raw != "" {
		if value, err := time.Parse(time.RFC3339, raw); err == nil {
			filters.Until = &value
		}
	}
	listings, err := h.stocks.List(r.Context(), filters)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load stocks")
		return
	}
	respondJSON(w, http.StatusOK, listings)
}

func (h *Handler) GetStock(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	latest, err := h.stocks.Latest(r.Context(), symbol)
	if err != nil {
		if err == store.ErrSymbolNotFound {
			respondError(w, http.StatusNotFound, "symbol not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "unable to load stock")
		return
	}
	response := map[string]any{
		"symbol":    latest.Symbol,
		"price":     latest.Price,
		"longName":  latest.LongName,
		"quantity":  latest.Quantity,
		"timestamp": latest.Timestamp,
	}
	if discount, err := h.stocks.GetResaleDiscount(r.Context(), symbol); err == nil {
		response["original_symbol"] = discount.OriginalSymbol
		response["discount_percentage"] = discount.DiscountPct
		response["original_price"] = discount.OriginalPrice
	}
	respondJSON(w, http.StatusOK, response)
}

func (h *Handler) StockHistory(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	limit := queryInt(r, "limit", 100)
	history, err := h.stocks.History(r.Context(), symbol, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load history")
		return
	}
	if len(history) == 0 {
		respondError(w, http.StatusNotFound, "symbol not found")
		return
	}
	respondJSON(w, http.StatusOK, history)
}

type marketEventRequest struct {
	Kind      string    `json:"kind"`
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	LongName  string    `json:"longName"`
	Quantity  int64     `json:"quantity"`
	Timestamp time.Time `json:"timestamp"`
}

// IngestMarketEvent accepts a market event over REST, mirroring the broker
// path for operators and tests.
func (h *Handler) IngestMarketEvent(w http.ResponseWriter, r *http.Request) {
	var req marketEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.Symbol == "" {
		respondError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	err := h.market.ApplyMarketEvent(r.Context(), bus.MarketEvent{
		Kind:      req.Kind,
		Symbol:    req.Symbol,
		Price:     req.Price,
		LongName:  req.LongName,
		Quantity:  req.Quantity,
		Timestamp: req.Timestamp,
	})
	switch err {
	case nil:
		respondJSON(w, http.StatusCreated, map[string]string{"status": "applied"})
	case services.ErrDuplicateEvent:
		respondJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
	case services.ErrUnknownEventKind:
		respondError(w, http.StatusBadRequest, "unknown event kind")
	case store.ErrSymbolNotFound:
		respondError(w, http.StatusNotFound, "symbol not found")
	default:
		respondError(w, http.StatusInternalServerError, "unable to apply event")
	}
}

type resaleRequest struct {
	Quantity           int64  `json:"quantity"`
	DiscountPercentage string `json:"discount_percentage"`
}

func (h *Handler) CreateResale(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	var req resaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	discount, err := decimal.NewFromString(req.DiscountPercentage)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid discount percentage")
		return
	}
	result, err := h.market.CreateResale(r.Context(), symbol, req.Quantity, discount)
	switch err {
	case nil:
		respondJSON(w, http.StatusCreated, result)
	case services.ErrInvalidQuantity:
		respondError(w, http.StatusBadRequest, "quantity must be positive")
	case services.ErrInvalidDiscount:
		respondError(w, http.StatusBadRequest, "discount must be between 0 and 10 percent")
	case services.ErrResaleExists:
		respondError(w, http.StatusConflict, "resale listing already exists")
	case store.ErrSymbolNotFound:
		respondError(w, http.StatusNotFound, "symbol not found")
	default:
		respondError(w, http.StatusInternalServerError, "unable to create resale")
	}
}

func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.events.List(r.Context(), r.URL.Query().Get("type"), queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load events")
		return
	}
	respondJSON(w, http.StatusOK, events)
}
