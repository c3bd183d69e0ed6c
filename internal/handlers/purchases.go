package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"

	"stocksim/internal/bus"
	"stocksim/internal/middleware"
	"stocksim/internal/models"
	"stocksim/internal/money"
	"stocksim/internal/payments"
	"stocksim/internal/services"
	"stocksim/internal/store"
)

type buyRequest struct {
	Symbol   string `json:"symbol"`
	Quantity int64  `json:"quantity"`
}

func (h *Handler) BuyStock(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req buyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	result, err := h.purchaseSvc.CreatePurchase(r.Context(), userID, req.Symbol, req.Quantity)
	switch {
	case err == nil:
		respondJSON(w, http.StatusCreated, result)
	case err == services.ErrInvalidQuantity:
		respondError(w, http.StatusBadRequest, "quantity must be positive")
	case err == store.ErrSymbolNotFound:
		respondError(w, http.StatusNotFound, "symbol not found")
	case err == store.ErrInsufficientInventory:
		respondError(w, http.StatusConflict, "not enough shares available")
	case errors.Is(err, payments.ErrGatewayUnavailable):
		respondError(w, http.StatusBadGateway, "payment gateway unavailable")
	default:
		respondError(w, http.StatusInternalServerError, "unable to create purchase")
	}
}

// WebpayReturn lands the buyer's browser after the gateway flow. Every
// outcome redirects back to the frontend; the query string carries the
// verdict. A missing token means the buyer aborted on the gateway's side.
func (h *Handler) WebpayReturn(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token_ws")
	if token == "" {
		token = r.FormValue("token_ws")
	}
	if token == "" {
		h.redirectFrontend(w, r, "cancelled")
		return
	}
	status, err := h.purchaseSvc.ConfirmPayment(r.Context(), token)
	if err != nil {
		if err == store.ErrPaymentNotFound || err == store.ErrPurchaseNotFound {
			h.redirectFrontend(w, r, "cancelled")
			return
		}
		h.redirectFrontend(w, r, "rejected")
		return
	}
	if status == models.PurchaseAccepted {
		h.redirectFrontend(w, r, "approved")
		return
	}
	h.redirectFrontend(w, r, "rejected")
}

func (h *Handler) redirectFrontend(w http.ResponseWriter, r *http.Request, verdict string) {
	http.Redirect(w, r, h.cfg.FrontendURL+"/?purchase="+verdict, http.StatusFound)
}

func (h *Handler) ListPurchases(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	rows, err := h.purchases.ListByUser(r.Context(), userID, queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load purchases")
		return
	}
	respondJSON(w, http.StatusOK, rows)
}

func (h *Handler) GetPurchase(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	row, err := h.purchases.GetByRequestID(r.Context(), chi.URLParam(r, "requestID"))
	if err != nil {
		if err == store.ErrPurchaseNotFound {
			respondError(w, http.StatusNotFound, "purchase not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "unable to load purchase")
		return
	}
	if row.UserID == nil || *row.UserID != userID {
		if !middleware.IsAdminFromContext(r.Context()) {
			respondError(w, http.StatusForbidden, "access denied")
			return
		}
	}
	respondJSON(w, http.StatusOK, row)
}

func (h *Handler) AdminListPurchases(w http.ResponseWriter, r *http.Request) {
	rows, err := h.purchases.ListAll(r.Context(), queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load purchases")
		return
	}
	respondJSON(w, http.StatusOK, rows)
}

func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	wallet, err := h.wallets.Get(r.Context(), userID)
	if err != nil {
		if err == store.ErrWalletNotFound {
			respondError(w, http.StatusNotFound, "wallet not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "unable to load wallet")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"user_id":       wallet.UserID,
		"balance":       money.FormatMinor(wallet.Balance),
		"balance_minor": wallet.Balance,
		"updated_at":    wallet.UpdatedAt,
	})
}

type depositRequest struct {
	Amount string `json:"amount"`
}

func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	amount, err := money.ParseMinor(req.Amount)
	if err != nil || amount <= 0 {
		respondError(w, http.StatusBadRequest, "invalid amount")
		return
	}
	err = h.txRunner.WithTx(r.Context(), func(tx *sqlx.Tx) error {
		return h.wallets.Credit(r.Context(), tx, userID, amount)
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "deposit failed")
		return
	}
	wallet, err := h.wallets.Get(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load wallet")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"balance":       money.FormatMinor(wallet.Balance),
		"balance_minor": wallet.Balance,
	})
}

type validationRequest struct {
	RequestID string `json:"request_id"`
	GroupID   string `json:"group_id"`
	Status    string `json:"status"`
	Reason    string `json:"reason"`
}

// PurchaseValidation is the REST twin of the broker validation topic.
func (h *Handler) PurchaseValidation(w http.ResponseWriter, r *http.Request) {
	var req validationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	outcome, err := h.purchaseSvc.ApplyValidation(r.Context(), bus.Validation{
		RequestID: req.RequestID,
		GroupID:   req.GroupID,
		Status:    req.Status,
		Reason:    req.Reason,
	})
	switch err {
	case nil:
		message := "validation applied"
		if outcome == services.OutcomeIgnored {
			message = "request already resolved"
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": outcome, "message": message})
	case services.ErrInvalidStatus:
		respondError(w, http.StatusBadRequest, "status must be ACCEPTED or REJECTED")
	case store.ErrPurchaseNotFound:
		respondError(w, http.StatusNotFound, "purchase not found")
	default:
		respondError(w, http.StatusInternalServerError, "unable to apply validation")
	}
}

type externalPurchaseRequest struct {
	RequestID string `json:"request_id"`
	GroupID   string `json:"group_id"`
	Symbol    string `json:"symbol"`
	Quantity  int64  `json:"quantity"`
}

func (h *Handler) ExternalPurchase(w http.ResponseWriter, r *http.Request) {
	var req externalPurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.RequestID == "" || req.GroupID == "" {
		respondError(w, http.StatusBadRequest, "request_id and group_id are required")
		return
	}
	err := h.purchaseSvc.ExternalPurchase(r.Context(), req.RequestID, req.GroupID, req.Symbol, req.Quantity)
	switch err {
	case nil:
		respondJSON(w, http.StatusCreated, map[string]string{"status": models.PurchaseAccepted})
	case services.ErrInvalidQuantity:
		respondError(w, http.StatusBadRequest, "quantity must be positive")
	case services.ErrDuplicateRequest:
		respondJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
	case store.ErrSymbolNotFound:
		respondError(w, http.StatusNotFound, "symbol not found")
	case store.ErrInsufficientInventory:
		respondError(w, http.StatusConflict, "not enough shares available")
	default:
		respondError(w, http.StatusInternalServerError, "unable to record purchase")
	}
}
