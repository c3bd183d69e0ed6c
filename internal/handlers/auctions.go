package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"stocksim/internal/services"
	"stocksim/internal/store"
)

func (h *Handler) ListAuctions(w http.ResponseWriter, r *http.Request) {
	offers, err := h.auctions.ListOffers(r.Context(), queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "unable to load auctions")
		return
	}
	respondJSON(w, http.StatusOK, offers)
}

type auctionRequest struct {
	Symbol   string `json:"symbol"`
	Quantity int64  `json:"quantity"`
}

func (h *Handler) CreateAuction(w http.ResponseWriter, r *http.Request) {
	var req auctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	auctionID, err := h.auctions.CreateOffer(r.Context(), req.Symbol, req.Quantity)
	switch err {
	case nil:
		respondJSON(w, http.StatusCreated, map[string]string{"auction_id": auctionID})
	case services.ErrInvalidQuantity:
		respondError(w, http.StatusBadRequest, "quantity must be positive")
	case store.ErrSymbolNotFound:
		respondError(w, http.StatusNotFound, "symbol not found")
	case store.ErrInsufficientInventory:
		respondError(w, http.StatusConflict, "not enough shares available")
	default:
		respondError(w, http.StatusInternalServerError, "unable to create auction")
	}
}

func (h *Handler) ProposeExchange(w http.ResponseWriter, r *http.Request) {
	auctionID := chi.URLParam(r, "auctionID")
	var req auctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	proposalID, err := h.auctions.Propose(r.Context(), auctionID, req.Symbol, req.Quantity)
	switch err {
	case nil:
		respondJSON(w, http.StatusCreated, map[string]string{"proposal_id": proposalID})
	case services.ErrInvalidQuantity:
		respondError(w, http.StatusBadRequest, "quantity must be positive")
	case store.ErrOfferNotFound:
		respondError(w, http.StatusNotFound, "auction not found")
	case store.ErrSymbolNotFound:
		respondError(w, http.StatusNotFound, "symbol not found")
	case store.ErrInsufficientInventory:
		respondError(w, http.StatusConflict, "not enough shares available")
	default:
		respondError(w, http.StatusInternalServerError, "unable to create proposal")
	}
}

type responseRequest struct {
	Accept bool `json:"accept"`
}

func (h *Handler) RespondProposal(w http.ResponseWriter, r *http.Request) {
	auctionID := chi.URLParam(r, "auctionID")
	proposalID := chi.URLParam(r, "proposalID")
	var req responseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	err := h.auctions.Respond(r.Context(), auctionID, proposalID, req.Accept)
	switch err {
	case nil:
		verdict := "rejected"
		if req.Accept {
			verdict = "accepted"
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": verdict})
	case store.ErrProposalNotFound:
		respondError(w, http.StatusNotFound, "proposal not found")
	case services.ErrAlreadyResponded:
		respondError(w, http.StatusConflict, "proposal already resolved")
	default:
		respondError(w, http.StatusInternalServerError, "unable to respond")
	}
}
