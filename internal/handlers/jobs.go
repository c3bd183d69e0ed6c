package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"stocksim/internal/jobs"
	"stocksim/internal/store"
)

type estimationRequest struct {
	Symbol string `json:"symbol"`
}

func (h *Handler) CreateEstimation(w http.ResponseWriter, r *http.Request) {
	var req estimationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.Symbol == "" {
		respondError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	if _, err := h.stocks.Latest(r.Context(), req.Symbol); err != nil {
		if err == store.ErrSymbolNotFound {
			respondError(w, http.StatusNotFound, "symbol not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "unable to queue estimation")
		return
	}
	jobID, err := h.estimations.Enqueue(r.Context(), req.Symbol)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "estimation queue unavailable")
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{
		"job_id": jobID,
		"status": jobs.StatusQueued,
	})
}

func (h *Handler) GetEstimation(w http.ResponseWriter, r *http.Request) {
	job, err := h.estimations.Get(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		if err == jobs.ErrJobNotFound {
			respondError(w, http.StatusNotFound, "job not found")
			return
		}
		respondError(w, http.StatusServiceUnavailable, "estimation queue unavailable")
		return
	}
	response := map[string]any{
		"job_id": job.ID,
		"symbol": job.Symbol,
		"status": job.Status,
	}
	if job.Result != "" {
		var estimate jobs.Estimate
		if err := json.Unmarshal([]byte(job.Result), &estimate); err == nil {
			response["result"] = estimate
		}
	}
	if job.Error != "" {
		response["error"] = job.Error
	}
	respondJSON(w, http.StatusOK, response)
}
