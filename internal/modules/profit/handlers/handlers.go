// Package handlers provides HTTP handlers for profit projections and
// break-even analysis.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/flipwatch/engine/internal/domain"
	"github.com/flipwatch/engine/internal/modules/profit"
)

// Handler handles profit HTTP requests
type Handler struct {
	service *profit.Service
	log     zerolog.Logger
}

// NewHandler creates a new profit handler
func NewHandler(service *profit.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "profit").Logger(),
	}
}

// HandleProject handles POST /api/products/{id}/profit
//
// The body carries optional overrides: intended buy price, volume, holding
// period and risk tolerance. An empty body uses engine defaults.
func (h *Handler) HandleProject(w http.ResponseWriter, r *http.Request) {
	productRef := chi.URLParam(r, "id")

	var inputs domain.ProfitInputs
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&inputs); err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
			return
		}
	}

	projection, err := h.service.Project(r.Context(), productRef, inputs)
	if err != nil {
		h.writeError(w, statusFor(err), err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, projection)
}

// HandleBreakEven handles POST /api/products/{id}/breakeven
func (h *Handler) HandleBreakEven(w http.ResponseWriter, r *http.Request) {
	productRef := chi.URLParam(r, "id")

	var request struct {
		BuyPrice domain.Money `json:"buy_price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	result, err := h.service.BreakEven(r.Context(), productRef, request.BuyPrice)
	if err != nil {
		h.writeError(w, statusFor(err), err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case domain.IsValidationError(err):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case domain.IsRetryable(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{
		"error": message,
	})
}
