// Package handlers provides the HTTP handler for product comparison.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/flipwatch/engine/internal/domain"
	"github.com/flipwatch/engine/internal/modules/ranking"
)

// Handler handles comparison HTTP requests
type Handler struct {
	service *ranking.Service
	log     zerolog.Logger
}

// NewHandler creates a new ranking handler
func NewHandler(service *ranking.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "ranking").Logger(),
	}
}

// HandleCompare handles POST /api/products/compare
//
// The body names the candidate products and an optional budget plus
// filtering preferences. The response carries the full ranking and the
// budget-constrained portfolio suggestion.
func (h *Handler) HandleCompare(w http.ResponseWriter, r *http.Request) {
	var request struct {
		ProductIDs  []string                  `json:"product_ids"`
		Budget      domain.Money              `json:"budget"`
		Preferences domain.ComparePreferences `json:"preferences"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	result, err := h.service.Compare(r.Context(), request.ProductIDs, request.Budget, request.Preferences)
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
