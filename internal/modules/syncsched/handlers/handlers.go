// Package handlers provides HTTP handlers for the sync queue and on-demand
// product refreshes.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/flipwatch/engine/internal/domain"
	"github.com/flipwatch/engine/internal/modules/syncsched"
)

// Handler handles sync scheduler HTTP requests
type Handler struct {
	service *syncsched.Service
	log     zerolog.Logger
}

// NewHandler creates a new sync handler
func NewHandler(service *syncsched.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "sync").Logger(),
	}
}

// HandleGetQueue handles GET /api/sync/queue
//
// Returns the current refresh queue: when it was rebuilt, which products are
// due, and whether the due set was truncated to fit the request budget.
func (h *Handler) HandleGetQueue(w http.ResponseWriter, r *http.Request) {
	queue, err := h.service.Queue(r.Context())
	if err != nil {
		h.writeError(w, statusFor(err), err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, queue)
}

// HandleForceSync handles POST /api/sync/products/{id}
//
// Refreshes one product immediately, regardless of its schedule.
func (h *Handler) HandleForceSync(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.ForceSync(r.Context(), chi.URLParam(r, "id"))
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
