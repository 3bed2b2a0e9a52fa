// Package handlers provides HTTP handlers for alert management and the
// admin evaluation endpoint.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/flipwatch/engine/internal/domain"
	"github.com/flipwatch/engine/internal/modules/alerts"
)

// Handler handles alert HTTP requests
type Handler struct {
	service *alerts.Service
	log     zerolog.Logger
}

// NewHandler creates a new alert handler
func NewHandler(service *alerts.Service, log zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		log:     log.With().Str("handler", "alerts").Logger(),
	}
}

// HandleCreate handles POST /api/alerts
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var alert domain.Alert
	if err := json.NewDecoder(r.Body).Decode(&alert); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	created, err := h.service.Create(r.Context(), &alert)
	if err != nil {
		h.writeError(w, statusFor(err), err.Error())
		return
	}

	h.writeJSON(w, http.StatusCreated, created)
}

// HandleList handles GET /api/alerts?owner=
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	owner := r.URL.Query().Get("owner")

	list, err := h.service.List(r.Context(), owner)
	if err != nil {
		h.writeError(w, statusFor(err), err.Error())
		return
	}
	if list == nil {
		list = []domain.Alert{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": list,
		"count":  len(list),
	})
}

// HandleGet handles GET /api/alerts/{id}
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	alert, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, statusFor(err), err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, alert)
}

// HandleUpdate handles PATCH /api/alerts/{id}
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var input alerts.UpdateAlertInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	updated, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), input)
	if err != nil {
		h.writeError(w, statusFor(err), err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, updated)
}

// HandleDelete handles DELETE /api/alerts/{id}. Deletion is idempotent:
// deleting an unknown alert also returns 204.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, statusFor(err), err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandlePause handles POST /api/alerts/{id}/pause
//
// An optional body {"resume_after_minutes": N} sets an auto-resume deadline.
func (h *Handler) HandlePause(w http.ResponseWriter, r *http.Request) {
	var request struct {
		ResumeAfterMinutes int `json:"resume_after_minutes"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
			return
		}
	}

	resumeAfter := time.Duration(request.ResumeAfterMinutes) * time.Minute
	if err := h.service.Pause(r.Context(), chi.URLParam(r, "id"), resumeAfter); err != nil {
		h.writeError(w, statusFor(err), err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

// HandleResume handles POST /api/alerts/{id}/resume
func (h *Handler) HandleResume(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Resume(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, statusFor(err), err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "active"})
}

// HandleEvaluate handles POST /api/alerts/evaluate. Admin/debug endpoint
// that runs a full sweep synchronously and returns its stats.
func (h *Handler) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.EvaluateAll(r.Context())
	if err != nil {
		h.writeError(w, statusFor(err), err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, stats)
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
