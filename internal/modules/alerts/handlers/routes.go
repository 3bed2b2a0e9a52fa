package handlers

import "github.com/go-chi/chi/v5"

// RegisterRoutes registers alert routes on the router
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/alerts", h.HandleCreate)
	r.Get("/api/alerts", h.HandleList)
	r.Post("/api/alerts/evaluate", h.HandleEvaluate)
	r.Get("/api/alerts/{id}", h.HandleGet)
	r.Patch("/api/alerts/{id}", h.HandleUpdate)
	r.Delete("/api/alerts/{id}", h.HandleDelete)
	r.Post("/api/alerts/{id}/pause", h.HandlePause)
	r.Post("/api/alerts/{id}/resume", h.HandleResume)
}
