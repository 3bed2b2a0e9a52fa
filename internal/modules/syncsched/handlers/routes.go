package handlers

import "github.com/go-chi/chi/v5"

// RegisterRoutes registers sync scheduler routes on the router
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/sync/queue", h.HandleGetQueue)
	r.Post("/api/sync/products/{id}", h.HandleForceSync)
}
