package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all profit routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/products/{id}/profit", h.HandleProject)
	r.Post("/api/products/{id}/breakeven", h.HandleBreakEven)
}
