package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all optimizer routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/optimizer", func(r chi.Router) {
		r.Get("/", h.HandleGetStatus)

		// One endpoint per method
		r.Post("/black-litterman", h.HandleBlackLitterman)
		r.Post("/risk-parity", h.HandleRiskParity)
		r.Post("/hrp", h.HandleHRP)
		r.Post("/min-variance", h.HandleMinimumVariance)

		r.Post("/compare", h.HandleCompare)
	})
}
