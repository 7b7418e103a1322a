package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all historical data routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/history", func(r chi.Router) {
		// Ingestion
		r.Post("/prices", h.HandleSyncPrices)
		r.Post("/market-caps", h.HandleUpsertMarketCaps)

		r.Get("/prices/{asset}", func(w http.ResponseWriter, r *http.Request) {
			asset := chi.URLParam(r, "asset")
			h.HandleGetDailyPrices(w, r, asset)
		})

		r.Route("/returns", func(r chi.Router) {
			r.Get("/", h.HandleGetReturns)
			r.Get("/correlation-matrix", h.HandleGetCorrelationMatrix)
		})
	})
}
