package engine

import "github.com/go-chi/chi/v5"

// Routes registers the workspace API on r (mounted under /api/v1).
func (s *Service) Routes(r chi.Router) {
	r.Get("/workspaces", s.ListWorkspaces)
	r.Post("/workspaces", s.CreateWorkspace)

	r.Route("/workspaces/{workspaceID}", func(r chi.Router) {
		r.Get("/", s.GetWorkspace)

		// Inputs.
		r.Get("/curve", s.GetCurve)
		r.Put("/curve", s.PutCurve)
		r.Put("/quotes", s.PutQuotes)

		// Parameter table.
		r.Post("/calibrate", s.Calibrate)
		r.Get("/calibrations", s.ListCalibrations)
		r.Put("/params/{expiry}", s.SetParams)

		// Views.
		r.Get("/smile/{expiry}", s.GetSmile)
		r.Get("/surface", s.GetSurface)
		r.Post("/playground", s.Playground)

		// Pricing.
		r.Post("/price/swaption", s.PriceSwaption)
		r.Post("/price/cap", s.PriceCap)
		r.Post("/price/floor", s.PriceFloor)
		r.Post("/price/ticker", s.PriceTicker)
		r.Get("/pricings", s.ListPricings)
	})
}
