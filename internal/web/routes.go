package web

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/racepix/racepix/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	searchHandler := handlers.NewSearchHandler(s.deps.Engine)
	photosHandler := handlers.NewPhotosHandler(s.deps.Photos, s.deps.Bibs, s.deps.Store, s.deps.Producer)
	bibsHandler := handlers.NewBibsHandler(s.deps.Photos, s.deps.Bibs, s.deps.Audit)
	rulesHandler := handlers.NewRulesHandler(s.deps.Rules)

	s.router.Get("/healthz", handlers.HealthCheck)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Route("/events/{eventID}", func(r chi.Router) {
			r.Get("/search/bib", searchHandler.Bib)
			r.Post("/search/face", searchHandler.Face)
			r.Post("/search/hybrid", searchHandler.Hybrid)

			r.Post("/photos", photosHandler.Upload)

			r.Get("/bib-rules", rulesHandler.Get)
			r.Put("/bib-rules", rulesHandler.Put)
		})

		r.Get("/photos/{photoID}", photosHandler.Get)
		r.Post("/photos/{photoID}/reprocess", photosHandler.Reprocess)

		r.Get("/photos/{photoID}/bibs", bibsHandler.List)
		r.Put("/photos/{photoID}/bibs", bibsHandler.Add)
		r.Delete("/photos/{photoID}/bibs/{bibID}", bibsHandler.Delete)
	})
}
