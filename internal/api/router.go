package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/souravs72/broadflix/internal/config"
)

func NewRouter(handler *Handler, health *HealthHandler, cfg config.ServerConfig, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware (applied to all routes)
	r.Use(RecoveryMiddleware(logger))
	r.Use(CORSMiddleware)
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))

	// Health and metrics endpoints are registered BEFORE the rate limiter
	// so Kubernetes probes and Prometheus scrapes are never rejected under load.
	r.Get("/healthz", health.Liveness)
	r.Get("/readyz", health.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if cfg.RateLimitRPS > 0 {
			rl := NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, logger)
			r.Use(rl.Middleware)
		}

		r.Route("/api/v1", func(r chi.Router) {
			r.Route("/catalog", func(r chi.Router) {
				r.Get("/search", handler.Search)
				r.Post("/search", handler.Search)
				r.Get("/facets", handler.Facets)
				r.Post("/voice", handler.VoiceSearch)
			})

			r.Route("/titles/{id}", func(r chi.Router) {
				r.Get("/", handler.Title)
				r.Get("/related", handler.Related)
				r.Post("/progress", handler.Progress)
				r.Post("/rating", handler.Rate)
				r.Post("/share", handler.Share)
			})

			r.Get("/watchlist", handler.Watchlist)
			r.Post("/watchlist/bulk", handler.BulkWatchlist)
			r.Post("/watchlist/{id}", handler.ToggleWatchlist)
		})
	})

	return r
}
