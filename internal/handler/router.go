package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tripmate/tripmate-sync/internal/middleware"
)

// RouterConfig carries the handlers and settings the router is built from.
type RouterConfig struct {
	Health   *HealthHandler
	Pins     *PinHandler
	Sessions *SessionHandler
	Guide    *GuideHandler
	Trips    *TripHandler

	JWTSecret         string
	RateLimitRequests int
	RateLimitWindow   time.Duration
	Middleware        []func(http.Handler) http.Handler
}

// NewRouter builds the API router.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	for _, mw := range cfg.Middleware {
		r.Use(mw)
	}
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())

	// Health endpoints (no auth required)
	r.Get("/health", cfg.Health.Health)
	r.Get("/ready", cfg.Health.Ready)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.TrackUser)
		if cfg.RateLimitRequests > 0 {
			r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		}

		r.Route("/pins", func(r chi.Router) {
			r.Get("/", cfg.Pins.List)
			r.Post("/", cfg.Pins.Create)
			r.Post("/clear", cfg.Pins.Clear)
			r.Delete("/{id}", cfg.Pins.Delete)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", cfg.Sessions.List)
			r.Post("/", cfg.Sessions.Create)
			r.Post("/sync", cfg.Sessions.SyncPending)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", cfg.Sessions.Get)
				r.Put("/", cfg.Sessions.Rename)
				r.Delete("/", cfg.Sessions.Delete)

				r.Post("/messages", cfg.Sessions.AppendMessage)
				r.Post("/sync", cfg.Sessions.Sync)
				r.Post("/adopt", cfg.Sessions.Adopt)
				r.Put("/map-items/{itemId}/coords", cfg.Sessions.OverrideCoords)
			})
		})

		r.Route("/guide", func(r chi.Router) {
			r.Post("/messages", cfg.Guide.Send)
			r.Post("/sessions/{id}/places/{itemId}", cfg.Guide.SavePlace)
		})

		if cfg.Trips != nil {
			r.Get("/my/{userId}/trips", cfg.Trips.List)
			r.Post("/trips", cfg.Trips.Create)
			r.Put("/trips/{tripId}", cfg.Trips.Update)
			r.Delete("/places/{placeId}", cfg.Trips.DeletePlace)
		}
	})

	return r
}
