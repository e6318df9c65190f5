package router

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/leca/dt-image-workflows/internal/api"
	"github.com/leca/dt-image-workflows/internal/handler"
	"github.com/leca/dt-image-workflows/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures the router's middleware.
type Options struct {
	AuthToken string
	RateRPS   float64
	RateBurst int
	Logger    *slog.Logger

	// Ready is checked by /ready. Nil entries are skipped.
	Ready map[string]Pinger
}

// Server holds the application dependencies and HTTP router.
type Server struct {
	Handler *handler.Handler
	Router  chi.Router
	ready   map[string]Pinger
}

// New creates a new Server with a fully configured chi router.
func New(h *handler.Handler, opts Options) *Server {
	s := &Server{Handler: h, ready: opts.Ready}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	// CORS runs first so preflight OPTIONS never reach auth.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Content-Length", "Content-Type", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(api.Recoverer(h.Envelope, logger))
	r.Use(metrics.Middleware)

	// Health and metrics (no auth required).
	r.Get("/health", s.Health)
	r.Get("/ready", s.Ready)
	r.Handle("/metrics", promhttp.Handler())

	limiter := api.NewRateLimiter(opts.RateRPS, opts.RateBurst)

	r.Route("/v1", func(r chi.Router) {
		r.Use(api.AuthMiddleware(opts.AuthToken))
		r.Use(limiter.Handler)

		r.Route("/profiles/{profile_id}", func(r chi.Router) {
			r.Use(api.ProfileIDMiddleware)

			r.Post("/selfies", h.UploadSelfies)
			r.Get("/selfies", h.Selfies)
			r.Delete("/selfies/{selfie_id}", h.DeleteSelfie)

			r.Post("/transform", h.Transform)

			r.Get("/history", h.History)
			r.Delete("/history/{result_id}", h.DeleteHistory)

			r.Get("/usage", h.Usage)
		})

		r.Post("/presets", h.UploadPresets)
		r.Put("/presets/{preset_id}", h.ReplacePreset)
		r.Get("/presets/{preset_id}/prompt", h.GetPrompt)
		r.Delete("/presets/{preset_id}/prompt", h.InvalidatePrompt)
	})

	// Public delivery endpoint (no auth required).
	r.Get("/files/*", h.DeliverFile)

	s.Router = r
	return s
}

// Health returns a simple health-check response.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "ok"}); err != nil {
		log.Printf("Health: failed to encode response: %v", err)
	}
}

// Ready pings every configured dependency.
func (s *Server) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(s.ready))
	for name, p := range s.ready {
		if p == nil {
			continue
		}
		if err := p.Ping(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	api.WriteJSON(w, status, map[string]any{"status": http.StatusText(status), "checks": checks})
}
