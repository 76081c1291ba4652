package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	mw "github.com/liftlog/liftlog-api/internal/middleware"
)

// HandlerSet holds handler functions injected from main.go to avoid import cycles.
type HandlerSet struct {
	// Metered assistant features
	ParseProgramme  http.HandlerFunc
	AnalyzeTraining http.HandlerFunc
	Transcribe      http.HandlerFunc

	// Quota reporting
	ListUsage       http.HandlerFunc
	GetUsage        http.HandlerFunc
	ListQuotaEvents http.HandlerFunc

	AuthMiddleware func(http.Handler) http.Handler
}

// HealthCheck reports whether a dependency is usable. A nil Check marks the
// dependency as not configured.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	CORSAllowedOrigins []string
	APIRateLimiter     func(http.Handler) http.Handler
	HealthChecks       []HealthCheck
}

func NewRouter(cfg RouterConfig, h HandlerSet) http.Handler {
	r := chi.NewRouter()

	r.Use(mw.RequestID)
	r.Use(mw.SecurityHeaders)
	r.Use(mw.Logging)
	r.Use(mw.Recovery)
	r.Use(mw.Metrics)
	r.Use(cors.Handler(mw.CORS(cfg.CORSAllowedOrigins)))

	// Liveness never checks dependencies.
	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})

	readiness := readinessHandler(cfg.HealthChecks)
	r.Get("/health/ready", readiness)
	r.Get("/health", readiness)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.AuthMiddleware)
		if cfg.APIRateLimiter != nil {
			r.Use(cfg.APIRateLimiter)
		}

		r.Post("/programmes/parse", h.ParseProgramme)
		r.Post("/training/analyze", h.AnalyzeTraining)
		r.Post("/transcriptions", h.Transcribe)

		r.Route("/quota", func(r chi.Router) {
			r.Get("/", h.ListUsage)
			if h.ListQuotaEvents != nil {
				r.Get("/events", h.ListQuotaEvents)
			}
			r.Get("/{family}", h.GetUsage)
		})
	})

	return r
}

func readinessHandler(checks []HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := map[string]string{"status": "healthy"}
		status := http.StatusOK

		for _, c := range checks {
			if c.Check == nil {
				health[c.Name] = "not configured"
				continue
			}
			if err := c.Check(r.Context()); err != nil {
				health[c.Name] = "unhealthy"
				health["status"] = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			health[c.Name] = "healthy"
		}

		JSON(w, status, health)
	}
}
