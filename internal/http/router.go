package httpapi

import (
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"fireflow/internal/http/handlers"
	"fireflow/internal/infra"
	"fireflow/internal/middleware"
)

// NewRouter wires the API routes and middleware.
func NewRouter(app *handlers.App, cfg *infra.Config, logger *infra.Logger) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID(logger))
	// Forwarded headers are client controlled unless a proxy in front
	// overwrites them; only then may they replace the peer address.
	if cfg.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(chimw.Recoverer, middleware.Logger(logger))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(middleware.CORS(cfg.CORSAllowedOrigins))
	}

	// Health
	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/openapi.json", app.OpenAPIJSON)
	r.Get("/v1/docs", app.OpenAPIDocs)

	r.Group(func(r chi.Router) {
		if cfg.RateLimitPerMin > 0 {
			r.Use(middleware.RateLimit(cfg.RateLimitPerMin, time.Minute))
		}
		r.Post("/v1/images/generate", app.ImagesGenerate)
		r.Post("/v1/documents/generate", app.DocumentsGenerate)
	})

	r.Get("/v1/jobs/{id}", app.JobStatus)
	r.Get("/v1/runs/{run_id}/failed-units", app.FailedUnits)

	return r
}
