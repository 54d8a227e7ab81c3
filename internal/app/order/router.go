package order

import (
	"context"
	"net/http"

	"marketplace/internal/app/order/openapi"
	"marketplace/internal/mw"
	"marketplace/internal/tools/logger"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/ulule/limiter/v3"
)

type RouterOptions struct {
	JWTSecret []byte
	// Limiter is optional.
	Limiter *limiter.Limiter
	// Ready reports dependency health for /health; nil means always ready.
	Ready func(ctx context.Context) error
}

// NewRouter serves the order API under auth plus the public operational
// endpoints.
func NewRouter(impl *Implementation, opts RouterOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(mw.RequestLogger)
	if opts.Limiter != nil {
		r.Use(mw.RateLimit(opts.Limiter))
	}

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		if opts.Ready != nil {
			if err := opts.Ready(req.Context()); err != nil {
				logger.Logger.WarnContext(req.Context(), "health check failed", "error", err)
				writeJSON(w, req, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, req, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/openapi.yaml", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		if _, err := w.Write(openapi.YAML); err != nil {
			logger.Logger.WarnContext(req.Context(), "failed to write response", "error", err)
		}
	})
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/openapi.yaml"),
	))

	r.Group(func(r chi.Router) {
		r.Use(mw.Authenticate(opts.JWTSecret))
		impl.Mount(r)
	})

	return r
}
