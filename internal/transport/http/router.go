// Package httptransport assembles the public HTTP surface. Handlers stay in
// their feature packages; this only owns the shared middleware stack and the
// operational endpoints.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"confirmit/internal/platform/middleware"
	"confirmit/internal/transport/http/shared"
)

// Registerer is anything that can mount routes on the router.
type Registerer interface {
	Register(r chi.Router)
}

// RegisterFunc adapts a plain function to Registerer.
type RegisterFunc func(r chi.Router)

func (f RegisterFunc) Register(r chi.Router) { f(r) }

// HealthCheck probes one dependency; a non-nil error marks the service
// degraded.
type HealthCheck func(ctx context.Context) error

// NewRouter wires the middleware stack, the operational endpoints and every
// feature handler.
func NewRouter(logger *slog.Logger, jwtSigningKey string, checks map[string]HealthCheck, handlers ...Registerer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Actor(jwtSigningKey))

	r.Get("/healthz", handleHealth(checks))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	for _, h := range handlers {
		h.Register(r)
	}
	return r
}

func handleHealth(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		deps := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				deps[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			deps[name] = "ok"
		}

		body := map[string]any{"status": "ok"}
		if status != http.StatusOK {
			body["status"] = "degraded"
		}
		if len(deps) > 0 {
			body["dependencies"] = deps
		}
		shared.WriteJSON(w, status, body)
	}
}
