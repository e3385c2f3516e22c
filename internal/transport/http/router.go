// Package httptransport assembles the chi router: the shared middleware
// chain, operational endpoints and the registry routes.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"notary/pkg/platform/httputil"
	"notary/pkg/platform/middleware/metadata"
	"notary/pkg/platform/middleware/request"
	"notary/pkg/platform/middleware/requesttime"
)

const healthTimeout = 2 * time.Second

// Routes is implemented by feature handlers that mount their own routes.
type Routes interface {
	Register(r chi.Router, requireAuth func(http.Handler) http.Handler)
}

// HealthCheck probes one backing dependency.
type HealthCheck func(ctx context.Context) error

// Deps collects everything the router needs from main.
type Deps struct {
	Logger         *slog.Logger
	Latency        request.LatencyObserver
	RequireAuth    func(http.Handler) http.Handler
	RequestTimeout time.Duration
	Checks         map[string]HealthCheck
	// Metrics serves /metrics; nil uses the default Prometheus gatherer.
	Metrics http.Handler
}

// NewRouter wires the middleware chain and mounts every feature's routes.
func NewRouter(deps Deps, features ...Routes) http.Handler {
	r := chi.NewRouter()

	r.Use(request.RequestID)
	r.Use(request.Recovery(deps.Logger))
	r.Use(request.Logger(deps.Logger))
	if deps.Latency != nil {
		r.Use(request.Latency(deps.Latency))
	}
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	if deps.RequestTimeout > 0 {
		r.Use(middleware.Timeout(deps.RequestTimeout))
	}

	metricsHandler := deps.Metrics
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.Handle("/metrics", metricsHandler)
	r.Get("/health", healthHandler(deps.Checks))

	for _, f := range features {
		f.Register(r, deps.RequireAuth)
	}
	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		resp := healthResponse{Status: "ok"}
		status := http.StatusOK
		if len(checks) > 0 {
			resp.Checks = make(map[string]string, len(checks))
		}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		httputil.WriteJSON(w, status, resp)
	}
}
