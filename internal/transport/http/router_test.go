package httptransport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notary/internal/platform/metrics"
	"notary/pkg/platform/middleware/request"
	"notary/pkg/requestcontext"
	"notary/pkg/testutil"
)

type echoRoutes struct{}

func (echoRoutes) Register(r chi.Router, requireAuth func(http.Handler) http.Handler) {
	r.Get("/echo", func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		_, _ = io.WriteString(w, requestcontext.RequestID(ctx)+"|"+requestcontext.ClientKind(ctx))
	})
	r.With(requireAuth).Post("/guarded", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/panic", func(http.ResponseWriter, *http.Request) { panic("boom") })
}

func newTestRouter(t *testing.T, checks map[string]HealthCheck) (http.Handler, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	deny := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})
	}
	h := NewRouter(Deps{
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Latency:     metrics.NewWithRegistry(reg),
		RequireAuth: deny,
		Checks:      checks,
		Metrics:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}, echoRoutes{})
	return h, reg
}

func TestRouterMiddlewareChain(t *testing.T) {
	h, _ := newTestRouter(t, nil)

	req := testutil.JSONRequest(t, http.MethodGet, "/echo", nil)
	req.Header.Set(request.HeaderRequestID, "req-1")
	rr := testutil.Serve(h, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "req-1", rr.Header().Get(request.HeaderRequestID))
	assert.Equal(t, "req-1|api", rr.Body.String())
}

func TestRouterAppliesAuthOnlyWhereRequested(t *testing.T) {
	h, _ := newTestRouter(t, nil)
	assert.Equal(t, http.StatusUnauthorized, testutil.Serve(h, testutil.JSONRequest(t, http.MethodPost, "/guarded", nil)).Code)
	assert.Equal(t, http.StatusOK, testutil.Serve(h, testutil.JSONRequest(t, http.MethodGet, "/echo", nil)).Code)
}

func TestRouterRecoversPanics(t *testing.T) {
	h, _ := newTestRouter(t, nil)
	rr := testutil.Serve(h, testutil.JSONRequest(t, http.MethodGet, "/panic", nil))
	testutil.RequireError(t, rr, http.StatusInternalServerError, "internal_error")
}

func TestHealth(t *testing.T) {
	t.Run("all checks pass", func(t *testing.T) {
		h, _ := newTestRouter(t, map[string]HealthCheck{
			"postgres": func(context.Context) error { return nil },
		})
		rr := testutil.Serve(h, testutil.JSONRequest(t, http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusOK, rr.Code)
		body := testutil.Decode[healthResponse](t, rr)
		assert.Equal(t, "ok", body.Status)
		assert.Equal(t, "ok", body.Checks["postgres"])
	})

	t.Run("failing check degrades", func(t *testing.T) {
		h, _ := newTestRouter(t, map[string]HealthCheck{
			"redis": func(context.Context) error { return errors.New("connection refused") },
		})
		rr := testutil.Serve(h, testutil.JSONRequest(t, http.MethodGet, "/health", nil))
		require.Equal(t, http.StatusServiceUnavailable, rr.Code)
		body := testutil.Decode[healthResponse](t, rr)
		assert.Equal(t, "degraded", body.Status)
		assert.Equal(t, "connection refused", body.Checks["redis"])
	})
}

func TestMetricsEndpointExposesRequestCounters(t *testing.T) {
	h, _ := newTestRouter(t, nil)
	testutil.Serve(h, testutil.JSONRequest(t, http.MethodGet, "/echo", nil))

	rr := testutil.Serve(h, testutil.JSONRequest(t, http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `notary_http_requests_total{method="GET",route="/echo",status="200"} 1`)
}
