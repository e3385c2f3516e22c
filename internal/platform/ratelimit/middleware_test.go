package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notary/pkg/platform/circuit"
	"notary/pkg/requestcontext"
)

type failingLimiter struct{ calls int }

func (f *failingLimiter) Allow(context.Context, string) (Result, error) {
	f.calls++
	return Result{}, errors.New("redis: connection refused")
}

func serve(h http.Handler, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/verify", nil)
	req = req.WithContext(requestcontext.WithClientMetadata(req.Context(), ip, "", "api"))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestMiddlewareRejectsOverLimit(t *testing.T) {
	h := NewMiddleware(NewMemory(1, time.Minute), discard()).Limit("verify")(okHandler)

	first := serve(h, "10.0.0.1")
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", first.Header().Get("X-RateLimit-Remaining"))

	second := serve(h, "10.0.0.1")
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
	assert.Contains(t, second.Body.String(), "rate_limit_exceeded")

	assert.Equal(t, http.StatusOK, serve(h, "10.0.0.2").Code)
}

func TestMiddlewareFailsOpenWithoutFallback(t *testing.T) {
	h := NewMiddleware(&failingLimiter{}, discard()).Limit("verify")(okHandler)
	for range 3 {
		assert.Equal(t, http.StatusOK, serve(h, "10.0.0.1").Code)
	}
}

func TestMiddlewareUsesFallbackWhileBreakerOpen(t *testing.T) {
	primary := &failingLimiter{}
	breaker := circuit.New("ratelimit", circuit.WithFailureThreshold(1), circuit.WithCooldown(time.Hour))
	h := NewMiddleware(primary, discard(), WithFallback(NewMemory(1, time.Minute), breaker)).Limit("verify")(okHandler)

	assert.Equal(t, http.StatusOK, serve(h, "10.0.0.1").Code)
	assert.True(t, breaker.IsOpen())
	assert.Equal(t, http.StatusTooManyRequests, serve(h, "10.0.0.1").Code)
	assert.Equal(t, 1, primary.calls, "open breaker skips the primary")
}
