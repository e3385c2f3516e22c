package ratelimit

import (
	"log/slog"
	"net/http"
	"strconv"

	"notary/pkg/platform/circuit"
	"notary/pkg/platform/httputil"
	"notary/pkg/requestcontext"
)

type Middleware struct {
	primary  Limiter
	fallback Limiter
	breaker  *circuit.Breaker
	logger   *slog.Logger
}

type Option func(*Middleware)

// WithFallback routes around a failing primary while breaker is open.
func WithFallback(fallback Limiter, breaker *circuit.Breaker) Option {
	return func(m *Middleware) {
		m.fallback = fallback
		m.breaker = breaker
	}
}

func NewMiddleware(primary Limiter, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{primary: primary, logger: logger}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Limit throttles requests per client IP within scope. Limiter errors fail
// open: verification stays available when the limiter does not.
func (m *Middleware) Limit(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := Key(scope, requestcontext.ClientIP(ctx))

			result, ok := m.check(r, key)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
			if !result.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
				httputil.WriteJSON(w, http.StatusTooManyRequests, map[string]string{
					"error":             "rate_limit_exceeded",
					"error_description": "too many requests from this address, retry later",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m *Middleware) check(r *http.Request, key string) (Result, bool) {
	ctx := r.Context()
	if m.breaker == nil || m.breaker.Allow() {
		result, err := m.primary.Allow(ctx, key)
		if err == nil {
			if m.breaker != nil {
				if _, change := m.breaker.RecordSuccess(); change.Closed {
					m.logger.InfoContext(ctx, "rate limiter recovered", "breaker", m.breaker.Name())
				}
			}
			return result, true
		}
		m.logger.WarnContext(ctx, "rate limiter unavailable",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		if m.breaker != nil {
			if _, change := m.breaker.RecordFailure(); change.Opened {
				m.logger.WarnContext(ctx, "rate limiter circuit opened, using in-memory fallback", "breaker", m.breaker.Name())
			}
		}
	}
	if m.fallback == nil {
		return Result{}, false
	}
	result, err := m.fallback.Allow(ctx, key)
	if err != nil {
		return Result{}, false
	}
	return result, true
}
