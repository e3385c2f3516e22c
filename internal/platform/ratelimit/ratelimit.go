// Package ratelimit throttles the public, unauthenticated registry endpoints
// per client IP with a sliding window.
package ratelimit

import (
	"context"
	"strings"
	"time"
)

// Result is the outcome of one Allow call.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// RetryAfter is whole seconds until a slot frees up; zero when allowed.
	RetryAfter int
}

// Limiter admits or rejects one request for key.
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// Key builds a bucket key. Segments are sanitized so an IPv6 address cannot
// collide with the delimiter.
func Key(scope, clientIP string) string {
	return "ratelimit:" + scope + ":" + strings.ReplaceAll(clientIP, ":", "_")
}

func retryAfter(now, resetAt time.Time) int {
	d := resetAt.Sub(now)
	if d <= 0 {
		return 1
	}
	secs := int(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}
