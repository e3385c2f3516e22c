package ratelimit

import (
	"context"
	"sync"
	"time"
)

const sweepEvery = 1024

// Memory is a process-local sliding window. It backs single-instance
// deployments and serves as the fallback while Redis is unavailable.
type Memory struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string][]time.Time
	calls   int
}

func NewMemory(limit int, window time.Duration) *Memory {
	return &Memory{
		limit:   limit,
		window:  window,
		now:     time.Now,
		buckets: make(map[string][]time.Time),
	}
}

func (m *Memory) Allow(_ context.Context, key string) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.calls++
	if m.calls%sweepEvery == 0 {
		m.sweep(now)
	}

	hits := prune(m.buckets[key], now.Add(-m.window))
	if len(hits) >= m.limit {
		m.buckets[key] = hits
		resetAt := hits[0].Add(m.window)
		return Result{
			Limit:      m.limit,
			ResetAt:    resetAt,
			RetryAfter: retryAfter(now, resetAt),
		}, nil
	}

	hits = append(hits, now)
	m.buckets[key] = hits
	return Result{
		Allowed:   true,
		Limit:     m.limit,
		Remaining: m.limit - len(hits),
		ResetAt:   hits[0].Add(m.window),
	}, nil
}

// sweep drops idle buckets. Caller holds m.mu.
func (m *Memory) sweep(now time.Time) {
	cutoff := now.Add(-m.window)
	for key, hits := range m.buckets {
		if hits = prune(hits, cutoff); len(hits) == 0 {
			delete(m.buckets, key)
		} else {
			m.buckets[key] = hits
		}
	}
}

func prune(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}
