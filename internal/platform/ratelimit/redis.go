package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindow trims the window, counts it and records the request only when
// there is room, in one atomic step. It returns {allowed, count before the
// request, oldest score or ""}.
var slidingWindow = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[2])
local count = redis.call('ZCARD', KEYS[1])
local allowed = 0
if count < tonumber(ARGV[3]) then
	redis.call('ZADD', KEYS[1], ARGV[1], ARGV[5])
	redis.call('PEXPIRE', KEYS[1], ARGV[4])
	allowed = 1
end
local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
local score = ''
if #oldest > 0 then
	score = oldest[2]
end
return {allowed, count, score}
`)

// Redis is a sliding window shared by every registry instance, kept as one
// sorted set of request timestamps per key.
type Redis struct {
	client redis.Scripter
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewRedis(client redis.Scripter, limit int, window time.Duration) *Redis {
	return &Redis{client: client, limit: limit, window: window, now: time.Now}
}

func (r *Redis) Allow(ctx context.Context, key string) (Result, error) {
	now := r.now()
	cutoff := now.Add(-r.window)

	raw, err := slidingWindow.Run(ctx, r.client, []string{key},
		now.UnixMicro(),
		cutoff.UnixMicro(),
		r.limit,
		r.window.Milliseconds(),
		uuid.NewString(),
	).Slice()
	if err != nil {
		return Result{}, fmt.Errorf("rate limit window: %w", err)
	}
	allowed, count, resetAt, err := parseWindow(raw, now.Add(r.window), r.window)
	if err != nil {
		return Result{}, err
	}

	if !allowed {
		return Result{
			Limit:      r.limit,
			ResetAt:    resetAt,
			RetryAfter: retryAfter(now, resetAt),
		}, nil
	}
	return Result{
		Allowed:   true,
		Limit:     r.limit,
		Remaining: r.limit - count - 1,
		ResetAt:   resetAt,
	}, nil
}

func parseWindow(raw []any, fallback time.Time, window time.Duration) (bool, int, time.Time, error) {
	if len(raw) != 3 {
		return false, 0, time.Time{}, fmt.Errorf("rate limit window: unexpected reply %v", raw)
	}
	allowed, ok1 := raw[0].(int64)
	count, ok2 := raw[1].(int64)
	score, ok3 := raw[2].(string)
	if !ok1 || !ok2 || !ok3 {
		return false, 0, time.Time{}, fmt.Errorf("rate limit window: unexpected reply %v", raw)
	}
	resetAt := fallback
	if score != "" {
		micros, err := strconv.ParseFloat(score, 64)
		if err != nil {
			return false, 0, time.Time{}, fmt.Errorf("rate limit window: oldest score: %w", err)
		}
		resetAt = time.UnixMicro(int64(micros)).Add(window)
	}
	return allowed == 1, int(count), resetAt, nil
}
