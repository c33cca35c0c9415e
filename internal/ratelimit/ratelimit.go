// Package ratelimit implements a redis-backed fixed-window rate limiter
// for the authentication endpoints.
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// windowScript counts a hit atomically. The first hit in a window starts
// its expiry clock; over the limit it reports the remaining window so the
// caller can set Retry-After.
var windowScript = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])

local count = redis.call('INCR', key)
if count == 1 then
	redis.call('PEXPIRE', key, window)
end

if count > limit then
	return {0, redis.call('PTTL', key)}
end
return {1, limit - count}
`)

// Decision reports the outcome of one rate-limit check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter enforces per-key request limits over fixed windows.
type Limiter struct {
	client *redis.Client
	logger *zap.Logger
}

func NewLimiter(client *redis.Client, logger *zap.Logger) *Limiter {
	return &Limiter{client: client, logger: logger}
}

// Allow records a hit against key and reports whether it fits within
// limit hits per window. Redis failures allow the request through so an
// unavailable cache cannot lock out logins; the failure is logged.
func (l *Limiter) Allow(ctx context.Context, key string, limit int, window time.Duration) Decision {
	vals, err := windowScript.Run(ctx, l.client,
		[]string{key}, limit, window.Milliseconds()).Int64Slice()
	if err != nil || len(vals) != 2 {
		l.logger.Warn("rate limit check failed, allowing request",
			zap.String("key", key), zap.Error(err))
		return Decision{Allowed: true, Remaining: limit}
	}

	if vals[0] == 1 {
		return Decision{Allowed: true, Remaining: int(vals[1])}
	}

	retry := time.Duration(vals[1]) * time.Millisecond
	if retry <= 0 {
		retry = window
	}
	return Decision{Allowed: false, RetryAfter: retry}
}
