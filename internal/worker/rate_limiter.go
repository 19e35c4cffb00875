package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// minuteWindowTTL keeps a per-minute counter alive past its own minute so a
// late tick still sees it.
const minuteWindowTTL = 120 * time.Second

// TickCap returns how many messages one dispatch tick may enqueue for a
// campaign: floor(mpm * tick / 60s) clamped to at least 1. Throttling off or
// a non-positive rate means unbounded, which is capped by maxBatch.
func TickCap(messagesPerMinute int, tick time.Duration, throttleEnabled bool, maxBatch int) int {
	if maxBatch < 1 {
		maxBatch = 1
	}
	if !throttleEnabled || messagesPerMinute <= 0 {
		return maxBatch
	}
	n := int(int64(messagesPerMinute) * int64(tick/time.Millisecond) / 60000)
	if n < 1 {
		n = 1
	}
	if n > maxBatch {
		n = maxBatch
	}
	return n
}

// Lua script for atomic per-minute reservation.
// Grants min(want, limit - current) and increments by the granted amount.
const reserveLuaScript = `
local key = KEYS[1]
local want = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local current = tonumber(redis.call("GET", key) or "0")
local free = limit - current
if free <= 0 then
    return {0, current}
end
if want > free then
    want = free
end

local newVal = redis.call("INCRBY", key, want)
if newVal == want then
    redis.call("EXPIRE", key, ttl)
end

return {want, newVal}
`

// RateLimiter reserves per-campaign send capacity from a Redis minute
// window, so the configured messages_per_minute holds across ticks shorter
// than a minute and across dispatcher instances. A nil client grants every
// request unchanged.
type RateLimiter struct {
	redis         *redis.Client
	reserveScript *redis.Script
	now           func() time.Time
}

// NewRateLimiter creates a rate limiter with a pre-compiled Lua script.
func NewRateLimiter(redisClient *redis.Client) *RateLimiter {
	return &RateLimiter{
		redis:         redisClient,
		reserveScript: redis.NewScript(reserveLuaScript),
		now:           time.Now,
	}
}

// Enabled reports whether reservations are backed by Redis.
func (r *RateLimiter) Enabled() bool {
	return r != nil && r.redis != nil
}

// Reserve takes up to want slots from the campaign's current minute window
// of size perMinute and returns how many were granted.
func (r *RateLimiter) Reserve(ctx context.Context, campaignID string, want, perMinute int) (int, error) {
	return r.reserve(ctx, "campaign:"+campaignID, want, perMinute)
}

// ReserveGateway takes one send slot from a tenant gateway instance's
// current minute window.
func (r *RateLimiter) ReserveGateway(ctx context.Context, instanceID string, perMinute int) (bool, error) {
	n, err := r.reserve(ctx, "gateway:"+instanceID, 1, perMinute)
	return n == 1, err
}

func (r *RateLimiter) reserve(ctx context.Context, scope string, want, perMinute int) (int, error) {
	if !r.Enabled() || want <= 0 || perMinute <= 0 {
		return want, nil
	}
	key := fmt.Sprintf("ratelimit:%s:minute:%d", scope, r.now().Unix()/60)
	res, err := r.reserveScript.Run(ctx, r.redis, []string{key},
		want, perMinute, int(minuteWindowTTL.Seconds())).Slice()
	if err != nil {
		return 0, fmt.Errorf("rate limit reserve: %w", err)
	}
	granted, ok := res[0].(int64)
	if !ok {
		return 0, fmt.Errorf("rate limit reserve: unexpected reply %T", res[0])
	}
	return int(granted), nil
}
