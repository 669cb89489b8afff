package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultWindow is the sliding window length
const DefaultWindow = time.Minute

// Limiter enforces per-key request limits. A limit of 0 or less means
// unlimited and reports remaining as -1.
type Limiter interface {
	AllowWithDetails(ctx context.Context, key string, limit int) (allowed bool, remaining int, resetAt time.Time, err error)
}

// NoopLimiter allows all requests
type NoopLimiter struct{}

func NewNoopLimiter() *NoopLimiter {
	return &NoopLimiter{}
}

func (l *NoopLimiter) Allow(ctx context.Context, key string) bool {
	return true
}

func (l *NoopLimiter) AllowWithDetails(ctx context.Context, key string, limit int) (bool, int, time.Time, error) {
	return true, -1, time.Time{}, nil
}

// slidingWindowScript trims the window, admits the request when there is
// room and reports {allowed, count, oldest score}. Denied requests are not
// recorded.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if count < limit then
	redis.call('ZADD', key, now, member)
	count = count + 1
	allowed = 1
end
redis.call('PEXPIRE', key, window * 2)

local oldest = now
local first = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if first[2] then
	oldest = tonumber(first[2])
end
return {allowed, count, oldest}
`)

// RateLimiter implements distributed rate limiting using Redis sorted sets
type RateLimiter struct {
	client *redis.Client
	window time.Duration
}

// NewRateLimiter creates a new rate limiter with DefaultWindow
func NewRateLimiter(client *redis.Client) *RateLimiter {
	return NewRateLimiterWithWindow(client, DefaultWindow)
}

// NewRateLimiterWithWindow creates a rate limiter with a custom window
func NewRateLimiterWithWindow(client *redis.Client, window time.Duration) *RateLimiter {
	return &RateLimiter{client: client, window: window}
}

func (rl *RateLimiter) key(id string) string {
	return fmt.Sprintf("ratelimit:%s", id)
}

// AllowWithDetails checks whether one more request fits in the window
func (rl *RateLimiter) AllowWithDetails(ctx context.Context, id string, limit int) (bool, int, time.Time, error) {
	if limit <= 0 {
		return true, -1, time.Time{}, nil
	}

	now := time.Now().UnixMilli()
	res, err := slidingWindowScript.Run(ctx, rl.client, []string{rl.key(id)},
		now, rl.window.Milliseconds(), limit, fmt.Sprintf("%d:%s", now, uuid.NewString()),
	).Int64Slice()
	if err != nil {
		return false, 0, time.Time{}, fmt.Errorf("rate limit check failed: %w", err)
	}
	if len(res) != 3 {
		return false, 0, time.Time{}, fmt.Errorf("rate limit check failed: unexpected reply %v", res)
	}

	remaining := limit - int(res[1])
	if remaining < 0 {
		remaining = 0
	}
	resetAt := time.UnixMilli(res[2]).Add(rl.window)
	return res[0] == 1, remaining, resetAt, nil
}

// GetCurrentUsage returns the current request count in the window
func (rl *RateLimiter) GetCurrentUsage(ctx context.Context, id string) (int64, error) {
	key := rl.key(id)
	windowStart := time.Now().Add(-rl.window)

	if err := rl.client.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%d", windowStart.UnixMilli())).Err(); err != nil {
		return 0, fmt.Errorf("failed to clean old entries: %w", err)
	}

	count, err := rl.client.ZCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get current usage: %w", err)
	}
	return count, nil
}

// Reset resets the rate limit for a key
func (rl *RateLimiter) Reset(ctx context.Context, id string) error {
	return rl.client.Del(ctx, rl.key(id)).Err()
}
