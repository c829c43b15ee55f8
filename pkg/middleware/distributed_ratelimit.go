package middleware

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// windowScript increments the counter and anchors its expiry at the first
// request of the window
var windowScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// DistributedRateLimiter counts requests per fixed window in Redis so limits
// are shared across instances
type DistributedRateLimiter struct {
	redis  *redis.Client
	config *RateLimitConfig
	prefix string
}

// NewDistributedRateLimiter creates a new Redis-backed rate limiter
func NewDistributedRateLimiter(redisClient *redis.Client, config *RateLimitConfig, prefix string) *DistributedRateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	if prefix == "" {
		prefix = "breeze:ratelimit"
	}

	return &DistributedRateLimiter{
		redis:  redisClient,
		config: config,
		prefix: prefix,
	}
}

// Config returns the limiter settings
func (rl *DistributedRateLimiter) Config() *RateLimitConfig { return rl.config }

// Allow increments the window counter for key
func (rl *DistributedRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := fmt.Sprintf("%s:%s", rl.prefix, key)

	count, err := windowScript.Run(ctx, rl.redis, []string{redisKey}, rl.config.WindowDuration.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("redis error: %w", err)
	}

	return count <= int64(rl.config.RequestsPerWindow+rl.config.BurstSize), nil
}

// Reset clears the counter for a key
func (rl *DistributedRateLimiter) Reset(ctx context.Context, key string) error {
	return rl.redis.Del(ctx, fmt.Sprintf("%s:%s", rl.prefix, key)).Err()
}
