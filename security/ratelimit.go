package security

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/corewave-ai/voicegateway/schema"
)

// incrScript atomically increments the minute-aligned counter for a scope
// key and sets its expiry on first increment, so concurrent requests across
// gateway replicas never race between INCR and EXPIRE.
var incrScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// RateLimiter enforces the per-scope, per-minute request limits of spec
// §4.6/§6 (tenant, user, ip, session) using Redis-backed atomic counters so
// limits hold across gateway replicas.
type RateLimiter struct {
	client *redis.Client
	limits map[schema.Scope]int
}

// NewRateLimiter creates a RateLimiter backed by client, using
// schema.DefaultLimits unless overridden via WithLimit.
func NewRateLimiter(client *redis.Client, opts ...RateLimitOption) *RateLimiter {
	limits := make(map[schema.Scope]int, len(schema.DefaultLimits))
	for k, v := range schema.DefaultLimits {
		limits[k] = v
	}
	rl := &RateLimiter{client: client, limits: limits}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// RateLimitOption configures a RateLimiter.
type RateLimitOption func(*RateLimiter)

// WithLimit overrides the per-minute limit for one scope.
func WithLimit(scope schema.Scope, limit int) RateLimitOption {
	return func(rl *RateLimiter) { rl.limits[scope] = limit }
}

// Allow increments the counter for (scope, id) in the current minute window
// and reports whether the request stays within the scope's limit. The
// returned bucket reflects the post-increment count and the window's reset
// time, suitable for a Retry-After style response.
func (rl *RateLimiter) Allow(ctx context.Context, scope schema.Scope, id string) (schema.RateLimitBucket, bool, error) {
	now := time.Now()
	window := schema.MinuteWindow(now)
	key := fmt.Sprintf("ratelimit:%s:%s:%d", scope, id, window.Unix())

	ttlMs := window.Add(70 * time.Second).Sub(now).Milliseconds()
	count, err := incrScript.Run(ctx, rl.client, []string{key}, ttlMs).Int()
	if err != nil {
		return schema.RateLimitBucket{}, false, fmt.Errorf("security: rate limit check: %w", err)
	}

	limit := rl.limits[scope]
	bucket := schema.RateLimitBucket{Key: key, Count: count, ResetAt: window.Add(time.Minute)}
	if limit <= 0 {
		return bucket, true, nil
	}
	return bucket, count <= limit, nil
}
