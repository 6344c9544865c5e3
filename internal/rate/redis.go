package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/halinh/authcore/clock"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces limiter keys.
const DefaultRedisPrefix = "authcore:rl"

// windowScript applies one check atomically. The hash holds c (count) and r
// (reset, unix ms). Time comes from the caller so every instance agrees with
// its own clock source.
const windowScript = `
local v = redis.call("HMGET", KEYS[1], "c", "r")
local count = v[1] and tonumber(v[1])
local reset = v[2] and tonumber(v[2])
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])

if not count or not reset or now > reset then
  reset = now + window
  redis.call("HSET", KEYS[1], "c", 1, "r", reset)
  redis.call("PEXPIRE", KEYS[1], window + 1000)
  return {1, 1, 0}
end

if count >= max then
  return {0, count, reset - now}
end

count = redis.call("HINCRBY", KEYS[1], "c", 1)
return {1, count, 0}
`

var windowLua = redis.NewScript(windowScript)

// RedisLimiter shares windows between instances through Redis. Each Check is
// one Lua script, so concurrent callers never lose updates.
type RedisLimiter struct {
	redis  redis.UniversalClient
	prefix string
	clock  clock.Clock
}

// NewRedis returns a RedisLimiter. Empty prefix uses DefaultRedisPrefix and a
// nil clk uses the system clock.
func NewRedis(rdb redis.UniversalClient, prefix string, clk clock.Clock) *RedisLimiter {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &RedisLimiter{redis: rdb, prefix: prefix, clock: clk}
}

func (l *RedisLimiter) key(policy, identifier string) string {
	return l.prefix + ":" + windowKey(policy, identifier)
}

// Check implements Limiter.
func (l *RedisLimiter) Check(ctx context.Context, policy Policy, identifier string) (Decision, error) {
	if err := policy.Validate(); err != nil {
		return Decision{}, err
	}

	now := l.clock.Now().UnixMilli()
	res, err := windowLua.Run(ctx, l.redis,
		[]string{l.key(policy.Name, identifier)},
		now, policy.Window.Milliseconds(), policy.MaxAttempts,
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("%w: unexpected script reply %v", ErrRedisUnavailable, res)
	}

	d := Decision{Allowed: res[0] == 1, Count: int(res[1])}
	if !d.Allowed {
		d.RetryAfter = time.Duration(res[2]) * time.Millisecond
	}
	return d, nil
}
