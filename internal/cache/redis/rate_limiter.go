package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/polystakes/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

// RateLimiter shares request budgets across nodes. Each key is a sorted set
// of request timestamps trimmed and counted atomically by a Lua script.
type RateLimiter struct {
	rdb    *redis.Client
	script *redis.Script
	now    func() time.Time
}

func NewRateLimiter(c *Client) *RateLimiter {
	return &RateLimiter{rdb: c.Underlying(), script: redis.NewScript(slidingWindowLua), now: time.Now}
}

func rateLimitKey(key string) string {
	return "ledger:ratelimit:" + key
}

func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (domain.RateDecision, error) {
	if limit <= 0 {
		return domain.RateDecision{}, nil
	}
	res, err := rl.script.Run(ctx, rl.rdb, []string{rateLimitKey(key)},
		rl.now().UnixMicro(), window.Microseconds(), limit).Int64Slice()
	if err != nil {
		return domain.RateDecision{}, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	return decision(res, limit)
}

// decision reads the script's {allowed, count} reply.
func decision(res []int64, limit int) (domain.RateDecision, error) {
	if len(res) != 2 {
		return domain.RateDecision{}, fmt.Errorf("redis: rate limit: reply has %d values, want 2", len(res))
	}
	d := domain.RateDecision{Allowed: res[0] == 1}
	if d.Allowed {
		d.Remaining = max(limit-int(res[1]), 0)
	}
	return d, nil
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
