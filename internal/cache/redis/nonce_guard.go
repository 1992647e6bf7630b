package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/polystakes/internal/domain"
)

// NonceGuard implements domain.NonceGuard with SETNX keys that expire after
// the replay window.
type NonceGuard struct {
	rdb *redis.Client
}

// NewNonceGuard creates a NonceGuard backed by the given Client.
func NewNonceGuard(c *Client) *NonceGuard {
	return &NonceGuard{rdb: c.Underlying()}
}

func nonceKey(nonce string) string { return "ledger:nonce:" + nonce }

// Claim records nonce for ttl. A nonce seen within ttl returns
// domain.ErrDuplicateRequest.
func (g *NonceGuard) Claim(ctx context.Context, nonce string, ttl time.Duration) error {
	ok, err := g.rdb.SetNX(ctx, nonceKey(nonce), 1, ttl).Result()
	if err != nil {
		return fmt.Errorf("redis: claim nonce: %w", err)
	}
	if !ok {
		return domain.ErrDuplicateRequest
	}
	return nil
}

var _ domain.NonceGuard = (*NonceGuard)(nil)
