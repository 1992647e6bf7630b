package domain

import (
	"context"
	"time"
)

// RateDecision is the outcome of one rate limiter check.
type RateDecision struct {
	Allowed bool
	// Remaining is how many more requests the window admits after this one.
	Remaining int
}

// RateLimiter counts requests per key in a sliding window. A request that is
// refused is not counted.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (RateDecision, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
	// Refresh extends the TTL of a lock this manager currently holds.
	Refresh(ctx context.Context, key string, ttl time.Duration) error
}

// NonceGuard rejects request nonces seen within a TTL.
type NonceGuard interface {
	// Claim records nonce and returns ErrDuplicateRequest if it was already seen.
	Claim(ctx context.Context, nonce string, ttl time.Duration) error
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// Bus channel and stream names.
const (
	ChannelLedgerEvents = "ledger:events"
	StreamReceipts      = "ledger:receipts"
)
