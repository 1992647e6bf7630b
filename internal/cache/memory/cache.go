// Package memory implements the domain cache, lock and bus interfaces in
// process memory for single-node deployments and tests.
package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/polystakes/internal/domain"
)

// RateLimiter is a sliding-window limiter keeping request timestamps per key.
type RateLimiter struct {
	mu   sync.Mutex
	hits map[string][]time.Time
	now  func() time.Time
}

// NewRateLimiter returns an empty RateLimiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{hits: make(map[string][]time.Time), now: time.Now}
}

func (rl *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (domain.RateDecision, error) {
	if limit <= 0 {
		return domain.RateDecision{}, nil
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cutoff := now.Add(-window)
	kept := rl.hits[key][:0]
	for _, t := range rl.hits[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= limit {
		rl.hits[key] = kept
		return domain.RateDecision{}, nil
	}
	rl.hits[key] = append(kept, now)
	return domain.RateDecision{Allowed: true, Remaining: limit - len(kept) - 1}, nil
}

type lease struct {
	token   string
	expires time.Time
}

// LockManager is an in-process domain.LockManager with expiring leases.
type LockManager struct {
	mu    sync.Mutex
	locks map[string]lease
	now   func() time.Time
}

// NewLockManager returns an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{locks: make(map[string]lease), now: time.Now}
}

func (lm *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	now := lm.now()
	if l, ok := lm.locks[key]; ok && (l.expires.IsZero() || now.Before(l.expires)) {
		return nil, domain.ErrLockHeld
	}
	l := lease{token: uuid.NewString()}
	if ttl > 0 {
		l.expires = now.Add(ttl)
	}
	lm.locks[key] = l

	var once sync.Once
	return func() {
		once.Do(func() {
			lm.mu.Lock()
			defer lm.mu.Unlock()
			if cur, ok := lm.locks[key]; ok && cur.token == l.token {
				delete(lm.locks, key)
			}
		})
	}, nil
}

func (lm *LockManager) Refresh(_ context.Context, key string, ttl time.Duration) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	l, ok := lm.locks[key]
	if !ok {
		return domain.ErrNotFound
	}
	if ttl > 0 {
		l.expires = lm.now().Add(ttl)
	}
	lm.locks[key] = l
	return nil
}

// NonceGuard remembers nonces until their TTL passes.
type NonceGuard struct {
	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

// NewNonceGuard returns an empty NonceGuard.
func NewNonceGuard() *NonceGuard {
	return &NonceGuard{seen: make(map[string]time.Time), now: time.Now}
}

func (g *NonceGuard) Claim(_ context.Context, nonce string, ttl time.Duration) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for n, exp := range g.seen {
		if now.After(exp) {
			delete(g.seen, n)
		}
	}
	if _, ok := g.seen[nonce]; ok {
		return domain.ErrDuplicateRequest
	}
	g.seen[nonce] = now.Add(ttl)
	return nil
}

// SignalBus fans published payloads out to subscribers and keeps bounded
// in-memory streams.
type SignalBus struct {
	mu      sync.Mutex
	subs    map[string]map[chan []byte]struct{}
	streams map[string][]domain.StreamMessage
	maxLen  int
	nextID  uint64
}

// NewSignalBus returns a SignalBus whose streams keep at most maxLen entries.
func NewSignalBus(maxLen int) *SignalBus {
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &SignalBus{
		subs:    make(map[string]map[chan []byte]struct{}),
		streams: make(map[string][]domain.StreamMessage),
		maxLen:  maxLen,
	}
}

// Publish delivers payload to every current subscriber of channel. Slow
// subscribers drop messages rather than block the publisher.
func (b *SignalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[channel] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel closed when ctx is cancelled.
func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 128)
	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[chan []byte]struct{})
	}
	b.subs[channel][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs[channel], ch)
		b.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

func (b *SignalBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	msgs := append(b.streams[stream], domain.StreamMessage{
		ID:      strconv.FormatUint(b.nextID, 10) + "-0",
		Payload: payload,
	})
	if len(msgs) > b.maxLen {
		msgs = msgs[len(msgs)-b.maxLen:]
	}
	b.streams[stream] = msgs
	return nil
}

// StreamRead returns up to count entries after lastID. "0" and "0-0" read
// from the start.
func (b *SignalBus) StreamRead(_ context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	after := streamSeq(lastID)
	var out []domain.StreamMessage
	for _, m := range b.streams[stream] {
		if streamSeq(m.ID) <= after {
			continue
		}
		out = append(out, m)
		if count > 0 && len(out) == count {
			break
		}
	}
	return out, nil
}

func streamSeq(id string) uint64 {
	for i := 0; i < len(id); i++ {
		if id[i] == '-' {
			id = id[:i]
			break
		}
	}
	n, _ := strconv.ParseUint(id, 10, 64)
	return n
}

var (
	_ domain.RateLimiter = (*RateLimiter)(nil)
	_ domain.LockManager = (*LockManager)(nil)
	_ domain.NonceGuard  = (*NonceGuard)(nil)
	_ domain.SignalBus   = (*SignalBus)(nil)
)
