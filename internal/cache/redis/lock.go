package redis

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/polystakes/internal/domain"
)

var (
	//go:embed scripts/lock_release.lua
	lockReleaseLua string
	//go:embed scripts/lock_refresh.lua
	lockRefreshLua string

	releaseScript = redis.NewScript(lockReleaseLua)
	refreshScript = redis.NewScript(lockRefreshLua)
)

const releaseTimeout = 5 * time.Second

// LockManager implements domain.LockManager with SET NX PX and token-checked
// scripts. Tokens are "<holder>/<uuid>" so an operator reading the key can
// see which node owns it.
type LockManager struct {
	rdb    *redis.Client
	holder string

	mu     sync.Mutex
	tokens map[string]string
}

// NewLockManager identifies this process as hostname:pid.
func NewLockManager(c *Client) *LockManager {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return &LockManager{
		rdb:    c.Underlying(),
		holder: host + ":" + strconv.Itoa(os.Getpid()),
		tokens: make(map[string]string),
	}
}

func lockKey(key string) string {
	return "lock:" + key
}

// tokenHolder returns the holder part of a lock token.
func tokenHolder(token string) string {
	holder, _, _ := strings.Cut(token, "/")
	return holder
}

// Acquire takes key for ttl. When another party holds it the error wraps
// domain.ErrLockHeld and names the holder. The unlock function is idempotent
// and runs with its own timeout so it works after ctx is cancelled.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := lm.holder + "/" + uuid.NewString()
	lk := lockKey(key)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		owner, err := lm.rdb.Get(ctx, lk).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("redis: lock %s: %w", key, domain.ErrLockHeld)
		}
		return nil, fmt.Errorf("redis: lock %s held by %q: %w", key, tokenHolder(owner), domain.ErrLockHeld)
	}

	lm.mu.Lock()
	lm.tokens[key] = token
	lm.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { lm.release(key, token) })
	}, nil
}

func (lm *LockManager) release(key, token string) {
	lm.mu.Lock()
	if lm.tokens[key] == token {
		delete(lm.tokens, key)
	}
	lm.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	_ = releaseScript.Run(ctx, lm.rdb, []string{lockKey(key)}, token).Err()
}

// Refresh extends a lock this manager holds. It wraps domain.ErrNotFound
// when the lock expired or was taken over.
func (lm *LockManager) Refresh(ctx context.Context, key string, ttl time.Duration) error {
	lm.mu.Lock()
	token, ok := lm.tokens[key]
	lm.mu.Unlock()
	if !ok {
		return fmt.Errorf("redis: refresh lock %s: not held: %w", key, domain.ErrNotFound)
	}

	n, err := refreshScript.Run(ctx, lm.rdb, []string{lockKey(key)}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("redis: refresh lock %s: %w", key, err)
	}
	if n == 0 {
		lm.mu.Lock()
		delete(lm.tokens, key)
		lm.mu.Unlock()
		return fmt.Errorf("redis: refresh lock %s: lost: %w", key, domain.ErrNotFound)
	}
	return nil
}

var _ domain.LockManager = (*LockManager)(nil)
