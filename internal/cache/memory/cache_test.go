package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polystakes/internal/domain"
)

func TestRateLimiterWindow(t *testing.T) {
	ctx := context.Background()
	rl := NewRateLimiter()
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		d, err := rl.Allow(ctx, "k", 3, time.Second)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 2-i, d.Remaining)
	}
	d, _ := rl.Allow(ctx, "k", 3, time.Second)
	assert.False(t, d.Allowed)
	d, _ = rl.Allow(ctx, "other", 3, time.Second)
	assert.True(t, d.Allowed)

	now = now.Add(1100 * time.Millisecond)
	d, _ = rl.Allow(ctx, "k", 3, time.Second)
	assert.True(t, d.Allowed)

	d, _ = rl.Allow(ctx, "k", 0, time.Second)
	assert.False(t, d.Allowed)
}

func TestLockManager(t *testing.T) {
	ctx := context.Background()
	lm := NewLockManager()
	now := time.Unix(0, 0)
	lm.now = func() time.Time { return now }

	unlock, err := lm.Acquire(ctx, "ledger:writer", time.Minute)
	require.NoError(t, err)
	_, err = lm.Acquire(ctx, "ledger:writer", time.Minute)
	require.ErrorIs(t, err, domain.ErrLockHeld)

	now = now.Add(50 * time.Second)
	require.NoError(t, lm.Refresh(ctx, "ledger:writer", time.Minute))
	now = now.Add(50 * time.Second)
	_, err = lm.Acquire(ctx, "ledger:writer", time.Minute)
	require.ErrorIs(t, err, domain.ErrLockHeld, "refresh must extend the lease")

	unlock()
	unlock()
	_, err = lm.Acquire(ctx, "ledger:writer", time.Minute)
	require.NoError(t, err)
}

func TestNonceGuard(t *testing.T) {
	ctx := context.Background()
	g := NewNonceGuard()
	now := time.Unix(0, 0)
	g.now = func() time.Time { return now }

	require.NoError(t, g.Claim(ctx, "n1", time.Minute))
	require.ErrorIs(t, g.Claim(ctx, "n1", time.Minute), domain.ErrDuplicateRequest)
	now = now.Add(2 * time.Minute)
	require.NoError(t, g.Claim(ctx, "n1", time.Minute))
}

func TestSignalBus(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	bus := NewSignalBus(2)

	ch, err := bus.Subscribe(ctx, domain.ChannelLedgerEvents)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, domain.ChannelLedgerEvents, []byte("hello")))
	assert.Equal(t, []byte("hello"), <-ch)

	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, bus.StreamAppend(ctx, domain.StreamReceipts, []byte(p)))
	}
	msgs, err := bus.StreamRead(ctx, domain.StreamReceipts, "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2, "stream is trimmed to maxLen")
	assert.Equal(t, []byte("b"), msgs[0].Payload)

	msgs, err = bus.StreamRead(ctx, domain.StreamReceipts, msgs[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte("c"), msgs[0].Payload)

	cancel()
	_, open := <-ch
	assert.False(t, open)
}
