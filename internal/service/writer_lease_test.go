package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cachemem "github.com/alanyoungcy/polystakes/internal/cache/memory"
	"github.com/alanyoungcy/polystakes/internal/domain"
)

func TestWriterLease(t *testing.T) {
	ctx := context.Background()
	locks := cachemem.NewLockManager()

	lease, err := AcquireWriterLease(ctx, locks, 60*time.Millisecond, discardLogger())
	require.NoError(t, err)

	_, err = AcquireWriterLease(ctx, locks, time.Second, discardLogger())
	require.ErrorIs(t, err, domain.ErrLockHeld)

	runCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	err = lease.Run(runCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = AcquireWriterLease(ctx, locks, time.Second, discardLogger())
	require.ErrorIs(t, err, domain.ErrLockHeld, "refreshed lease is still held")

	lease.Release()
	again, err := AcquireWriterLease(ctx, locks, time.Second, discardLogger())
	require.NoError(t, err)
	again.Release()
}
