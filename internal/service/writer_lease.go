package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/polystakes/internal/domain"
)

// WriterLockKey guards the receipt log so a single node produces blocks.
const WriterLockKey = "ledger:writer"

// WriterLease holds the single-writer lock and keeps it alive.
type WriterLease struct {
	locks   domain.LockManager
	ttl     time.Duration
	release func()
	logger  *slog.Logger
}

// AcquireWriterLease takes the writer lock or fails with domain.ErrLockHeld
// when another node owns it.
func AcquireWriterLease(ctx context.Context, locks domain.LockManager, ttl time.Duration, logger *slog.Logger) (*WriterLease, error) {
	release, err := locks.Acquire(ctx, WriterLockKey, ttl)
	if err != nil {
		return nil, fmt.Errorf("writer_lease: acquire: %w", err)
	}
	logger.InfoContext(ctx, "writer_lease: acquired", slog.Duration("ttl", ttl))
	return &WriterLease{locks: locks, ttl: ttl, release: release, logger: logger}, nil
}

// Run refreshes the lease at a third of its TTL until ctx is cancelled. It
// returns an error if the lease is lost, which must stop the node.
func (l *WriterLease) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := l.locks.Refresh(ctx, WriterLockKey, l.ttl); err != nil {
				l.logger.ErrorContext(ctx, "writer_lease: lost", slog.String("error", err.Error()))
				return fmt.Errorf("writer_lease: refresh: %w", err)
			}
		}
	}
}

// Release gives the lock up. Safe to call more than once.
func (l *WriterLease) Release() {
	l.release()
}
