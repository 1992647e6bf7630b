// Package app owns the lifecycle of a polystakes node: it wires stores,
// caches, archive and notifications for the configured mode and runs the
// mode until its context ends.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/polystakes/internal/config"
)

// App runs one mode and releases what Wire opened, in reverse order.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{cfg: cfg, logger: logger.With(slog.String("component", "app"))}
}

type modeFunc func(*App, context.Context, *Dependencies) error

var modes = map[string]modeFunc{
	"node":    (*App).NodeMode,
	"memory":  (*App).MemoryMode,
	"archive": (*App).ArchiveMode,
}

// Run wires the dependencies of the configured mode and blocks until the
// mode returns. Call Close afterwards, also on error.
func (a *App) Run(ctx context.Context) error {
	mode := strings.ToLower(a.cfg.Mode)
	run, ok := modes[mode]
	if !ok {
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}

	started := time.Now()
	a.logger.InfoContext(ctx, "starting", slog.String("mode", mode))
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	err = run(a, ctx, deps)
	a.logger.InfoContext(ctx, "mode finished",
		slog.String("mode", mode),
		slog.Duration("uptime", time.Since(started)),
	)
	return err
}

// Close is idempotent.
func (a *App) Close() {
	if len(a.closers) == 0 {
		return
	}
	a.logger.Info("releasing resources", slog.Int("closers", len(a.closers)))
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
