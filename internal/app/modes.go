package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polystakes/internal/crypto"
	"github.com/alanyoungcy/polystakes/internal/domain"
	"github.com/alanyoungcy/polystakes/internal/ledger"
	"github.com/alanyoungcy/polystakes/internal/server"
	"github.com/alanyoungcy/polystakes/internal/server/handler"
	"github.com/alanyoungcy/polystakes/internal/server/middleware"
	"github.com/alanyoungcy/polystakes/internal/server/ws"
	"github.com/alanyoungcy/polystakes/internal/service"
)

// shutdownTimeout bounds the graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second

// NodeMode runs a persistent node: it takes the writer lease, restores the
// ledger from the receipt log and then serves calls while producing blocks.
func (a *App) NodeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting node mode")

	lease, err := service.AcquireWriterLease(ctx, deps.LockManager, a.cfg.Ledger.WriterLeaseTTL.Duration, a.logger)
	if err != nil {
		return fmt.Errorf("app: node: %w", err)
	}
	defer lease.Release()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return lease.Run(ctx)
	})

	svc, query, err := a.bootLedger(ctx, deps)
	if err != nil {
		// Stop refreshing before the deferred Release hands the lock back.
		cancel()
		return errors.Join(err, ignoreCanceled(g.Wait()))
	}
	a.startLedger(ctx, g, deps, svc, query)
	return ignoreCanceled(g.Wait())
}

// MemoryMode runs a throwaway node on in-memory stores and caches. Nothing
// survives a restart.
func (a *App) MemoryMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting memory mode; state is not persisted")

	g, ctx := errgroup.WithContext(ctx)
	svc, query, err := a.bootLedger(ctx, deps)
	if err != nil {
		return err
	}
	a.startLedger(ctx, g, deps, svc, query)
	return ignoreCanceled(g.Wait())
}

// ArchiveMode restores the ledger from the receipt log, uploads one snapshot
// and exits.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")
	if deps.Archiver == nil {
		return fmt.Errorf("app: archive: s3 is not enabled")
	}

	svc, _ := a.newLedger(deps)
	if _, err := svc.Restore(ctx); err != nil {
		return fmt.Errorf("app: archive: %w", err)
	}
	path, err := svc.ArchiveSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("app: archive: %w", err)
	}
	a.logger.InfoContext(ctx, "snapshot archived",
		slog.String("path", path),
		slog.Uint64("height", svc.Chain().Height()),
	)

	if deps.Browser != nil {
		idx, err := deps.Browser.Index(ctx)
		if err != nil {
			return fmt.Errorf("app: archive: %w", err)
		}
		a.logger.InfoContext(ctx, "archive contents",
			slog.Int("settlements", len(idx.Settlements)),
			slog.Int("snapshots", len(idx.Snapshots)),
		)
	}
	return nil
}

// newLedger builds an empty chain and the services around it.
func (a *App) newLedger(deps *Dependencies) (*service.LedgerService, *service.QueryService) {
	deployer, _ := domain.ParsePrincipal(a.cfg.Ledger.Deployer)
	chain := ledger.NewChain(ledger.NewState(deployer))

	svc := service.NewLedgerService(
		chain,
		deps.ReceiptStore, deps.MarketStore, deps.StakeStore, deps.AuditStore,
		deps.SignalBus,
		service.LedgerConfig{
			SnapshotEvery: a.cfg.Ledger.SnapshotEvery,
			ReplayPage:    a.cfg.Ledger.ReplayPage,
		},
		a.logger,
	).WithNotifier(deps.Notifier)
	if deps.Archiver != nil {
		svc.WithArchiver(deps.Archiver)
	}

	query := service.NewQueryService(chain, deps.MarketStore, deps.StakeStore)
	return svc, query
}

// bootLedger restores the ledger and applies genesis and the configured
// admin on a fresh log.
func (a *App) bootLedger(ctx context.Context, deps *Dependencies) (*service.LedgerService, *service.QueryService, error) {
	svc, query := a.newLedger(deps)

	if _, err := svc.Restore(ctx); err != nil {
		return nil, nil, fmt.Errorf("app: restore ledger: %w", err)
	}
	if err := svc.Genesis(ctx, a.cfg.GenesisBalances()); err != nil {
		return nil, nil, fmt.Errorf("app: genesis: %w", err)
	}
	if admin, ok := domain.ParsePrincipal(a.cfg.Ledger.Admin); ok {
		if err := svc.EnsureAdmin(ctx, admin); err != nil {
			return nil, nil, fmt.Errorf("app: %w", err)
		}
	}
	return svc, query, nil
}

// startLedger adds the block producer and, when enabled, the HTTP server and
// WebSocket hub to g.
func (a *App) startLedger(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc *service.LedgerService, query *service.QueryService) {
	g.Go(func() error {
		return svc.RunBlockProducer(ctx, a.cfg.Ledger.BlockInterval.Duration)
	})

	if !a.cfg.Server.Enabled {
		a.logger.InfoContext(ctx, "HTTP server disabled")
		return
	}
	a.startHTTPServer(ctx, g, deps, svc, query)
}

// startHTTPServer adds the HTTP server, its graceful shutdown and the
// WebSocket hub to g.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	svc *service.LedgerService,
	query *service.QueryService,
) {
	chain := svc.Chain()
	hub := ws.NewHub(deps.SignalBus, chain.Height, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	if !a.cfg.Server.RequireSignatures {
		a.logger.WarnContext(ctx, "signature checks disabled; X-Principal is trusted as sent")
	}
	cfg := server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		TxRateLimit: a.cfg.Server.TxRateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
		Signatures: middleware.SignatureConfig{
			Verifier: crypto.NewVerifier(a.cfg.Server.ChainID),
			Nonces:   deps.NonceGuard,
			MaxSkew:  a.cfg.Server.SignatureMaxSkew.Duration,
			Require:  a.cfg.Server.RequireSignatures,
			Logger:   a.logger,
		},
	}
	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(deps.Health, a.logger),
		Markets:  handler.NewMarketHandler(query, a.logger),
		Chain:    handler.NewChainHandler(query, svc, a.logger),
		Tx:       handler.NewTxHandler(svc, a.logger),
		Audit:    handler.NewAuditHandler(deps.AuditStore, a.logger),
		Receipts: handler.NewReceiptHandler(deps.SignalBus, a.logger),
	}
	if deps.Browser != nil {
		handlers.Archive = handler.NewArchiveHandler(deps.Browser, a.logger)
	}
	srv := server.NewServer(cfg, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)),
		)
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// ignoreCanceled treats a cancelled context as a clean shutdown.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
