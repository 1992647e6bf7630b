package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/polystakes/internal/blob/s3"
	cachemem "github.com/alanyoungcy/polystakes/internal/cache/memory"
	"github.com/alanyoungcy/polystakes/internal/cache/redis"
	"github.com/alanyoungcy/polystakes/internal/config"
	"github.com/alanyoungcy/polystakes/internal/crypto"
	"github.com/alanyoungcy/polystakes/internal/domain"
	"github.com/alanyoungcy/polystakes/internal/notify"
	"github.com/alanyoungcy/polystakes/internal/server/handler"
	storemem "github.com/alanyoungcy/polystakes/internal/store/memory"
	"github.com/alanyoungcy/polystakes/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Stores
	ReceiptStore domain.ReceiptStore
	MarketStore  domain.MarketStore
	StakeStore   domain.StakeStore
	AuditStore   domain.AuditStore

	// Coordination
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	NonceGuard  domain.NonceGuard
	SignalBus   domain.SignalBus

	// Blob storage; nil unless S3 is enabled.
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver
	Browser    domain.ArchiveBrowser

	// Notifications
	Notifier *notify.Notifier

	// Health probes keyed by dependency name.
	Health map[string]handler.HealthCheck
}

// needsPostgres returns true for modes that persist the receipt log.
func needsPostgres(mode string) bool {
	switch mode {
	case "node", "archive":
		return true
	default:
		return false
	}
}

// needsRedis returns true for modes that coordinate through Redis.
func needsRedis(mode string) bool {
	return mode == "node"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	mode := strings.ToLower(cfg.Mode)
	deps := &Dependencies{Health: map[string]handler.HealthCheck{}}

	// --- PostgreSQL ---
	if needsPostgres(mode) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Database.DSN,
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Database: cfg.Database.Database,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.PoolMaxConns,
			MinConns: cfg.Database.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Database.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.ReceiptStore = postgres.NewReceiptStore(pool)
		deps.MarketStore = postgres.NewMarketStore(pool)
		deps.StakeStore = postgres.NewStakeStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Health["postgres"] = pgClient.Ping
	} else {
		deps.ReceiptStore = storemem.NewReceiptStore()
		deps.MarketStore = storemem.NewMarketStore()
		deps.StakeStore = storemem.NewStakeStore()
		deps.AuditStore = storemem.NewAuditStore()
	}

	// --- Redis ---
	if needsRedis(mode) {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			PoolSize:    cfg.Redis.PoolSize,
			MaxRetries:  cfg.Redis.MaxRetries,
			TLSEnabled:  cfg.Redis.TLSEnabled,
			DialTimeout: cfg.Redis.DialTimeout.Duration,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.NonceGuard = redis.NewNonceGuard(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
		deps.Health["redis"] = redisClient.Ping
	} else {
		deps.RateLimiter = cachemem.NewRateLimiter()
		deps.LockManager = cachemem.NewLockManager()
		deps.NonceGuard = cachemem.NewNonceGuard()
		deps.SignalBus = cachemem.NewSignalBus(int(cfg.Redis.StreamMaxLen))
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		writer := s3blob.NewWriter(s3Client, s3blob.WithConcurrency(cfg.S3.UploadConcurrency))
		reader := s3blob.NewReader(s3Client)
		deps.BlobWriter = writer
		deps.BlobReader = reader
		archiver := s3blob.NewArchiver(writer, reader, deps.AuditStore, cfg.S3.PartSizeMB<<20)
		deps.Archiver = archiver
		deps.Browser = archiver
		deps.Health["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if cfg.Notify.WebhookURL != "" {
		var signer *crypto.WebhookSigner
		if cfg.Notify.WebhookSecret != "" {
			signer = crypto.NewWebhookSigner(cfg.Notify.WebhookSecret)
		}
		senders = append(senders, notify.NewWebhookSender(cfg.Notify.WebhookURL, signer))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
