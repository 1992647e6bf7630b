// Package config defines the configuration of a polystakes node and provides
// validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/polystakes/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POLYSTAKES_* environment variables.
type Config struct {
	Ledger   LedgerConfig   `toml:"ledger"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Signer   SignerConfig   `toml:"signer"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// LedgerConfig holds the chain parameters of the ledger.
type LedgerConfig struct {
	// Deployer is the principal that may bootstrap the admin and mint.
	Deployer string `toml:"deployer"`
	// Admin, when set, becomes the first administrator on a fresh ledger.
	Admin         string   `toml:"admin"`
	BlockInterval duration `toml:"block_interval"`
	// SnapshotEvery archives a snapshot every N blocks; 0 disables it.
	SnapshotEvery  uint64   `toml:"snapshot_every"`
	ReplayPage     int      `toml:"replay_page"`
	WriterLeaseTTL duration `toml:"writer_lease_ttl"`
	// Genesis balances minted on a ledger with no receipts.
	Genesis map[string]uint64 `toml:"genesis"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	DialTimeout  duration `toml:"dial_timeout"`
	StreamMaxLen int64    `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	PartSizeMB     int64  `toml:"part_size_mb"`
	// UploadConcurrency is the number of multipart parts in flight.
	UploadConcurrency int `toml:"upload_concurrency"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey guards the operator endpoints (mine, faucet).
	APIKey string `toml:"api_key"`
	// RequireSignatures makes /api/tx accept only signed calls. When false the
	// X-Principal header is trusted as is (development only).
	RequireSignatures bool     `toml:"require_signatures"`
	ChainID           int64    `toml:"chain_id"`
	SignatureMaxSkew  duration `toml:"signature_max_skew"`
	RateLimit         int      `toml:"rate_limit"`
	// TxRateLimit caps ledger calls per principal within rate_window.
	TxRateLimit int      `toml:"tx_rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	WebhookURL        string   `toml:"webhook_url"`
	WebhookSecret     string   `toml:"webhook_secret"`
	Events            []string `toml:"events"`
}

// SignerConfig points at the key used by the polystakesctl tool to sign
// calls.
type SignerConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Ledger: LedgerConfig{
			Deployer:       "deployer",
			BlockInterval:  duration{2 * time.Second},
			SnapshotEvery:  1000,
			ReplayPage:     500,
			WriterLeaseTTL: duration{15 * time.Second},
			Genesis:        map[string]uint64{},
		},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "polystakes",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			DialTimeout:  duration{5 * time.Second},
			StreamMaxLen: 100_000,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "polystakes-archive",
			ForcePathStyle: true,
			PartSizeMB:     8,

			UploadConcurrency: 3,
		},
		Server: ServerConfig{
			Enabled:           true,
			Port:              8000,
			CORSOrigins:       []string{"http://localhost:3000", "http://localhost:5173"},
			RequireSignatures: true,
			ChainID:           1,
			SignatureMaxSkew:  duration{2 * time.Minute},
			RateLimit:         120,
			TxRateLimit:       30,
			RateWindow:        duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{domain.EventMarketCreated, domain.EventMarketResolved, domain.EventFeeWithdrawn},
		},
		Mode:     "node",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"node":    true,
	"memory":  true,
	"archive": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// GenesisBalances converts the configured genesis map to principals. Keys
// naming the same address in different casing are summed. Invalid principals
// are reported by Validate.
func (c *Config) GenesisBalances() map[domain.Principal]uint64 {
	out := make(map[domain.Principal]uint64, len(c.Ledger.Genesis))
	for k, v := range c.Ledger.Genesis {
		if p, ok := domain.ParsePrincipal(k); ok {
			out[p] += v
		}
	}
	return out
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string
	mode := strings.ToLower(c.Mode)

	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: node, memory, archive)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Ledger
	if _, ok := domain.ParsePrincipal(c.Ledger.Deployer); !ok {
		errs = append(errs, fmt.Sprintf("ledger: invalid deployer %q", c.Ledger.Deployer))
	}
	if c.Ledger.Admin != "" {
		if _, ok := domain.ParsePrincipal(c.Ledger.Admin); !ok {
			errs = append(errs, fmt.Sprintf("ledger: invalid admin %q", c.Ledger.Admin))
		}
	}
	if c.Ledger.BlockInterval.Duration <= 0 {
		errs = append(errs, "ledger: block_interval must be > 0")
	}
	if c.Ledger.ReplayPage < 1 {
		errs = append(errs, "ledger: replay_page must be >= 1")
	}
	if mode == "node" && c.Ledger.WriterLeaseTTL.Duration < time.Second {
		errs = append(errs, "ledger: writer_lease_ttl must be >= 1s")
	}
	var supply uint64
	for k, v := range c.Ledger.Genesis {
		if _, ok := domain.ParsePrincipal(k); !ok {
			errs = append(errs, fmt.Sprintf("ledger: invalid genesis account %q", k))
		}
		if v == 0 {
			errs = append(errs, fmt.Sprintf("ledger: genesis balance of %q must be > 0", k))
		}
		if supply+v < supply {
			errs = append(errs, "ledger: genesis balances overflow the supply")
		}
		supply += v
	}

	// Database and Redis back the node and archive modes.
	if mode == "node" || mode == "archive" {
		if strings.TrimSpace(c.Database.DSN) == "" {
			if c.Database.Host == "" {
				errs = append(errs, "database: host must not be empty (or set database.dsn)")
			}
			if c.Database.Port <= 0 || c.Database.Port > 65535 {
				errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
			}
			if c.Database.Database == "" {
				errs = append(errs, "database: database must not be empty")
			}
		}
		if c.Database.PoolMaxConns < 1 {
			errs = append(errs, "database: pool_max_conns must be >= 1")
		}
		if c.Database.PoolMinConns < 0 {
			errs = append(errs, "database: pool_min_conns must be >= 0")
		}
		if c.Database.PoolMinConns > c.Database.PoolMaxConns {
			errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
		}
	}
	if mode == "node" {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled || mode == "archive" {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
		if c.S3.UploadConcurrency < 1 {
			errs = append(errs, fmt.Sprintf("s3: upload_concurrency must be >= 1, got %d", c.S3.UploadConcurrency))
		}
	}

	// Server
	if c.Server.Enabled && mode != "archive" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.ChainID <= 0 {
			errs = append(errs, fmt.Sprintf("server: chain_id must be positive, got %d", c.Server.ChainID))
		}
		if c.Server.RateLimit < 0 || c.Server.TxRateLimit < 0 {
			errs = append(errs, "server: rate_limit and tx_rate_limit must be >= 0")
		}
		if (c.Server.RateLimit > 0 || c.Server.TxRateLimit > 0) && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when a rate limit is set")
		}
		if c.Server.RequireSignatures && c.Server.SignatureMaxSkew.Duration <= 0 {
			errs = append(errs, "server: signature_max_skew must be > 0")
		}
	}

	// Signer
	if c.Signer.EncryptedKeyPath != "" && c.Signer.KeyPassword == "" {
		errs = append(errs, "signer: key_password is required when encrypted_key_path is set")
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
