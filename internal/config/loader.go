package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies POLYSTAKES_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides reads well-known POLYSTAKES_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) error {
	// ── Ledger ──
	setStr(&cfg.Ledger.Deployer, "POLYSTAKES_LEDGER_DEPLOYER")
	setStr(&cfg.Ledger.Admin, "POLYSTAKES_LEDGER_ADMIN")
	setDuration(&cfg.Ledger.BlockInterval, "POLYSTAKES_LEDGER_BLOCK_INTERVAL")
	setUint64(&cfg.Ledger.SnapshotEvery, "POLYSTAKES_LEDGER_SNAPSHOT_EVERY")
	setInt(&cfg.Ledger.ReplayPage, "POLYSTAKES_LEDGER_REPLAY_PAGE")
	setDuration(&cfg.Ledger.WriterLeaseTTL, "POLYSTAKES_LEDGER_WRITER_LEASE_TTL")
	if err := setBalances(&cfg.Ledger.Genesis, "POLYSTAKES_LEDGER_GENESIS"); err != nil {
		return err
	}

	// ── Database ──
	setStr(&cfg.Database.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Database.DSN, "POLYSTAKES_DATABASE_DSN")
	setStr(&cfg.Database.Host, "POLYSTAKES_DATABASE_HOST")
	setInt(&cfg.Database.Port, "POLYSTAKES_DATABASE_PORT")
	setStr(&cfg.Database.Database, "POLYSTAKES_DATABASE_DATABASE")
	setStr(&cfg.Database.User, "POLYSTAKES_DATABASE_USER")
	setStr(&cfg.Database.Password, "POLYSTAKES_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "POLYSTAKES_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "POLYSTAKES_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "POLYSTAKES_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "POLYSTAKES_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "POLYSTAKES_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYSTAKES_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYSTAKES_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POLYSTAKES_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POLYSTAKES_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POLYSTAKES_REDIS_TLS_ENABLED")
	setInt64(&cfg.Redis.StreamMaxLen, "POLYSTAKES_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "POLYSTAKES_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "POLYSTAKES_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POLYSTAKES_S3_REGION")
	setStr(&cfg.S3.Bucket, "POLYSTAKES_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "POLYSTAKES_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "POLYSTAKES_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POLYSTAKES_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "POLYSTAKES_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "POLYSTAKES_S3_FORCE_PATH_STYLE")
	setInt64(&cfg.S3.PartSizeMB, "POLYSTAKES_S3_PART_SIZE_MB")
	setInt(&cfg.S3.UploadConcurrency, "POLYSTAKES_S3_UPLOAD_CONCURRENCY")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "POLYSTAKES_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "POLYSTAKES_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "POLYSTAKES_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "POLYSTAKES_SERVER_API_KEY")
	setBool(&cfg.Server.RequireSignatures, "POLYSTAKES_SERVER_REQUIRE_SIGNATURES")
	setInt64(&cfg.Server.ChainID, "POLYSTAKES_SERVER_CHAIN_ID")
	setDuration(&cfg.Server.SignatureMaxSkew, "POLYSTAKES_SERVER_SIGNATURE_MAX_SKEW")
	setInt(&cfg.Server.RateLimit, "POLYSTAKES_SERVER_RATE_LIMIT")
	setInt(&cfg.Server.TxRateLimit, "POLYSTAKES_SERVER_TX_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "POLYSTAKES_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "POLYSTAKES_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POLYSTAKES_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POLYSTAKES_NOTIFY_DISCORD_WEBHOOK_URL")
	setStr(&cfg.Notify.WebhookURL, "POLYSTAKES_NOTIFY_WEBHOOK_URL")
	setStr(&cfg.Notify.WebhookSecret, "POLYSTAKES_NOTIFY_WEBHOOK_SECRET")
	setStringSlice(&cfg.Notify.Events, "POLYSTAKES_NOTIFY_EVENTS")

	// ── Signer ──
	setStr(&cfg.Signer.PrivateKey, "POLYSTAKES_SIGNER_PRIVATE_KEY")
	setStr(&cfg.Signer.EncryptedKeyPath, "POLYSTAKES_SIGNER_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Signer.KeyPassword, "POLYSTAKES_SIGNER_KEY_PASSWORD")

	// ── Top-level ──
	setStr(&cfg.Mode, "POLYSTAKES_MODE")
	setStr(&cfg.LogLevel, "POLYSTAKES_LOG_LEVEL")
	return nil
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

// setBalances parses "account=amount" pairs separated by commas. A malformed
// value is an error rather than silently ignored since it moves funds.
func setBalances(dst *map[string]uint64, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	out := make(map[string]uint64)
	for _, pair := range strings.Split(v, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		account, amount, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("config: %s: expected account=amount, got %q", key, pair)
		}
		n, err := strconv.ParseUint(strings.TrimSpace(amount), 10, 64)
		if err != nil {
			return fmt.Errorf("config: %s: amount for %q: %w", key, account, err)
		}
		out[strings.TrimSpace(account)] = n
	}
	*dst = out
	return nil
}
