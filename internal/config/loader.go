package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies MATEX_* environment variable overrides, and
// returns the final Config. A missing file is not an error when path is
// empty. The returned Config has NOT been validated; the caller should
// invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known MATEX_* environment variables and
// overwrites the corresponding Config fields when a variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "MATEX_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // platform alias
	setStr(&cfg.Postgres.Host, "MATEX_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "MATEX_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "MATEX_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "MATEX_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "MATEX_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "MATEX_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "MATEX_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "MATEX_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "MATEX_POSTGRES_RUN_MIGRATIONS")
	setDuration(&cfg.Postgres.LockTimeout, "MATEX_POSTGRES_LOCK_TIMEOUT")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "MATEX_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MATEX_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MATEX_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "MATEX_REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "MATEX_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "MATEX_REDIS_KEY_PREFIX")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "MATEX_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "MATEX_S3_REGION")
	setStr(&cfg.S3.Bucket, "MATEX_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "MATEX_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "MATEX_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "MATEX_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "MATEX_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "MATEX_S3_FORCE_PATH_STYLE")

	// ── Payments ──
	setStr(&cfg.Payments.Driver, "MATEX_PAYMENTS_DRIVER")
	setStr(&cfg.Payments.BaseURL, "MATEX_PAYMENTS_BASE_URL")
	setStr(&cfg.Payments.SecretKey, "MATEX_PAYMENTS_SECRET_KEY")
	setStr(&cfg.Payments.WebhookSecret, "MATEX_PAYMENTS_WEBHOOK_SECRET")
	setStr(&cfg.Payments.Currency, "MATEX_PAYMENTS_CURRENCY")
	setDuration(&cfg.Payments.Timeout, "MATEX_PAYMENTS_TIMEOUT")

	// ── Auth ──
	setStr(&cfg.Auth.JWTSecret, "MATEX_AUTH_JWT_SECRET")
	setStr(&cfg.Auth.JWTIssuer, "MATEX_AUTH_JWT_ISSUER")
	setStr(&cfg.Auth.JWTAudience, "MATEX_AUTH_JWT_AUDIENCE")
	setStr(&cfg.Auth.AdminAPIKey, "MATEX_AUTH_ADMIN_API_KEY")

	// ── Auction ──
	setStr(&cfg.Auction.MinIncrementFloor, "MATEX_AUCTION_MIN_INCREMENT_FLOOR")
	setDuration(&cfg.Auction.SettingsCacheTTL, "MATEX_AUCTION_SETTINGS_CACHE_TTL")
	setDuration(&cfg.Auction.SnapshotCacheTTL, "MATEX_AUCTION_SNAPSHOT_CACHE_TTL")
	setInt(&cfg.Auction.BidRateLimit, "MATEX_AUCTION_BID_RATE_LIMIT")
	setDuration(&cfg.Auction.BidRateWindow, "MATEX_AUCTION_BID_RATE_WINDOW")

	// ── Sweep ──
	setStr(&cfg.Sweep.Schedule, "MATEX_SWEEP_SCHEDULE")
	setInt(&cfg.Sweep.BatchSize, "MATEX_SWEEP_BATCH_SIZE")
	setInt(&cfg.Sweep.Concurrency, "MATEX_SWEEP_CONCURRENCY")
	setDuration(&cfg.Sweep.Lease, "MATEX_SWEEP_LEASE")

	// ── Archive ──
	setStr(&cfg.Archive.Schedule, "MATEX_ARCHIVE_SCHEDULE")
	setInt(&cfg.Archive.RetentionDays, "MATEX_ARCHIVE_RETENTION_DAYS")
	setInt(&cfg.Archive.AuditRetentionDays, "MATEX_ARCHIVE_AUDIT_RETENTION_DAYS")

	// ── Server ──
	setInt(&cfg.Server.Port, "MATEX_SERVER_PORT")
	setInt(&cfg.Server.Port, "PORT") // platform alias
	setStringSlice(&cfg.Server.CORSOrigins, "MATEX_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "MATEX_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "MATEX_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "MATEX_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "MATEX_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "MATEX_MODE")
	setStr(&cfg.LogLevel, "MATEX_LOG_LEVEL")
	setStr(&cfg.StorageDriver, "MATEX_STORAGE_DRIVER")
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
