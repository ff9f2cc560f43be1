// Package config defines the top-level configuration for the MatEx auction
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"

	"github.com/mohammednour-ai/MatEx-sub001/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by MATEX_* environment variables.
type Config struct {
	Postgres      PostgresConfig `toml:"postgres"`
	Redis         RedisConfig    `toml:"redis"`
	S3            S3Config       `toml:"s3"`
	Payments      PaymentsConfig `toml:"payments"`
	Auth          AuthConfig     `toml:"auth"`
	Auction       AuctionConfig  `toml:"auction"`
	Sweep         SweepConfig    `toml:"sweep"`
	Archive       ArchiveConfig  `toml:"archive"`
	Server        ServerConfig   `toml:"server"`
	Notify        NotifyConfig   `toml:"notify"`
	Mode          string         `toml:"mode"`
	LogLevel      string         `toml:"log_level"`
	StorageDriver string         `toml:"storage_driver"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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
	// LockTimeout bounds the wait for an auction row lock.
	LockTimeout duration `toml:"lock_timeout"`
}

// RedisConfig holds Redis connection parameters. An empty Addr runs
// without Redis: locks, rate limits and the bus stay in process.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters. An empty Bucket
// keeps receipts and archives in memory.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// PaymentsConfig selects the payment processor. Driver "sandbox" uses the
// in-process gateway.
type PaymentsConfig struct {
	Driver        string   `toml:"driver"`
	BaseURL       string   `toml:"base_url"`
	SecretKey     string   `toml:"secret_key"`
	WebhookSecret string   `toml:"webhook_secret"`
	Currency      string   `toml:"currency"`
	Timeout       duration `toml:"timeout"`
}

// AuthConfig holds bidder token verification and the operator key.
type AuthConfig struct {
	JWTSecret   string `toml:"jwt_secret"`
	JWTIssuer   string `toml:"jwt_issuer"`
	JWTAudience string `toml:"jwt_audience"`
	AdminAPIKey string `toml:"admin_api_key"`
}

// AuctionConfig holds process-level auction parameters. Settings stored in
// the database take precedence over the defaults here.
type AuctionConfig struct {
	MinIncrementFloor  string   `toml:"min_increment_floor"`
	SettingsCacheTTL   duration `toml:"settings_cache_ttl"`
	SnapshotCacheTTL   duration `toml:"snapshot_cache_ttl"`
	SubmissionTTL      duration `toml:"submission_ttl"`
	BidRateLimit       int      `toml:"bid_rate_limit"`
	BidRateWindow      duration `toml:"bid_rate_window"`
	DepositRequired    *bool    `toml:"deposit_required"`
	DepositPercent     string   `toml:"deposit_percent"`
	DepositFlatAmount  string   `toml:"deposit_flat_amount"`
	SoftCloseSeconds   int      `toml:"soft_close_seconds"`
	TransactionFeePerc string   `toml:"transaction_fee_percent"`
}

// SweepConfig holds the settlement sweep parameters.
type SweepConfig struct {
	Schedule    string   `toml:"schedule"`
	BatchSize   int      `toml:"batch_size"`
	Concurrency int      `toml:"concurrency"`
	Lease       duration `toml:"lease"`
}

// ArchiveConfig holds the archive job parameters. An empty Schedule
// disables archiving.
type ArchiveConfig struct {
	Schedule           string `toml:"schedule"`
	RetentionDays      int    `toml:"retention_days"`
	AuditRetentionDays int    `toml:"audit_retention_days"`
	BatchSize          int    `toml:"batch_size"`
}

// duration wraps time.Duration so it can be decoded from a TOML string such
// as "15s" or "5m".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for TOML encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP API server settings.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds notification channel settings.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Run modes.
const (
	ModeAPI     = "api"
	ModeSweeper = "sweeper"
	ModeFull    = "full"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Defaults returns a Config populated with sensible defaults for local
// development.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
			LockTimeout:   duration{5 * time.Second},
		},
		Redis: RedisConfig{
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "matex:",
		},
		S3: S3Config{
			Region:         "us-east-1",
			ForcePathStyle: true,
		},
		Payments: PaymentsConfig{
			Driver:   "sandbox",
			BaseURL:  "https://api.stripe.com",
			Currency: "cad",
			Timeout:  duration{30 * time.Second},
		},
		Auth: AuthConfig{
			JWTAudience: "authenticated",
		},
		Auction: AuctionConfig{
			MinIncrementFloor: "5",
			SettingsCacheTTL:  duration{30 * time.Second},
			SnapshotCacheTTL:  duration{5 * time.Second},
			SubmissionTTL:     duration{10 * time.Minute},
			BidRateLimit:      30,
			BidRateWindow:     duration{time.Minute},
		},
		Sweep: SweepConfig{
			Schedule:    "@every 15s",
			BatchSize:   50,
			Concurrency: 4,
			Lease:       duration{2 * time.Minute},
		},
		Archive: ArchiveConfig{
			Schedule:           "0 3 * * *",
			RetentionDays:      90,
			AuditRetentionDays: 30,
			BatchSize:          100,
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Mode:          ModeFull,
		LogLevel:      "info",
		StorageDriver: DriverMemory,
	}
}

var validModes = map[string]bool{
	ModeAPI:     true,
	ModeSweeper: true,
	ModeFull:    true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the configuration for required fields and internal
// consistency. All problems are reported together.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: api, sweeper, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	switch c.StorageDriver {
	case DriverMemory:
	case DriverPostgres:
		if c.Postgres.DSN == "" && c.Postgres.Host == "" {
			errs = append(errs, "postgres: dsn or host is required for storage_driver postgres")
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be at least 1")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown storage_driver %q (valid: memory, postgres)", c.StorageDriver))
	}

	if c.S3.Bucket != "" && c.S3.Region == "" {
		errs = append(errs, "s3: region is required when bucket is set")
	}

	switch c.Payments.Driver {
	case "sandbox":
	case "stripe":
		if c.Payments.SecretKey == "" {
			errs = append(errs, "payments: secret_key is required for driver stripe")
		}
		if c.Payments.BaseURL == "" {
			errs = append(errs, "payments: base_url is required for driver stripe")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown payments.driver %q (valid: sandbox, stripe)", c.Payments.Driver))
	}

	if c.ServesAPI() {
		if c.Auth.JWTSecret == "" {
			errs = append(errs, "auth: jwt_secret is required for mode "+c.Mode)
		}
		if c.Server.Port < 1 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port %d is out of range", c.Server.Port))
		}
	}

	if c.RunsSweeper() {
		if _, err := cron.ParseStandard(c.Sweep.Schedule); err != nil {
			errs = append(errs, fmt.Sprintf("sweep: invalid schedule %q: %v", c.Sweep.Schedule, err))
		}
		if c.Sweep.BatchSize < 1 {
			errs = append(errs, "sweep: batch_size must be at least 1")
		}
		if c.Sweep.Concurrency < 1 {
			errs = append(errs, "sweep: concurrency must be at least 1")
		}
		if c.Sweep.Lease.Duration <= 0 {
			errs = append(errs, "sweep: lease must be positive")
		}
		if c.Archive.Schedule != "" {
			if _, err := cron.ParseStandard(c.Archive.Schedule); err != nil {
				errs = append(errs, fmt.Sprintf("archive: invalid schedule %q: %v", c.Archive.Schedule, err))
			}
			if c.Archive.RetentionDays < 1 {
				errs = append(errs, "archive: retention_days must be at least 1")
			}
		}
	}

	if _, err := c.AuctionDefaults(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ServesAPI reports whether the mode runs the HTTP server.
func (c *Config) ServesAPI() bool {
	return c.Mode == ModeAPI || c.Mode == ModeFull
}

// RunsSweeper reports whether the mode runs the settlement scheduler.
func (c *Config) RunsSweeper() bool {
	return c.Mode == ModeSweeper || c.Mode == ModeFull
}

// AuctionDefaults returns domain.DefaultSettings with the [auction] section
// applied. These apply to keys absent from the settings table.
func (c *Config) AuctionDefaults() (domain.Settings, error) {
	s := domain.DefaultSettings()
	a := c.Auction

	for _, f := range []struct {
		key string
		raw string
		dst *decimal.Decimal
	}{
		{"auction: min_increment_floor", a.MinIncrementFloor, &s.MinIncrementFloor},
		{"auction: deposit_percent", a.DepositPercent, &s.DepositPercent},
		{"auction: deposit_flat_amount", a.DepositFlatAmount, &s.DepositFlatAmount},
		{"auction: transaction_fee_percent", a.TransactionFeePerc, &s.FeePercent},
	} {
		if f.raw == "" {
			continue
		}
		d, err := decimal.NewFromString(f.raw)
		if err != nil || d.IsNegative() {
			return domain.Settings{}, fmt.Errorf("%s: %q is not a non-negative amount", f.key, f.raw)
		}
		*f.dst = d
	}
	if a.DepositRequired != nil {
		s.DepositRequired = *a.DepositRequired
	}
	if a.SoftCloseSeconds < 0 {
		return domain.Settings{}, fmt.Errorf("auction: soft_close_seconds must not be negative")
	}
	if a.SoftCloseSeconds > 0 {
		s.SoftCloseSeconds = a.SoftCloseSeconds
	}
	if err := s.Validate(); err != nil {
		return domain.Settings{}, fmt.Errorf("auction: %w", err)
	}
	return s, nil
}
