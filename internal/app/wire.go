package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/mohammednour-ai/MatEx-sub001/internal/blob/s3"
	"github.com/mohammednour-ai/MatEx-sub001/internal/cache/redis"
	"github.com/mohammednour-ai/MatEx-sub001/internal/config"
	"github.com/mohammednour-ai/MatEx-sub001/internal/domain"
	"github.com/mohammednour-ai/MatEx-sub001/internal/notify"
	"github.com/mohammednour-ai/MatEx-sub001/internal/platform/payments"
	"github.com/mohammednour-ai/MatEx-sub001/internal/server/handler"
	"github.com/mohammednour-ai/MatEx-sub001/internal/store/memory"
	"github.com/mohammednour-ai/MatEx-sub001/internal/store/postgres"
)

// Dependencies bundles every infrastructure dependency the application
// modes need. It is constructed by Wire and torn down by the returned
// cleanup function. Optional collaborators are nil when not configured.
type Dependencies struct {
	Stores   domain.Stores
	Receipts domain.ReceiptStore
	Archiver domain.Archiver

	// Redis-backed; nil without Redis except SignalBus.
	SignalBus   domain.SignalBus
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter
	Cache       domain.AuctionCache
	Guard       domain.SubmissionGuard

	Gateway  domain.PaymentGateway
	Notifier *notify.Notifier

	// Checks feed the health endpoint.
	Checks map[string]handler.Pinger
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
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Checks: make(map[string]handler.Pinger)}

	// --- Primary store ---
	switch cfg.StorageDriver {
	case config.DriverPostgres:
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,

			LockTimeout: cfg.Postgres.LockTimeout.Duration,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		deps.Stores = pgClient.Stores()
		deps.Checks["postgres"] = pgClient.Ping
	default:
		st := memory.New()
		deps.Stores = st.Stores()
		deps.Receipts = st.Receipts()
		logger.WarnContext(ctx, "wire: using in-memory storage; data is lost on restart")
	}

	// --- Redis ---
	if cfg.Redis.Addr != "" {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Cache = redis.NewAuctionCache(redisClient, cfg.Auction.SnapshotCacheTTL.Duration)
		deps.Guard = redis.NewSubmissionGuard(redisClient, cfg.Auction.SubmissionTTL.Duration)
		deps.Checks["redis"] = redisClient.Ping
	} else {
		deps.SignalBus = memory.NewBus()
	}

	// --- Object storage ---
	var blobW domain.BlobWriter
	var blobR domain.BlobReader
	if cfg.S3.Bucket != "" {
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
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		blobW, blobR = s3blob.NewWriter(s3Client), s3blob.NewReader(s3Client)
		deps.Receipts = s3blob.NewReceiptStore(blobW, blobR)
		deps.Checks["s3"] = s3Client.Health
	} else {
		blobs := memory.NewBlobs()
		blobW, blobR = blobs, blobs
		if deps.Receipts == nil {
			deps.Receipts = s3blob.NewReceiptStore(blobW, blobR)
		}
	}
	deps.Archiver = s3blob.NewArchiver(blobW, deps.Stores, logger).
		WithBatchSize(cfg.Archive.BatchSize)

	// --- Payments ---
	switch cfg.Payments.Driver {
	case "stripe":
		deps.Gateway = payments.NewClient(cfg.Payments.BaseURL, cfg.Payments.SecretKey, cfg.Payments.Timeout.Duration)
	default:
		deps.Gateway = payments.NewSandbox()
		logger.WarnContext(ctx, "wire: using sandbox payment gateway")
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
	events := cfg.Notify.Events
	if len(events) == 0 {
		events = notify.DefaultEvents
	}
	deps.Notifier = notify.NewNotifier(senders, events, logger)

	return deps, cleanup, nil
}
