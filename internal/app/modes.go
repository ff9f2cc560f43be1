package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mohammednour-ai/MatEx-sub001/internal/auction"
	"github.com/mohammednour-ai/MatEx-sub001/internal/crypto"
	"github.com/mohammednour-ai/MatEx-sub001/internal/deposit"
	"github.com/mohammednour-ai/MatEx-sub001/internal/domain"
	"github.com/mohammednour-ai/MatEx-sub001/internal/events"
	"github.com/mohammednour-ai/MatEx-sub001/internal/pipeline"
	"github.com/mohammednour-ai/MatEx-sub001/internal/server"
	"github.com/mohammednour-ai/MatEx-sub001/internal/server/handler"
	"github.com/mohammednour-ai/MatEx-sub001/internal/server/middleware"
	"github.com/mohammednour-ai/MatEx-sub001/internal/server/ws"
	"github.com/mohammednour-ai/MatEx-sub001/internal/settings"
	"github.com/mohammednour-ai/MatEx-sub001/internal/settlement"
)

// shutdownTimeout bounds how long in-flight requests may finish.
const shutdownTimeout = 10 * time.Second

// services are the domain services shared by every mode.
type services struct {
	settings  *settings.Service
	publisher *events.Publisher
	gate      *deposit.Gatekeeper
	validator *auction.Validator
	reader    *auction.Reader
	orch      *settlement.Orchestrator
}

// buildServices assembles the core from the wired infrastructure.
func (a *App) buildServices(deps *Dependencies) (*services, error) {
	defaults, err := a.cfg.AuctionDefaults()
	if err != nil {
		return nil, err
	}
	stores := deps.Stores

	settingsSvc := settings.NewService(stores.Settings, defaults, a.cfg.Auction.SettingsCacheTTL.Duration, a.logger).
		WithBus(deps.SignalBus)

	publisher := events.NewPublisher(a.logger).
		WithBus(deps.SignalBus).
		WithAudit(stores.Audit)
	if deps.Notifier.Enabled() {
		publisher.WithNotifier(deps.Notifier)
	}

	gate := deposit.NewGatekeeper(stores.Auctions, stores.Listings, stores.Deposits, deps.Gateway, settingsSvc, publisher, a.logger)

	var guard domain.SubmissionGuard = auction.NewDedup(a.cfg.Auction.SubmissionTTL.Duration)
	if deps.Guard != nil {
		guard = deps.Guard
	}
	validator := auction.NewValidator(stores.Ledger, stores.Listings, stores.Deposits, settingsSvc, publisher, a.logger).
		WithSubmissionGuard(guard)
	if deps.Cache != nil {
		validator.WithAuctionCache(deps.Cache)
	}

	orch := settlement.NewOrchestrator(stores, settingsSvc, gate, publisher, a.cfg.Sweep.Lease.Duration, a.logger).
		WithReceipts(deps.Receipts)
	if deps.LockManager != nil {
		orch.WithLockManager(deps.LockManager)
	}

	return &services{
		settings:  settingsSvc,
		publisher: publisher,
		gate:      gate,
		validator: validator,
		reader:    auction.NewReader(stores.Auctions, stores.Bids, settingsSvc, deps.Cache, a.logger),
		orch:      orch,
	}, nil
}

// APIMode serves the HTTP API and the realtime feed.
func (a *App) APIMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting api mode")
	svc, err := a.buildServices(deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.settings.Watch(ctx) })
	a.startHTTPServer(ctx, g, deps, svc, nil)
	return g.Wait()
}

// SweeperMode runs the settlement sweep and archive schedule without
// serving HTTP.
func (a *App) SweeperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sweeper mode")
	svc, err := a.buildServices(deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.settings.Watch(ctx) })
	sched := a.newScheduler(deps, svc)
	g.Go(func() error { return sched.Run(ctx) })
	return g.Wait()
}

// FullMode runs the API and the scheduler in one process. The admin sweep
// trigger is connected to the local scheduler.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	svc, err := a.buildServices(deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.settings.Watch(ctx) })
	sched := a.newScheduler(deps, svc)
	g.Go(func() error { return sched.Run(ctx) })
	a.startHTTPServer(ctx, g, deps, svc, sched.Trigger())
	return g.Wait()
}

func (a *App) newScheduler(deps *Dependencies, svc *services) *pipeline.Scheduler {
	sweeper := settlement.NewSweeper(deps.Stores.Auctions, svc.orch, a.cfg.Sweep.BatchSize, a.cfg.Sweep.Concurrency, a.logger)
	sched := pipeline.NewScheduler(sweeper, a.cfg.Sweep.Schedule, a.logger)
	if a.cfg.Archive.Schedule != "" && deps.Archiver != nil {
		job := pipeline.NewArchiveJob(deps.Archiver, a.cfg.Archive.RetentionDays, a.cfg.Archive.AuditRetentionDays, a.logger)
		sched.WithArchive(job, a.cfg.Archive.Schedule)
	}
	return sched
}

// startHTTPServer builds the handlers, registers the server and hub with g
// and shuts the server down when ctx is cancelled. triggerCh may be nil.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	svc *services,
	triggerCh chan<- struct{},
) {
	health := handler.NewHealthHandler(a.cfg.Mode, a.logger)
	for name, p := range deps.Checks {
		health.WithCheck(name, p)
	}

	var webhooks *handler.WebhookHandler
	if a.cfg.Payments.WebhookSecret != "" {
		verifier := crypto.NewWebhookVerifier(a.cfg.Payments.WebhookSecret, crypto.DefaultTolerance)
		webhooks = handler.NewWebhookHandler(verifier, svc.gate, a.logger)
	} else {
		a.logger.WarnContext(ctx, "payments.webhook_secret is empty; webhook endpoint disabled")
	}

	handlers := server.Handlers{
		Health:     health,
		Auctions:   handler.NewAuctionHandler(svc.reader, svc.validator, a.logger),
		Catalog:    handler.NewCatalogHandler(deps.Stores.Listings, deps.Stores.Auctions, a.logger),
		Deposits:   handler.NewDepositHandler(svc.gate, a.logger),
		Orders:     handler.NewOrderHandler(deps.Stores.Orders, a.logger),
		Settings:   handler.NewSettingsHandler(svc.settings, a.logger),
		Settlement: handler.NewSettlementHandler(svc.orch, deps.Receipts, a.logger).WithTriggerChannel(triggerCh),
		Webhooks:   webhooks,
	}

	hub := ws.NewHub(deps.SignalBus, a.cfg.Server.CORSOrigins, a.logger)
	g.Go(func() error { return hub.Run(ctx) })

	srv := server.NewServer(server.Config{
		Port:          a.cfg.Server.Port,
		CORSOrigins:   a.cfg.Server.CORSOrigins,
		AdminAPIKey:   a.cfg.Auth.AdminAPIKey,
		BidRateLimit:  a.cfg.Auction.BidRateLimit,
		BidRateWindow: a.cfg.Auction.BidRateWindow.Duration,
	}, handlers, server.Deps{
		Tokens:  middleware.NewTokenVerifier(a.cfg.Auth.JWTSecret, a.cfg.Auth.JWTIssuer, a.cfg.Auth.JWTAudience),
		Limiter: deps.RateLimiter,
	}, hub, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		a.logger.Info("http server stopped", slog.String("mode", a.cfg.Mode))
		return nil
	})
}
