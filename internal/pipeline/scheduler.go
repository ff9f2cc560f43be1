// Package pipeline schedules the background jobs of an instance: the
// settlement sweep and the cold-storage archive.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/mohammednour-ai/MatEx-sub001/internal/settlement"
)

// SweepRunner runs one settlement sweep cycle.
type SweepRunner interface {
	RunOnce(ctx context.Context, now time.Time) (settlement.SweepReport, error)
}

// Scheduler runs the sweep and archive jobs on cron schedules. A sweep can
// also be requested out of band through Trigger; overlapping sweeps on one
// instance are skipped.
type Scheduler struct {
	sweeper     SweepRunner
	sweepSpec   string
	archive     *ArchiveJob
	archiveSpec string
	trigger     chan struct{}
	sweepMu     sync.Mutex
	now         func() time.Time
	logger      *slog.Logger
}

// NewScheduler creates a Scheduler running sweeper on sweepSpec, a cron
// expression or descriptor such as "@every 15s".
func NewScheduler(sweeper SweepRunner, sweepSpec string, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		sweeper:   sweeper,
		sweepSpec: sweepSpec,
		trigger:   make(chan struct{}, 1),
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger.With(slog.String("component", "scheduler")),
	}
}

// WithArchive adds the archive job on its own schedule.
func (s *Scheduler) WithArchive(job *ArchiveJob, spec string) *Scheduler {
	s.archive = job
	s.archiveSpec = spec
	return s
}

// WithClock overrides the time passed to each sweep.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Trigger returns the channel the admin API sends on to request an
// immediate sweep.
func (s *Scheduler) Trigger() chan<- struct{} {
	return s.trigger
}

// Run registers the jobs, starts the cron runner and blocks until ctx is
// cancelled. Running jobs are allowed to finish before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	clog := cronLogger{s.logger}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)

	if _, err := c.AddFunc(s.sweepSpec, func() { s.sweep(ctx, "cron") }); err != nil {
		return fmt.Errorf("pipeline: sweep schedule %q: %w", s.sweepSpec, err)
	}
	if s.archive != nil {
		if _, err := c.AddFunc(s.archiveSpec, func() { s.runArchive(ctx) }); err != nil {
			return fmt.Errorf("pipeline: archive schedule %q: %w", s.archiveSpec, err)
		}
	}

	s.logger.InfoContext(ctx, "scheduler starting",
		slog.String("sweep", s.sweepSpec),
		slog.String("archive", s.archiveSpec),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c.Start()
		<-gctx.Done()
		<-c.Stop().Done()
		return nil
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-s.trigger:
				s.sweep(gctx, "trigger")
			}
		}
	})
	err := g.Wait()

	s.logger.Info("scheduler stopped")
	return err
}

// sweep runs one cycle unless another is already running here.
func (s *Scheduler) sweep(ctx context.Context, source string) {
	if !s.sweepMu.TryLock() {
		s.logger.DebugContext(ctx, "sweep already running", slog.String("source", source))
		return
	}
	defer s.sweepMu.Unlock()

	if ctx.Err() != nil {
		return
	}
	report, err := s.sweeper.RunOnce(ctx, s.now())
	if err != nil {
		s.logger.ErrorContext(ctx, "sweep failed",
			slog.String("source", source),
			slog.String("error", err.Error()),
		)
		return
	}
	if report.Failed > 0 {
		s.logger.WarnContext(ctx, "sweep left auctions for retry",
			slog.Int("failed", report.Failed),
			slog.Any("auction_ids", report.FailedIDs),
		)
	}
}

func (s *Scheduler) runArchive(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := s.archive.Run(ctx); err != nil {
		s.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, slog.String("error", err.Error()))...)
}
