package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mohammednour-ai/MatEx-sub001/internal/domain"
	"golang.org/x/sync/errgroup"
)

// SweepReport counts what one sweep cycle did.
type SweepReport struct {
	Due       int           `json:"due"`
	Settled   int           `json:"settled"`
	NoSale    int           `json:"no_sale"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	FailedIDs []string      `json:"failed_ids,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Settler is the single-auction operation a sweep drives.
type Settler interface {
	Settle(ctx context.Context, auctionID string, now time.Time) (Result, error)
}

// Sweeper finds ended, unprocessed auctions and settles them with bounded
// concurrency. It is stateless and safe to run on many instances at once.
type Sweeper struct {
	auctions    domain.AuctionStore
	settler     Settler
	batchSize   int
	concurrency int
	logger      *slog.Logger
}

// NewSweeper creates a Sweeper that settles up to batchSize auctions per
// cycle, concurrency at a time.
func NewSweeper(auctions domain.AuctionStore, settler Settler, batchSize, concurrency int, logger *slog.Logger) *Sweeper {
	if batchSize <= 0 {
		batchSize = 100
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Sweeper{
		auctions:    auctions,
		settler:     settler,
		batchSize:   batchSize,
		concurrency: concurrency,
		logger:      logger.With(slog.String("component", "sweeper")),
	}
}

// RunOnce runs one sweep cycle. Per-auction failures are counted and left
// for the next cycle; only failing to list due auctions is returned.
func (s *Sweeper) RunOnce(ctx context.Context, now time.Time) (SweepReport, error) {
	start := time.Now()
	due, err := s.auctions.ListDue(ctx, now, s.batchSize)
	if err != nil {
		return SweepReport{}, fmt.Errorf("sweeper: list due: %w", err)
	}

	report := SweepReport{Due: len(due)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, a := range due {
		g.Go(func() error {
			res, err := s.settler.Settle(gctx, a.ID, now)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && res.Outcome == OutcomeNoSale:
				report.NoSale++
			case err == nil:
				report.Settled++
			case domain.IsConflict(err) || errors.Is(err, domain.ErrAuctionNotEnded):
				report.Skipped++
			default:
				report.Failed++
				report.FailedIDs = append(report.FailedIDs, a.ID)
				s.logger.WarnContext(gctx, "settlement will be retried next sweep",
					slog.String("auction_id", a.ID),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = time.Since(start)
	if report.Due > 0 {
		s.logger.InfoContext(ctx, "sweep complete",
			slog.Int("due", report.Due),
			slog.Int("settled", report.Settled),
			slog.Int("no_sale", report.NoSale),
			slog.Int("skipped", report.Skipped),
			slog.Int("failed", report.Failed),
			slog.Duration("duration", report.Duration),
		)
	}
	return report, nil
}
