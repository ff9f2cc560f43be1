package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mohammednour-ai/MatEx-sub001/internal/domain"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

type scriptedSettler struct {
	mu    sync.Mutex
	errs  map[string]error
	calls map[string]int
}

func (s *scriptedSettler) Settle(_ context.Context, auctionID string, _ time.Time) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[auctionID]++
	if err := s.errs[auctionID]; err != nil {
		return Result{AuctionID: auctionID}, err
	}
	if auctionID == "empty" {
		return Result{AuctionID: auctionID, Outcome: OutcomeNoSale}, nil
	}
	return Result{AuctionID: auctionID, Outcome: OutcomeSettled}, nil
}

func TestSweeperRunOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	for _, id := range []string{"ok1", "ok2", "empty", "busy", "broken"} {
		assert.NoError(t, f.store.Auctions().Create(ctx, domain.Auction{ID: id, ListingID: "L1", StartAt: start, EndAt: end.Add(-time.Hour)}))
	}
	assert.NoError(t, f.store.Auctions().Create(ctx, domain.Auction{ID: "future", ListingID: "L1", StartAt: start, EndAt: after.Add(time.Hour)}))

	settler := &scriptedSettler{errs: map[string]error{
		"busy":   fmt.Errorf("settlement: busy: %w", domain.ErrSettlementInProgress),
		"broken": errors.New("database down"),
	}}
	sw := NewSweeper(f.store.Auctions(), settler, 50, 3, slog.New(slog.DiscardHandler))

	report, err := sw.RunOnce(ctx, after)
	assert.NoError(t, err)
	// A1 from the fixture has also ended.
	check.Equal(t, 6, report.Due)
	check.Equal(t, 3, report.Settled)
	check.Equal(t, 1, report.NoSale)
	check.Equal(t, 1, report.Skipped)
	check.Equal(t, 1, report.Failed)
	check.Equal(t, []string{"broken"}, report.FailedIDs)
	check.Equal(t, 0, settler.calls["future"])
}

func TestSweeperSettlesDueAuctions(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.authorize(t, "bob")
	assert.NoError(t, f.bid("bob", "150", start.Add(time.Hour)))

	sw := NewSweeper(f.store.Auctions(), f.orch, 10, 4, slog.New(slog.DiscardHandler))

	report, err := sw.RunOnce(ctx, end.Add(-time.Second))
	assert.NoError(t, err)
	check.Equal(t, 0, report.Due)

	report, err = sw.RunOnce(ctx, after)
	assert.NoError(t, err)
	check.Equal(t, 1, report.Settled)

	// Processed auctions are no longer due.
	report, err = sw.RunOnce(ctx, after.Add(time.Minute))
	assert.NoError(t, err)
	check.Equal(t, 0, report.Due)
	check.Equal(t, 1, f.sandbox.Calls("capture"))
}

func TestSweeperBatchSize(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	for i := range 5 {
		assert.NoError(t, f.store.Auctions().Create(ctx, domain.Auction{
			ID: fmt.Sprintf("b%d", i), ListingID: "L1", StartAt: start, EndAt: end.Add(-time.Duration(i+1) * time.Minute),
		}))
	}
	settler := &scriptedSettler{}
	sw := NewSweeper(f.store.Auctions(), settler, 2, 2, slog.New(slog.DiscardHandler))

	report, err := sw.RunOnce(ctx, after)
	assert.NoError(t, err)
	check.Equal(t, 2, report.Due)
	// Oldest end times first.
	check.Equal(t, 1, settler.calls["b4"])
	check.Equal(t, 1, settler.calls["b3"])
}
