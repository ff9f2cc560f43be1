package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/mohammednour-ai/MatEx-sub001/internal/settlement"
)

type countingSweeper struct {
	mu    sync.Mutex
	times []time.Time
	ran   chan struct{}
}

func (c *countingSweeper) RunOnce(_ context.Context, now time.Time) (settlement.SweepReport, error) {
	c.mu.Lock()
	c.times = append(c.times, now)
	c.mu.Unlock()
	c.ran <- struct{}{}
	return settlement.SweepReport{}, nil
}

type fakeArchiver struct {
	auctionsBefore time.Time
	auditBefore    time.Time
	auditCalls     int
	err            error
}

func (f *fakeArchiver) ArchiveAuctions(_ context.Context, before time.Time) (int64, error) {
	f.auctionsBefore = before
	return 2, f.err
}

func (f *fakeArchiver) ArchiveAudit(_ context.Context, before time.Time) (int64, error) {
	f.auditCalls++
	f.auditBefore = before
	return 10, nil
}

func TestSchedulerTriggerRunsSweep(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sw := &countingSweeper{ran: make(chan struct{}, 4)}
	s := NewScheduler(sw, "@every 1h", slog.New(slog.DiscardHandler)).
		WithClock(func() time.Time { return now })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	s.Trigger() <- struct{}{}
	select {
	case <-sw.ran:
	case <-time.After(5 * time.Second):
		t.Fatal("triggered sweep did not run")
	}

	cancel()
	select {
	case err := <-done:
		check.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}

	sw.mu.Lock()
	defer sw.mu.Unlock()
	assert.Equal(t, 1, len(sw.times))
	check.Equal(t, now, sw.times[0])
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	t.Parallel()
	s := NewScheduler(&countingSweeper{ran: make(chan struct{}, 1)}, "every minute", slog.New(slog.DiscardHandler))
	check.Error(t, s.Run(context.Background()))

	s = NewScheduler(&countingSweeper{ran: make(chan struct{}, 1)}, "@every 1m", slog.New(slog.DiscardHandler)).
		WithArchive(NewArchiveJob(&fakeArchiver{}, 90, 30, slog.New(slog.DiscardHandler)), "61 * * * *")
	check.Error(t, s.Run(context.Background()))
}

func TestArchiveJobCutoffs(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 3, 31, 3, 0, 0, 0, time.UTC)

	tests := []struct {
		name          string
		auditDays     int
		wantAuditCall int
	}{
		{name: "auctions and audit", auditDays: 30, wantAuditCall: 1},
		{name: "audit retention disabled", auditDays: 0, wantAuditCall: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fa := &fakeArchiver{}
			job := NewArchiveJob(fa, 90, tt.auditDays, slog.New(slog.DiscardHandler)).
				WithClock(func() time.Time { return now })

			assert.NoError(t, job.Run(context.Background()))
			check.Equal(t, now.Add(-90*24*time.Hour), fa.auctionsBefore)
			check.Equal(t, tt.wantAuditCall, fa.auditCalls)
			if tt.wantAuditCall > 0 {
				check.Equal(t, now.Add(-30*24*time.Hour), fa.auditBefore)
			}
		})
	}
}

func TestArchiveJobStopsOnAuctionError(t *testing.T) {
	t.Parallel()
	fa := &fakeArchiver{err: errors.New("s3 down")}
	err := NewArchiveJob(fa, 90, 30, slog.New(slog.DiscardHandler)).Run(context.Background())
	check.Error(t, err)
	check.Equal(t, 0, fa.auditCalls)
}
