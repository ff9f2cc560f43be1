package auction

import (
	"testing"
	"time"

	"github.com/mohammednour-ai/MatEx-sub001/internal/domain"
	"github.com/peterldowns/testy/check"
)

func TestResolveWinner(t *testing.T) {
	t.Parallel()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	bid := func(id, bidder, amount string, at time.Time, seq int64) domain.Bid {
		return domain.Bid{ID: id, BidderID: bidder, Amount: dec(amount), CreatedAt: at, Seq: seq}
	}

	tests := []struct {
		name   string
		bids   []domain.Bid
		wantID string
		wantOK bool
	}{
		{"no bids", nil, "", false},
		{"single bid", []domain.Bid{bid("a", "A", "100", t0, 1)}, "a", true},
		{
			"highest amount wins",
			[]domain.Bid{bid("a", "A", "100", t0, 1), bid("b", "B", "150", t0.Add(time.Second), 2)},
			"b", true,
		},
		{
			"tie goes to earliest",
			[]domain.Bid{bid("late", "A", "150", t0.Add(time.Minute), 2), bid("early", "B", "150", t0, 1)},
			"early", true,
		},
		{
			"same instant goes to lowest sequence",
			[]domain.Bid{bid("second", "A", "150", t0, 7), bid("first", "B", "150", t0, 3)},
			"first", true,
		},
		{
			"amount compares numerically",
			[]domain.Bid{bid("a", "A", "99.99", t0, 1), bid("b", "B", "100.0", t0.Add(time.Second), 2)},
			"b", true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ResolveWinner(tt.bids)
			check.Equal(t, tt.wantOK, ok)
			check.Equal(t, tt.wantID, got.ID)
		})
	}
}

func TestResolveWinnerIsOrderIndependent(t *testing.T) {
	t.Parallel()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	bids := []domain.Bid{
		{ID: "1", Amount: dec("120"), CreatedAt: t0, Seq: 1},
		{ID: "2", Amount: dec("150"), CreatedAt: t0.Add(2 * time.Second), Seq: 2},
		{ID: "3", Amount: dec("150"), CreatedAt: t0.Add(time.Second), Seq: 3},
		{ID: "4", Amount: dec("140"), CreatedAt: t0.Add(3 * time.Second), Seq: 4},
	}
	reversed := make([]domain.Bid, len(bids))
	for i, b := range bids {
		reversed[len(bids)-1-i] = b
	}

	a, _ := ResolveWinner(bids)
	b, _ := ResolveWinner(reversed)
	check.Equal(t, "3", a.ID)
	check.Equal(t, a.ID, b.ID)
}
