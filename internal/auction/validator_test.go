package auction

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mohammednour-ai/MatEx-sub001/internal/domain"
	"github.com/mohammednour-ai/MatEx-sub001/internal/events"
	"github.com/mohammednour-ai/MatEx-sub001/internal/settings"
	"github.com/mohammednour-ai/MatEx-sub001/internal/store/memory"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
)

var (
	start = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	end   = start.Add(24 * time.Hour)
)

type fixture struct {
	store     *memory.Store
	recorder  *events.Recorder
	validator *Validator
	settings  domain.Settings
}

func newFixture(t *testing.T, mutate func(*domain.Settings)) *fixture {
	t.Helper()
	ctx := context.Background()
	s := domain.DefaultSettings()
	s.SoftCloseSeconds = 120
	s.MinIncrementStrategy = domain.IncrementFixed
	s.MinIncrementValue = dec("5")
	if mutate != nil {
		mutate(&s)
	}

	st := memory.New()
	assert.NoError(t, st.Listings().Upsert(ctx, domain.Listing{ID: "L1", SellerID: "seller", PriceCAD: dec("300"), Status: domain.ListingStatusActive}))
	assert.NoError(t, st.Auctions().Create(ctx, domain.Auction{ID: "A1", ListingID: "L1", StartAt: start, EndAt: end, StartingBid: dec("50")}))

	rec := &events.Recorder{}
	v := NewValidator(st.Ledger(), st.Listings(), st.Deposits(), settings.Static(s), rec, slog.New(slog.DiscardHandler))
	return &fixture{store: st, recorder: rec, validator: v, settings: s}
}

func (f *fixture) authorize(t *testing.T, bidderID string) {
	t.Helper()
	at := start
	assert.NoError(t, f.store.Deposits().Create(context.Background(), domain.Deposit{
		ID: "dep-" + bidderID, AuctionID: "A1", BidderID: bidderID, Amount: dec("50"),
		Status: domain.DepositStatusAuthorized, PaymentRef: "pi_" + bidderID, CreatedAt: at, AuthorizedAt: &at,
	}))
}

func (f *fixture) bid(bidderID, amount string, at time.Time) (domain.BidResult, error) {
	return f.validator.SubmitBid(context.Background(), domain.BidRequest{AuctionID: "A1", BidderID: bidderID, Amount: dec(amount)}, at)
}

func TestSubmitBidAccepts(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.authorize(t, "alice")

	res, err := f.bid("alice", "100", start.Add(time.Hour))
	assert.NoError(t, err)
	check.Equal(t, "alice", res.Bid.BidderID)
	check.Equal(t, int64(1), res.Bid.Seq)
	check.False(t, res.Extended)
	check.Equal(t, "", res.PreviousLeader)
	check.Equal(t, 1, len(f.recorder.OfType(domain.EventBidPlaced)))
	check.Equal(t, 0, len(f.recorder.OfType(domain.EventOutbid)))
}

func TestSubmitBidRejections(t *testing.T) {
	t.Parallel()

	authorizeAlice := func(t *testing.T, f *fixture) { f.authorize(t, "alice") }

	tests := []struct {
		name    string
		setup   func(t *testing.T, f *fixture)
		bidder  string
		amount  string
		at      time.Time
		wantErr error
	}{
		{
			name:    "before start",
			setup:   authorizeAlice,
			bidder:  "alice",
			amount:  "100",
			at:      start.Add(-time.Minute),
			wantErr: domain.ErrAuctionNotActive,
		},
		{
			name:    "at end",
			setup:   authorizeAlice,
			bidder:  "alice",
			amount:  "100",
			at:      end,
			wantErr: domain.ErrAuctionNotActive,
		},
		{
			name:    "seller with deposit",
			setup:   func(t *testing.T, f *fixture) { f.authorize(t, "seller") },
			bidder:  "seller",
			amount:  "100",
			at:      start.Add(time.Hour),
			wantErr: domain.ErrSelfBid,
		},
		{
			name:    "seller without deposit",
			bidder:  "seller",
			amount:  "100",
			at:      start.Add(time.Hour),
			wantErr: domain.ErrSelfBid,
		},
		{
			name:    "no deposit",
			bidder:  "bob",
			amount:  "100",
			at:      start.Add(time.Hour),
			wantErr: domain.ErrDepositRequired,
		},
		{
			name: "pending deposit",
			setup: func(t *testing.T, f *fixture) {
				assert.NoError(t, f.store.Deposits().Create(context.Background(), domain.Deposit{
					ID: "p", AuctionID: "A1", BidderID: "bob", Amount: dec("50"), Status: domain.DepositStatusPending, CreatedAt: start,
				}))
			},
			bidder:  "bob",
			amount:  "100",
			at:      start.Add(time.Hour),
			wantErr: domain.ErrDepositRequired,
		},
		{
			name:    "below starting bid",
			setup:   authorizeAlice,
			bidder:  "alice",
			amount:  "49.99",
			at:      start.Add(time.Hour),
			wantErr: domain.ErrBidTooLow,
		},
		{
			name:    "fractional cents",
			setup:   authorizeAlice,
			bidder:  "alice",
			amount:  "100.001",
			at:      start.Add(time.Hour),
			wantErr: domain.ErrInvalidInput,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			if tt.setup != nil {
				tt.setup(t, f)
			}
			_, err := f.bid(tt.bidder, tt.amount, tt.at)
			check.True(t, errors.Is(err, tt.wantErr))
			bids, _ := f.store.Bids().ListByAuction(context.Background(), "A1")
			check.Equal(t, 0, len(bids))
			check.Equal(t, 0, len(f.recorder.Events()))
		})
	}
}

func TestSubmitBidDepositNotRequired(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(s *domain.Settings) { s.DepositRequired = false })
	_, err := f.bid("bob", "100", start.Add(time.Hour))
	check.NoError(t, err)
}

func TestSubmitBidTooLowCarriesMinimum(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.authorize(t, "alice")
	f.authorize(t, "bob")

	_, err := f.bid("alice", "150", start.Add(time.Hour))
	assert.NoError(t, err)

	_, err = f.bid("bob", "152", start.Add(2*time.Hour))
	var tooLow *domain.BidTooLowError
	assert.True(t, errors.As(err, &tooLow))
	check.Equal(t, "155.00", tooLow.Minimum.StringFixed(2))
	check.True(t, domain.IsValidation(err))
}

func TestSubmitBidOutbidAndExtension(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.authorize(t, "alice")
	f.authorize(t, "bob")

	_, err := f.bid("alice", "100", start.Add(time.Hour))
	assert.NoError(t, err)

	late := end.Add(-30 * time.Second)
	res, err := f.bid("bob", "110", late)
	assert.NoError(t, err)
	check.Equal(t, "alice", res.PreviousLeader)
	check.True(t, res.Extended)
	check.True(t, res.EndAt.Equal(late.Add(120*time.Second)))

	a, err := f.store.Auctions().GetByID(context.Background(), "A1")
	assert.NoError(t, err)
	check.True(t, a.EndAt.Equal(end.Add(90*time.Second)))

	outbid := f.recorder.OfType(domain.EventOutbid)
	assert.Equal(t, 1, len(outbid))
	check.Equal(t, "alice", outbid[0].UserID)
	check.Equal(t, "110.00", outbid[0].Amount.StringFixed(2))
	check.Equal(t, 1, len(f.recorder.OfType(domain.EventAuctionExtended)))

	// A bid accepted only because of the extension.
	_, err = f.bid("alice", "120", end.Add(time.Minute))
	check.NoError(t, err)
}

func TestSubmitBidRaisingOwnBidIsNotOutbid(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.authorize(t, "alice")

	_, err := f.bid("alice", "100", start.Add(time.Hour))
	assert.NoError(t, err)
	res, err := f.bid("alice", "200", start.Add(2*time.Hour))
	assert.NoError(t, err)
	check.Equal(t, "", res.PreviousLeader)
	check.Equal(t, 0, len(f.recorder.OfType(domain.EventOutbid)))
}

func TestSubmitBidDuplicates(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.validator.WithSubmissionGuard(NewDedup(time.Minute))
	f.authorize(t, "alice")
	ctx := context.Background()
	at := start.Add(time.Hour)

	_, err := f.validator.SubmitBid(ctx, domain.BidRequest{AuctionID: "A1", BidderID: "alice", Amount: dec("100"), SubmissionID: "s1"}, at)
	assert.NoError(t, err)

	// Same bidder, same instant.
	_, err = f.validator.SubmitBid(ctx, domain.BidRequest{AuctionID: "A1", BidderID: "alice", Amount: dec("200")}, at)
	check.True(t, errors.Is(err, domain.ErrDuplicateBid))

	// Replayed submission key.
	_, err = f.validator.SubmitBid(ctx, domain.BidRequest{AuctionID: "A1", BidderID: "alice", Amount: dec("300"), SubmissionID: "s1"}, at.Add(time.Second))
	check.True(t, errors.Is(err, domain.ErrDuplicateBid))
	check.True(t, domain.IsConflict(err))
}

// failingCommit runs the locked section and then fails as a lost commit
// would, so nothing written inside is kept.
type failingCommit struct {
	domain.BidLedger
	fail bool
}

func (l *failingCommit) WithAuctionLock(ctx context.Context, auctionID string, fn func(context.Context, domain.BidTx) error) error {
	return l.BidLedger.WithAuctionLock(ctx, auctionID, func(ctx context.Context, tx domain.BidTx) error {
		if err := fn(ctx, tx); err != nil {
			return err
		}
		if l.fail {
			return errors.New("commit: connection reset")
		}
		return nil
	})
}

func TestSubmitBidFailedCommitReleasesSubmission(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.authorize(t, "alice")
	ledger := &failingCommit{BidLedger: f.store.Ledger(), fail: true}
	v := NewValidator(ledger, f.store.Listings(), f.store.Deposits(), settings.Static(f.settings), f.recorder, slog.New(slog.DiscardHandler)).
		WithSubmissionGuard(NewDedup(time.Minute))
	ctx := context.Background()
	req := domain.BidRequest{AuctionID: "A1", BidderID: "alice", Amount: dec("100"), SubmissionID: "s1"}

	_, err := v.SubmitBid(ctx, req, start.Add(time.Hour))
	check.Error(t, err)
	check.False(t, errors.Is(err, domain.ErrDuplicateBid))
	check.Equal(t, 0, len(f.recorder.Events()))

	ledger.fail = false
	res, err := v.SubmitBid(ctx, req, start.Add(time.Hour+time.Second))
	assert.NoError(t, err)
	check.Equal(t, "alice", res.Bid.BidderID)

	bids, err := f.store.Bids().ListByAuction(ctx, "A1")
	assert.NoError(t, err)
	check.Equal(t, 1, len(bids))

	// The stored submission stays claimed.
	_, err = v.SubmitBid(ctx, req, start.Add(time.Hour+2*time.Second))
	check.True(t, errors.Is(err, domain.ErrDuplicateBid))
}

func TestSubmitBidRejectionReleasesSubmission(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.validator.WithSubmissionGuard(NewDedup(time.Minute))
	ctx := context.Background()
	req := domain.BidRequest{AuctionID: "A1", BidderID: "alice", Amount: dec("100"), SubmissionID: "s1"}

	// Rejected before the key is claimed.
	_, err := f.validator.SubmitBid(ctx, req, start.Add(time.Hour))
	check.True(t, errors.Is(err, domain.ErrDepositRequired))

	f.authorize(t, "alice")
	_, err = f.validator.SubmitBid(ctx, req, start.Add(time.Hour))
	assert.NoError(t, err)
}

func TestSubmitBidUnknownAuction(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	_, err := f.validator.SubmitBid(context.Background(), domain.BidRequest{AuctionID: "nope", BidderID: "alice", Amount: dec("100")}, start)
	check.True(t, errors.Is(err, domain.ErrAuctionNotActive))
	check.True(t, errors.Is(err, domain.ErrNotFound))
}

// Concurrent bids on one auction must never both be judged against the
// same high bid: the accepted sequence stays strictly increasing by at
// least the increment.
func TestSubmitBidConcurrentBidsStayOrdered(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	bidders := []string{"b1", "b2", "b3", "b4", "b5", "b6", "b7", "b8"}
	for _, b := range bidders {
		f.authorize(t, b)
	}

	var wg sync.WaitGroup
	for i, b := range bidders {
		for j := 0; j < 5; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				amount := dec("100").Add(decimal.NewFromInt(int64(5 * (i + j))))
				at := start.Add(time.Duration(i*10+j) * time.Second)
				_, _ = f.validator.SubmitBid(context.Background(), domain.BidRequest{AuctionID: "A1", BidderID: b, Amount: amount}, at)
			}()
		}
	}
	wg.Wait()

	bids, err := f.store.Bids().ListByAuction(context.Background(), "A1")
	assert.NoError(t, err)
	assert.True(t, len(bids) > 0)
	for i := 1; i < len(bids); i++ {
		minimum := bids[i-1].Amount.Add(MinIncrement(domain.Auction{}, bids[i-1].Amount, f.settings))
		check.True(t, bids[i].Amount.GreaterThanOrEqual(minimum))
	}
}
