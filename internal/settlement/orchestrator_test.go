package settlement

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mohammednour-ai/MatEx-sub001/internal/auction"
	"github.com/mohammednour-ai/MatEx-sub001/internal/deposit"
	"github.com/mohammednour-ai/MatEx-sub001/internal/domain"
	"github.com/mohammednour-ai/MatEx-sub001/internal/events"
	"github.com/mohammednour-ai/MatEx-sub001/internal/platform/payments"
	"github.com/mohammednour-ai/MatEx-sub001/internal/settings"
	"github.com/mohammednour-ai/MatEx-sub001/internal/store/memory"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
)

var (
	start = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	end   = start.Add(24 * time.Hour)
	after = end.Add(time.Minute)
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// flakyOrders fails the next n CreateIfAbsent calls.
type flakyOrders struct {
	domain.OrderStore
	mu    sync.Mutex
	fails int
}

func (f *flakyOrders) CreateIfAbsent(ctx context.Context, o domain.Order) (domain.Order, bool, error) {
	f.mu.Lock()
	if f.fails > 0 {
		f.fails--
		f.mu.Unlock()
		return domain.Order{}, false, errors.New("connection refused")
	}
	f.mu.Unlock()
	return f.OrderStore.CreateIfAbsent(ctx, o)
}

type fixture struct {
	store     *memory.Store
	sandbox   *payments.Sandbox
	recorder  *events.Recorder
	gate      *deposit.Gatekeeper
	validator *auction.Validator
	orders    *flakyOrders
	orch      *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	assert.NoError(t, st.Listings().Upsert(ctx, domain.Listing{ID: "L1", SellerID: "seller", PriceCAD: dec("300"), Status: domain.ListingStatusActive}))
	assert.NoError(t, st.Auctions().Create(ctx, domain.Auction{ID: "A1", ListingID: "L1", StartAt: start, EndAt: end, StartingBid: dec("50")}))

	s := domain.DefaultSettings()
	s.DepositPercent = dec("0.1")
	s.DepositFlatAmount = dec("50")
	s.FeePercent = dec("0.04")
	s.MinIncrementStrategy = domain.IncrementFixed
	s.MinIncrementValue = dec("5")
	provider := settings.Static(s)

	logger := slog.New(slog.DiscardHandler)
	sb := payments.NewSandbox()
	rec := &events.Recorder{}
	clock := start.Add(time.Minute)
	gate := deposit.NewGatekeeper(st.Auctions(), st.Listings(), st.Deposits(), sb, provider, rec, logger).
		WithClock(func() time.Time { return clock })
	v := auction.NewValidator(st.Ledger(), st.Listings(), st.Deposits(), provider, rec, logger)

	stores := st.Stores()
	orders := &flakyOrders{OrderStore: stores.Orders}
	stores.Orders = orders
	orch := NewOrchestrator(stores, provider, gate, rec, time.Minute, logger).WithReceipts(st.Receipts())

	return &fixture{store: st, sandbox: sb, recorder: rec, gate: gate, validator: v, orders: orders, orch: orch}
}

func (f *fixture) authorize(t *testing.T, bidderID string) domain.Deposit {
	t.Helper()
	d, err := f.gate.Authorize(context.Background(), bidderID, "A1")
	assert.NoError(t, err)
	return d
}

func (f *fixture) bid(bidderID, amount string, at time.Time) error {
	_, err := f.validator.SubmitBid(context.Background(), domain.BidRequest{AuctionID: "A1", BidderID: bidderID, Amount: dec(amount)}, at)
	return err
}

func (f *fixture) deposit(t *testing.T, id string) domain.Deposit {
	t.Helper()
	d, err := f.store.Deposits().GetByID(context.Background(), id)
	assert.NoError(t, err)
	return d
}

func (f *fixture) auction(t *testing.T) domain.Auction {
	t.Helper()
	a, err := f.store.Auctions().GetByID(context.Background(), "A1")
	assert.NoError(t, err)
	return a
}

func TestSettleEndToEnd(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	depA := f.authorize(t, "alice")
	depB := f.authorize(t, "bob")
	check.Equal(t, "50.00", depA.Amount.StringFixed(2))

	assert.NoError(t, f.bid("alice", "100", start.Add(time.Hour)))
	assert.NoError(t, f.bid("bob", "150", start.Add(2*time.Hour)))
	err := f.bid("bob", "150", start.Add(3*time.Hour))
	check.True(t, errors.Is(err, domain.ErrBidTooLow))

	res, err := f.orch.Settle(ctx, "A1", after)
	assert.NoError(t, err)
	check.Equal(t, OutcomeSettled, res.Outcome)
	assert.NotNil(t, res.Winner)
	check.Equal(t, "bob", res.Winner.BidderID)

	assert.NotNil(t, res.Order)
	ord := *res.Order
	check.Equal(t, "bob", ord.BuyerID)
	check.Equal(t, "seller", ord.SellerID)
	check.Equal(t, "150.00", ord.Subtotal.StringFixed(2))
	check.Equal(t, "6.00", ord.PlatformFee.StringFixed(2))
	check.Equal(t, "156.00", ord.Total.StringFixed(2))
	check.Equal(t, "50.00", ord.DepositApplied.StringFixed(2))
	check.Equal(t, "106.00", ord.RemainingBalance.StringFixed(2))
	check.Equal(t, domain.OrderStatusPending, ord.Status)

	check.Equal(t, domain.DepositStatusCaptured, f.deposit(t, depB.ID).Status)
	check.Equal(t, domain.DepositStatusRefunded, f.deposit(t, depA.ID).Status)

	a := f.auction(t)
	check.NotNil(t, a.ProcessedAt)
	check.Equal(t, domain.AuctionStatusCompleted, a.Status)

	check.Equal(t, 1, len(f.recorder.OfType(domain.EventAuctionWon)))
	check.Equal(t, 1, len(f.recorder.OfType(domain.EventAuctionSold)))
	check.Equal(t, 1, len(f.recorder.OfType(domain.EventBalancePaymentRequested)))

	receipt, err := f.store.Receipts().GetReceipt(ctx, "A1")
	assert.NoError(t, err)
	check.Equal(t, 2, receipt.BidCount)
	check.Equal(t, domain.AuctionStatusCompleted, receipt.Status)
	check.Equal(t, 2, len(receipt.Deposits))
}

func TestSettleTwiceIsIdempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.authorize(t, "alice")
	assert.NoError(t, f.bid("alice", "100", start.Add(time.Hour)))

	_, err := f.orch.Settle(ctx, "A1", after)
	assert.NoError(t, err)
	first := f.auction(t)

	res, err := f.orch.Settle(ctx, "A1", after.Add(time.Hour))
	check.True(t, errors.Is(err, domain.ErrAlreadyProcessed))
	check.Equal(t, OutcomeAlreadyProcessed, res.Outcome)
	check.Nil(t, res.Order)

	second := f.auction(t)
	check.True(t, first.ProcessedAt.Equal(*second.ProcessedAt))
	check.Equal(t, 1, f.sandbox.Calls("capture"))
	check.Equal(t, 1, len(f.recorder.OfType(domain.EventAuctionWon)))
}

func TestSettleConcurrentCallsSettleOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.authorize(t, "alice")
	f.authorize(t, "bob")
	assert.NoError(t, f.bid("alice", "100", start.Add(time.Hour)))
	assert.NoError(t, f.bid("bob", "150", start.Add(2*time.Hour)))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.orch.Settle(context.Background(), "A1", after); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	check.Equal(t, 1, wins)
	check.Equal(t, 1, f.sandbox.Calls("capture"))
	check.Equal(t, 1, f.sandbox.Calls("cancel"))
	check.Equal(t, 1, len(f.recorder.OfType(domain.EventAuctionWon)))
}

func TestSettleRetriesAfterPartialFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	depA := f.authorize(t, "alice")
	depB := f.authorize(t, "bob")
	assert.NoError(t, f.bid("alice", "100", start.Add(time.Hour)))
	assert.NoError(t, f.bid("bob", "150", start.Add(2*time.Hour)))
	f.orders.fails = 1

	_, err := f.orch.Settle(ctx, "A1", after)
	check.Error(t, err)
	check.Nil(t, f.auction(t).ProcessedAt)
	check.Equal(t, 0, len(f.recorder.OfType(domain.EventAuctionWon)))

	res, err := f.orch.Settle(ctx, "A1", after.Add(time.Minute))
	assert.NoError(t, err)
	check.Equal(t, OutcomeSettled, res.Outcome)
	check.Equal(t, "106.00", res.Order.RemainingBalance.StringFixed(2))

	check.Equal(t, 1, f.sandbox.Calls("capture"))
	check.Equal(t, 1, f.sandbox.Calls("cancel"))
	check.Equal(t, domain.DepositStatusCaptured, f.deposit(t, depB.ID).Status)
	check.Equal(t, domain.DepositStatusRefunded, f.deposit(t, depA.ID).Status)
	check.NotNil(t, f.auction(t).ProcessedAt)

	stored, err := f.store.Orders().GetByAuction(ctx, "A1")
	assert.NoError(t, err)
	check.Equal(t, res.Order.ID, stored.ID)
}

func TestSettleTransientCaptureFailureLeavesUnprocessed(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	depB := f.authorize(t, "bob")
	assert.NoError(t, f.bid("bob", "150", start.Add(time.Hour)))
	f.sandbox.FailNext("capture", errors.New("gateway timeout"))

	_, err := f.orch.Settle(ctx, "A1", after)
	check.True(t, errors.Is(err, domain.ErrPaymentUnavailable))
	check.Nil(t, f.auction(t).ProcessedAt)
	check.Equal(t, domain.DepositStatusAuthorized, f.deposit(t, depB.ID).Status)
	_, err = f.store.Orders().GetByAuction(ctx, "A1")
	check.True(t, errors.Is(err, domain.ErrNotFound))

	// The claim was released, so the next sweep can settle immediately.
	_, err = f.orch.Settle(ctx, "A1", after)
	check.NoError(t, err)
	check.Equal(t, domain.DepositStatusCaptured, f.deposit(t, depB.ID).Status)
}

func TestSettleWinnerDepositPermanentFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	depB := f.authorize(t, "bob")
	assert.NoError(t, f.bid("bob", "150", start.Add(time.Hour)))
	f.sandbox.FailNext("capture", &domain.PaymentError{Op: "capture", Code: "expired", Message: "hold expired", Permanent: true})

	res, err := f.orch.Settle(ctx, "A1", after)
	assert.NoError(t, err)
	check.Equal(t, OutcomeSettled, res.Outcome)
	check.Equal(t, "0.00", res.Order.DepositApplied.StringFixed(2))
	check.Equal(t, "156.00", res.Order.RemainingBalance.StringFixed(2))
	check.Equal(t, domain.OrderStatusPending, res.Order.Status)
	check.Equal(t, domain.DepositStatusFailed, f.deposit(t, depB.ID).Status)
	check.NotNil(t, f.auction(t).ProcessedAt)
}

func TestSettleWithoutBids(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	dep := f.authorize(t, "alice")

	res, err := f.orch.Settle(ctx, "A1", after)
	assert.NoError(t, err)
	check.Equal(t, OutcomeNoSale, res.Outcome)
	check.Nil(t, res.Order)
	check.Nil(t, res.Winner)

	a := f.auction(t)
	check.Equal(t, domain.AuctionStatusCancelled, a.Status)
	check.NotNil(t, a.ProcessedAt)
	check.Equal(t, domain.DepositStatusRefunded, f.deposit(t, dep.ID).Status)

	_, err = f.store.Orders().GetByAuction(ctx, "A1")
	check.True(t, errors.Is(err, domain.ErrNotFound))
	noSale := f.recorder.OfType(domain.EventAuctionNoSale)
	assert.Equal(t, 1, len(noSale))
	check.Equal(t, "seller", noSale[0].UserID)
}

func TestSettleBeforeEnd(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	_, err := f.orch.Settle(context.Background(), "A1", end.Add(-time.Second))
	check.True(t, errors.Is(err, domain.ErrAuctionNotEnded))
	check.Nil(t, f.auction(t).ProcessedAt)
}

func TestSettleFullyCoveredByDeposit(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.authorize(t, "bob")
	assert.NoError(t, f.bid("bob", "50", start.Add(time.Hour)))

	res, err := f.orch.Settle(ctx, "A1", after)
	assert.NoError(t, err)
	// 50 + 2.00 fee against a 50 deposit.
	check.Equal(t, "2.00", res.Order.RemainingBalance.StringFixed(2))

	f2 := newFixture(t)
	s := domain.DefaultSettings()
	s.FeePercent = decimal.Zero
	s.DepositFlatAmount = dec("50")
	s.DepositPercent = dec("0.1")
	s.MinIncrementStrategy = domain.IncrementFixed
	s.MinIncrementValue = dec("5")
	f2.orch.settings = settings.Static(s)
	f2.authorize(t, "bob")
	assert.NoError(t, f2.bid("bob", "50", start.Add(time.Hour)))

	res, err = f2.orch.Settle(ctx, "A1", after)
	assert.NoError(t, err)
	check.Equal(t, "0.00", res.Order.RemainingBalance.StringFixed(2))
	check.Equal(t, domain.OrderStatusPaid, res.Order.Status)
	check.Equal(t, 0, len(f2.recorder.OfType(domain.EventBalancePaymentRequested)))
}
