// Package deposit computes deposit amounts and drives payment holds through
// their lifecycle against the payment gateway.
package deposit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mohammednour-ai/MatEx-sub001/internal/domain"
	"github.com/shopspring/decimal"
)

// Currency is the settlement currency of every hold.
const Currency = "cad"

// RequiredDeposit returns the deposit a bidder must hold for listing l:
// max(basePrice * deposit_percent, deposit_flat_amount), or the flat amount
// alone under the flat strategy. The result is rounded to cents.
func RequiredDeposit(l domain.Listing, s domain.Settings) decimal.Decimal {
	flat := s.DepositFlatAmount
	if s.DepositStrategy == domain.DepositStrategyFlat {
		return flat.Round(2)
	}
	return decimal.Max(l.BasePrice().Mul(s.DepositRate()), flat).Round(2)
}

// Gatekeeper owns deposit state transitions. It never retries a processor
// call; callers decide when to try again.
type Gatekeeper struct {
	auctions domain.AuctionStore
	listings domain.ListingStore
	deposits domain.DepositStore
	gateway  domain.PaymentGateway
	settings domain.SettingsProvider
	events   domain.EventPublisher
	newID    func() string
	now      func() time.Time
	logger   *slog.Logger
}

// NewGatekeeper creates a Gatekeeper with all required dependencies.
func NewGatekeeper(
	auctions domain.AuctionStore,
	listings domain.ListingStore,
	deposits domain.DepositStore,
	gateway domain.PaymentGateway,
	settings domain.SettingsProvider,
	events domain.EventPublisher,
	logger *slog.Logger,
) *Gatekeeper {
	return &Gatekeeper{
		auctions: auctions,
		listings: listings,
		deposits: deposits,
		gateway:  gateway,
		settings: settings,
		events:   events,
		newID:    uuid.NewString,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "deposit_gatekeeper")),
	}
}

// WithClock overrides the transition timestamp source.
func (g *Gatekeeper) WithClock(now func() time.Time) *Gatekeeper {
	g.now = now
	return g
}

// Required returns the deposit amount for an auction's listing.
func (g *Gatekeeper) Required(ctx context.Context, auctionID string) (decimal.Decimal, error) {
	a, err := g.auctions.GetByID(ctx, auctionID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("deposit: required %s: %w", auctionID, err)
	}
	l, err := g.listings.GetByID(ctx, a.ListingID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("deposit: required %s: listing: %w", auctionID, err)
	}
	s, err := g.settings.Current(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("deposit: required %s: settings: %w", auctionID, err)
	}
	return RequiredDeposit(l, s), nil
}

// Status returns the bidder's open deposit for the auction, or ErrNotFound.
func (g *Gatekeeper) Status(ctx context.Context, auctionID, bidderID string) (domain.Deposit, error) {
	d, err := g.deposits.FindOpen(ctx, auctionID, bidderID)
	if err != nil {
		return domain.Deposit{}, fmt.Errorf("deposit: status %s/%s: %w", auctionID, bidderID, err)
	}
	return d, nil
}

// Authorize places a hold for the required deposit. A pending deposit is
// written before the processor is called and its ID is the processor
// idempotency key, so a retry after a transient failure reuses the same
// hold. An existing authorized or captured deposit fails with
// ErrAlreadyAuthorized and the processor is not called.
func (g *Gatekeeper) Authorize(ctx context.Context, bidderID, auctionID string) (domain.Deposit, error) {
	now := g.now()
	a, err := g.auctions.GetByID(ctx, auctionID)
	if err != nil {
		return domain.Deposit{}, fmt.Errorf("deposit: authorize %s: %w", auctionID, err)
	}
	if a.Status != domain.AuctionStatusActive || a.IsProcessed() || !now.Before(a.EndAt) {
		return domain.Deposit{}, fmt.Errorf("deposit: authorize %s: %w", auctionID, domain.ErrAuctionNotActive)
	}
	l, err := g.listings.GetByID(ctx, a.ListingID)
	if err != nil {
		return domain.Deposit{}, fmt.Errorf("deposit: authorize %s: listing: %w", auctionID, err)
	}
	if l.SellerID == bidderID {
		return domain.Deposit{}, fmt.Errorf("deposit: authorize %s: %w", auctionID, domain.ErrSelfBid)
	}
	s, err := g.settings.Current(ctx)
	if err != nil {
		return domain.Deposit{}, fmt.Errorf("deposit: authorize %s: settings: %w", auctionID, err)
	}

	d, err := g.pendingDeposit(ctx, auctionID, bidderID, RequiredDeposit(l, s), now)
	if err != nil {
		return domain.Deposit{}, fmt.Errorf("deposit: authorize %s: %w", auctionID, err)
	}

	hold, err := g.gateway.AuthorizeHold(ctx, domain.HoldRequest{
		Amount:         d.Amount,
		Currency:       Currency,
		PayerRef:       bidderID,
		IdempotencyKey: idempotencyKey(d.ID, "authorize"),
		Description:    "Auction deposit " + auctionID,
		Metadata: map[string]string{
			"deposit_id": d.ID,
			"auction_id": auctionID,
			"bidder_id":  bidderID,
		},
	})
	if err != nil {
		return g.handleFailure(ctx, d, "authorize", err)
	}

	updated, err := g.transition(ctx, d, domain.DepositStatusAuthorized, domain.DepositChange{PaymentRef: hold.PaymentRef, At: g.now()})
	if err != nil {
		return domain.Deposit{}, fmt.Errorf("deposit: authorize %s: %w", auctionID, err)
	}
	g.events.Publish(ctx, domain.NewDepositEvent(domain.EventDepositAuthorized, updated, *updated.AuthorizedAt))
	g.logger.InfoContext(ctx, "deposit authorized",
		slog.String("deposit_id", updated.ID),
		slog.String("auction_id", auctionID),
		slog.String("bidder_id", bidderID),
		slog.String("amount", updated.Amount.StringFixed(2)),
	)
	return updated, nil
}

// pendingDeposit returns the reusable pending deposit for the pair or
// creates one. An authorized or captured deposit is a conflict.
func (g *Gatekeeper) pendingDeposit(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal, now time.Time) (domain.Deposit, error) {
	for attempt := 0; attempt < 2; attempt++ {
		existing, err := g.deposits.FindOpen(ctx, auctionID, bidderID)
		switch {
		case err == nil:
			if existing.Status.IsActive() {
				return domain.Deposit{}, domain.ErrAlreadyAuthorized
			}
			return existing, nil
		case !errors.Is(err, domain.ErrNotFound):
			return domain.Deposit{}, fmt.Errorf("find open deposit: %w", err)
		}

		d := domain.Deposit{
			ID:        g.newID(),
			AuctionID: auctionID,
			BidderID:  bidderID,
			Amount:    amount,
			Status:    domain.DepositStatusPending,
			CreatedAt: now,
		}
		err = g.deposits.Create(ctx, d)
		if err == nil {
			return d, nil
		}
		if !errors.Is(err, domain.ErrAlreadyExists) {
			return domain.Deposit{}, fmt.Errorf("create deposit: %w", err)
		}
		// Lost a race with a concurrent authorize; look again.
	}
	return domain.Deposit{}, domain.ErrAlreadyAuthorized
}

// Capture converts an authorized hold into a charge. A captured deposit is
// returned unchanged.
func (g *Gatekeeper) Capture(ctx context.Context, depositID string) (domain.Deposit, error) {
	d, err := g.deposits.GetByID(ctx, depositID)
	if err != nil {
		return domain.Deposit{}, fmt.Errorf("deposit: capture %s: %w", depositID, err)
	}
	switch d.Status {
	case domain.DepositStatusCaptured:
		return d, nil
	case domain.DepositStatusAuthorized:
	default:
		return domain.Deposit{}, fmt.Errorf("deposit: capture %s from %s: %w", depositID, d.Status, domain.ErrInvalidDepositTransition)
	}

	if err := g.gateway.CaptureHold(ctx, d.PaymentRef, idempotencyKey(d.ID, "capture")); err != nil {
		return g.handleFailure(ctx, d, "capture", err)
	}

	updated, err := g.transition(ctx, d, domain.DepositStatusCaptured, domain.DepositChange{At: g.now()})
	if err != nil {
		return domain.Deposit{}, fmt.Errorf("deposit: capture %s: %w", depositID, err)
	}
	g.events.Publish(ctx, domain.NewDepositEvent(domain.EventDepositCaptured, updated, *updated.CapturedAt))
	return updated, nil
}

// RefundOrCancel releases an authorized hold or refunds a captured charge.
// Both end in refunded; a refunded deposit is returned unchanged.
func (g *Gatekeeper) RefundOrCancel(ctx context.Context, depositID string) (domain.Deposit, error) {
	d, err := g.deposits.GetByID(ctx, depositID)
	if err != nil {
		return domain.Deposit{}, fmt.Errorf("deposit: refund %s: %w", depositID, err)
	}
	switch d.Status {
	case domain.DepositStatusRefunded:
		return d, nil
	case domain.DepositStatusAuthorized, domain.DepositStatusCaptured:
	default:
		return domain.Deposit{}, fmt.Errorf("deposit: refund %s from %s: %w", depositID, d.Status, domain.ErrInvalidDepositTransition)
	}

	captured := d.Status == domain.DepositStatusCaptured
	if err := g.gateway.CancelOrRefundHold(ctx, d.PaymentRef, captured, idempotencyKey(d.ID, "refund")); err != nil {
		if captured {
			// A captured charge cannot go back to failed; leave it for
			// manual follow-up.
			return domain.Deposit{}, fmt.Errorf("deposit: refund %s: %w", depositID, err)
		}
		return g.handleFailure(ctx, d, "cancel", err)
	}

	updated, err := g.transition(ctx, d, domain.DepositStatusRefunded, domain.DepositChange{At: g.now()})
	if err != nil {
		return domain.Deposit{}, fmt.Errorf("deposit: refund %s: %w", depositID, err)
	}
	g.events.Publish(ctx, domain.NewDepositEvent(domain.EventDepositRefunded, updated, *updated.RefundedAt))
	return updated, nil
}

// ConfirmAuthorization applies an asynchronous "hold authorized" callback
// from the processor to a pending deposit.
func (g *Gatekeeper) ConfirmAuthorization(ctx context.Context, depositID, paymentRef string) (domain.Deposit, error) {
	d, err := g.deposits.GetByID(ctx, depositID)
	if err != nil {
		return domain.Deposit{}, fmt.Errorf("deposit: confirm %s: %w", depositID, err)
	}
	if d.Status == domain.DepositStatusAuthorized {
		return d, nil
	}
	if d.Status != domain.DepositStatusPending {
		return domain.Deposit{}, fmt.Errorf("deposit: confirm %s from %s: %w", depositID, d.Status, domain.ErrInvalidDepositTransition)
	}
	updated, err := g.transition(ctx, d, domain.DepositStatusAuthorized, domain.DepositChange{PaymentRef: paymentRef, At: g.now()})
	if err != nil {
		return domain.Deposit{}, fmt.Errorf("deposit: confirm %s: %w", depositID, err)
	}
	g.events.Publish(ctx, domain.NewDepositEvent(domain.EventDepositAuthorized, updated, *updated.AuthorizedAt))
	return updated, nil
}

// MarkFailed applies an asynchronous failure callback from the processor.
func (g *Gatekeeper) MarkFailed(ctx context.Context, depositID, reason string) (domain.Deposit, error) {
	d, err := g.deposits.GetByID(ctx, depositID)
	if err != nil {
		return domain.Deposit{}, fmt.Errorf("deposit: mark failed %s: %w", depositID, err)
	}
	if d.Status == domain.DepositStatusFailed {
		return d, nil
	}
	if !d.Status.CanTransitionTo(domain.DepositStatusFailed) {
		return domain.Deposit{}, fmt.Errorf("deposit: mark failed %s from %s: %w", depositID, d.Status, domain.ErrInvalidDepositTransition)
	}
	updated, err := g.transition(ctx, d, domain.DepositStatusFailed, domain.DepositChange{FailureReason: reason, At: g.now()})
	if err != nil {
		return domain.Deposit{}, fmt.Errorf("deposit: mark failed %s: %w", depositID, err)
	}
	g.events.Publish(ctx, domain.NewDepositEvent(domain.EventDepositFailed, updated, *updated.FailedAt))
	return updated, nil
}

// handleFailure records a permanent processor failure on the deposit and
// passes transient ones through with state untouched.
func (g *Gatekeeper) handleFailure(ctx context.Context, d domain.Deposit, op string, cause error) (domain.Deposit, error) {
	if !domain.IsPermanentPayment(cause) {
		g.logger.WarnContext(ctx, "payment processor unavailable",
			slog.String("deposit_id", d.ID),
			slog.String("op", op),
			slog.String("error", cause.Error()),
		)
		if !errors.Is(cause, domain.ErrPaymentUnavailable) {
			cause = fmt.Errorf("%w: %w", domain.ErrPaymentUnavailable, cause)
		}
		return domain.Deposit{}, fmt.Errorf("deposit: %s %s: %w", op, d.ID, cause)
	}

	failed, err := g.transition(ctx, d, domain.DepositStatusFailed, domain.DepositChange{FailureReason: cause.Error(), At: g.now()})
	if err != nil {
		return domain.Deposit{}, fmt.Errorf("deposit: %s %s: record failure: %w", op, d.ID, err)
	}
	g.events.Publish(ctx, domain.NewDepositEvent(domain.EventDepositFailed, failed, *failed.FailedAt))
	g.logger.WarnContext(ctx, "payment declined",
		slog.String("deposit_id", d.ID),
		slog.String("op", op),
		slog.String("reason", cause.Error()),
	)
	if !errors.Is(cause, domain.ErrPaymentDeclined) {
		cause = fmt.Errorf("%w: %w", domain.ErrPaymentDeclined, cause)
	}
	return failed, fmt.Errorf("deposit: %s %s: %w", op, d.ID, cause)
}

// transition checks the state machine and applies a conditional update. If
// a concurrent writer already moved the deposit to the same target, the
// stored deposit is returned.
func (g *Gatekeeper) transition(ctx context.Context, d domain.Deposit, to domain.DepositStatus, ch domain.DepositChange) (domain.Deposit, error) {
	if !d.Status.CanTransitionTo(to) {
		return domain.Deposit{}, fmt.Errorf("%s -> %s: %w", d.Status, to, domain.ErrInvalidDepositTransition)
	}
	updated, err := g.deposits.Transition(ctx, d.ID, d.Status, to, ch)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, domain.ErrStaleState) {
		return domain.Deposit{}, fmt.Errorf("%s -> %s: %w", d.Status, to, err)
	}
	current, gerr := g.deposits.GetByID(ctx, d.ID)
	if gerr != nil {
		return domain.Deposit{}, fmt.Errorf("%s -> %s: reload: %w", d.Status, to, gerr)
	}
	if current.Status == to {
		return current, nil
	}
	return domain.Deposit{}, fmt.Errorf("%s -> %s: now %s: %w", d.Status, to, current.Status, domain.ErrInvalidDepositTransition)
}

func idempotencyKey(depositID, op string) string {
	return "deposit-" + depositID + "-" + op
}
