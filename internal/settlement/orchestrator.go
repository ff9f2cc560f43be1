// Package settlement settles ended auctions exactly once: it resolves the
// winner, moves every deposit to its final state, writes the order and
// marks the auction processed.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mohammednour-ai/MatEx-sub001/internal/auction"
	"github.com/mohammednour-ai/MatEx-sub001/internal/domain"
	"github.com/shopspring/decimal"
)

// Outcome summarises what a Settle call did.
type Outcome string

const (
	OutcomeSettled          Outcome = "settled"
	OutcomeNoSale           Outcome = "no_sale"
	OutcomeAlreadyProcessed Outcome = "already_processed"
)

// Result describes one settlement.
type Result struct {
	AuctionID string                  `json:"auction_id"`
	Outcome   Outcome                 `json:"outcome"`
	Winner    *domain.Bid             `json:"winner,omitempty"`
	Order     *domain.Order           `json:"order,omitempty"`
	Deposits  []domain.DepositOutcome `json:"deposits,omitempty"`
}

// DepositActions is the part of the deposit gatekeeper settlement drives.
// Both calls are idempotent against already-terminal deposits.
type DepositActions interface {
	Capture(ctx context.Context, depositID string) (domain.Deposit, error)
	RefundOrCancel(ctx context.Context, depositID string) (domain.Deposit, error)
}

// Orchestrator settles one auction at a time. Any number of orchestrators
// may run against the same auctions; the storage claim admits one.
type Orchestrator struct {
	auctions domain.AuctionStore
	listings domain.ListingStore
	bids     domain.BidStore
	deposits domain.DepositStore
	orders   domain.OrderStore
	settings domain.SettingsProvider
	actions  DepositActions
	events   domain.EventPublisher
	locks    domain.LockManager
	receipts domain.ReceiptStore
	lease    time.Duration
	newID    func() string
	logger   *slog.Logger
}

// NewOrchestrator creates an Orchestrator. lease bounds how long a crashed
// attempt blocks the next one.
func NewOrchestrator(
	stores domain.Stores,
	settings domain.SettingsProvider,
	actions DepositActions,
	events domain.EventPublisher,
	lease time.Duration,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		auctions: stores.Auctions,
		listings: stores.Listings,
		bids:     stores.Bids,
		deposits: stores.Deposits,
		orders:   stores.Orders,
		settings: settings,
		actions:  actions,
		events:   events,
		lease:    lease,
		newID:    uuid.NewString,
		logger:   logger.With(slog.String("component", "settlement")),
	}
}

// WithLockManager adds a distributed lock in front of the storage claim so
// contending instances back off without touching the database.
func (o *Orchestrator) WithLockManager(lm domain.LockManager) *Orchestrator {
	o.locks = lm
	return o
}

// WithReceipts archives a receipt for every settlement.
func (o *Orchestrator) WithReceipts(rs domain.ReceiptStore) *Orchestrator {
	o.receipts = rs
	return o
}

// Settle processes auctionID if it has ended and is unprocessed. A second
// call after success returns OutcomeAlreadyProcessed with an error wrapping
// domain.ErrAlreadyProcessed. On any failure the claim is released and
// processed_at stays unset, so a later sweep retries the whole body.
func (o *Orchestrator) Settle(ctx context.Context, auctionID string, now time.Time) (Result, error) {
	if o.locks != nil {
		unlock, err := o.locks.Acquire(ctx, "settle:"+auctionID, o.lease)
		switch {
		case errors.Is(err, domain.ErrLockHeld):
			return Result{AuctionID: auctionID}, fmt.Errorf("settlement: %s: %w", auctionID, domain.ErrSettlementInProgress)
		case err != nil:
			// The lock is an optimisation; the claim below still guards.
			o.logger.WarnContext(ctx, "settlement lock unavailable",
				slog.String("auction_id", auctionID),
				slog.String("error", err.Error()),
			)
		default:
			defer unlock()
		}
	}

	token := o.newID()
	a, err := o.auctions.ClaimSettlement(ctx, auctionID, token, now, now.Add(o.lease))
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyProcessed) {
			return Result{AuctionID: auctionID, Outcome: OutcomeAlreadyProcessed}, fmt.Errorf("settlement: %s: %w", auctionID, err)
		}
		return Result{AuctionID: auctionID}, fmt.Errorf("settlement: claim %s: %w", auctionID, err)
	}

	res, receipt, err := o.settle(ctx, a, now)
	if err == nil {
		status := domain.AuctionStatusCompleted
		if res.Outcome == OutcomeNoSale {
			status = domain.AuctionStatusCancelled
		}
		if err = o.auctions.MarkProcessed(ctx, a.ID, token, now, status); err != nil {
			err = fmt.Errorf("mark processed: %w", err)
		}
		receipt.Status = status
	}
	if err != nil {
		o.release(ctx, a.ID, token)
		o.logger.WarnContext(ctx, "settlement attempt failed",
			slog.String("auction_id", a.ID),
			slog.String("error", err.Error()),
		)
		return Result{AuctionID: a.ID}, fmt.Errorf("settlement: %s: %w", a.ID, err)
	}

	o.afterSettle(ctx, res, receipt, now)
	return res, nil
}

func (o *Orchestrator) release(ctx context.Context, auctionID, token string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := o.auctions.ReleaseSettlement(ctx, auctionID, token); err != nil {
		o.logger.WarnContext(ctx, "failed to release settlement claim; lease will expire",
			slog.String("auction_id", auctionID),
			slog.String("error", err.Error()),
		)
	}
}

// settle is the retry-safe body. Every step is idempotent: captures and
// refunds no-op on terminal deposits and the order is create-if-absent.
func (o *Orchestrator) settle(ctx context.Context, a domain.Auction, now time.Time) (Result, domain.SettlementReceipt, error) {
	res := Result{AuctionID: a.ID}
	receipt := domain.SettlementReceipt{AuctionID: a.ID, ListingID: a.ListingID, SettledAt: now}

	listing, err := o.listings.GetByID(ctx, a.ListingID)
	if err != nil {
		return res, receipt, fmt.Errorf("load listing: %w", err)
	}
	settings, err := o.settings.Current(ctx)
	if err != nil {
		return res, receipt, fmt.Errorf("load settings: %w", err)
	}
	bids, err := o.bids.ListByAuction(ctx, a.ID)
	if err != nil {
		return res, receipt, fmt.Errorf("load bids: %w", err)
	}
	receipt.BidCount = len(bids)
	deposits, err := o.deposits.ListByAuction(ctx, a.ID, domain.DepositStatusAuthorized, domain.DepositStatusCaptured)
	if err != nil {
		return res, receipt, fmt.Errorf("load deposits: %w", err)
	}

	winner, hasWinner := auction.ResolveWinner(bids)
	depositApplied := decimal.Zero

	if hasWinner {
		res.Winner = &winner
		receipt.Winner = &winner
		for _, d := range deposits {
			if d.BidderID != winner.BidderID {
				continue
			}
			out, err := o.captureWinner(ctx, d)
			if err != nil {
				return res, receipt, err
			}
			res.Deposits = append(res.Deposits, out)
			if out.Status == domain.DepositStatusCaptured {
				depositApplied = depositApplied.Add(out.Amount)
			}
		}
	}

	for _, d := range deposits {
		if hasWinner && d.BidderID == winner.BidderID {
			continue
		}
		if d.Status != domain.DepositStatusAuthorized {
			o.logger.WarnContext(ctx, "non-winning deposit already captured; leaving for review",
				slog.String("auction_id", a.ID),
				slog.String("deposit_id", d.ID),
			)
			continue
		}
		out, err := o.refundLoser(ctx, d)
		if err != nil {
			return res, receipt, err
		}
		res.Deposits = append(res.Deposits, out)
	}
	receipt.Deposits = res.Deposits

	if !hasWinner {
		res.Outcome = OutcomeNoSale
		return res, receipt, nil
	}

	fee := winner.Amount.Mul(settings.FeeRate()).Round(2)
	order := domain.NewSettlementOrder(o.newID(), a, listing, winner, fee, depositApplied, now)
	stored, created, err := o.orders.CreateIfAbsent(ctx, order)
	if err != nil {
		return res, receipt, fmt.Errorf("create order: %w", err)
	}
	if !created {
		o.logger.InfoContext(ctx, "reusing order from earlier attempt",
			slog.String("auction_id", a.ID),
			slog.String("order_id", stored.ID),
		)
	}
	res.Order = &stored
	receipt.Order = &stored
	res.Outcome = OutcomeSettled
	return res, receipt, nil
}

// captureWinner captures the winner's deposit. A permanent failure leaves
// the deposit failed and the winner owes the full amount; a transient one
// aborts the attempt.
func (o *Orchestrator) captureWinner(ctx context.Context, d domain.Deposit) (domain.DepositOutcome, error) {
	captured, err := o.actions.Capture(ctx, d.ID)
	if err == nil {
		return outcomeOf(captured), nil
	}
	if domain.IsPermanentPayment(err) {
		out := outcomeOf(d)
		out.Status = domain.DepositStatusFailed
		out.Reason = err.Error()
		return out, nil
	}
	return domain.DepositOutcome{}, fmt.Errorf("capture deposit %s: %w", d.ID, err)
}

// refundLoser refunds or cancels a losing deposit with the same failure
// policy as captureWinner.
func (o *Orchestrator) refundLoser(ctx context.Context, d domain.Deposit) (domain.DepositOutcome, error) {
	refunded, err := o.actions.RefundOrCancel(ctx, d.ID)
	if err == nil {
		return outcomeOf(refunded), nil
	}
	if domain.IsPermanentPayment(err) {
		out := outcomeOf(d)
		out.Status = domain.DepositStatusFailed
		out.Reason = err.Error()
		return out, nil
	}
	return domain.DepositOutcome{}, fmt.Errorf("refund deposit %s: %w", d.ID, err)
}

func outcomeOf(d domain.Deposit) domain.DepositOutcome {
	return domain.DepositOutcome{
		DepositID: d.ID,
		BidderID:  d.BidderID,
		Amount:    d.Amount,
		Status:    d.Status,
		Reason:    d.FailureReason,
	}
}

// afterSettle emits notifications and archives the receipt. Neither can
// undo the settlement.
func (o *Orchestrator) afterSettle(ctx context.Context, res Result, receipt domain.SettlementReceipt, now time.Time) {
	switch res.Outcome {
	case OutcomeSettled:
		ord := *res.Order
		o.events.Publish(ctx, domain.NewAuctionWonEvent(res.AuctionID, ord.BuyerID, ord.Subtotal, ord.ID, now))
		o.events.Publish(ctx, domain.NewAuctionSoldEvent(res.AuctionID, ord.SellerID, ord.Subtotal, ord.ID, now))
		if ord.RemainingBalance.IsPositive() {
			o.events.Publish(ctx, domain.NewBalancePaymentRequestedEvent(ord, now))
		}
		o.logger.InfoContext(ctx, "auction settled",
			slog.String("auction_id", res.AuctionID),
			slog.String("winner_id", ord.BuyerID),
			slog.String("order_id", ord.ID),
			slog.String("total", ord.Total.StringFixed(2)),
			slog.String("remaining", ord.RemainingBalance.StringFixed(2)),
		)
	case OutcomeNoSale:
		sellerID := ""
		if l, err := o.listings.GetByID(ctx, receipt.ListingID); err == nil {
			sellerID = l.SellerID
		}
		o.events.Publish(ctx, domain.NewAuctionNoSaleEvent(res.AuctionID, sellerID, now))
		o.logger.InfoContext(ctx, "auction closed without sale", slog.String("auction_id", res.AuctionID))
	}

	if o.receipts != nil {
		if err := o.receipts.PutReceipt(ctx, receipt); err != nil {
			o.logger.WarnContext(ctx, "failed to archive settlement receipt",
				slog.String("auction_id", res.AuctionID),
				slog.String("error", err.Error()),
			)
		}
	}
}
