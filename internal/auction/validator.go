package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mohammednour-ai/MatEx-sub001/internal/domain"
)

// Validator accepts or rejects proposed bids. All checks and the append run
// inside the auction's serialized section, so two concurrent bids can never
// both be judged against the same high bid.
type Validator struct {
	ledger   domain.BidLedger
	listings domain.ListingStore
	deposits domain.DepositStore
	settings domain.SettingsProvider
	events   domain.EventPublisher
	guard    domain.SubmissionGuard
	cache    domain.AuctionCache
	newID    func() string
	logger   *slog.Logger
}

// NewValidator creates a Validator with all required dependencies.
func NewValidator(
	ledger domain.BidLedger,
	listings domain.ListingStore,
	deposits domain.DepositStore,
	settings domain.SettingsProvider,
	events domain.EventPublisher,
	logger *slog.Logger,
) *Validator {
	return &Validator{
		ledger:   ledger,
		listings: listings,
		deposits: deposits,
		settings: settings,
		events:   events,
		newID:    uuid.NewString,
		logger:   logger.With(slog.String("component", "bid_validator")),
	}
}

// WithSubmissionGuard rejects replayed SubmissionIDs.
func (v *Validator) WithSubmissionGuard(g domain.SubmissionGuard) *Validator {
	v.guard = g
	return v
}

// WithAuctionCache drops the cached snapshot after every accepted bid.
func (v *Validator) WithAuctionCache(c domain.AuctionCache) *Validator {
	v.cache = c
	return v
}

// SubmitBid validates req at now and appends it. Checks run in order:
// auction open, not the seller, authorized deposit (when required), amount
// at least the next minimum. A rejection leaves no trace.
func (v *Validator) SubmitBid(ctx context.Context, req domain.BidRequest, now time.Time) (domain.BidResult, error) {
	if req.AuctionID == "" || req.BidderID == "" {
		return domain.BidResult{}, fmt.Errorf("auction: submit bid: auction and bidder are required: %w", domain.ErrInvalidInput)
	}
	if !req.Amount.IsPositive() || !req.Amount.Equal(req.Amount.Round(2)) {
		return domain.BidResult{}, fmt.Errorf("auction: submit bid: amount %s must be positive whole cents: %w", req.Amount, domain.ErrInvalidInput)
	}

	settings, err := v.settings.Current(ctx)
	if err != nil {
		return domain.BidResult{}, fmt.Errorf("auction: submit bid: load settings: %w", err)
	}

	var (
		result  domain.BidResult
		claimed string
	)
	err = v.ledger.WithAuctionLock(ctx, req.AuctionID, func(ctx context.Context, tx domain.BidTx) error {
		a := tx.Auction()
		if !a.IsOpenAt(now) {
			return domain.ErrAuctionNotActive
		}

		listing, err := v.listings.GetByID(ctx, a.ListingID)
		if err != nil {
			return fmt.Errorf("load listing %s: %w", a.ListingID, err)
		}
		if listing.SellerID == req.BidderID {
			return domain.ErrSelfBid
		}

		if settings.DepositRequired {
			if err := v.requireDeposit(ctx, a.ID, req.BidderID); err != nil {
				return err
			}
		}

		high, hasHigh, err := tx.HighestBid(ctx)
		if err != nil {
			return fmt.Errorf("load high bid: %w", err)
		}
		var current *domain.Bid
		if hasHigh {
			current = &high
		}
		minimum := NextMinimum(a, current, settings)
		if req.Amount.LessThan(minimum) || (hasHigh && !req.Amount.GreaterThan(high.Amount)) {
			return &domain.BidTooLowError{Minimum: minimum}
		}

		dup, err := tx.HasBidAt(ctx, req.BidderID, now)
		if err != nil {
			return fmt.Errorf("check duplicate: %w", err)
		}
		if dup {
			return domain.ErrDuplicateBid
		}
		if v.guard != nil && req.SubmissionID != "" {
			key := "bid:" + a.ID + ":" + req.BidderID + ":" + req.SubmissionID
			seen, err := v.guard.Seen(ctx, key)
			if err != nil {
				return fmt.Errorf("check submission: %w", err)
			}
			if seen {
				return domain.ErrDuplicateBid
			}
			claimed = key
		}

		stored, err := tx.AppendBid(ctx, domain.Bid{
			ID:        v.newID(),
			AuctionID: a.ID,
			BidderID:  req.BidderID,
			Amount:    req.Amount,
			CreatedAt: now,
		})
		if err != nil {
			return fmt.Errorf("append bid: %w", err)
		}

		endAt, extended := MaybeExtend(a.EndAt, now, a.SoftCloseBuffer(settings.SoftCloseSeconds))
		if extended {
			if err := tx.UpdateEndAt(ctx, endAt); err != nil {
				return fmt.Errorf("extend end_at: %w", err)
			}
		}

		result = domain.BidResult{Bid: stored, EndAt: endAt, Extended: extended}
		if hasHigh && high.BidderID != req.BidderID {
			result.PreviousLeader = high.BidderID
		}
		return nil
	})
	if err != nil {
		if claimed != "" {
			v.forget(ctx, claimed)
		}
		if errors.Is(err, domain.ErrNotFound) {
			err = fmt.Errorf("%w: %w", domain.ErrAuctionNotActive, err)
		}
		return domain.BidResult{}, fmt.Errorf("auction: submit bid on %s: %w", req.AuctionID, err)
	}

	v.afterAccept(ctx, result, now)
	return result, nil
}

// forget releases a submission key whose bid was not stored, so the
// client's retry is judged afresh.
func (v *Validator) forget(ctx context.Context, key string) {
	if err := v.guard.Forget(context.WithoutCancel(ctx), key); err != nil {
		v.logger.WarnContext(ctx, "failed to release submission key",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

func (v *Validator) requireDeposit(ctx context.Context, auctionID, bidderID string) error {
	d, err := v.deposits.FindOpen(ctx, auctionID, bidderID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.ErrDepositRequired
	}
	if err != nil {
		return fmt.Errorf("load deposit: %w", err)
	}
	if d.Status != domain.DepositStatusAuthorized {
		return domain.ErrDepositRequired
	}
	return nil
}

// afterAccept runs the post-commit side effects. None of them can undo the
// accepted bid.
func (v *Validator) afterAccept(ctx context.Context, r domain.BidResult, now time.Time) {
	b := r.Bid
	v.logger.InfoContext(ctx, "bid accepted",
		slog.String("auction_id", b.AuctionID),
		slog.String("bidder_id", b.BidderID),
		slog.String("amount", b.Amount.StringFixed(2)),
		slog.Bool("extended", r.Extended),
	)

	if v.cache != nil {
		if err := v.cache.Invalidate(ctx, b.AuctionID); err != nil {
			v.logger.WarnContext(ctx, "failed to invalidate auction cache",
				slog.String("auction_id", b.AuctionID),
				slog.String("error", err.Error()),
			)
		}
	}

	v.events.Publish(ctx, domain.NewBidPlacedEvent(b, r.EndAt))
	if r.Extended {
		v.events.Publish(ctx, domain.NewAuctionExtendedEvent(b.AuctionID, r.EndAt, now))
	}
	if r.PreviousLeader != "" {
		v.events.Publish(ctx, domain.NewOutbidEvent(b.AuctionID, r.PreviousLeader, b.Amount, now))
	}
}
