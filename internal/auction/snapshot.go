package auction

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mohammednour-ai/MatEx-sub001/internal/domain"
)

// Reader serves the bidder-facing auction snapshot, reading through the
// auction cache when one is configured.
type Reader struct {
	auctions domain.AuctionStore
	bids     domain.BidStore
	settings domain.SettingsProvider
	cache    domain.AuctionCache
	logger   *slog.Logger
}

// NewReader creates a Reader. cache may be nil.
func NewReader(auctions domain.AuctionStore, bids domain.BidStore, settings domain.SettingsProvider, cache domain.AuctionCache, logger *slog.Logger) *Reader {
	return &Reader{
		auctions: auctions,
		bids:     bids,
		settings: settings,
		cache:    cache,
		logger:   logger.With(slog.String("component", "auction_reader")),
	}
}

// Snapshot returns the auction with its current high bid and the next
// acceptable amount.
func (r *Reader) Snapshot(ctx context.Context, auctionID string, now time.Time) (domain.AuctionSnapshot, error) {
	if r.cache != nil {
		if snap, err := r.cache.Get(ctx, auctionID); err == nil {
			return snap, nil
		}
	}

	a, err := r.auctions.GetByID(ctx, auctionID)
	if err != nil {
		return domain.AuctionSnapshot{}, fmt.Errorf("auction: snapshot %s: %w", auctionID, err)
	}
	settings, err := r.settings.Current(ctx)
	if err != nil {
		return domain.AuctionSnapshot{}, fmt.Errorf("auction: snapshot %s: settings: %w", auctionID, err)
	}
	high, ok, err := r.bids.HighestBid(ctx, auctionID)
	if err != nil {
		return domain.AuctionSnapshot{}, fmt.Errorf("auction: snapshot %s: high bid: %w", auctionID, err)
	}
	count, err := r.bids.CountByAuction(ctx, auctionID)
	if err != nil {
		return domain.AuctionSnapshot{}, fmt.Errorf("auction: snapshot %s: bid count: %w", auctionID, err)
	}

	snap := domain.AuctionSnapshot{Auction: a, BidCount: count, AsOf: now}
	if ok {
		snap.HighBid = &high
	}
	snap.NextMinimum = NextMinimum(a, snap.HighBid, settings)

	if r.cache != nil {
		if err := r.cache.Set(ctx, snap); err != nil {
			r.logger.WarnContext(ctx, "failed to cache auction snapshot",
				slog.String("auction_id", auctionID),
				slog.String("error", err.Error()),
			)
		}
	}
	return snap, nil
}

// Bids returns the bid history in insertion order.
func (r *Reader) Bids(ctx context.Context, auctionID string) ([]domain.Bid, error) {
	if _, err := r.auctions.GetByID(ctx, auctionID); err != nil {
		return nil, fmt.Errorf("auction: bids %s: %w", auctionID, err)
	}
	bids, err := r.bids.ListByAuction(ctx, auctionID)
	if err != nil {
		return nil, fmt.Errorf("auction: bids %s: %w", auctionID, err)
	}
	return bids, nil
}
