package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AuctionStatus tracks the auction lifecycle.
type AuctionStatus string

const (
	AuctionStatusActive    AuctionStatus = "active"
	AuctionStatusEnded     AuctionStatus = "ended"
	AuctionStatusCompleted AuctionStatus = "completed"
	AuctionStatusCancelled AuctionStatus = "cancelled"
)

// Auction is one listing's timed sale window. EndAt moves forward under
// soft close; ProcessedAt is the settlement idempotency marker.
type Auction struct {
	ID        string    `json:"id"`
	ListingID string    `json:"listing_id"`
	StartAt   time.Time `json:"start_at"`
	EndAt     time.Time `json:"end_at"`

	// StartingBid is the lowest acceptable opening bid. Zero means the
	// opening bid only has to clear the minimum increment.
	StartingBid decimal.Decimal `json:"starting_bid"`

	// MinIncrementCAD overrides the configured fixed increment (and the
	// floor of the percentage strategy) for this auction.
	MinIncrementCAD decimal.NullDecimal `json:"min_increment_cad"`

	// SoftCloseSeconds overrides auction.soft_close_seconds when > 0.
	SoftCloseSeconds int `json:"soft_close_seconds"`

	Status      AuctionStatus `json:"status"`
	ProcessedAt *time.Time    `json:"processed_at,omitempty"`
	ArchivedAt  *time.Time    `json:"archived_at,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Validate checks the structural invariants of a new auction.
func (a Auction) Validate() error {
	if a.ID == "" || a.ListingID == "" {
		return fmt.Errorf("auction: id and listing_id are required: %w", ErrInvalidInput)
	}
	if !a.EndAt.After(a.StartAt) {
		return fmt.Errorf("auction %s: end_at must be after start_at: %w", a.ID, ErrInvalidInput)
	}
	if a.StartingBid.IsNegative() {
		return fmt.Errorf("auction %s: starting_bid must not be negative: %w", a.ID, ErrInvalidInput)
	}
	return nil
}

// IsOpenAt reports whether bids may be accepted at now: the auction is
// active, unprocessed and now lies in [StartAt, EndAt).
func (a Auction) IsOpenAt(now time.Time) bool {
	if a.Status != AuctionStatusActive || a.ProcessedAt != nil {
		return false
	}
	return !now.Before(a.StartAt) && now.Before(a.EndAt)
}

// IsProcessed reports whether settlement has completed for this auction.
func (a Auction) IsProcessed() bool {
	return a.ProcessedAt != nil
}

// SoftCloseBuffer returns the auction's soft-close window, falling back to
// the configured default.
func (a Auction) SoftCloseBuffer(defaultSeconds int) time.Duration {
	secs := defaultSeconds
	if a.SoftCloseSeconds > 0 {
		secs = a.SoftCloseSeconds
	}
	return time.Duration(secs) * time.Second
}

// AuctionSnapshot is the read model served to bidders: the auction, its
// current leader and the next acceptable amount.
type AuctionSnapshot struct {
	Auction     Auction         `json:"auction"`
	HighBid     *Bid            `json:"high_bid,omitempty"`
	BidCount    int             `json:"bid_count"`
	NextMinimum decimal.Decimal `json:"next_minimum"`
	AsOf        time.Time       `json:"as_of"`
}
