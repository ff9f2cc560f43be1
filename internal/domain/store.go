package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// ListingStore reads the listings auctions are attached to.
type ListingStore interface {
	Upsert(ctx context.Context, l Listing) error
	GetByID(ctx context.Context, id string) (Listing, error)
}

// AuctionStore persists auctions. ClaimSettlement is the single
// concurrency-control point of settlement: it succeeds for at most one
// caller per lease and never for a processed auction.
type AuctionStore interface {
	Create(ctx context.Context, a Auction) error
	GetByID(ctx context.Context, id string) (Auction, error)

	// ListDue returns unprocessed auctions with EndAt <= now, oldest first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]Auction, error)

	// ClaimSettlement atomically takes the settlement lease when the
	// auction is unprocessed, ended at now and not leased by someone else.
	// It fails with ErrAlreadyProcessed, ErrAuctionNotEnded,
	// ErrSettlementInProgress or ErrNotFound.
	ClaimSettlement(ctx context.Context, id, token string, now, leaseUntil time.Time) (Auction, error)

	// ReleaseSettlement drops the lease held by token without processing.
	ReleaseSettlement(ctx context.Context, id, token string) error

	// MarkProcessed sets ProcessedAt and the final status, provided token
	// still holds the lease. Otherwise ErrStaleState.
	MarkProcessed(ctx context.Context, id, token string, at time.Time, status AuctionStatus) error

	// ListArchivable returns processed, unarchived auctions processed
	// before the cutoff.
	ListArchivable(ctx context.Context, before time.Time, limit int) ([]Auction, error)
	MarkArchived(ctx context.Context, id string, at time.Time) error
}

// BidStore reads the append-only bid history.
type BidStore interface {
	// ListByAuction returns bids in insertion order.
	ListByAuction(ctx context.Context, auctionID string) ([]Bid, error)
	HighestBid(ctx context.Context, auctionID string) (Bid, bool, error)
	CountByAuction(ctx context.Context, auctionID string) (int, error)
}

// BidLedger serialises bid placement per auction. fn runs with the auction
// row locked; if fn returns an error nothing it wrote is kept.
type BidLedger interface {
	WithAuctionLock(ctx context.Context, auctionID string, fn func(ctx context.Context, tx BidTx) error) error
}

// BidTx is the view of one auction inside WithAuctionLock.
type BidTx interface {
	Auction() Auction
	HighestBid(ctx context.Context) (Bid, bool, error)
	HasBidAt(ctx context.Context, bidderID string, at time.Time) (bool, error)
	// AppendBid stores b and returns it with Seq assigned.
	AppendBid(ctx context.Context, b Bid) (Bid, error)
	UpdateEndAt(ctx context.Context, endAt time.Time) error
}

// DepositStore persists deposits. Transition is a conditional update: it
// applies only when the stored status still equals from, otherwise it
// returns ErrStaleState.
type DepositStore interface {
	// Create fails with ErrAlreadyExists when an open (pending, authorized
	// or captured) deposit exists for the same auction and bidder.
	Create(ctx context.Context, d Deposit) error
	GetByID(ctx context.Context, id string) (Deposit, error)
	GetByPaymentRef(ctx context.Context, ref string) (Deposit, error)
	// FindOpen returns the open deposit for the pair, or ErrNotFound.
	FindOpen(ctx context.Context, auctionID, bidderID string) (Deposit, error)
	ListByAuction(ctx context.Context, auctionID string, statuses ...DepositStatus) ([]Deposit, error)
	Transition(ctx context.Context, id string, from, to DepositStatus, ch DepositChange) (Deposit, error)
}

// OrderStore persists orders. At most one auction order exists per
// (listing, buyer).
type OrderStore interface {
	// CreateIfAbsent inserts o or returns the existing auction order for
	// the same listing and buyer. created reports which.
	CreateIfAbsent(ctx context.Context, o Order) (stored Order, created bool, err error)
	GetByID(ctx context.Context, id string) (Order, error)
	GetByAuction(ctx context.Context, auctionID string) (Order, error)
}

// SettingsStore persists the flat key/value settings.
type SettingsStore interface {
	List(ctx context.Context) ([]SettingEntry, error)
	Upsert(ctx context.Context, e SettingEntry) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// Stores groups every persistence dependency of the core.
type Stores struct {
	Listings ListingStore
	Auctions AuctionStore
	Bids     BidStore
	Ledger   BidLedger
	Deposits DepositStore
	Orders   OrderStore
	Settings SettingsStore
	Audit    AuditStore
}
