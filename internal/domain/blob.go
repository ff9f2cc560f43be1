package domain

import (
	"context"
	"io"
	"time"

	"github.com/shopspring/decimal"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// DepositOutcome records what settlement did to one deposit.
type DepositOutcome struct {
	DepositID string          `json:"deposit_id"`
	BidderID  string          `json:"bidder_id"`
	Amount    decimal.Decimal `json:"amount"`
	Status    DepositStatus   `json:"status"`
	Reason    string          `json:"reason,omitempty"`
}

// SettlementReceipt is the archived record of one settlement.
type SettlementReceipt struct {
	AuctionID string           `json:"auction_id"`
	ListingID string           `json:"listing_id"`
	Status    AuctionStatus    `json:"status"`
	Winner    *Bid             `json:"winner,omitempty"`
	Order     *Order           `json:"order,omitempty"`
	Deposits  []DepositOutcome `json:"deposits"`
	BidCount  int              `json:"bid_count"`
	SettledAt time.Time        `json:"settled_at"`
}

// ReceiptStore archives settlement receipts.
type ReceiptStore interface {
	PutReceipt(ctx context.Context, r SettlementReceipt) error
	GetReceipt(ctx context.Context, auctionID string) (SettlementReceipt, error)
}

// Archiver moves history of processed auctions to cold storage.
type Archiver interface {
	ArchiveAuctions(ctx context.Context, before time.Time) (int64, error)
	ArchiveAudit(ctx context.Context, before time.Time) (int64, error)
}
