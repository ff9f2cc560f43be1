package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bid is an immutable, append-only bid record. Seq is the insertion order
// assigned by storage and breaks ties between bids with equal CreatedAt.
type Bid struct {
	ID        string          `json:"id"`
	AuctionID string          `json:"auction_id"`
	BidderID  string          `json:"bidder_id"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
	Seq       int64           `json:"seq"`
}

// BidRequest is a proposed bid as submitted by a bidder.
type BidRequest struct {
	AuctionID string          `json:"auction_id"`
	BidderID  string          `json:"bidder_id"`
	Amount    decimal.Decimal `json:"amount"`
	// SubmissionID is an optional client-generated key used to reject
	// replays of the same submission.
	SubmissionID string `json:"submission_id,omitempty"`
}

// BidResult describes an accepted bid and its effect on the auction.
type BidResult struct {
	Bid            Bid       `json:"bid"`
	EndAt          time.Time `json:"end_at"`
	Extended       bool      `json:"extended"`
	PreviousLeader string    `json:"previous_leader,omitempty"`
}
