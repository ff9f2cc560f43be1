package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DepositStatus tracks a payment hold through its one-directional lifecycle:
// pending -> authorized -> captured|refunded|failed.
type DepositStatus string

const (
	DepositStatusPending    DepositStatus = "pending"
	DepositStatusAuthorized DepositStatus = "authorized"
	DepositStatusCaptured   DepositStatus = "captured"
	DepositStatusRefunded   DepositStatus = "refunded"
	DepositStatusFailed     DepositStatus = "failed"
)

var depositTransitions = map[DepositStatus][]DepositStatus{
	DepositStatusPending:    {DepositStatusAuthorized, DepositStatusFailed},
	DepositStatusAuthorized: {DepositStatusCaptured, DepositStatusRefunded, DepositStatusFailed},
	DepositStatusCaptured:   {DepositStatusRefunded},
}

// CanTransitionTo reports whether moving from s to next is allowed.
// authorized -> authorized is not a transition.
func (s DepositStatus) CanTransitionTo(next DepositStatus) bool {
	for _, allowed := range depositTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsActive reports whether the deposit currently holds or has taken funds.
func (s DepositStatus) IsActive() bool {
	return s == DepositStatusAuthorized || s == DepositStatusCaptured
}

// IsTerminal reports whether no further transition is possible from
// the bidder's side.
func (s DepositStatus) IsTerminal() bool {
	return s == DepositStatusRefunded || s == DepositStatusFailed
}

// Deposit is a payment hold tied to one (auction, bidder) pair.
type Deposit struct {
	ID            string          `json:"id"`
	AuctionID     string          `json:"auction_id"`
	BidderID      string          `json:"bidder_id"`
	Amount        decimal.Decimal `json:"amount"`
	Status        DepositStatus   `json:"status"`
	PaymentRef    string          `json:"payment_ref,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	AuthorizedAt  *time.Time      `json:"authorized_at,omitempty"`
	CapturedAt    *time.Time      `json:"captured_at,omitempty"`
	RefundedAt    *time.Time      `json:"refunded_at,omitempty"`
	FailedAt      *time.Time      `json:"failed_at,omitempty"`
}

// DepositChange carries the fields written alongside a status transition.
type DepositChange struct {
	PaymentRef    string
	FailureReason string
	At            time.Time
}

// Apply returns a copy of d moved to status to with the transition
// timestamp and change fields set. It does not check the transition.
func (d Deposit) Apply(to DepositStatus, ch DepositChange) Deposit {
	at := ch.At
	d.Status = to
	if ch.PaymentRef != "" {
		d.PaymentRef = ch.PaymentRef
	}
	switch to {
	case DepositStatusAuthorized:
		d.AuthorizedAt = &at
	case DepositStatusCaptured:
		d.CapturedAt = &at
	case DepositStatusRefunded:
		d.RefundedAt = &at
	case DepositStatusFailed:
		d.FailedAt = &at
		d.FailureReason = ch.FailureReason
	}
	return d
}
