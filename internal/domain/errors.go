package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")
	ErrStaleState    = errors.New("stale state")
	ErrInvalidInput  = errors.New("invalid input")

	// Bid validation.
	ErrAuctionNotActive = errors.New("auction not active")
	ErrSelfBid          = errors.New("seller cannot bid on own listing")
	ErrDepositRequired  = errors.New("authorized deposit required")
	ErrBidTooLow        = errors.New("bid below minimum")
	ErrDuplicateBid     = errors.New("duplicate bid submission")

	// Deposits and payments.
	ErrAlreadyAuthorized        = errors.New("deposit already authorized")
	ErrInvalidDepositTransition = errors.New("invalid deposit transition")
	ErrPaymentDeclined          = errors.New("payment declined")
	ErrPaymentUnavailable       = errors.New("payment processor unavailable")

	// Settlement.
	ErrAlreadyProcessed     = errors.New("auction already processed")
	ErrAuctionNotEnded      = errors.New("auction has not ended")
	ErrSettlementInProgress = errors.New("settlement in progress")
)

// IsConflict reports whether err is an idempotency signal ("someone already
// did this") rather than a failure worth retrying.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyProcessed) ||
		errors.Is(err, ErrAlreadyAuthorized) ||
		errors.Is(err, ErrSettlementInProgress) ||
		errors.Is(err, ErrDuplicateBid) ||
		errors.Is(err, ErrLockHeld)
}

// IsValidation reports whether err is a synchronous bid/deposit validation
// failure that the caller may retry with corrected input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrAuctionNotActive) ||
		errors.Is(err, ErrSelfBid) ||
		errors.Is(err, ErrDepositRequired) ||
		errors.Is(err, ErrBidTooLow) ||
		errors.Is(err, ErrInvalidInput)
}

// BidTooLowError rejects a bid below the next acceptable amount and carries
// that amount so the caller can retry.
type BidTooLowError struct {
	Minimum decimal.Decimal
}

func (e *BidTooLowError) Error() string {
	return fmt.Sprintf("bid below minimum: minimum is %s", e.Minimum.StringFixed(2))
}

func (e *BidTooLowError) Unwrap() error { return ErrBidTooLow }

// PaymentError is returned by payment gateways. Permanent failures (card
// declined, hold expired) mark the deposit failed; everything else leaves
// state unchanged so the call can be retried.
type PaymentError struct {
	Op        string
	Code      string
	Message   string
	Permanent bool
}

func (e *PaymentError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	if e.Code != "" {
		return fmt.Sprintf("payment %s: %s (%s): %s", e.Op, kind, e.Code, e.Message)
	}
	return fmt.Sprintf("payment %s: %s: %s", e.Op, kind, e.Message)
}

func (e *PaymentError) Unwrap() error {
	if e.Permanent {
		return ErrPaymentDeclined
	}
	return ErrPaymentUnavailable
}

// IsPermanentPayment reports whether err is a permanent processor failure.
// Errors that are not PaymentErrors are treated as transient.
func IsPermanentPayment(err error) bool {
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe.Permanent
	}
	return errors.Is(err, ErrPaymentDeclined)
}
