package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// HoldRequest asks the processor to reserve funds without charging them.
type HoldRequest struct {
	Amount   decimal.Decimal
	Currency string
	// PayerRef identifies the bidder at the processor.
	PayerRef string
	// IdempotencyKey makes a retried authorization return the original hold.
	IdempotencyKey string
	Description    string
	Metadata       map[string]string
}

// Hold is the processor's view of a reservation.
type Hold struct {
	PaymentRef string
	Status     string
}

// PaymentGateway is the payment collaborator. Errors are *PaymentError so
// callers can tell permanent from transient failures.
type PaymentGateway interface {
	AuthorizeHold(ctx context.Context, req HoldRequest) (Hold, error)
	CaptureHold(ctx context.Context, paymentRef, idempotencyKey string) error
	// CancelOrRefundHold releases an uncaptured hold or refunds a captured
	// one; captured tells the gateway which external operation applies.
	CancelOrRefundHold(ctx context.Context, paymentRef string, captured bool, idempotencyKey string) error
}
