package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderType distinguishes auction settlements from fixed-price checkouts.
type OrderType string

const (
	OrderTypeAuction    OrderType = "auction"
	OrderTypeFixedPrice OrderType = "fixed_price"
)

// OrderStatus tracks the order lifecycle after settlement.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusFulfilled OrderStatus = "fulfilled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusDisputed  OrderStatus = "disputed"
	OrderStatusRefunded  OrderStatus = "refunded"
)

// Order is the settlement artifact handed to fulfilment. Invariants:
// Total = Subtotal + PlatformFee and
// RemainingBalance = max(Total - DepositApplied, 0).
type Order struct {
	ID               string          `json:"id"`
	Type             OrderType       `json:"type"`
	ListingID        string          `json:"listing_id"`
	AuctionID        string          `json:"auction_id,omitempty"`
	BuyerID          string          `json:"buyer_id"`
	SellerID         string          `json:"seller_id"`
	Subtotal         decimal.Decimal `json:"subtotal_cad"`
	PlatformFee      decimal.Decimal `json:"platform_fee_cad"`
	Total            decimal.Decimal `json:"total_cad"`
	DepositApplied   decimal.Decimal `json:"deposit_applied_cad"`
	RemainingBalance decimal.Decimal `json:"remaining_balance_cad"`
	Status           OrderStatus     `json:"status"`
	PaymentRef       string          `json:"payment_ref,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// NewSettlementOrder computes the order totals for a won auction.
func NewSettlementOrder(id string, auction Auction, listing Listing, winner Bid, fee, depositApplied decimal.Decimal, now time.Time) Order {
	total := winner.Amount.Add(fee)
	remaining := total.Sub(depositApplied)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	status := OrderStatusPending
	if !remaining.IsPositive() {
		status = OrderStatusPaid
	}
	return Order{
		ID:               id,
		Type:             OrderTypeAuction,
		ListingID:        listing.ID,
		AuctionID:        auction.ID,
		BuyerID:          winner.BidderID,
		SellerID:         listing.SellerID,
		Subtotal:         winner.Amount,
		PlatformFee:      fee,
		Total:            total,
		DepositApplied:   depositApplied,
		RemainingBalance: remaining,
		Status:           status,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}
