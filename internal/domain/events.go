package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// EventType names an auction lifecycle event.
type EventType string

const (
	EventBidPlaced               EventType = "bid_placed"
	EventOutbid                  EventType = "outbid"
	EventAuctionExtended         EventType = "auction_extended"
	EventAuctionWon              EventType = "auction_won"
	EventAuctionSold             EventType = "auction_sold"
	EventAuctionNoSale           EventType = "auction_no_sale"
	EventBalancePaymentRequested EventType = "balance_payment_requested"
	EventDepositAuthorized       EventType = "deposit_authorized"
	EventDepositCaptured         EventType = "deposit_captured"
	EventDepositRefunded         EventType = "deposit_refunded"
	EventDepositFailed           EventType = "deposit_failed"
)

// Event is a structured notification emitted by the core. UserID is the
// party the event is addressed to, when there is one.
type Event struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	AuctionID string            `json:"auction_id"`
	UserID    string            `json:"user_id,omitempty"`
	Amount    decimal.Decimal   `json:"amount"`
	EndAt     *time.Time        `json:"end_at,omitempty"`
	OrderID   string            `json:"order_id,omitempty"`
	DepositID string            `json:"deposit_id,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	At        time.Time         `json:"at"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// EventPublisher delivers events to the notification and audit sinks.
// Delivery is best effort: Publish never fails the caller's operation.
type EventPublisher interface {
	Publish(ctx context.Context, ev Event)
}

// EventPublisherFunc adapts a function to EventPublisher.
type EventPublisherFunc func(ctx context.Context, ev Event)

func (f EventPublisherFunc) Publish(ctx context.Context, ev Event) { f(ctx, ev) }

// AuctionChannel is the pub/sub channel carrying events for one auction.
func AuctionChannel(auctionID string) string {
	return "auction:" + auctionID
}

// Event constructors keep the payload shape per type in one place.

func NewBidPlacedEvent(b Bid, endAt time.Time) Event {
	return Event{Type: EventBidPlaced, AuctionID: b.AuctionID, UserID: b.BidderID, Amount: b.Amount, EndAt: &endAt, At: b.CreatedAt}
}

func NewOutbidEvent(auctionID, previousLeaderID string, newAmount decimal.Decimal, at time.Time) Event {
	return Event{Type: EventOutbid, AuctionID: auctionID, UserID: previousLeaderID, Amount: newAmount, At: at}
}

func NewAuctionExtendedEvent(auctionID string, endAt, at time.Time) Event {
	return Event{Type: EventAuctionExtended, AuctionID: auctionID, EndAt: &endAt, At: at}
}

func NewAuctionWonEvent(auctionID, winnerID string, amount decimal.Decimal, orderID string, at time.Time) Event {
	return Event{Type: EventAuctionWon, AuctionID: auctionID, UserID: winnerID, Amount: amount, OrderID: orderID, At: at}
}

func NewAuctionSoldEvent(auctionID, sellerID string, amount decimal.Decimal, orderID string, at time.Time) Event {
	return Event{Type: EventAuctionSold, AuctionID: auctionID, UserID: sellerID, Amount: amount, OrderID: orderID, At: at}
}

func NewAuctionNoSaleEvent(auctionID, sellerID string, at time.Time) Event {
	return Event{Type: EventAuctionNoSale, AuctionID: auctionID, UserID: sellerID, At: at}
}

func NewBalancePaymentRequestedEvent(o Order, at time.Time) Event {
	return Event{Type: EventBalancePaymentRequested, AuctionID: o.AuctionID, UserID: o.BuyerID, Amount: o.RemainingBalance, OrderID: o.ID, At: at}
}

func NewDepositEvent(t EventType, d Deposit, at time.Time) Event {
	return Event{Type: t, AuctionID: d.AuctionID, UserID: d.BidderID, Amount: d.Amount, DepositID: d.ID, Reason: d.FailureReason, At: at}
}
