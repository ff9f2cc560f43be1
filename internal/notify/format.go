package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/mohammednour-ai/MatEx-sub001/internal/domain"
)

var titles = map[domain.EventType]string{
	domain.EventBidPlaced:               "Bid placed",
	domain.EventOutbid:                  "Outbid",
	domain.EventAuctionExtended:         "Auction extended",
	domain.EventAuctionWon:              "Auction won",
	domain.EventAuctionSold:             "Auction sold",
	domain.EventAuctionNoSale:           "Auction closed without sale",
	domain.EventBalancePaymentRequested: "Balance payment requested",
	domain.EventDepositAuthorized:       "Deposit authorized",
	domain.EventDepositCaptured:         "Deposit captured",
	domain.EventDepositRefunded:         "Deposit refunded",
	domain.EventDepositFailed:           "Deposit failed",
}

// Format renders ev as a title and a plain-text body of "key: value" lines.
// Amounts are CAD with two decimals.
func Format(ev domain.Event) (title, message string) {
	title, ok := titles[ev.Type]
	if !ok {
		title = string(ev.Type)
	}

	var b strings.Builder
	line := func(k, v string) {
		if v != "" {
			fmt.Fprintf(&b, "%s: %s\n", k, v)
		}
	}
	line("auction", ev.AuctionID)
	line("user", ev.UserID)
	if !ev.Amount.IsZero() {
		line("amount", ev.Amount.StringFixed(2)+" CAD")
	}
	line("order", ev.OrderID)
	line("deposit", ev.DepositID)
	if ev.EndAt != nil {
		line("ends", ev.EndAt.UTC().Format(time.RFC3339))
	}
	line("reason", ev.Reason)
	return title, strings.TrimRight(b.String(), "\n")
}
