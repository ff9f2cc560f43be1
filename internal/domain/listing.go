package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ListingStatus tracks the marketplace visibility of a listing.
type ListingStatus string

const (
	ListingStatusDraft  ListingStatus = "draft"
	ListingStatusActive ListingStatus = "active"
	ListingStatusSold   ListingStatus = "sold"
	ListingStatusClosed ListingStatus = "closed"
)

// Listing is the part of a marketplace listing the auction core reads. The
// listing itself is owned by the catalogue; the core never mutates it.
type Listing struct {
	ID        string              `json:"id"`
	SellerID  string              `json:"seller_id"`
	Title     string              `json:"title"`
	PriceCAD  decimal.Decimal     `json:"price_cad"`
	BuyNowCAD decimal.NullDecimal `json:"buy_now_cad"`
	Status    ListingStatus       `json:"status"`
	CreatedAt time.Time           `json:"created_at"`
}

// BasePrice is the price deposits are computed from: the buy-now price when
// one is set and positive, otherwise the reference price.
func (l Listing) BasePrice() decimal.Decimal {
	if l.BuyNowCAD.Valid && l.BuyNowCAD.Decimal.IsPositive() {
		return l.BuyNowCAD.Decimal
	}
	return l.PriceCAD
}
