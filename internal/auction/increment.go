package auction

import (
	"github.com/mohammednour-ai/MatEx-sub001/internal/domain"
	"github.com/shopspring/decimal"
)

// fixedIncrement is the auction's own increment when set, else fallback.
func fixedIncrement(a domain.Auction, fallback decimal.Decimal) decimal.Decimal {
	if a.MinIncrementCAD.Valid && a.MinIncrementCAD.Decimal.IsPositive() {
		return a.MinIncrementCAD.Decimal
	}
	return fallback
}

// MinIncrement returns the smallest amount a new bid must add to high.
//
// Under the fixed strategy it is the auction's increment or
// auction.min_increment_value. Under the percentage strategy it is
// high * min_increment_value (a fraction), never less than the fixed floor.
// The result is rounded up to whole cents.
func MinIncrement(a domain.Auction, high decimal.Decimal, s domain.Settings) decimal.Decimal {
	var inc decimal.Decimal
	switch s.MinIncrementStrategy {
	case domain.IncrementPercentage:
		floor := fixedIncrement(a, s.MinIncrementFloor)
		inc = decimal.Max(high.Mul(s.IncrementRate()), floor)
	default:
		inc = fixedIncrement(a, s.MinIncrementValue)
	}
	if inc.IsNegative() {
		inc = decimal.Zero
	}
	return inc.RoundCeil(2)
}

// NextMinimum returns the lowest acceptable amount for the next bid. With
// no bid yet it is the starting bid, or the increment over zero when the
// auction has no starting bid.
func NextMinimum(a domain.Auction, high *domain.Bid, s domain.Settings) decimal.Decimal {
	if high == nil {
		if a.StartingBid.IsPositive() {
			return a.StartingBid
		}
		return MinIncrement(a, decimal.Zero, s)
	}
	return high.Amount.Add(MinIncrement(a, high.Amount, s))
}
