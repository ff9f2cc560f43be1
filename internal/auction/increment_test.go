package auction

import (
	"testing"

	"github.com/mohammednour-ai/MatEx-sub001/internal/domain"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestMinIncrement(t *testing.T) {
	t.Parallel()

	fixed := domain.DefaultSettings()
	fixed.MinIncrementStrategy = domain.IncrementFixed
	fixed.MinIncrementValue = dec("5")

	pct := domain.DefaultSettings()
	pct.MinIncrementStrategy = domain.IncrementPercentage
	pct.MinIncrementValue = dec("0.02")
	pct.MinIncrementFloor = dec("5")

	override := domain.Auction{MinIncrementCAD: decimal.NewNullDecimal(dec("25"))}

	tests := []struct {
		name     string
		auction  domain.Auction
		high     string
		settings domain.Settings
		want     string
	}{
		{"fixed uses setting", domain.Auction{}, "100", fixed, "5.00"},
		{"fixed uses auction override", override, "100", fixed, "25.00"},
		{"percentage above floor", domain.Auction{}, "1000", pct, "20.00"},
		{"percentage below floor", domain.Auction{}, "100", pct, "5.00"},
		{"percentage floor from auction", override, "1000", pct, "25.00"},
		{"percentage rounds up to cents", domain.Auction{}, "1234.56", pct, "24.70"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MinIncrement(tt.auction, dec(tt.high), tt.settings)
			check.Equal(t, tt.want, got.StringFixed(2))
		})
	}
}

func TestNextMinimum(t *testing.T) {
	t.Parallel()
	s := domain.DefaultSettings()
	s.MinIncrementStrategy = domain.IncrementFixed
	s.MinIncrementValue = dec("5")

	t.Run("opening bid uses starting bid", func(t *testing.T) {
		a := domain.Auction{StartingBid: dec("80")}
		check.Equal(t, "80.00", NextMinimum(a, nil, s).StringFixed(2))
	})
	t.Run("opening bid without starting bid", func(t *testing.T) {
		check.Equal(t, "5.00", NextMinimum(domain.Auction{}, nil, s).StringFixed(2))
	})
	t.Run("after a bid", func(t *testing.T) {
		high := domain.Bid{Amount: dec("150")}
		check.Equal(t, "155.00", NextMinimum(domain.Auction{StartingBid: dec("80")}, &high, s).StringFixed(2))
	})
}
