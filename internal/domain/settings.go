package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Setting keys recognised by the auction core.
const (
	SettingDepositRequired      = "auction.deposit_required"
	SettingDepositPercent       = "auction.deposit_percent"
	SettingDepositFlatAmount    = "auction.deposit_flat_amount"
	SettingDepositStrategy      = "auction.deposit_strategy"
	SettingSoftCloseSeconds     = "auction.soft_close_seconds"
	SettingMinIncrementStrategy = "auction.min_increment_strategy"
	SettingMinIncrementValue    = "auction.min_increment_value"
	SettingFeePercent           = "fees.transaction_percent"
)

// Deposit strategies.
const (
	DepositStrategyPercent = "percent"
	DepositStrategyFlat    = "flat"
)

// Increment strategies.
const (
	IncrementFixed      = "fixed"
	IncrementPercentage = "percentage"
)

// Settings is the typed view of the flat key/value configuration.
// Percentages are fractions: 0.1 is 10%. Under the percentage increment
// strategy MinIncrementValue is a fraction too; under fixed it is CAD.
type Settings struct {
	DepositRequired      bool            `json:"auction.deposit_required"`
	DepositPercent       decimal.Decimal `json:"auction.deposit_percent"`
	DepositFlatAmount    decimal.Decimal `json:"auction.deposit_flat_amount"`
	DepositStrategy      string          `json:"auction.deposit_strategy"`
	SoftCloseSeconds     int             `json:"auction.soft_close_seconds"`
	MinIncrementStrategy string          `json:"auction.min_increment_strategy"`
	MinIncrementValue    decimal.Decimal `json:"auction.min_increment_value"`
	FeePercent           decimal.Decimal `json:"fees.transaction_percent"`

	// MinIncrementFloor is the fixed floor applied under the percentage
	// strategy when the auction does not set its own increment. It comes
	// from process configuration, not the settings table.
	MinIncrementFloor decimal.Decimal `json:"-"`
}

// DefaultSettings returns the values used when a key is absent.
func DefaultSettings() Settings {
	return Settings{
		DepositRequired:      true,
		DepositPercent:       decimal.RequireFromString("0.1"),
		DepositFlatAmount:    decimal.NewFromInt(50),
		DepositStrategy:      DepositStrategyPercent,
		SoftCloseSeconds:     120,
		MinIncrementStrategy: IncrementFixed,
		MinIncrementValue:    decimal.NewFromInt(5),
		FeePercent:           decimal.RequireFromString("0.04"),
		MinIncrementFloor:    decimal.NewFromInt(5),
	}
}

var one = decimal.NewFromInt(1)

// DepositRate is the deposit percentage as a fraction.
func (s Settings) DepositRate() decimal.Decimal { return s.DepositPercent }

// FeeRate is the platform fee percentage as a fraction.
func (s Settings) FeeRate() decimal.Decimal { return s.FeePercent }

// IncrementRate is the percentage increment as a fraction. Only meaningful
// under the percentage strategy.
func (s Settings) IncrementRate() decimal.Decimal { return s.MinIncrementValue }

// Validate rejects values outside their domain. Percentages above 1 are
// refused, never read as whole percentages.
func (s Settings) Validate() error {
	for _, f := range []struct {
		key string
		v   decimal.Decimal
	}{
		{SettingDepositPercent, s.DepositPercent},
		{SettingFeePercent, s.FeePercent},
	} {
		if f.v.IsNegative() || f.v.GreaterThan(one) {
			return fmt.Errorf("%s = %s must be a fraction between 0 and 1: %w", f.key, f.v, ErrInvalidInput)
		}
	}
	if s.MinIncrementValue.IsNegative() {
		return fmt.Errorf("%s must not be negative: %w", SettingMinIncrementValue, ErrInvalidInput)
	}
	if s.MinIncrementStrategy == IncrementPercentage && s.MinIncrementValue.GreaterThan(one) {
		return fmt.Errorf("%s = %s must be a fraction between 0 and 1 under the percentage strategy: %w",
			SettingMinIncrementValue, s.MinIncrementValue, ErrInvalidInput)
	}
	return nil
}

// SettingEntry is one stored key/value row.
type SettingEntry struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
	UpdatedBy string    `json:"updated_by,omitempty"`
}

// SettingsProvider returns the current settings, possibly from a cache.
type SettingsProvider interface {
	Current(ctx context.Context) (Settings, error)
}
