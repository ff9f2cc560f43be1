package settings

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/mohammednour-ai/MatEx-sub001/internal/domain"
	"github.com/mohammednour-ai/MatEx-sub001/internal/store/memory"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
)

// countingStore counts List calls.
type countingStore struct {
	domain.SettingsStore
	lists int
}

func (c *countingStore) List(ctx context.Context) ([]domain.SettingEntry, error) {
	c.lists++
	return c.SettingsStore.List(ctx)
}

func TestParse(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		entries []domain.SettingEntry
		check   func(t *testing.T, s domain.Settings)
		wantErr bool
	}{
		{
			name: "defaults for absent keys",
			check: func(t *testing.T, s domain.Settings) {
				check.True(t, s.DepositRequired)
				check.Equal(t, 120, s.SoftCloseSeconds)
				check.Equal(t, "0.04", s.FeeRate().String())
			},
		},
		{
			name: "overrides and JSON-quoted strings",
			entries: []domain.SettingEntry{
				{Key: domain.SettingDepositRequired, Value: "false"},
				{Key: domain.SettingDepositStrategy, Value: `"flat"`},
				{Key: domain.SettingSoftCloseSeconds, Value: "300"},
				{Key: domain.SettingFeePercent, Value: "0.05"},
			},
			check: func(t *testing.T, s domain.Settings) {
				check.False(t, s.DepositRequired)
				check.Equal(t, domain.DepositStrategyFlat, s.DepositStrategy)
				check.Equal(t, 300, s.SoftCloseSeconds)
				check.Equal(t, "0.05", s.FeeRate().String())
			},
		},
		{
			name:    "unknown keys ignored",
			entries: []domain.SettingEntry{{Key: "notifications.email", Value: "on"}},
			check: func(t *testing.T, s domain.Settings) {
				check.Equal(t, domain.DefaultSettings().DepositStrategy, s.DepositStrategy)
			},
		},
		{
			name:    "bad number",
			entries: []domain.SettingEntry{{Key: domain.SettingDepositPercent, Value: "ten"}},
			wantErr: true,
		},
		{
			name:    "bad strategy",
			entries: []domain.SettingEntry{{Key: domain.SettingMinIncrementStrategy, Value: "auto"}},
			wantErr: true,
		},
		{
			name:    "whole percentage fee refused",
			entries: []domain.SettingEntry{{Key: domain.SettingFeePercent, Value: "4"}},
			wantErr: true,
		},
		{
			name:    "whole percentage deposit refused",
			entries: []domain.SettingEntry{{Key: domain.SettingDepositPercent, Value: "10"}},
			wantErr: true,
		},
		{
			name: "percentage increment above one refused",
			entries: []domain.SettingEntry{
				{Key: domain.SettingMinIncrementStrategy, Value: domain.IncrementPercentage},
				{Key: domain.SettingMinIncrementValue, Value: "2"},
			},
			wantErr: true,
		},
		{
			name: "fixed increment above one is CAD",
			entries: []domain.SettingEntry{
				{Key: domain.SettingMinIncrementValue, Value: "25"},
			},
			check: func(t *testing.T, s domain.Settings) {
				check.Equal(t, "25", s.MinIncrementValue.String())
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Parse(tt.entries, domain.DefaultSettings())
			if tt.wantErr {
				check.True(t, errors.Is(err, domain.ErrInvalidInput))
				return
			}
			assert.NoError(t, err)
			tt.check(t, s)
		})
	}
}

func TestServiceCachesUntilTTL(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := &countingStore{SettingsStore: memory.New().Settings()}
	svc := NewService(store, domain.DefaultSettings(), time.Minute, slog.New(slog.DiscardHandler))
	clock := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return clock }

	_, err := svc.Current(ctx)
	assert.NoError(t, err)
	_, err = svc.Current(ctx)
	assert.NoError(t, err)
	check.Equal(t, 1, store.lists)

	// A write straight to the store is not seen until the TTL passes.
	assert.NoError(t, store.Upsert(ctx, domain.SettingEntry{Key: domain.SettingSoftCloseSeconds, Value: "30"}))
	s, _ := svc.Current(ctx)
	check.Equal(t, 120, s.SoftCloseSeconds)

	clock = clock.Add(time.Minute)
	s, _ = svc.Current(ctx)
	check.Equal(t, 30, s.SoftCloseSeconds)
	check.Equal(t, 2, store.lists)
}

func TestServiceSetInvalidatesImmediately(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := NewService(memory.New().Settings(), domain.DefaultSettings(), time.Hour, slog.New(slog.DiscardHandler))

	_, err := svc.Current(ctx)
	assert.NoError(t, err)
	assert.NoError(t, svc.Set(ctx, domain.SettingMinIncrementValue, "25", "admin-1"))

	s, err := svc.Current(ctx)
	assert.NoError(t, err)
	check.Equal(t, "25", s.MinIncrementValue.String())

	err = svc.Set(ctx, domain.SettingSoftCloseSeconds, "-5", "admin-1")
	check.True(t, errors.Is(err, domain.ErrInvalidInput))
	err = svc.Set(ctx, "auction.nope", "1", "admin-1")
	check.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestPercentBoundary(t *testing.T) {
	t.Parallel()
	tests := []struct {
		value   string
		wantFee string
		wantErr bool
	}{
		{value: "0", wantFee: "0"},
		{value: "0.005", wantFee: "0.75"},
		{value: "0.04", wantFee: "6"},
		{value: "0.5", wantFee: "75"},
		{value: "1", wantFee: "150"},
		{value: "1.01", wantErr: true},
		{value: "4", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			ctx := context.Background()
			svc := NewService(memory.New().Settings(), domain.DefaultSettings(), time.Hour, slog.New(slog.DiscardHandler))
			err := svc.Set(ctx, domain.SettingFeePercent, tt.value, "admin-1")
			if tt.wantErr {
				check.True(t, errors.Is(err, domain.ErrInvalidInput))
				return
			}
			assert.NoError(t, err)
			s, err := svc.Current(ctx)
			assert.NoError(t, err)
			fee := decimal.NewFromInt(150).Mul(s.FeeRate())
			check.True(t, fee.Equal(decimal.RequireFromString(tt.wantFee)))
		})
	}
}

func TestSetChecksAgainstStoredStrategy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := NewService(memory.New().Settings(), domain.DefaultSettings(), time.Hour, slog.New(slog.DiscardHandler))

	// The default fixed increment of 5 CAD is not a valid fraction.
	err := svc.Set(ctx, domain.SettingMinIncrementStrategy, domain.IncrementPercentage, "admin-1")
	check.True(t, errors.Is(err, domain.ErrInvalidInput))

	assert.NoError(t, svc.Set(ctx, domain.SettingMinIncrementValue, "0.02", "admin-1"))
	assert.NoError(t, svc.Set(ctx, domain.SettingMinIncrementStrategy, domain.IncrementPercentage, "admin-1"))

	err = svc.Set(ctx, domain.SettingMinIncrementValue, "5", "admin-1")
	check.True(t, errors.Is(err, domain.ErrInvalidInput))
}

// racingStore invalidates the service while a reload is reading.
type racingStore struct {
	domain.SettingsStore
	svc   *Service
	lists int
}

func (r *racingStore) List(ctx context.Context) ([]domain.SettingEntry, error) {
	r.lists++
	entries, err := r.SettingsStore.List(ctx)
	if r.lists == 1 {
		_ = r.SettingsStore.Upsert(ctx, domain.SettingEntry{Key: domain.SettingSoftCloseSeconds, Value: "30"})
		r.svc.Invalidate()
	}
	return entries, err
}

func TestInvalidateDuringReloadIsNotLost(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := &racingStore{SettingsStore: memory.New().Settings()}
	svc := NewService(store, domain.DefaultSettings(), time.Hour, slog.New(slog.DiscardHandler))
	store.svc = svc

	s, err := svc.Current(ctx)
	assert.NoError(t, err)
	check.Equal(t, 120, s.SoftCloseSeconds)

	s, err = svc.Current(ctx)
	assert.NoError(t, err)
	check.Equal(t, 30, s.SoftCloseSeconds)
	check.Equal(t, 2, store.lists)
}

func TestServiceWatchDropsCacheOnPeerWrite(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := memory.New().Settings()
	bus := memory.NewBus()
	writer := NewService(st, domain.DefaultSettings(), time.Hour, slog.New(slog.DiscardHandler)).WithBus(bus)
	reader := NewService(st, domain.DefaultSettings(), time.Hour, slog.New(slog.DiscardHandler)).WithBus(bus)

	_, err := reader.Current(ctx)
	assert.NoError(t, err)

	watching := make(chan struct{})
	go func() {
		close(watching)
		_ = reader.Watch(ctx)
	}()
	<-watching

	// Watch subscribes asynchronously; retry the write until the reader sees it.
	deadline := time.Now().Add(2 * time.Second)
	for {
		assert.NoError(t, writer.Set(ctx, domain.SettingSoftCloseSeconds, "45", "admin-1"))
		s, err := reader.Current(ctx)
		assert.NoError(t, err)
		if s.SoftCloseSeconds == 45 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("reader never saw the invalidation")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEntriesIncludesDefaults(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := NewService(memory.New().Settings(), domain.DefaultSettings(), time.Hour, slog.New(slog.DiscardHandler))
	assert.NoError(t, svc.Set(ctx, domain.SettingFeePercent, "0.05", "admin-1"))

	entries, err := svc.Entries(ctx)
	assert.NoError(t, err)
	check.Equal(t, 8, len(entries))
	for _, e := range entries {
		if e.Key == domain.SettingFeePercent {
			check.Equal(t, "0.05", e.Value)
			check.Equal(t, "admin-1", e.UpdatedBy)
		}
	}
}
