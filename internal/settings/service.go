// Package settings serves the flat key/value auction settings through a
// process-wide TTL cache that is invalidated on write.
package settings

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mohammednour-ai/MatEx-sub001/internal/domain"
	"github.com/shopspring/decimal"
)

// Service reads settings from the store at most once per TTL. Writes drop
// the local copy immediately and broadcast an invalidation so peers drop
// theirs.
type Service struct {
	store    domain.SettingsStore
	bus      domain.SignalBus
	defaults domain.Settings
	ttl      time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu       sync.RWMutex
	cached   domain.Settings
	loadedAt time.Time
	valid    bool
	// gen increments on every invalidation; a reload that started under an
	// older generation is returned but not cached.
	gen uint64
}

// NewService creates a settings Service. defaults supply absent keys and
// the process-level increment floor.
func NewService(store domain.SettingsStore, defaults domain.Settings, ttl time.Duration, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		defaults: defaults,
		ttl:      ttl,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "settings")),
	}
}

// WithBus enables cross-instance invalidation.
func (s *Service) WithBus(bus domain.SignalBus) *Service {
	s.bus = bus
	return s
}

// Current returns the cached settings, reloading when the TTL has passed.
func (s *Service) Current(ctx context.Context) (domain.Settings, error) {
	s.mu.RLock()
	if s.valid && s.now().Sub(s.loadedAt) < s.ttl {
		cur := s.cached
		s.mu.RUnlock()
		return cur, nil
	}
	gen := s.gen
	s.mu.RUnlock()

	parsed, err := s.load(ctx)
	if err != nil {
		return domain.Settings{}, fmt.Errorf("settings: load: %w", err)
	}

	s.mu.Lock()
	if s.gen == gen {
		s.cached = parsed
		s.loadedAt = s.now()
		s.valid = true
	}
	s.mu.Unlock()
	return parsed, nil
}

func (s *Service) load(ctx context.Context) (domain.Settings, error) {
	entries, err := s.store.List(ctx)
	if err != nil {
		return domain.Settings{}, err
	}
	return Parse(entries, s.defaults)
}

// Invalidate drops the cached copy and any reload already in flight.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.valid = false
	s.gen++
	s.mu.Unlock()
}

// Entries returns the effective value of every recognised key.
func (s *Service) Entries(ctx context.Context) ([]domain.SettingEntry, error) {
	stored, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("settings: list: %w", err)
	}
	byKey := make(map[string]domain.SettingEntry, len(stored))
	for _, e := range stored {
		byKey[e.Key] = e
	}
	defaults := Format(s.defaults)
	out := make([]domain.SettingEntry, 0, len(defaults))
	for key, value := range defaults {
		if e, ok := byKey[key]; ok {
			out = append(out, e)
			continue
		}
		out = append(out, domain.SettingEntry{Key: key, Value: value})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Set validates and stores one key, then invalidates every cache.
func (s *Service) Set(ctx context.Context, key, value, updatedBy string) error {
	value = unquote(value)
	next, err := s.load(ctx)
	if err != nil {
		return fmt.Errorf("settings: set %s: %w", key, err)
	}
	if err := apply(&next, key, value); err != nil {
		return fmt.Errorf("settings: set %s: %w", key, err)
	}
	if err := next.Validate(); err != nil {
		return fmt.Errorf("settings: set %s: %w", key, err)
	}
	if err := s.store.Upsert(ctx, domain.SettingEntry{
		Key:       key,
		Value:     value,
		UpdatedAt: s.now(),
		UpdatedBy: updatedBy,
	}); err != nil {
		return fmt.Errorf("settings: set %s: %w", key, err)
	}

	s.Invalidate()
	if s.bus != nil {
		if err := s.bus.Publish(ctx, domain.ChannelSettingsInvalidate, []byte(key)); err != nil {
			s.logger.WarnContext(ctx, "failed to broadcast settings invalidation",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
	}
	s.logger.InfoContext(ctx, "setting updated",
		slog.String("key", key),
		slog.String("value", value),
		slog.String("updated_by", updatedBy),
	)
	return nil
}

// Watch drops the local cache whenever a peer broadcasts a write. It
// blocks until ctx is cancelled.
func (s *Service) Watch(ctx context.Context) error {
	if s.bus == nil {
		<-ctx.Done()
		return nil
	}
	ch, err := s.bus.Subscribe(ctx, domain.ChannelSettingsInvalidate)
	if err != nil {
		return fmt.Errorf("settings: watch: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case key, ok := <-ch:
			if !ok {
				return nil
			}
			s.Invalidate()
			s.logger.DebugContext(ctx, "settings invalidated by peer", slog.String("key", string(key)))
		}
	}
}

// Parse overlays stored entries on defaults and validates the result.
// Unknown keys are ignored.
func Parse(entries []domain.SettingEntry, defaults domain.Settings) (domain.Settings, error) {
	out := defaults
	for _, e := range entries {
		if !isKnown(e.Key) {
			continue
		}
		if err := apply(&out, e.Key, unquote(e.Value)); err != nil {
			return domain.Settings{}, fmt.Errorf("key %s: %w", e.Key, err)
		}
	}
	if err := out.Validate(); err != nil {
		return domain.Settings{}, err
	}
	return out, nil
}

// Format renders settings as stored string values.
func Format(s domain.Settings) map[string]string {
	return map[string]string{
		domain.SettingDepositRequired:      strconv.FormatBool(s.DepositRequired),
		domain.SettingDepositPercent:       s.DepositPercent.String(),
		domain.SettingDepositFlatAmount:    s.DepositFlatAmount.String(),
		domain.SettingDepositStrategy:      s.DepositStrategy,
		domain.SettingSoftCloseSeconds:     strconv.Itoa(s.SoftCloseSeconds),
		domain.SettingMinIncrementStrategy: s.MinIncrementStrategy,
		domain.SettingMinIncrementValue:    s.MinIncrementValue.String(),
		domain.SettingFeePercent:           s.FeePercent.String(),
	}
}

func isKnown(key string) bool {
	_, ok := Format(domain.Settings{})[key]
	return ok
}

func apply(s *domain.Settings, key, value string) error {
	switch key {
	case domain.SettingDepositRequired:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%q is not a boolean: %w", value, domain.ErrInvalidInput)
		}
		s.DepositRequired = b
	case domain.SettingDepositPercent:
		return setAmount(&s.DepositPercent, value)
	case domain.SettingDepositFlatAmount:
		return setAmount(&s.DepositFlatAmount, value)
	case domain.SettingDepositStrategy:
		if value != domain.DepositStrategyPercent && value != domain.DepositStrategyFlat {
			return fmt.Errorf("deposit strategy %q must be percent or flat: %w", value, domain.ErrInvalidInput)
		}
		s.DepositStrategy = value
	case domain.SettingSoftCloseSeconds:
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("%q is not a non-negative integer: %w", value, domain.ErrInvalidInput)
		}
		s.SoftCloseSeconds = n
	case domain.SettingMinIncrementStrategy:
		if value != domain.IncrementFixed && value != domain.IncrementPercentage {
			return fmt.Errorf("increment strategy %q must be fixed or percentage: %w", value, domain.ErrInvalidInput)
		}
		s.MinIncrementStrategy = value
	case domain.SettingMinIncrementValue:
		return setAmount(&s.MinIncrementValue, value)
	case domain.SettingFeePercent:
		return setAmount(&s.FeePercent, value)
	default:
		return fmt.Errorf("unknown setting %q: %w", key, domain.ErrInvalidInput)
	}
	return nil
}

func setAmount(dst *decimal.Decimal, value string) error {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return fmt.Errorf("%q is not a number: %w", value, domain.ErrInvalidInput)
	}
	if d.IsNegative() {
		return fmt.Errorf("%q must not be negative: %w", value, domain.ErrInvalidInput)
	}
	*dst = d
	return nil
}

// unquote accepts JSON-encoded string values as written by older clients.
func unquote(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		return v[1 : len(v)-1]
	}
	return v
}

// Static is a SettingsProvider that always returns the same values.
type Static domain.Settings

func (s Static) Current(context.Context) (domain.Settings, error) {
	return domain.Settings(s), nil
}
