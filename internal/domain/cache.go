package domain

import (
	"context"
	"time"
)

// AuctionCache holds the read-model snapshot served to bidders.
type AuctionCache interface {
	Set(ctx context.Context, snap AuctionSnapshot) error
	Get(ctx context.Context, auctionID string) (AuctionSnapshot, error)
	Invalidate(ctx context.Context, auctionID string) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SubmissionGuard remembers bid submission keys for a TTL. Seen records
// key and returns true when it was already recorded within the window.
// Forget releases a key recorded by a submission that was not stored.
type SubmissionGuard interface {
	Seen(ctx context.Context, key string) (bool, error)
	Forget(ctx context.Context, key string) error
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// Well-known bus channels and streams.
const (
	ChannelSettingsInvalidate = "settings:invalidate"
	StreamEvents              = "events"
)
