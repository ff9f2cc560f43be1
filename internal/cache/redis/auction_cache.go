package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mohammednour-ai/MatEx-sub001/internal/domain"
	"github.com/redis/go-redis/v9"
)

const defaultSnapshotTTL = 30 * time.Second

// AuctionCache implements domain.AuctionCache. Snapshots are a read model
// only; bid validation always reads the locked row.
//
// Key schema:
//
//	auction:{id}:snapshot - hash with field "data" containing JSON
type AuctionCache struct {
	c   *Client
	rdb *redis.Client
	ttl time.Duration
}

// NewAuctionCache creates an AuctionCache backed by the given Client.
func NewAuctionCache(c *Client, ttl time.Duration) *AuctionCache {
	if ttl <= 0 {
		ttl = defaultSnapshotTTL
	}
	return &AuctionCache{c: c, rdb: c.Underlying(), ttl: ttl}
}

func (ac *AuctionCache) key(id string) string { return ac.c.Key("auction:" + id + ":snapshot") }

// Set stores a snapshot with the cache TTL.
func (ac *AuctionCache) Set(ctx context.Context, snap domain.AuctionSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal snapshot %s: %w", snap.Auction.ID, err)
	}

	key := ac.key(snap.Auction.ID)
	pipe := ac.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, ac.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set snapshot %s: %w", snap.Auction.ID, err)
	}
	return nil
}

// Get returns the cached snapshot or domain.ErrNotFound.
func (ac *AuctionCache) Get(ctx context.Context, auctionID string) (domain.AuctionSnapshot, error) {
	data, err := ac.rdb.HGet(ctx, ac.key(auctionID), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.AuctionSnapshot{}, domain.ErrNotFound
		}
		return domain.AuctionSnapshot{}, fmt.Errorf("redis: get snapshot %s: %w", auctionID, err)
	}

	var snap domain.AuctionSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.AuctionSnapshot{}, fmt.Errorf("redis: unmarshal snapshot %s: %w", auctionID, err)
	}
	return snap, nil
}

// Invalidate drops the snapshot after a bid commits.
func (ac *AuctionCache) Invalidate(ctx context.Context, auctionID string) error {
	if err := ac.rdb.Del(ctx, ac.key(auctionID)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate snapshot %s: %w", auctionID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.AuctionCache = (*AuctionCache)(nil)
