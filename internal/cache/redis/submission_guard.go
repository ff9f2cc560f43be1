package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/mohammednour-ai/MatEx-sub001/internal/domain"
	"github.com/redis/go-redis/v9"
)

// SubmissionGuard implements domain.SubmissionGuard with SET NX, so a bid
// submission key is accepted once across every API instance.
type SubmissionGuard struct {
	c   *Client
	rdb *redis.Client
	ttl time.Duration
}

// NewSubmissionGuard creates a SubmissionGuard that remembers keys for ttl.
func NewSubmissionGuard(c *Client, ttl time.Duration) *SubmissionGuard {
	return &SubmissionGuard{c: c, rdb: c.Underlying(), ttl: ttl}
}

// Seen records key and reports whether it was already recorded.
func (g *SubmissionGuard) Seen(ctx context.Context, key string) (bool, error) {
	ok, err := g.rdb.SetNX(ctx, g.c.Key("bidsub:"+key), 1, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: submission guard %s: %w", key, err)
	}
	return !ok, nil
}

// Forget deletes key so the submission can be retried.
func (g *SubmissionGuard) Forget(ctx context.Context, key string) error {
	if err := g.rdb.Del(ctx, g.c.Key("bidsub:"+key)).Err(); err != nil {
		return fmt.Errorf("redis: forget submission %s: %w", key, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.SubmissionGuard = (*SubmissionGuard)(nil)
