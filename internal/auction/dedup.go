package auction

import (
	"context"
	"sync"
	"time"
)

// Dedup remembers bid submission keys so a replayed submission is rejected
// within a time-to-live window. It is safe for concurrent use and is the
// in-process SubmissionGuard; the Redis-backed guard is shared across
// instances.
type Dedup struct {
	seen   map[string]time.Time // submission key -> first seen
	ttl    time.Duration
	now    func() time.Time
	pruned time.Time
	mu     sync.Mutex
}

// NewDedup creates a Dedup that treats a key as a duplicate if it was seen
// within ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Seen reports whether key was recorded within the TTL. Unseen or expired
// keys are recorded and false is returned. Expired keys are pruned at most
// once per TTL.
func (d *Dedup) Seen(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if now.Sub(d.pruned) >= d.ttl {
		d.prune(now)
	}
	if first, ok := d.seen[key]; ok && now.Sub(first) < d.ttl {
		return true, nil
	}
	d.seen[key] = now
	return false, nil
}

// Forget drops key.
func (d *Dedup) Forget(_ context.Context, key string) error {
	d.mu.Lock()
	delete(d.seen, key)
	d.mu.Unlock()
	return nil
}

// Len returns the number of keys held.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

func (d *Dedup) prune(now time.Time) {
	for key, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, key)
		}
	}
	d.pruned = now
}
