package memory

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/mohammednour-ai/MatEx-sub001/internal/domain"
)

// Bus is an in-process SignalBus for single-instance deployments. Channel
// patterns ending in '*' match by prefix, like Redis PSUBSCRIBE.
type Bus struct {
	mu      sync.Mutex
	subs    map[string][]chan []byte
	streams map[string][]domain.StreamMessage
	seq     int64
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{
		subs:    make(map[string][]chan []byte),
		streams: make(map[string][]domain.StreamMessage),
	}
}

func matches(pattern, channel string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(channel, prefix)
	}
	return pattern == channel
}

// Publish delivers payload to every matching subscriber. Slow subscribers
// drop messages rather than block the publisher.
func (b *Bus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for pattern, chans := range b.subs {
		if !matches(pattern, channel) {
			continue
		}
		for _, ch := range chans {
			select {
			case ch <- payload:
			default:
			}
		}
	}
	return nil
}

// Subscribe returns a channel that receives messages until ctx is done.
func (b *Bus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, 256)
	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[channel]
		for i, c := range list {
			if c == ch {
				b.subs[channel] = append(list[:i], list[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

func (b *Bus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	b.streams[stream] = append(b.streams[stream], domain.StreamMessage{
		ID:      strconv.FormatInt(b.seq, 10) + "-0",
		Payload: payload,
	})
	return nil
}

// StreamRead returns up to count entries after lastID ("0" reads from the
// start). It never blocks.
func (b *Bus) StreamRead(_ context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	after := streamSeq(lastID)
	var out []domain.StreamMessage
	for _, m := range b.streams[stream] {
		if streamSeq(m.ID) <= after {
			continue
		}
		out = append(out, m)
		if count > 0 && len(out) == count {
			break
		}
	}
	return out, nil
}

func streamSeq(id string) int64 {
	head, _, _ := strings.Cut(id, "-")
	n, _ := strconv.ParseInt(head, 10, 64)
	return n
}

var _ domain.SignalBus = (*Bus)(nil)
