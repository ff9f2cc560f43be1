// Package events fans core events out to the realtime bus, the durable
// event stream, the audit log and operator notifications.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mohammednour-ai/MatEx-sub001/internal/domain"
)

// Notifier forwards an event to operators.
type Notifier interface {
	NotifyEvent(ctx context.Context, ev domain.Event) error
}

// Publisher implements domain.EventPublisher. Every sink is optional and a
// failing sink never affects the others or the caller.
type Publisher struct {
	bus      domain.SignalBus
	audit    domain.AuditStore
	notifier Notifier
	timeout  time.Duration
	logger   *slog.Logger
}

// NewPublisher creates a Publisher with no sinks attached.
func NewPublisher(logger *slog.Logger) *Publisher {
	return &Publisher{
		timeout: 5 * time.Second,
		logger:  logger.With(slog.String("component", "events")),
	}
}

// WithBus publishes to auction:{id} and appends to the events stream.
func (p *Publisher) WithBus(bus domain.SignalBus) *Publisher {
	p.bus = bus
	return p
}

// WithAudit records every event in the audit log.
func (p *Publisher) WithAudit(audit domain.AuditStore) *Publisher {
	p.audit = audit
	return p
}

// WithNotifier forwards events to operator channels.
func (p *Publisher) WithNotifier(n Notifier) *Publisher {
	p.notifier = n
	return p
}

// Publish delivers ev to every sink. It detaches from the caller's
// cancellation so an event emitted after a commit still goes out when the
// request that caused it has returned.
func (p *Publisher) Publish(ctx context.Context, ev domain.Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	if p.bus != nil {
		payload, err := json.Marshal(ev)
		if err != nil {
			p.fail(ctx, ev, "marshal", err)
		} else {
			if err := p.bus.Publish(ctx, domain.AuctionChannel(ev.AuctionID), payload); err != nil {
				p.fail(ctx, ev, "bus_publish", err)
			}
			if err := p.bus.StreamAppend(ctx, domain.StreamEvents, payload); err != nil {
				p.fail(ctx, ev, "stream_append", err)
			}
		}
	}

	if p.audit != nil {
		if err := p.audit.Log(ctx, "event."+string(ev.Type), auditDetail(ev)); err != nil {
			p.fail(ctx, ev, "audit", err)
		}
	}

	if p.notifier != nil {
		if err := p.notifier.NotifyEvent(ctx, ev); err != nil {
			p.fail(ctx, ev, "notify", err)
		}
	}
}

func (p *Publisher) fail(ctx context.Context, ev domain.Event, sink string, err error) {
	p.logger.WarnContext(ctx, "event delivery failed",
		slog.String("sink", sink),
		slog.String("type", string(ev.Type)),
		slog.String("auction_id", ev.AuctionID),
		slog.String("error", err.Error()),
	)
}

func auditDetail(ev domain.Event) map[string]any {
	detail := map[string]any{
		"event_id":   ev.ID,
		"auction_id": ev.AuctionID,
		"amount":     ev.Amount.StringFixed(2),
		"at":         ev.At.Format(time.RFC3339Nano),
	}
	if ev.UserID != "" {
		detail["user_id"] = ev.UserID
	}
	if ev.OrderID != "" {
		detail["order_id"] = ev.OrderID
	}
	if ev.DepositID != "" {
		detail["deposit_id"] = ev.DepositID
	}
	if ev.Reason != "" {
		detail["reason"] = ev.Reason
	}
	if ev.EndAt != nil {
		detail["end_at"] = ev.EndAt.Format(time.RFC3339Nano)
	}
	return detail
}

// Recorder is an in-memory EventPublisher that keeps every event.
type Recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *Recorder) Publish(_ context.Context, ev domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.events...)
}

// OfType returns the recorded events of type t.
func (r *Recorder) OfType(t domain.EventType) []domain.Event {
	var out []domain.Event
	for _, ev := range r.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// Reset forgets every recorded event.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
