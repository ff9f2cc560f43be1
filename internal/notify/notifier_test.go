package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/mohammednour-ai/MatEx-sub001/internal/domain"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
)

type captureSender struct {
	name string
	err  error

	mu     sync.Mutex
	titles []string
	bodies []string
}

func (c *captureSender) Send(_ context.Context, title, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.titles = append(c.titles, title)
	c.bodies = append(c.bodies, message)
	return c.err
}

func (c *captureSender) Name() string { return c.name }

func TestFormat(t *testing.T) {
	t.Parallel()
	end := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		ev        domain.Event
		wantTitle string
		wantBody  string
	}{
		{
			name:      "sold",
			ev:        domain.Event{Type: domain.EventAuctionSold, AuctionID: "A1", UserID: "seller", Amount: decimal.RequireFromString("150"), OrderID: "O1"},
			wantTitle: "Auction sold",
			wantBody:  "auction: A1\nuser: seller\namount: 150.00 CAD\norder: O1",
		},
		{
			name:      "extended",
			ev:        domain.Event{Type: domain.EventAuctionExtended, AuctionID: "A1", EndAt: &end},
			wantTitle: "Auction extended",
			wantBody:  "auction: A1\nends: 2026-03-02T09:00:00Z",
		},
		{
			name:      "deposit failed",
			ev:        domain.Event{Type: domain.EventDepositFailed, AuctionID: "A1", DepositID: "D1", Reason: "card_declined"},
			wantTitle: "Deposit failed",
			wantBody:  "auction: A1\ndeposit: D1\nreason: card_declined",
		},
		{
			name:      "unknown type",
			ev:        domain.Event{Type: "custom"},
			wantTitle: "custom",
			wantBody:  "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			title, body := Format(tt.ev)
			check.Equal(t, tt.wantTitle, title)
			check.Equal(t, tt.wantBody, body)
		})
	}
}

func TestNotifyEventFilters(t *testing.T) {
	t.Parallel()
	s := &captureSender{name: "cap"}
	n := NewNotifier([]Sender{s}, DefaultEvents, slog.New(slog.DiscardHandler))
	ctx := context.Background()

	assert.NoError(t, n.NotifyEvent(ctx, domain.Event{Type: domain.EventBidPlaced, AuctionID: "A1"}))
	assert.NoError(t, n.NotifyEvent(ctx, domain.Event{Type: domain.EventAuctionNoSale, AuctionID: "A1"}))

	assert.Equal(t, 1, len(s.titles))
	check.Equal(t, "Auction closed without sale", s.titles[0])
}

func TestNotifyEmptyFilterAllowsAll(t *testing.T) {
	t.Parallel()
	s := &captureSender{name: "cap"}
	n := NewNotifier([]Sender{s}, nil, slog.New(slog.DiscardHandler))

	assert.NoError(t, n.NotifyEvent(context.Background(), domain.Event{Type: domain.EventBidPlaced}))
	check.Equal(t, 1, len(s.titles))
	check.True(t, n.Enabled())
	check.False(t, NewNotifier(nil, nil, slog.New(slog.DiscardHandler)).Enabled())
}

func TestDispatchContinuesPastFailingSender(t *testing.T) {
	t.Parallel()
	bad := &captureSender{name: "bad", err: errors.New("boom")}
	good := &captureSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, slog.New(slog.DiscardHandler))

	err := n.NotifyAll(context.Background(), "t", "m")
	check.Error(t, err)
	check.Equal(t, 1, len(good.titles))
}

func TestTelegramSender(t *testing.T) {
	t.Parallel()
	var got map[string]any
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("tok", "42").WithBaseURL(srv.URL)
	assert.NoError(t, s.Send(context.Background(), "Sold <A1>", "amount: 1 CAD"))

	check.Equal(t, "/bottok/sendMessage", path)
	check.Equal(t, "42", got["chat_id"])
	check.Equal(t, "HTML", got["parse_mode"])
	check.Equal(t, "<b>Sold &lt;A1&gt;</b>\n<pre>amount: 1 CAD</pre>", got["text"])
}

func TestDiscordSenderErrorStatus(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	check.Error(t, err)
}
