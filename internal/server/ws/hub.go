// Package ws streams live auction events to browser clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mohammednour-ai/MatEx-sub001/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256

	// maxSubscriptions caps the auctions one connection may follow.
	maxSubscriptions = 50
)

// auctionPattern matches every per-auction event channel.
var auctionPattern = domain.AuctionChannel("*")

// publicEvents are the event types safe to show every watcher of an
// auction. Deposit and payment events stay private.
var publicEvents = map[domain.EventType]bool{
	domain.EventBidPlaced:       true,
	domain.EventOutbid:          true,
	domain.EventAuctionExtended: true,
	domain.EventAuctionWon:      true,
	domain.EventAuctionSold:     true,
	domain.EventAuctionNoSale:   true,
}

// client represents a single WebSocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	subs map[string]bool // auction IDs
	mu   sync.RWMutex
}

// subscribeMsg is the JSON message a client sends to follow auctions.
//
//	{"action":"subscribe","auctions":["A1","A2"]}
type subscribeMsg struct {
	Action   string   `json:"action"` // "subscribe" or "unsubscribe"
	Auctions []string `json:"auctions"`
}

// routedEvent is the part of an event payload the hub needs for routing.
type routedEvent struct {
	Type      domain.EventType `json:"type"`
	AuctionID string           `json:"auction_id"`
}

// Hub manages connected WebSocket clients and fans auction events from the
// signal bus out to the clients following each auction.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	bus        domain.SignalBus
	upgrader   websocket.Upgrader
	mu         sync.RWMutex
	logger     *slog.Logger
}

// broadcastMsg carries an event payload with the auction it belongs to.
type broadcastMsg struct {
	auctionID string
	data      []byte
}

// NewHub creates a hub bridging bus to WebSocket clients. An empty
// allowedOrigins accepts every origin.
func NewHub(bus domain.SignalBus, allowedOrigins []string, logger *slog.Logger) *Hub {
	h := &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		bus:        bus,
		logger:     logger.With(slog.String("component", "ws")),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, o := range allowed {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// Run subscribes to the auction event channels and runs the hub's event
// loop until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	msgCh, err := h.bus.Subscribe(ctx, auctionPattern)
	if err != nil {
		return err
	}
	go h.forward(ctx, msgCh)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return nil

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Debug("ws: client connected",
				slog.Int("total_clients", h.clientCount()),
			)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Debug("ws: client disconnected",
				slog.Int("total_clients", h.clientCount()),
			)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if c.isSubscribed(msg.auctionID) {
					select {
					case c.send <- msg.data:
					default:
						h.logger.Warn("ws: dropping message for slow client",
							slog.String("auction_id", msg.auctionID),
						)
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// forward routes bus payloads into the broadcast loop. Pattern
// subscriptions do not carry the channel name, so the auction comes from
// the payload itself.
func (h *Hub) forward(ctx context.Context, msgCh <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("ws: event subscription closed")
				return
			}
			id, ok := route(data)
			if !ok {
				continue
			}
			select {
			case h.broadcast <- broadcastMsg{auctionID: id, data: data}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// route returns the auction a payload belongs to and whether it may be
// shown to watchers.
func route(data []byte) (string, bool) {
	var ev routedEvent
	if err := json.Unmarshal(data, &ev); err != nil || ev.AuctionID == "" {
		return "", false
	}
	return ev.AuctionID, publicEvents[ev.Type]
}

// HandleWS upgrades the request and registers the client. Auctions named
// in repeated ?auction= parameters are followed from the start.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool),
	}
	c.apply(subscribeMsg{Action: "subscribe", Auctions: r.URL.Query()["auction"]})

	h.register <- c

	go c.writePump()
	go c.readPump()
}

// clientCount returns the number of currently connected clients.
func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump reads subscription requests until the connection fails.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error",
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var sub subscribeMsg
		if err := json.Unmarshal(message, &sub); err == nil {
			c.apply(sub)
		}
	}
}

// apply processes a subscribe or unsubscribe request.
func (c *client) apply(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range msg.Auctions {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		switch msg.Action {
		case "subscribe":
			if len(c.subs) < maxSubscriptions {
				c.subs[id] = true
			}
		case "unsubscribe":
			delete(c.subs, id)
		}
	}
}

func (c *client) isSubscribed(auctionID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs[auctionID]
}

// writePump sends event JSON as text frames and keeps the connection alive
// with periodic pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
