package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mohammednour-ai/MatEx-sub001/internal/domain"
	"github.com/mohammednour-ai/MatEx-sub001/internal/server/handler"
	"github.com/mohammednour-ai/MatEx-sub001/internal/server/middleware"
	"github.com/mohammednour-ai/MatEx-sub001/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	AdminAPIKey string // if empty, operator endpoints are open

	// BidRateLimit bounds bid submissions per bidder per BidRateWindow.
	// Zero disables the limit.
	BidRateLimit  int
	BidRateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server registers. Nil
// handlers leave their routes unregistered.
type Handlers struct {
	Health     *handler.HealthHandler
	Auctions   *handler.AuctionHandler
	Catalog    *handler.CatalogHandler
	Deposits   *handler.DepositHandler
	Orders     *handler.OrderHandler
	Settings   *handler.SettingsHandler
	Settlement *handler.SettlementHandler
	Webhooks   *handler.WebhookHandler
}

// Deps are the cross-cutting collaborators the route middleware needs.
type Deps struct {
	Tokens  *middleware.TokenVerifier
	Limiter domain.RateLimiter // may be nil
}

// Server is the HTTP and WebSocket API server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer creates a Server with every route registered. Bidder routes
// require a verified token, operator routes require the admin key and the
// webhook route authenticates by signature.
func NewServer(cfg Config, handlers Handlers, deps Deps, wsHub *ws.Hub, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	mux := http.NewServeMux()

	bidder := middleware.RequireBidder(deps.Tokens)
	admin := middleware.AdminKey(cfg.AdminAPIKey)
	bidLimit := middleware.RateLimit(deps.Limiter, "bids", cfg.BidRateLimit, cfg.BidRateWindow, logger)

	if h := handlers.Health; h != nil {
		mux.HandleFunc("GET /api/health", h.HealthCheck)
	}

	if h := handlers.Auctions; h != nil {
		mux.HandleFunc("GET /api/auctions/{id}", h.GetSnapshot)
		mux.HandleFunc("GET /api/auctions/{id}/bids", h.ListBids)
		mux.Handle("POST /api/auctions/{id}/bids", bidder(bidLimit(http.HandlerFunc(h.PlaceBid))))
	}

	if h := handlers.Deposits; h != nil {
		mux.Handle("GET /api/auctions/{id}/deposit", bidder(http.HandlerFunc(h.GetDeposit)))
		mux.Handle("POST /api/auctions/{id}/deposit", bidder(http.HandlerFunc(h.AuthorizeDeposit)))
	}

	if h := handlers.Orders; h != nil {
		mux.Handle("GET /api/orders/{id}", bidder(http.HandlerFunc(h.GetOrder)))
	}

	if h := handlers.Catalog; h != nil {
		mux.Handle("PUT /api/listings/{id}", admin(http.HandlerFunc(h.UpsertListing)))
		mux.Handle("POST /api/auctions", admin(http.HandlerFunc(h.CreateAuction)))
	}

	if h := handlers.Settings; h != nil {
		mux.Handle("GET /api/settings", admin(http.HandlerFunc(h.ListSettings)))
		mux.Handle("PUT /api/settings/{key}", admin(http.HandlerFunc(h.PutSetting)))
	}

	if h := handlers.Settlement; h != nil {
		mux.Handle("POST /api/auctions/{id}/settle", admin(http.HandlerFunc(h.Settle)))
		mux.Handle("GET /api/auctions/{id}/receipt", admin(http.HandlerFunc(h.GetReceipt)))
		mux.Handle("POST /api/sweep", admin(http.HandlerFunc(h.TriggerSweep)))
	}

	if h := handlers.Webhooks; h != nil {
		mux.HandleFunc("POST /api/webhooks/payments", h.HandlePayment)
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		handler:    h,
		logger:     logger,
	}
}

// Handler returns the fully wrapped handler, for use with httptest.
func (s *Server) Handler() http.Handler { return s.handler }

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
