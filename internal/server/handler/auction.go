package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mohammednour-ai/MatEx-sub001/internal/domain"
	"github.com/mohammednour-ai/MatEx-sub001/internal/server/middleware"
)

// AuctionReader is the read side the auction endpoints need.
type AuctionReader interface {
	Snapshot(ctx context.Context, auctionID string, now time.Time) (domain.AuctionSnapshot, error)
	Bids(ctx context.Context, auctionID string) ([]domain.Bid, error)
}

// BidSubmitter validates and records bids.
type BidSubmitter interface {
	SubmitBid(ctx context.Context, req domain.BidRequest, now time.Time) (domain.BidResult, error)
}

// AuctionHandler serves auction snapshots and bid placement.
type AuctionHandler struct {
	reader AuctionReader
	bids   BidSubmitter
	now    func() time.Time
	logger *slog.Logger
}

// NewAuctionHandler creates an AuctionHandler.
func NewAuctionHandler(reader AuctionReader, bids BidSubmitter, logger *slog.Logger) *AuctionHandler {
	return &AuctionHandler{
		reader: reader,
		bids:   bids,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logHandler(logger, "auctions"),
	}
}

// WithClock overrides the request time source.
func (h *AuctionHandler) WithClock(now func() time.Time) *AuctionHandler {
	h.now = now
	return h
}

// GetSnapshot returns the auction with its current high bid and the next
// acceptable amount.
// GET /api/auctions/{id}
func (h *AuctionHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.reader.Snapshot(r.Context(), pathParam(r, "id"), h.now())
	if err != nil {
		writeDomainError(w, r, h.logger, "snapshot", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type listBidsResponse struct {
	Bids []domain.Bid `json:"bids"`
}

// ListBids returns the bid history in insertion order.
// GET /api/auctions/{id}/bids
func (h *AuctionHandler) ListBids(w http.ResponseWriter, r *http.Request) {
	bids, err := h.reader.Bids(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "list bids", err)
		return
	}
	if bids == nil {
		bids = []domain.Bid{}
	}
	writeJSON(w, http.StatusOK, listBidsResponse{Bids: bids})
}

type placeBidRequest struct {
	Amount       decimal.Decimal `json:"amount"`
	SubmissionID string          `json:"submission_id,omitempty"`
}

// PlaceBid submits a bid for the authenticated bidder. The Idempotency-Key
// header is used as submission ID when the body carries none.
// POST /api/auctions/{id}/bids
func (h *AuctionHandler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	bidderID, ok := middleware.BidderID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "bidder identity required")
		return
	}

	var body placeBidRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !body.Amount.IsPositive() {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}
	if body.SubmissionID == "" {
		body.SubmissionID = r.Header.Get("Idempotency-Key")
	}

	res, err := h.bids.SubmitBid(r.Context(), domain.BidRequest{
		AuctionID:    pathParam(r, "id"),
		BidderID:     bidderID,
		Amount:       body.Amount,
		SubmissionID: body.SubmissionID,
	}, h.now())
	if err != nil {
		writeDomainError(w, r, h.logger, "place bid", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}
