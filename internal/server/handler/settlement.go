package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/mohammednour-ai/MatEx-sub001/internal/domain"
	"github.com/mohammednour-ai/MatEx-sub001/internal/settlement"
)

// Settler settles one ended auction.
type Settler interface {
	Settle(ctx context.Context, auctionID string, now time.Time) (settlement.Result, error)
}

// SettlementHandler serves the operator settlement endpoints.
type SettlementHandler struct {
	settler   Settler
	receipts  domain.ReceiptStore
	triggerCh chan<- struct{} // when non-nil, sending triggers one sweep
	now       func() time.Time
	logger    *slog.Logger
}

// NewSettlementHandler creates a SettlementHandler. receipts may be nil.
func NewSettlementHandler(settler Settler, receipts domain.ReceiptStore, logger *slog.Logger) *SettlementHandler {
	return &SettlementHandler{
		settler:  settler,
		receipts: receipts,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logHandler(logger, "settlement"),
	}
}

// WithTriggerChannel sets the channel to send on when a sweep is requested.
// The scheduler must receive from this channel to run one cycle.
func (h *SettlementHandler) WithTriggerChannel(ch chan<- struct{}) *SettlementHandler {
	h.triggerCh = ch
	return h
}

// WithClock overrides the settlement time source.
func (h *SettlementHandler) WithClock(now func() time.Time) *SettlementHandler {
	h.now = now
	return h
}

// Settle settles one auction now. Settling a processed auction answers 409.
// POST /api/auctions/{id}/settle
func (h *SettlementHandler) Settle(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	res, err := h.settler.Settle(r.Context(), id, h.now())
	if err != nil {
		writeDomainError(w, r, h.logger, "settle", err)
		return
	}
	h.logger.InfoContext(r.Context(), "manual settlement",
		slog.String("auction_id", id),
		slog.String("outcome", string(res.Outcome)),
	)
	writeJSON(w, http.StatusOK, res)
}

// GetReceipt returns the archived settlement receipt.
// GET /api/auctions/{id}/receipt
func (h *SettlementHandler) GetReceipt(w http.ResponseWriter, r *http.Request) {
	if h.receipts == nil {
		writeError(w, http.StatusNotFound, "receipts are not stored")
		return
	}
	rec, err := h.receipts.GetReceipt(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "get receipt", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// TriggerSweep enqueues one settlement sweep. The send is non-blocking so
// repeated triggers collapse into one pending run.
// POST /api/sweep
func (h *SettlementHandler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	if h.triggerCh == nil {
		writeError(w, http.StatusServiceUnavailable, "sweeper is not running on this instance")
		return
	}
	h.logger.InfoContext(r.Context(), "handler: sweep trigger requested")
	select {
	case h.triggerCh <- struct{}{}:
	default:
		// already triggered and not yet consumed
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       "accepted",
		"requested_at": h.now().Format(time.RFC3339),
	})
}
