package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/mohammednour-ai/MatEx-sub001/internal/domain"
	"github.com/mohammednour-ai/MatEx-sub001/internal/server/middleware"
)

// DepositService is the bidder-facing side of the deposit gatekeeper.
type DepositService interface {
	Required(ctx context.Context, auctionID string) (decimal.Decimal, error)
	Status(ctx context.Context, auctionID, bidderID string) (domain.Deposit, error)
	Authorize(ctx context.Context, bidderID, auctionID string) (domain.Deposit, error)
}

// DepositHandler serves deposit status and authorization.
type DepositHandler struct {
	deposits DepositService
	logger   *slog.Logger
}

// NewDepositHandler creates a DepositHandler.
func NewDepositHandler(deposits DepositService, logger *slog.Logger) *DepositHandler {
	return &DepositHandler{deposits: deposits, logger: logHandler(logger, "deposits")}
}

type depositResponse struct {
	Required   decimal.Decimal `json:"required"`
	Deposit    *domain.Deposit `json:"deposit"`
	CanBid     bool            `json:"can_bid"`
	Authorized bool            `json:"authorized"`
}

// GetDeposit returns the required amount and the bidder's open deposit.
// GET /api/auctions/{id}/deposit
func (h *DepositHandler) GetDeposit(w http.ResponseWriter, r *http.Request) {
	bidderID, ok := middleware.BidderID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "bidder identity required")
		return
	}
	auctionID := pathParam(r, "id")

	required, err := h.deposits.Required(r.Context(), auctionID)
	if err != nil {
		writeDomainError(w, r, h.logger, "deposit required", err)
		return
	}
	resp := depositResponse{Required: required}

	d, err := h.deposits.Status(r.Context(), auctionID, bidderID)
	switch {
	case err == nil:
		resp.Deposit = &d
		resp.Authorized = d.Status == domain.DepositStatusAuthorized
		resp.CanBid = resp.Authorized
	case errors.Is(err, domain.ErrNotFound):
	default:
		writeDomainError(w, r, h.logger, "deposit status", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// AuthorizeDeposit places the deposit hold for the authenticated bidder.
// POST /api/auctions/{id}/deposit
func (h *DepositHandler) AuthorizeDeposit(w http.ResponseWriter, r *http.Request) {
	bidderID, ok := middleware.BidderID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "bidder identity required")
		return
	}

	d, err := h.deposits.Authorize(r.Context(), bidderID, pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "authorize deposit", err)
		return
	}
	status := http.StatusCreated
	if d.Status == domain.DepositStatusPending {
		// The processor has not confirmed yet; a webhook finishes it.
		status = http.StatusAccepted
	}
	writeJSON(w, status, d)
}
