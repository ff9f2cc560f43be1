package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/mohammednour-ai/MatEx-sub001/internal/domain"
	"github.com/mohammednour-ai/MatEx-sub001/internal/server/middleware"
)

// OrderReader loads orders.
type OrderReader interface {
	GetByID(ctx context.Context, id string) (domain.Order, error)
}

// OrderHandler serves settlement orders to their buyer and seller.
type OrderHandler struct {
	orders OrderReader
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler with the given store and logger.
func NewOrderHandler(orders OrderReader, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{orders: orders, logger: logHandler(logger, "orders")}
}

// GetOrder returns an order when the caller is its buyer or seller. Other
// callers get 404 so order IDs cannot be probed.
// GET /api/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.BidderID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "user identity required")
		return
	}

	o, err := h.orders.GetByID(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, "get order", err)
		return
	}
	if o.BuyerID != userID && o.SellerID != userID {
		writeDomainError(w, r, h.logger, "get order", domain.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, o)
}
