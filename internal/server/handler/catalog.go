package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mohammednour-ai/MatEx-sub001/internal/domain"
)

// CatalogHandler lets the marketplace backend sync listings and open
// auctions. Operator-only.
type CatalogHandler struct {
	listings domain.ListingStore
	auctions domain.AuctionStore
	now      func() time.Time
	logger   *slog.Logger
}

// NewCatalogHandler creates a CatalogHandler.
func NewCatalogHandler(listings domain.ListingStore, auctions domain.AuctionStore, logger *slog.Logger) *CatalogHandler {
	return &CatalogHandler{
		listings: listings,
		auctions: auctions,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logHandler(logger, "catalog"),
	}
}

type upsertListingRequest struct {
	SellerID  string               `json:"seller_id"`
	Title     string               `json:"title"`
	PriceCAD  decimal.Decimal      `json:"price_cad"`
	BuyNowCAD decimal.NullDecimal  `json:"buy_now_cad"`
	Status    domain.ListingStatus `json:"status"`
}

// UpsertListing creates or replaces a listing.
// PUT /api/listings/{id}
func (h *CatalogHandler) UpsertListing(w http.ResponseWriter, r *http.Request) {
	var body upsertListingRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.SellerID == "" {
		writeError(w, http.StatusBadRequest, "seller_id is required")
		return
	}
	if body.PriceCAD.IsNegative() {
		writeError(w, http.StatusBadRequest, "price_cad must not be negative")
		return
	}
	if body.Status == "" {
		body.Status = domain.ListingStatusActive
	}

	l := domain.Listing{
		ID:        pathParam(r, "id"),
		SellerID:  body.SellerID,
		Title:     body.Title,
		PriceCAD:  body.PriceCAD,
		BuyNowCAD: body.BuyNowCAD,
		Status:    body.Status,
		CreatedAt: h.now(),
	}
	if err := h.listings.Upsert(r.Context(), l); err != nil {
		writeDomainError(w, r, h.logger, "upsert listing", err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

type createAuctionRequest struct {
	ID               string              `json:"id,omitempty"`
	ListingID        string              `json:"listing_id"`
	StartAt          time.Time           `json:"start_at"`
	EndAt            time.Time           `json:"end_at"`
	StartingBid      decimal.Decimal     `json:"starting_bid"`
	MinIncrementCAD  decimal.NullDecimal `json:"min_increment_cad"`
	SoftCloseSeconds int                 `json:"soft_close_seconds"`
}

// CreateAuction opens an auction on an existing listing.
// POST /api/auctions
func (h *CatalogHandler) CreateAuction(w http.ResponseWriter, r *http.Request) {
	var body createAuctionRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := h.listings.GetByID(r.Context(), body.ListingID); err != nil {
		writeDomainError(w, r, h.logger, "create auction", err)
		return
	}
	if body.ID == "" {
		body.ID = uuid.NewString()
	}

	now := h.now()
	a := domain.Auction{
		ID:               body.ID,
		ListingID:        body.ListingID,
		StartAt:          body.StartAt.UTC(),
		EndAt:            body.EndAt.UTC(),
		StartingBid:      body.StartingBid,
		MinIncrementCAD:  body.MinIncrementCAD,
		SoftCloseSeconds: body.SoftCloseSeconds,
		Status:           domain.AuctionStatusActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := h.auctions.Create(r.Context(), a); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			writeJSON(w, http.StatusConflict, errorBody{Error: "auction already exists", Code: "already_exists"})
			return
		}
		writeDomainError(w, r, h.logger, "create auction", err)
		return
	}
	h.logger.InfoContext(r.Context(), "auction created",
		slog.String("auction_id", a.ID),
		slog.String("listing_id", a.ListingID),
		slog.Time("end_at", a.EndAt),
	)
	writeJSON(w, http.StatusCreated, a)
}
