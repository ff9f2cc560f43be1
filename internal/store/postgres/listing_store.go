package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mohammednour-ai/MatEx-sub001/internal/domain"
)

// ListingStore implements domain.ListingStore using PostgreSQL.
type ListingStore struct {
	pool *pgxpool.Pool
}

// NewListingStore creates a new ListingStore backed by the given connection pool.
func NewListingStore(pool *pgxpool.Pool) *ListingStore {
	return &ListingStore{pool: pool}
}

// Upsert inserts or updates a listing mirrored from the catalogue.
func (s *ListingStore) Upsert(ctx context.Context, l domain.Listing) error {
	const query = `
		INSERT INTO listings (id, seller_id, title, price_cad, buy_now_cad, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			seller_id   = EXCLUDED.seller_id,
			title       = EXCLUDED.title,
			price_cad   = EXCLUDED.price_cad,
			buy_now_cad = EXCLUDED.buy_now_cad,
			status      = EXCLUDED.status`

	status := l.Status
	if status == "" {
		status = domain.ListingStatusActive
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, query,
		l.ID, l.SellerID, l.Title, l.PriceCAD, l.BuyNowCAD, string(status), l.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert listing %s: %w", l.ID, err)
	}
	return nil
}

// GetByID returns a listing by its ID.
func (s *ListingStore) GetByID(ctx context.Context, id string) (domain.Listing, error) {
	const query = `
		SELECT id, seller_id, title, price_cad, buy_now_cad, status, created_at
		FROM listings WHERE id = $1`

	var l domain.Listing
	var status string
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&l.ID, &l.SellerID, &l.Title, &l.PriceCAD, &l.BuyNowCAD, &status, &l.CreatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return domain.Listing{}, domain.ErrNotFound
		}
		return domain.Listing{}, fmt.Errorf("postgres: get listing %s: %w", id, err)
	}
	l.Status = domain.ListingStatus(status)
	return l, nil
}

var _ domain.ListingStore = (*ListingStore)(nil)
