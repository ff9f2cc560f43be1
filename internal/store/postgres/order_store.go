package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mohammednour-ai/MatEx-sub001/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates a new OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// orderSelectCols lists the columns selected when reading orders.
const orderSelectCols = `id, order_type, listing_id, COALESCE(auction_id, ''), buyer_id, seller_id,
	subtotal_cad, platform_fee_cad, total_cad, deposit_applied_cad, remaining_balance_cad,
	status, COALESCE(payment_ref, ''), created_at, updated_at`

func scanOrderFromRow(row pgx.Row) (domain.Order, error) {
	var o domain.Order
	var orderType, status string
	err := row.Scan(
		&o.ID, &orderType, &o.ListingID, &o.AuctionID, &o.BuyerID, &o.SellerID,
		&o.Subtotal, &o.PlatformFee, &o.Total, &o.DepositApplied, &o.RemainingBalance,
		&status, &o.PaymentRef, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	o.Type = domain.OrderType(orderType)
	o.Status = domain.OrderStatus(status)
	return o, nil
}

// CreateIfAbsent inserts o unless an auction order already exists for the
// same listing and buyer, in which case the stored order is returned.
func (s *OrderStore) CreateIfAbsent(ctx context.Context, o domain.Order) (domain.Order, bool, error) {
	const insert = `
		INSERT INTO orders (
			id, order_type, listing_id, auction_id, buyer_id, seller_id,
			subtotal_cad, platform_fee_cad, total_cad, deposit_applied_cad, remaining_balance_cad,
			status, payment_ref, created_at, updated_at
		) VALUES (
			$1, $2, $3, NULLIF($4, ''), $5, $6,
			$7, $8, $9, $10, $11,
			$12, NULLIF($13, ''), $14, $14
		)
		ON CONFLICT (listing_id, buyer_id) WHERE order_type = 'auction' DO NOTHING
		RETURNING ` + orderSelectCols

	stored, err := scanOrderFromRow(s.pool.QueryRow(ctx, insert,
		o.ID, string(o.Type), o.ListingID, o.AuctionID, o.BuyerID, o.SellerID,
		o.Subtotal, o.PlatformFee, o.Total, o.DepositApplied, o.RemainingBalance,
		string(o.Status), o.PaymentRef, o.CreatedAt,
	))
	if err == nil {
		return stored, true, nil
	}
	if !isNoRows(err) {
		if isUniqueViolation(err) {
			return domain.Order{}, false, domain.ErrAlreadyExists
		}
		return domain.Order{}, false, fmt.Errorf("postgres: create order %s: %w", o.ID, err)
	}

	existing, err := scanOrderFromRow(s.pool.QueryRow(ctx,
		`SELECT `+orderSelectCols+` FROM orders
		 WHERE listing_id = $1 AND buyer_id = $2 AND order_type = 'auction'`,
		o.ListingID, o.BuyerID,
	))
	if err != nil {
		return domain.Order{}, false, fmt.Errorf("postgres: load existing order for %s/%s: %w", o.ListingID, o.BuyerID, err)
	}
	return existing, false, nil
}

// GetByID retrieves a single order by ID.
func (s *OrderStore) GetByID(ctx context.Context, id string) (domain.Order, error) {
	o, err := scanOrderFromRow(s.pool.QueryRow(ctx, `SELECT `+orderSelectCols+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if isNoRows(err) {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return o, nil
}

// GetByAuction retrieves the settlement order of an auction.
func (s *OrderStore) GetByAuction(ctx context.Context, auctionID string) (domain.Order, error) {
	o, err := scanOrderFromRow(s.pool.QueryRow(ctx,
		`SELECT `+orderSelectCols+` FROM orders WHERE auction_id = $1 ORDER BY created_at ASC LIMIT 1`, auctionID))
	if err != nil {
		if isNoRows(err) {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: get order for auction %s: %w", auctionID, err)
	}
	return o, nil
}

var _ domain.OrderStore = (*OrderStore)(nil)
