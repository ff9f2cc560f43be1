package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mohammednour-ai/MatEx-sub001/internal/domain"
)

// DepositStore implements domain.DepositStore using PostgreSQL. A partial
// unique index enforces one open deposit per (auction, bidder).
type DepositStore struct {
	pool *pgxpool.Pool
}

// NewDepositStore creates a new DepositStore backed by the given connection pool.
func NewDepositStore(pool *pgxpool.Pool) *DepositStore {
	return &DepositStore{pool: pool}
}

const depositColumns = `id, auction_id, bidder_id, amount, status,
	COALESCE(payment_ref, ''), COALESCE(failure_reason, ''),
	created_at, authorized_at, captured_at, refunded_at, failed_at`

func scanDeposit(row pgx.Row) (domain.Deposit, error) {
	var d domain.Deposit
	var status string
	err := row.Scan(
		&d.ID, &d.AuctionID, &d.BidderID, &d.Amount, &status,
		&d.PaymentRef, &d.FailureReason,
		&d.CreatedAt, &d.AuthorizedAt, &d.CapturedAt, &d.RefundedAt, &d.FailedAt,
	)
	if err != nil {
		return domain.Deposit{}, err
	}
	d.Status = domain.DepositStatus(status)
	return d, nil
}

// Create inserts a new deposit.
func (s *DepositStore) Create(ctx context.Context, d domain.Deposit) error {
	const query = `
		INSERT INTO deposits (id, auction_id, bidder_id, amount, status, payment_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)`

	_, err := s.pool.Exec(ctx, query,
		d.ID, d.AuctionID, d.BidderID, d.Amount, string(d.Status), d.PaymentRef, d.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create deposit %s: %w", d.ID, err)
	}
	return nil
}

func (s *DepositStore) getOne(ctx context.Context, where string, arg any) (domain.Deposit, error) {
	d, err := scanDeposit(s.pool.QueryRow(ctx, `SELECT `+depositColumns+` FROM deposits WHERE `+where, arg))
	if err != nil {
		if isNoRows(err) {
			return domain.Deposit{}, domain.ErrNotFound
		}
		return domain.Deposit{}, fmt.Errorf("postgres: get deposit: %w", err)
	}
	return d, nil
}

// GetByID returns a deposit by its ID.
func (s *DepositStore) GetByID(ctx context.Context, id string) (domain.Deposit, error) {
	return s.getOne(ctx, `id = $1`, id)
}

// GetByPaymentRef returns the deposit holding the processor reference.
func (s *DepositStore) GetByPaymentRef(ctx context.Context, ref string) (domain.Deposit, error) {
	if ref == "" {
		return domain.Deposit{}, domain.ErrNotFound
	}
	return s.getOne(ctx, `payment_ref = $1 ORDER BY created_at DESC LIMIT 1`, ref)
}

// FindOpen returns the pending, authorized or captured deposit for a pair.
func (s *DepositStore) FindOpen(ctx context.Context, auctionID, bidderID string) (domain.Deposit, error) {
	const query = `SELECT ` + depositColumns + ` FROM deposits
		WHERE auction_id = $1 AND bidder_id = $2 AND status IN ('pending', 'authorized', 'captured')
		ORDER BY created_at DESC LIMIT 1`

	d, err := scanDeposit(s.pool.QueryRow(ctx, query, auctionID, bidderID))
	if err != nil {
		if isNoRows(err) {
			return domain.Deposit{}, domain.ErrNotFound
		}
		return domain.Deposit{}, fmt.Errorf("postgres: find open deposit %s/%s: %w", auctionID, bidderID, err)
	}
	return d, nil
}

// ListByAuction returns deposits on an auction, optionally filtered by status.
func (s *DepositStore) ListByAuction(ctx context.Context, auctionID string, statuses ...domain.DepositStatus) ([]domain.Deposit, error) {
	query := `SELECT ` + depositColumns + ` FROM deposits WHERE auction_id = $1`
	args := []any{auctionID}
	if len(statuses) > 0 {
		names := make([]string, len(statuses))
		for i, st := range statuses {
			names[i] = string(st)
		}
		query += ` AND status = ANY($2)`
		args = append(args, names)
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list deposits %s: %w", auctionID, err)
	}
	defer rows.Close()

	var out []domain.Deposit
	for rows.Next() {
		d, err := scanDeposit(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan deposit: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list deposits rows: %w", err)
	}
	return out, nil
}

// Transition moves a deposit from one status to another only if it is still
// in from. The per-status timestamp column is chosen by the target status.
func (s *DepositStore) Transition(ctx context.Context, id string, from, to domain.DepositStatus, ch domain.DepositChange) (domain.Deposit, error) {
	const query = `
		UPDATE deposits SET
			status         = $3,
			payment_ref    = COALESCE(NULLIF($4, ''), payment_ref),
			failure_reason = CASE WHEN $3 = 'failed' THEN $5 ELSE failure_reason END,
			authorized_at  = CASE WHEN $3 = 'authorized' THEN $6 ELSE authorized_at END,
			captured_at    = CASE WHEN $3 = 'captured' THEN $6 ELSE captured_at END,
			refunded_at    = CASE WHEN $3 = 'refunded' THEN $6 ELSE refunded_at END,
			failed_at      = CASE WHEN $3 = 'failed' THEN $6 ELSE failed_at END
		WHERE id = $1 AND status = $2
		RETURNING ` + depositColumns

	d, err := scanDeposit(s.pool.QueryRow(ctx, query,
		id, string(from), string(to), ch.PaymentRef, ch.FailureReason, ch.At,
	))
	if err == nil {
		return d, nil
	}
	if !isNoRows(err) {
		return domain.Deposit{}, fmt.Errorf("postgres: transition deposit %s: %w", id, err)
	}
	if _, gerr := s.GetByID(ctx, id); gerr != nil {
		return domain.Deposit{}, gerr
	}
	return domain.Deposit{}, domain.ErrStaleState
}

var _ domain.DepositStore = (*DepositStore)(nil)
