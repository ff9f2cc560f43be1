package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mohammednour-ai/MatEx-sub001/internal/domain"
)

// AuctionStore implements domain.AuctionStore using PostgreSQL. The
// settlement lease lives on the auction row (lease_token, lease_until).
type AuctionStore struct {
	pool *pgxpool.Pool
}

// NewAuctionStore creates a new AuctionStore backed by the given connection pool.
func NewAuctionStore(pool *pgxpool.Pool) *AuctionStore {
	return &AuctionStore{pool: pool}
}

const auctionColumns = `id, listing_id, start_at, end_at, starting_bid, min_increment_cad,
	soft_close_seconds, status, processed_at, archived_at, created_at, updated_at`

// scanAuction scans a single auction row into a domain.Auction.
func scanAuction(row pgx.Row) (domain.Auction, error) {
	var a domain.Auction
	var status string
	err := row.Scan(
		&a.ID, &a.ListingID, &a.StartAt, &a.EndAt, &a.StartingBid, &a.MinIncrementCAD,
		&a.SoftCloseSeconds, &status, &a.ProcessedAt, &a.ArchivedAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return domain.Auction{}, err
	}
	a.Status = domain.AuctionStatus(status)
	return a, nil
}

func scanAuctions(rows pgx.Rows) ([]domain.Auction, error) {
	defer rows.Close()
	var out []domain.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Create inserts a new auction.
func (s *AuctionStore) Create(ctx context.Context, a domain.Auction) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if a.Status == "" {
		a.Status = domain.AuctionStatusActive
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}

	const query = `
		INSERT INTO auctions (
			id, listing_id, start_at, end_at, starting_bid, min_increment_cad,
			soft_close_seconds, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`

	_, err := s.pool.Exec(ctx, query,
		a.ID, a.ListingID, a.StartAt, a.EndAt, a.StartingBid, a.MinIncrementCAD,
		a.SoftCloseSeconds, string(a.Status), a.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create auction %s: %w", a.ID, err)
	}
	return nil
}

// GetByID returns an auction by its ID.
func (s *AuctionStore) GetByID(ctx context.Context, id string) (domain.Auction, error) {
	a, err := scanAuction(s.pool.QueryRow(ctx, `SELECT `+auctionColumns+` FROM auctions WHERE id = $1`, id))
	if err != nil {
		if isNoRows(err) {
			return domain.Auction{}, domain.ErrNotFound
		}
		return domain.Auction{}, fmt.Errorf("postgres: get auction %s: %w", id, err)
	}
	return a, nil
}

// ListDue returns unprocessed auctions whose end time has passed.
func (s *AuctionStore) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM auctions
		WHERE processed_at IS NULL AND status IN ('active', 'ended') AND end_at <= $1
		ORDER BY end_at ASC`
	args := []any{now}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list due auctions: %w", err)
	}
	out, err := scanAuctions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan due auctions: %w", err)
	}
	return out, nil
}

// ClaimSettlement takes the lease with a single conditional UPDATE. When no
// row matches, the row is re-read to report why.
func (s *AuctionStore) ClaimSettlement(ctx context.Context, id, token string, now, leaseUntil time.Time) (domain.Auction, error) {
	query := `
		UPDATE auctions SET
			lease_token = $2,
			lease_until = $4,
			status      = 'ended',
			updated_at  = $3
		WHERE id = $1
		  AND processed_at IS NULL
		  AND status IN ('active', 'ended')
		  AND end_at <= $3
		  AND (lease_token IS NULL OR lease_until <= $3)
		RETURNING ` + auctionColumns

	a, err := scanAuction(s.pool.QueryRow(ctx, query, id, token, now, leaseUntil))
	if err == nil {
		return a, nil
	}
	if !isNoRows(err) {
		return domain.Auction{}, fmt.Errorf("postgres: claim auction %s: %w", id, err)
	}

	var (
		current    domain.Auction
		leaseToken *string
		leaseEnd   *time.Time
		status     string
	)
	err = s.pool.QueryRow(ctx,
		`SELECT status, processed_at, end_at, lease_token, lease_until FROM auctions WHERE id = $1`, id,
	).Scan(&status, &current.ProcessedAt, &current.EndAt, &leaseToken, &leaseEnd)
	if err != nil {
		if isNoRows(err) {
			return domain.Auction{}, domain.ErrNotFound
		}
		return domain.Auction{}, fmt.Errorf("postgres: claim auction %s: reload: %w", id, err)
	}
	current.Status = domain.AuctionStatus(status)
	switch {
	case current.ProcessedAt != nil,
		current.Status != domain.AuctionStatusActive && current.Status != domain.AuctionStatusEnded:
		return domain.Auction{}, domain.ErrAlreadyProcessed
	case current.EndAt.After(now):
		return domain.Auction{}, domain.ErrAuctionNotEnded
	default:
		return domain.Auction{}, domain.ErrSettlementInProgress
	}
}

// ReleaseSettlement clears the lease if token still holds it.
func (s *AuctionStore) ReleaseSettlement(ctx context.Context, id, token string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE auctions SET lease_token = NULL, lease_until = NULL WHERE id = $1 AND lease_token = $2`,
		id, token,
	)
	if err != nil {
		return fmt.Errorf("postgres: release auction %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStaleState
	}
	return nil
}

// MarkProcessed finalises settlement for the lease holder.
func (s *AuctionStore) MarkProcessed(ctx context.Context, id, token string, at time.Time, status domain.AuctionStatus) error {
	const query = `
		UPDATE auctions SET
			processed_at = $3,
			status       = $4,
			lease_token  = NULL,
			lease_until  = NULL,
			updated_at   = $3
		WHERE id = $1 AND lease_token = $2 AND processed_at IS NULL`

	tag, err := s.pool.Exec(ctx, query, id, token, at, string(status))
	if err != nil {
		return fmt.Errorf("postgres: mark auction %s processed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrStaleState
	}
	return nil
}

// ListArchivable returns processed auctions not yet archived.
func (s *AuctionStore) ListArchivable(ctx context.Context, before time.Time, limit int) ([]domain.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM auctions
		WHERE processed_at IS NOT NULL AND processed_at < $1 AND archived_at IS NULL
		ORDER BY processed_at ASC`
	args := []any{before}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list archivable auctions: %w", err)
	}
	out, err := scanAuctions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan archivable auctions: %w", err)
	}
	return out, nil
}

// MarkArchived records that an auction's history is in cold storage.
func (s *AuctionStore) MarkArchived(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE auctions SET archived_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("postgres: mark auction %s archived: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

var _ domain.AuctionStore = (*AuctionStore)(nil)
