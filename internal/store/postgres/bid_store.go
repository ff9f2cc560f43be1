package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mohammednour-ai/MatEx-sub001/internal/domain"
)

const bidColumns = `id, auction_id, bidder_id, amount, created_at, seq`

// Highest amount first; ties go to the earliest bid.
const highestBidOrder = ` ORDER BY amount DESC, created_at ASC, seq ASC LIMIT 1`

func scanBid(row pgx.Row) (domain.Bid, error) {
	var b domain.Bid
	err := row.Scan(&b.ID, &b.AuctionID, &b.BidderID, &b.Amount, &b.CreatedAt, &b.Seq)
	return b, err
}

// BidStore implements domain.BidStore using PostgreSQL.
type BidStore struct {
	pool *pgxpool.Pool
}

// NewBidStore creates a new BidStore backed by the given connection pool.
func NewBidStore(pool *pgxpool.Pool) *BidStore {
	return &BidStore{pool: pool}
}

// ListByAuction returns every bid on an auction in insertion order.
func (s *BidStore) ListByAuction(ctx context.Context, auctionID string) ([]domain.Bid, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+bidColumns+` FROM bids WHERE auction_id = $1 ORDER BY seq ASC`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bids %s: %w", auctionID, err)
	}
	defer rows.Close()

	var bids []domain.Bid
	for rows.Next() {
		b, err := scanBid(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan bid: %w", err)
		}
		bids = append(bids, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list bids rows: %w", err)
	}
	return bids, nil
}

// HighestBid returns the leading bid, if any.
func (s *BidStore) HighestBid(ctx context.Context, auctionID string) (domain.Bid, bool, error) {
	return highestBid(ctx, s.pool, auctionID)
}

// CountByAuction returns the number of bids on an auction.
func (s *BidStore) CountByAuction(ctx context.Context, auctionID string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM bids WHERE auction_id = $1`, auctionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count bids %s: %w", auctionID, err)
	}
	return n, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func highestBid(ctx context.Context, q querier, auctionID string) (domain.Bid, bool, error) {
	b, err := scanBid(q.QueryRow(ctx, `SELECT `+bidColumns+` FROM bids WHERE auction_id = $1`+highestBidOrder, auctionID))
	if err != nil {
		if isNoRows(err) {
			return domain.Bid{}, false, nil
		}
		return domain.Bid{}, false, fmt.Errorf("postgres: highest bid %s: %w", auctionID, err)
	}
	return b, true, nil
}

// BidLedger implements domain.BidLedger with a transaction holding the
// auction row lock (SELECT ... FOR UPDATE).
type BidLedger struct {
	pool *pgxpool.Pool
}

// NewBidLedger creates a new BidLedger backed by the given connection pool.
func NewBidLedger(pool *pgxpool.Pool) *BidLedger {
	return &BidLedger{pool: pool}
}

// WithAuctionLock runs fn inside a transaction that has locked the auction
// row. The transaction commits only when fn returns nil.
func (l *BidLedger) WithAuctionLock(ctx context.Context, auctionID string, fn func(ctx context.Context, tx domain.BidTx) error) error {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin bid tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	a, err := scanAuction(tx.QueryRow(ctx, `SELECT `+auctionColumns+` FROM auctions WHERE id = $1 FOR UPDATE`, auctionID))
	if err != nil {
		if isNoRows(err) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("postgres: lock auction %s: %w", auctionID, err)
	}

	if err := fn(ctx, &bidTx{tx: tx, auction: a}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit bid tx %s: %w", auctionID, err)
	}
	return nil
}

type bidTx struct {
	tx      pgx.Tx
	auction domain.Auction
}

func (t *bidTx) Auction() domain.Auction { return t.auction }

func (t *bidTx) HighestBid(ctx context.Context) (domain.Bid, bool, error) {
	return highestBid(ctx, t.tx, t.auction.ID)
}

func (t *bidTx) HasBidAt(ctx context.Context, bidderID string, at time.Time) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM bids WHERE auction_id = $1 AND bidder_id = $2 AND created_at = $3)`,
		t.auction.ID, bidderID, at,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: check duplicate bid: %w", err)
	}
	return exists, nil
}

// AppendBid inserts b with the next per-auction sequence number. The row
// lock makes MAX(seq)+1 safe.
func (t *bidTx) AppendBid(ctx context.Context, b domain.Bid) (domain.Bid, error) {
	const query = `
		INSERT INTO bids (id, auction_id, bidder_id, amount, created_at, seq)
		SELECT $1, $2, $3, $4, $5, COALESCE(MAX(seq), 0) + 1 FROM bids WHERE auction_id = $2
		RETURNING seq`

	err := t.tx.QueryRow(ctx, query, b.ID, b.AuctionID, b.BidderID, b.Amount, b.CreatedAt).Scan(&b.Seq)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Bid{}, domain.ErrDuplicateBid
		}
		return domain.Bid{}, fmt.Errorf("postgres: insert bid: %w", err)
	}
	return b, nil
}

func (t *bidTx) UpdateEndAt(ctx context.Context, endAt time.Time) error {
	if endAt.Before(t.auction.EndAt) {
		return domain.ErrInvalidInput
	}
	_, err := t.tx.Exec(ctx, `UPDATE auctions SET end_at = $2, updated_at = NOW() WHERE id = $1`, t.auction.ID, endAt)
	if err != nil {
		return fmt.Errorf("postgres: extend auction %s: %w", t.auction.ID, err)
	}
	t.auction.EndAt = endAt
	return nil
}

var (
	_ domain.BidStore  = (*BidStore)(nil)
	_ domain.BidLedger = (*BidLedger)(nil)
)
