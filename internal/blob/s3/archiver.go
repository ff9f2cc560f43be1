package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mohammednour-ai/MatEx-sub001/internal/domain"
)

const (
	defaultArchiveBatch = 100
	auditPageSize       = 1000
)

// archiveLine is one JSONL record of an auction archive. Kind is one of
// auction, bid, deposit or order.
type archiveLine struct {
	Kind string `json:"kind"`
	Data any    `json:"data"`
}

// ArchiveImpl implements domain.Archiver. Each settled auction is written
// to its own JSONL object together with its bids, deposits and order, then
// flagged archived in the primary store. Rows are never deleted from the
// auction tables; the audit log is trimmed once its archive is uploaded.
type ArchiveImpl struct {
	writer    domain.BlobWriter
	auctions  domain.AuctionStore
	bids      domain.BidStore
	deposits  domain.DepositStore
	orders    domain.OrderStore
	audit     domain.AuditStore
	batchSize int
	partSize  int64
	now       func() time.Time
	logger    *slog.Logger
}

// NewArchiver creates an ArchiveImpl over the given stores.
func NewArchiver(writer domain.BlobWriter, stores domain.Stores, logger *slog.Logger) *ArchiveImpl {
	return &ArchiveImpl{
		writer:    writer,
		auctions:  stores.Auctions,
		bids:      stores.Bids,
		deposits:  stores.Deposits,
		orders:    stores.Orders,
		audit:     stores.Audit,
		batchSize: defaultArchiveBatch,
		partSize:  minPartSize,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

// WithBatchSize bounds how many auctions are listed per store query.
func (a *ArchiveImpl) WithBatchSize(n int) *ArchiveImpl {
	if n > 0 {
		a.batchSize = n
	}
	return a
}

// WithClock overrides the archive timestamp source.
func (a *ArchiveImpl) WithClock(now func() time.Time) *ArchiveImpl {
	a.now = now
	return a
}

// ArchiveAuctions uploads every auction processed before the cutoff to
// archive/auctions/YYYY-MM/{id}.jsonl and marks it archived. An auction
// whose upload fails stays unarchived and is retried on the next run.
func (a *ArchiveImpl) ArchiveAuctions(ctx context.Context, before time.Time) (int64, error) {
	var archived int64
	for {
		batch, err := a.auctions.ListArchivable(ctx, before, a.batchSize)
		if err != nil {
			return archived, fmt.Errorf("s3blob: list archivable auctions: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		for _, auc := range batch {
			if err := a.archiveAuction(ctx, auc); err != nil {
				return archived, err
			}
			archived++
		}
		if len(batch) < a.batchSize {
			break
		}
	}

	if archived == 0 {
		return 0, nil
	}
	if err := a.audit.Log(ctx, "archive.auctions", map[string]any{
		"count":  archived,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return archived, fmt.Errorf("s3blob: archive auctions audit log: %w", err)
	}
	a.logger.InfoContext(ctx, "auctions archived", slog.Int64("count", archived))
	return archived, nil
}

func (a *ArchiveImpl) archiveAuction(ctx context.Context, auc domain.Auction) error {
	bids, err := a.bids.ListByAuction(ctx, auc.ID)
	if err != nil {
		return fmt.Errorf("s3blob: archive %s bids: %w", auc.ID, err)
	}
	deposits, err := a.deposits.ListByAuction(ctx, auc.ID)
	if err != nil {
		return fmt.Errorf("s3blob: archive %s deposits: %w", auc.ID, err)
	}

	lines := make([]archiveLine, 0, 2+len(bids)+len(deposits))
	lines = append(lines, archiveLine{Kind: "auction", Data: auc})
	for _, b := range bids {
		lines = append(lines, archiveLine{Kind: "bid", Data: b})
	}
	for _, d := range deposits {
		lines = append(lines, archiveLine{Kind: "deposit", Data: d})
	}
	order, err := a.orders.GetByAuction(ctx, auc.ID)
	switch {
	case err == nil:
		lines = append(lines, archiveLine{Kind: "order", Data: order})
	case !errors.Is(err, domain.ErrNotFound):
		return fmt.Errorf("s3blob: archive %s order: %w", auc.ID, err)
	}

	buf, err := marshalJSONL(lines)
	if err != nil {
		return fmt.Errorf("s3blob: archive %s marshal: %w", auc.ID, err)
	}

	processed := auc.EndAt
	if auc.ProcessedAt != nil {
		processed = *auc.ProcessedAt
	}
	path := auctionArchivePath(auc.ID, processed)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), contentTypeJSONL); err != nil {
		return fmt.Errorf("s3blob: archive %s upload: %w", auc.ID, err)
	}
	if err := a.auctions.MarkArchived(ctx, auc.ID, a.now()); err != nil {
		return fmt.Errorf("s3blob: mark %s archived: %w", auc.ID, err)
	}
	a.logger.DebugContext(ctx, "auction archived",
		slog.String("auction_id", auc.ID),
		slog.String("path", path),
		slog.Int("bids", len(bids)),
	)
	return nil
}

// ArchiveAudit uploads audit entries older than the cutoff as one JSONL
// object under archive/audit/ and then deletes them from the store.
func (a *ArchiveImpl) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	var entries []domain.AuditEntry
	for offset := 0; ; offset += auditPageSize {
		page, err := a.audit.List(ctx, domain.ListOpts{
			Limit:  auditPageSize,
			Offset: offset,
			Until:  &before,
		})
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
		}
		entries = append(entries, page...)
		if len(page) < auditPageSize {
			break
		}
	}
	if len(entries) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit marshal: %w", err)
	}

	path := archivePath("audit", before)
	if err := a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), a.partSize); err != nil {
		return 0, fmt.Errorf("s3blob: archive audit upload: %w", err)
	}

	deleted, err := a.audit.DeleteBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit trim: %w", err)
	}
	if deleted != int64(len(entries)) {
		a.logger.WarnContext(ctx, "audit trim count differs from archive",
			slog.Int64("archived", int64(len(entries))),
			slog.Int64("deleted", deleted),
		)
	}

	if err := a.audit.Log(ctx, "archive.audit", map[string]any{
		"path":   path,
		"count":  len(entries),
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return int64(len(entries)), fmt.Errorf("s3blob: archive audit log: %w", err)
	}
	return int64(len(entries)), nil
}

// archivePath builds the key for a cutoff-partitioned archive file.
//
//	archive/audit/2025-01-31T000000Z.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01-02T150405Z"))
}

// auctionArchivePath partitions auction archives by month of settlement.
//
//	archive/auctions/2025-01/{id}.jsonl
func auctionArchivePath(auctionID string, processed time.Time) string {
	return fmt.Sprintf("archive/auctions/%s/%s.jsonl", processed.UTC().Format("2006-01"), auctionID)
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*ArchiveImpl)(nil)
