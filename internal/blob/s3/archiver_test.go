package s3blob

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/mohammednour-ai/MatEx-sub001/internal/domain"
	"github.com/mohammednour-ai/MatEx-sub001/internal/store/memory"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
)

var (
	auctionStart = time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	auctionEnd   = auctionStart.Add(48 * time.Hour)
)

// failingWriter fails every upload.
type failingWriter struct{ domain.BlobWriter }

func (failingWriter) Put(context.Context, string, io.Reader, string) error {
	return errors.New("bucket unavailable")
}

func seedProcessed(t *testing.T, st *memory.Store, id string, processedAt time.Time, bids ...string) {
	t.Helper()
	ctx := context.Background()
	assert.NoError(t, st.Auctions().Create(ctx, domain.Auction{
		ID: id, ListingID: "L-" + id, StartAt: auctionStart, EndAt: auctionEnd,
	}))
	for i, amount := range bids {
		err := st.Ledger().WithAuctionLock(ctx, id, func(ctx context.Context, tx domain.BidTx) error {
			_, err := tx.AppendBid(ctx, domain.Bid{
				ID:        fmt.Sprintf("%s-b%d", id, i),
				AuctionID: id,
				BidderID:  fmt.Sprintf("bidder-%d", i),
				Amount:    decimal.RequireFromString(amount),
				CreatedAt: auctionStart.Add(time.Duration(i+1) * time.Minute),
			})
			return err
		})
		assert.NoError(t, err)
	}
	_, err := st.Auctions().ClaimSettlement(ctx, id, "tok", processedAt, processedAt.Add(time.Minute))
	assert.NoError(t, err)
	assert.NoError(t, st.Auctions().MarkProcessed(ctx, id, "tok", processedAt, domain.AuctionStatusCompleted))
}

func readLines(t *testing.T, blobs *memory.Blobs, path string) []archiveLine {
	t.Helper()
	body, err := blobs.Get(context.Background(), path)
	assert.NoError(t, err)
	defer body.Close()

	var lines []archiveLine
	sc := bufio.NewScanner(body)
	for sc.Scan() {
		var l archiveLine
		assert.NoError(t, json.Unmarshal(sc.Bytes(), &l))
		lines = append(lines, l)
	}
	assert.NoError(t, sc.Err())
	return lines
}

func TestArchiveAuctions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memory.New()
	blobs := memory.NewBlobs()

	processed := auctionEnd.Add(time.Hour)
	seedProcessed(t, st, "A1", processed, "100", "120")
	seedProcessed(t, st, "A2", processed.Add(time.Minute))
	seedProcessed(t, st, "A3", processed.Add(time.Minute))
	// Still open: never archived.
	assert.NoError(t, st.Auctions().Create(ctx, domain.Auction{ID: "A4", ListingID: "L-A4", StartAt: auctionStart, EndAt: auctionEnd}))

	archivedAt := processed.Add(30 * 24 * time.Hour)
	arch := NewArchiver(blobs, st.Stores(), slog.New(slog.DiscardHandler)).
		WithBatchSize(2).
		WithClock(func() time.Time { return archivedAt })

	n, err := arch.ArchiveAuctions(ctx, processed.Add(24*time.Hour))
	assert.NoError(t, err)
	check.Equal(t, int64(3), n)

	lines := readLines(t, blobs, "archive/auctions/2026-01/A1.jsonl")
	assert.Equal(t, 3, len(lines))
	check.Equal(t, "auction", lines[0].Kind)
	check.Equal(t, "bid", lines[1].Kind)
	check.Equal(t, "bid", lines[2].Kind)

	a1, err := st.Auctions().GetByID(ctx, "A1")
	assert.NoError(t, err)
	assert.NotNil(t, a1.ArchivedAt)
	check.Equal(t, archivedAt, *a1.ArchivedAt)
	a4, err := st.Auctions().GetByID(ctx, "A4")
	assert.NoError(t, err)
	check.Nil(t, a4.ArchivedAt)

	// A second run finds nothing left.
	n, err = arch.ArchiveAuctions(ctx, processed.Add(24*time.Hour))
	assert.NoError(t, err)
	check.Equal(t, int64(0), n)

	entries, err := st.Audit().List(ctx, domain.ListOpts{})
	assert.NoError(t, err)
	assert.Equal(t, 1, len(entries))
	check.Equal(t, "archive.auctions", entries[0].Event)
}

func TestArchiveAuctionsRespectsCutoff(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memory.New()
	blobs := memory.NewBlobs()

	processed := auctionEnd.Add(time.Hour)
	seedProcessed(t, st, "A1", processed)

	arch := NewArchiver(blobs, st.Stores(), slog.New(slog.DiscardHandler))
	n, err := arch.ArchiveAuctions(ctx, processed)
	assert.NoError(t, err)
	check.Equal(t, int64(0), n)

	ok, err := blobs.Exists(ctx, "archive/auctions/2026-01/A1.jsonl")
	assert.NoError(t, err)
	check.False(t, ok)
}

func TestArchiveAuctionsUploadFailureLeavesUnarchived(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memory.New()

	processed := auctionEnd.Add(time.Hour)
	seedProcessed(t, st, "A1", processed)

	arch := NewArchiver(failingWriter{}, st.Stores(), slog.New(slog.DiscardHandler))
	n, err := arch.ArchiveAuctions(ctx, processed.Add(time.Hour))
	check.Error(t, err)
	check.Equal(t, int64(0), n)

	a1, err := st.Auctions().GetByID(ctx, "A1")
	assert.NoError(t, err)
	check.Nil(t, a1.ArchivedAt)
}

func TestArchiveAudit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := memory.New()
	blobs := memory.NewBlobs()

	for i := range 3 {
		assert.NoError(t, st.Audit().Log(ctx, "bid.placed", map[string]any{"n": i}))
	}
	cutoff := time.Now().UTC().Add(time.Second)

	arch := NewArchiver(blobs, st.Stores(), slog.New(slog.DiscardHandler))
	n, err := arch.ArchiveAudit(ctx, cutoff)
	assert.NoError(t, err)
	check.Equal(t, int64(3), n)

	infos, err := blobs.List(ctx, "archive/audit/")
	assert.NoError(t, err)
	assert.Equal(t, 1, len(infos))
	check.Equal(t, archivePath("audit", cutoff), infos[0].Path)

	// Only the archive marker remains.
	entries, err := st.Audit().List(ctx, domain.ListOpts{})
	assert.NoError(t, err)
	assert.Equal(t, 1, len(entries))
	check.Equal(t, "archive.audit", entries[0].Event)
}

func TestArchiveAuditEmpty(t *testing.T) {
	t.Parallel()
	st := memory.New()
	blobs := memory.NewBlobs()

	n, err := NewArchiver(blobs, st.Stores(), slog.New(slog.DiscardHandler)).
		ArchiveAudit(context.Background(), time.Now())
	assert.NoError(t, err)
	check.Equal(t, int64(0), n)

	infos, err := blobs.List(context.Background(), "")
	assert.NoError(t, err)
	check.Equal(t, 0, len(infos))
}

func TestReceiptStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	blobs := memory.NewBlobs()
	rs := NewReceiptStore(blobs, blobs)

	_, err := rs.GetReceipt(ctx, "A1")
	check.True(t, errors.Is(err, domain.ErrNotFound))

	want := domain.SettlementReceipt{
		AuctionID: "A1",
		ListingID: "L1",
		Status:    domain.AuctionStatusCompleted,
		Deposits: []domain.DepositOutcome{
			{DepositID: "D1", BidderID: "b1", Amount: decimal.RequireFromString("50"), Status: domain.DepositStatusCaptured},
		},
		BidCount:  2,
		SettledAt: auctionEnd.Add(time.Minute),
	}
	assert.NoError(t, rs.PutReceipt(ctx, want))

	got, err := rs.GetReceipt(ctx, "A1")
	assert.NoError(t, err)
	check.Equal(t, want.AuctionID, got.AuctionID)
	check.Equal(t, want.Status, got.Status)
	check.Equal(t, 2, got.BidCount)
	check.True(t, want.SettledAt.Equal(got.SettledAt))
	assert.Equal(t, 1, len(got.Deposits))
	check.True(t, got.Deposits[0].Amount.Equal(decimal.RequireFromString("50")))

	info, err := blobs.List(ctx, "receipts/")
	assert.NoError(t, err)
	assert.Equal(t, 1, len(info))
	check.Equal(t, "application/json", info[0].ContentType)
}
