package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/mohammednour-ai/MatEx-sub001/internal/domain"
)

// ReceiptStore implements domain.ReceiptStore as one JSON object per
// auction at receipts/{auctionID}.json. A repeated settlement overwrites
// the same key.
type ReceiptStore struct {
	writer domain.BlobWriter
	reader domain.BlobReader
}

// NewReceiptStore creates a ReceiptStore over any blob backend.
func NewReceiptStore(writer domain.BlobWriter, reader domain.BlobReader) *ReceiptStore {
	return &ReceiptStore{writer: writer, reader: reader}
}

func receiptPath(auctionID string) string {
	return "receipts/" + auctionID + ".json"
}

func (s *ReceiptStore) PutReceipt(ctx context.Context, r domain.SettlementReceipt) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("s3blob: marshal receipt %s: %w", r.AuctionID, err)
	}
	if err := s.writer.Put(ctx, receiptPath(r.AuctionID), bytes.NewReader(data), contentTypeJSON); err != nil {
		return fmt.Errorf("s3blob: put receipt %s: %w", r.AuctionID, err)
	}
	return nil
}

// GetReceipt returns the stored receipt; a missing object wraps
// domain.ErrNotFound.
func (s *ReceiptStore) GetReceipt(ctx context.Context, auctionID string) (domain.SettlementReceipt, error) {
	body, err := s.reader.Get(ctx, receiptPath(auctionID))
	if err != nil {
		return domain.SettlementReceipt{}, err
	}
	defer body.Close()

	var r domain.SettlementReceipt
	if err := json.NewDecoder(body).Decode(&r); err != nil {
		return domain.SettlementReceipt{}, fmt.Errorf("s3blob: decode receipt %s: %w", auctionID, err)
	}
	return r, nil
}

var _ domain.ReceiptStore = (*ReceiptStore)(nil)
