package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"

	"github.com/mohammednour-ai/MatEx-sub001/internal/domain"
	"github.com/mohammednour-ai/MatEx-sub001/internal/server/middleware"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeReader struct {
	snap domain.AuctionSnapshot
	bids []domain.Bid
	err  error
}

func (f *fakeReader) Snapshot(context.Context, string, time.Time) (domain.AuctionSnapshot, error) {
	return f.snap, f.err
}

func (f *fakeReader) Bids(context.Context, string) ([]domain.Bid, error) { return f.bids, f.err }

type fakeSubmitter struct {
	got domain.BidRequest
	res domain.BidResult
	err error
}

func (f *fakeSubmitter) SubmitBid(_ context.Context, req domain.BidRequest, _ time.Time) (domain.BidResult, error) {
	f.got = req
	return f.res, f.err
}

// serve routes one request through a mux so path values resolve.
func serve(pattern string, h http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	mux.HandleFunc(pattern, h)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func asBidder(req *http.Request, id string) *http.Request {
	return req.WithContext(middleware.WithBidder(req.Context(), id))
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

// field returns a string member of a decoded JSON body, or "".
func field(body map[string]any, key string) string {
	s, _ := body[key].(string)
	return s
}

func TestListBidsEmptyIsArray(t *testing.T) {
	t.Parallel()
	h := NewAuctionHandler(&fakeReader{}, &fakeSubmitter{}, slog.New(slog.DiscardHandler))
	req := httptest.NewRequest(http.MethodGet, "/api/auctions/A1/bids", nil)
	rec := serve("GET /api/auctions/{id}/bids", h.ListBids, req)

	check.Equal(t, http.StatusOK, rec.Code)
	check.Equal(t, `{"bids":[]}`, rec.Body.String())
}

func TestGetSnapshotNotFound(t *testing.T) {
	t.Parallel()
	h := NewAuctionHandler(&fakeReader{err: domain.ErrNotFound}, &fakeSubmitter{}, slog.New(slog.DiscardHandler))
	req := httptest.NewRequest(http.MethodGet, "/api/auctions/nope", nil)
	rec := serve("GET /api/auctions/{id}", h.GetSnapshot, req)

	check.Equal(t, http.StatusNotFound, rec.Code)
	check.Equal(t, "not_found", field(decodeBody(t, rec), "code"))
}

func TestPlaceBid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		bidder     string
		body       string
		idemKey    string
		err        error
		wantStatus int
		wantCode   string
		wantMin    string
		wantSubID  string
	}{
		{
			name:       "accepted",
			bidder:     "b1",
			body:       `{"amount":"125.50","submission_id":"s1"}`,
			wantStatus: http.StatusCreated,
			wantSubID:  "s1",
		},
		{
			name:       "idempotency header fallback",
			bidder:     "b1",
			body:       `{"amount":"125.50"}`,
			idemKey:    "k9",
			wantStatus: http.StatusCreated,
			wantSubID:  "k9",
		},
		{
			name:       "no bidder",
			body:       `{"amount":"10"}`,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "non positive amount",
			bidder:     "b1",
			body:       `{"amount":"0"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown field",
			bidder:     "b1",
			body:       `{"amount":"10","price":"10"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "too low carries minimum",
			bidder:     "b1",
			body:       `{"amount":"10"}`,
			err:        &domain.BidTooLowError{Minimum: decimal.RequireFromString("105")},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   "bid_too_low",
			wantMin:    "105.00",
		},
		{
			name:       "deposit required",
			bidder:     "b1",
			body:       `{"amount":"10"}`,
			err:        domain.ErrDepositRequired,
			wantStatus: http.StatusPaymentRequired,
			wantCode:   "deposit_required",
		},
		{
			name:       "auction closed",
			bidder:     "b1",
			body:       `{"amount":"10"}`,
			err:        domain.ErrAuctionNotActive,
			wantStatus: http.StatusConflict,
			wantCode:   "auction_not_active",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &fakeSubmitter{err: tt.err, res: domain.BidResult{EndAt: testNow}}
			h := NewAuctionHandler(&fakeReader{}, sub, slog.New(slog.DiscardHandler)).
				WithClock(func() time.Time { return testNow })

			req := httptest.NewRequest(http.MethodPost, "/api/auctions/A1/bids", strings.NewReader(tt.body))
			if tt.idemKey != "" {
				req.Header.Set("Idempotency-Key", tt.idemKey)
			}
			if tt.bidder != "" {
				req = asBidder(req, tt.bidder)
			}
			rec := serve("POST /api/auctions/{id}/bids", h.PlaceBid, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantCode != "" {
				body := decodeBody(t, rec)
				check.Equal(t, tt.wantCode, field(body, "code"))
				if tt.wantMin != "" {
					check.Equal(t, tt.wantMin, field(body, "minimum"))
				}
			}
			if tt.wantSubID != "" {
				check.Equal(t, tt.wantSubID, sub.got.SubmissionID)
				check.Equal(t, "A1", sub.got.AuctionID)
				check.Equal(t, "b1", sub.got.BidderID)
			}
		})
	}
}

func TestErrorStatusHidesInternalDetail(t *testing.T) {
	t.Parallel()
	h := NewAuctionHandler(&fakeReader{err: context.DeadlineExceeded}, &fakeSubmitter{}, slog.New(slog.DiscardHandler))
	req := httptest.NewRequest(http.MethodGet, "/api/auctions/A1", nil)
	rec := serve("GET /api/auctions/{id}", h.GetSnapshot, req)

	check.Equal(t, http.StatusInternalServerError, rec.Code)
	check.Equal(t, "internal server error", field(decodeBody(t, rec), "error"))
}
