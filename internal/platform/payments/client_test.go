package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/mohammednour-ai/MatEx-sub001/internal/domain"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
)

type recordedRequest struct {
	method, path, idemKey, user string
	form                        map[string]string
}

type fakeProcessor struct {
	mu       sync.Mutex
	requests []recordedRequest
	handler  func(w http.ResponseWriter, r *http.Request)
}

func (f *fakeProcessor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	user, _, _ := r.BasicAuth()
	rec := recordedRequest{method: r.Method, path: r.URL.Path, idemKey: r.Header.Get("Idempotency-Key"), user: user, form: map[string]string{}}
	for k := range r.PostForm {
		rec.form[k] = r.PostForm.Get(k)
	}
	f.mu.Lock()
	f.requests = append(f.requests, rec)
	f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	f.handler(w, r)
}

func newTestClient(t *testing.T, h func(w http.ResponseWriter, r *http.Request)) (*Client, *fakeProcessor) {
	t.Helper()
	fp := &fakeProcessor{handler: h}
	srv := httptest.NewServer(fp)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "sk_test", 5*time.Second), fp
}

func writeError(w http.ResponseWriter, status int, typ, code, msg string) {
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":{"type":%q,"code":%q,"message":%q}}`, typ, code, msg)
}

func TestAuthorizeHold(t *testing.T) {
	t.Parallel()
	c, fp := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"id":"pi_123","status":"requires_capture","amount":10000}`)
	})

	hold, err := c.AuthorizeHold(context.Background(), domain.HoldRequest{
		Amount:         decimal.RequireFromString("100.00"),
		Currency:       "cad",
		PayerRef:       "cus_bob",
		IdempotencyKey: "deposit-d1-authorize",
		Metadata:       map[string]string{"deposit_id": "d1"},
	})
	assert.NoError(t, err)
	check.Equal(t, "pi_123", hold.PaymentRef)

	assert.Equal(t, 1, len(fp.requests))
	req := fp.requests[0]
	check.Equal(t, "/v1/payment_intents", req.path)
	check.Equal(t, "sk_test", req.user)
	check.Equal(t, "deposit-d1-authorize", req.idemKey)
	check.Equal(t, "10000", req.form["amount"])
	check.Equal(t, "manual", req.form["capture_method"])
	check.Equal(t, "d1", req.form["metadata[deposit_id]"])
}

func TestAuthorizeHoldErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		status    int
		body      string
		permanent bool
		sentinel  error
	}{
		{"card declined", http.StatusPaymentRequired, `{"error":{"type":"card_error","code":"card_declined","decline_code":"insufficient_funds","message":"no"}}`, true, domain.ErrPaymentDeclined},
		{"rate limited", http.StatusTooManyRequests, `{"error":{"type":"invalid_request_error","code":"rate_limit","message":"slow down"}}`, false, domain.ErrPaymentUnavailable},
		{"server error", http.StatusBadGateway, `oops`, false, domain.ErrPaymentUnavailable},
		{"bad request", http.StatusBadRequest, `{"error":{"type":"invalid_request_error","code":"parameter_invalid","message":"bad"}}`, true, domain.ErrPaymentDeclined},
		{"requires action", http.StatusOK, `{"id":"pi_1","status":"requires_action"}`, true, domain.ErrPaymentDeclined},
		{"processing", http.StatusOK, `{"id":"pi_1","status":"processing"}`, false, domain.ErrPaymentUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})
			_, err := c.AuthorizeHold(context.Background(), domain.HoldRequest{Amount: decimal.NewFromInt(50), Currency: "cad"})
			check.Equal(t, tt.permanent, domain.IsPermanentPayment(err))
			check.True(t, errors.Is(err, tt.sentinel))
		})
	}
}

func TestCaptureHoldAlreadyCaptured(t *testing.T) {
	t.Parallel()
	c, fp := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			fmt.Fprint(w, `{"id":"pi_1","status":"succeeded"}`)
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_request_error", "payment_intent_unexpected_state", "already captured")
	})

	err := c.CaptureHold(context.Background(), "pi_1", "deposit-d1-capture")
	check.NoError(t, err)
	assert.Equal(t, 2, len(fp.requests))
	check.Equal(t, "/v1/payment_intents/pi_1/capture", fp.requests[0].path)
	check.Equal(t, "deposit-d1-capture", fp.requests[0].idemKey)
	check.Equal(t, http.MethodGet, fp.requests[1].method)
}

func TestCaptureHoldAfterRelease(t *testing.T) {
	t.Parallel()
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			fmt.Fprint(w, `{"id":"pi_1","status":"canceled"}`)
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_request_error", "payment_intent_unexpected_state", "canceled")
	})

	err := c.CaptureHold(context.Background(), "pi_1", "k")
	check.True(t, domain.IsPermanentPayment(err))
}

func TestCancelOrRefundHold(t *testing.T) {
	t.Parallel()
	c, fp := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"id":"x","status":"canceled"}`)
	})
	ctx := context.Background()

	assert.NoError(t, c.CancelOrRefundHold(ctx, "pi_1", false, "deposit-d1-refund"))
	assert.NoError(t, c.CancelOrRefundHold(ctx, "pi_2", true, "deposit-d2-refund"))

	assert.Equal(t, 2, len(fp.requests))
	check.Equal(t, "/v1/payment_intents/pi_1/cancel", fp.requests[0].path)
	check.Equal(t, "/v1/refunds", fp.requests[1].path)
	check.Equal(t, "pi_2", fp.requests[1].form["payment_intent"])
}

func TestCancelAlreadyCanceled(t *testing.T) {
	t.Parallel()
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			fmt.Fprint(w, `{"id":"pi_1","status":"canceled"}`)
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_request_error", "payment_intent_unexpected_state", "already canceled")
	})
	check.NoError(t, c.CancelOrRefundHold(context.Background(), "pi_1", false, "k"))
}

func TestToMinorUnits(t *testing.T) {
	t.Parallel()
	check.Equal(t, int64(15600), toMinorUnits(decimal.RequireFromString("156")))
	check.Equal(t, int64(1235), toMinorUnits(decimal.RequireFromString("12.345")))
	check.Equal(t, int64(5), toMinorUnits(decimal.RequireFromString("0.05")))
}

func TestSandboxIdempotency(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	sb := NewSandbox()
	req := domain.HoldRequest{Amount: decimal.NewFromInt(50), PayerRef: "bob", IdempotencyKey: "k1"}

	h1, err := sb.AuthorizeHold(ctx, req)
	assert.NoError(t, err)
	h2, err := sb.AuthorizeHold(ctx, req)
	assert.NoError(t, err)
	check.Equal(t, h1.PaymentRef, h2.PaymentRef)
	check.Equal(t, 1, sb.Holds())

	assert.NoError(t, sb.CaptureHold(ctx, h1.PaymentRef, ""))
	assert.NoError(t, sb.CaptureHold(ctx, h1.PaymentRef, ""))
	err = sb.CancelOrRefundHold(ctx, h1.PaymentRef, false, "")
	check.True(t, domain.IsPermanentPayment(err))
	assert.NoError(t, sb.CancelOrRefundHold(ctx, h1.PaymentRef, true, ""))

	h, _ := sb.Hold(h1.PaymentRef)
	check.Equal(t, HoldRefunded, h.Status)
}
