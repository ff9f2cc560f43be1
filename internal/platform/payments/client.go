// Package payments talks to the payment processor. Client speaks a
// Stripe-compatible PaymentIntents API; Sandbox is an in-process gateway
// for local runs and tests.
package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mohammednour-ai/MatEx-sub001/internal/domain"
	"github.com/shopspring/decimal"
)

// Client is the REST client for the processor's PaymentIntents API.
type Client struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
}

// NewClient creates a payments Client.
//
// baseURL is the API root, e.g. "https://api.stripe.com".
func NewClient(baseURL, secretKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		secretKey:  secretKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// intent is the subset of a PaymentIntent the client reads.
type intent struct {
	ID       string            `json:"id"`
	Status   string            `json:"status"`
	Amount   int64             `json:"amount"`
	Metadata map[string]string `json:"metadata"`
}

type apiError struct {
	Error struct {
		Type        string `json:"type"`
		Code        string `json:"code"`
		DeclineCode string `json:"decline_code"`
		Message     string `json:"message"`
	} `json:"error"`
}

// Intent statuses.
const (
	statusRequiresCapture = "requires_capture"
	statusSucceeded       = "succeeded"
	statusCanceled        = "canceled"
	statusProcessing      = "processing"
)

// AuthorizeHold creates and confirms a manual-capture PaymentIntent.
func (c *Client) AuthorizeHold(ctx context.Context, req domain.HoldRequest) (domain.Hold, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(toMinorUnits(req.Amount), 10))
	form.Set("currency", req.Currency)
	form.Set("capture_method", "manual")
	form.Set("confirm", "true")
	if req.PayerRef != "" {
		form.Set("customer", req.PayerRef)
	}
	if req.Description != "" {
		form.Set("description", req.Description)
	}
	for k, v := range req.Metadata {
		form.Set("metadata["+k+"]", v)
	}

	var pi intent
	if err := c.do(ctx, "authorize", http.MethodPost, "/v1/payment_intents", form, req.IdempotencyKey, &pi); err != nil {
		return domain.Hold{}, err
	}
	switch pi.Status {
	case statusRequiresCapture, statusSucceeded:
		return domain.Hold{PaymentRef: pi.ID, Status: pi.Status}, nil
	case statusProcessing:
		return domain.Hold{}, &domain.PaymentError{Op: "authorize", Code: pi.Status, Message: "hold still processing"}
	default:
		return domain.Hold{}, &domain.PaymentError{Op: "authorize", Code: pi.Status, Message: "hold not authorized", Permanent: true}
	}
}

// CaptureHold captures an authorized PaymentIntent. Capturing an intent the
// processor already captured succeeds.
func (c *Client) CaptureHold(ctx context.Context, paymentRef, idempotencyKey string) error {
	path := "/v1/payment_intents/" + url.PathEscape(paymentRef) + "/capture"
	err := c.do(ctx, "capture", http.MethodPost, path, url.Values{}, idempotencyKey, nil)
	if err == nil {
		return nil
	}
	switch st, ok := c.stateAfter(ctx, err, paymentRef); {
	case ok && st == statusSucceeded:
		return nil
	case ok && st == statusCanceled:
		return &domain.PaymentError{Op: "capture", Code: st, Message: "hold was released before capture", Permanent: true}
	}
	return err
}

// CancelOrRefundHold cancels an uncaptured intent or refunds a captured one.
func (c *Client) CancelOrRefundHold(ctx context.Context, paymentRef string, captured bool, idempotencyKey string) error {
	if captured {
		form := url.Values{}
		form.Set("payment_intent", paymentRef)
		return c.do(ctx, "refund", http.MethodPost, "/v1/refunds", form, idempotencyKey, nil)
	}
	path := "/v1/payment_intents/" + url.PathEscape(paymentRef) + "/cancel"
	err := c.do(ctx, "cancel", http.MethodPost, path, url.Values{}, idempotencyKey, nil)
	if err == nil {
		return nil
	}
	if st, ok := c.stateAfter(ctx, err, paymentRef); ok && st == statusCanceled {
		return nil
	}
	return err
}

// stateAfter looks up the intent's status when err is an unexpected-state
// rejection, so a repeated capture or cancel can be told apart from a real
// failure.
func (c *Client) stateAfter(ctx context.Context, err error, paymentRef string) (string, bool) {
	var pe *domain.PaymentError
	if !errors.As(err, &pe) || pe.Code != "payment_intent_unexpected_state" {
		return "", false
	}
	var pi intent
	if gerr := c.do(ctx, "get", http.MethodGet, "/v1/payment_intents/"+url.PathEscape(paymentRef), nil, "", &pi); gerr != nil {
		return "", false
	}
	return pi.Status, true
}

// do sends one form-encoded request and decodes the JSON response into out.
func (c *Client) do(ctx context.Context, op, method, path string, form url.Values, idempotencyKey string, out any) error {
	var body io.Reader
	if form != nil && method != http.MethodGet {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("payments: %s: create request: %w", op, err)
	}
	req.SetBasicAuth(c.secretKey, "")
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.PaymentError{Op: op, Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &domain.PaymentError{Op: op, Message: "read response: " + err.Error()}
	}
	if resp.StatusCode >= 300 {
		return classify(op, resp.StatusCode, respBody)
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return &domain.PaymentError{Op: op, Message: "decode response: " + err.Error()}
		}
	}
	return nil
}

// classify maps an error response to a PaymentError. Card errors and
// rejected requests are permanent; rate limits, conflicts, auth problems
// and server errors are transient.
func classify(op string, status int, body []byte) *domain.PaymentError {
	var ae apiError
	_ = json.Unmarshal(body, &ae)
	pe := &domain.PaymentError{
		Op:      op,
		Code:    ae.Error.Code,
		Message: ae.Error.Message,
	}
	if ae.Error.DeclineCode != "" {
		pe.Code = ae.Error.DeclineCode
	}
	if pe.Message == "" {
		pe.Message = fmt.Sprintf("unexpected status %d", status)
	}

	switch {
	case status == http.StatusPaymentRequired:
		pe.Permanent = true
	case status == http.StatusTooManyRequests, status == http.StatusConflict,
		status == http.StatusUnauthorized, status == http.StatusForbidden,
		status >= 500:
		pe.Permanent = false
	case ae.Error.Type == "card_error":
		pe.Permanent = true
	case status >= 400:
		pe.Permanent = ae.Error.Code != "payment_intent_unexpected_state" && ae.Error.Type != "api_error"
	}
	return pe
}

func toMinorUnits(amount decimal.Decimal) int64 {
	return amount.Round(2).Shift(2).IntPart()
}

// Compile-time interface check.
var _ domain.PaymentGateway = (*Client)(nil)
