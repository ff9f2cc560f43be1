package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/mohammednour-ai/MatEx-sub001/internal/domain"
)

// SignatureHeader carries the processor's webhook signature.
const SignatureHeader = "Payment-Signature"

// SignatureVerifier checks a webhook signature header against the body.
type SignatureVerifier interface {
	Verify(header string, body []byte) error
}

// DepositWebhooks applies asynchronous processor outcomes to deposits.
type DepositWebhooks interface {
	ConfirmAuthorization(ctx context.Context, depositID, paymentRef string) (domain.Deposit, error)
	MarkFailed(ctx context.Context, depositID, reason string) (domain.Deposit, error)
}

// WebhookHandler receives payment processor deliveries.
type WebhookHandler struct {
	verifier SignatureVerifier
	deposits DepositWebhooks
	logger   *slog.Logger
}

// NewWebhookHandler creates a WebhookHandler.
func NewWebhookHandler(verifier SignatureVerifier, deposits DepositWebhooks, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{verifier: verifier, deposits: deposits, logger: logHandler(logger, "webhooks")}
}

// Processor event types acted on; everything else is acknowledged and
// ignored.
const (
	eventHoldAuthorized = "payment_intent.amount_capturable_updated"
	eventPaymentFailed  = "payment_intent.payment_failed"
	eventHoldCanceled   = "payment_intent.canceled"
)

type webhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID               string            `json:"id"`
			Status           string            `json:"status"`
			Metadata         map[string]string `json:"metadata"`
			LastPaymentError *struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"last_payment_error"`
			CancellationReason string `json:"cancellation_reason"`
		} `json:"object"`
	} `json:"data"`
}

// HandlePayment verifies and applies one delivery. Unknown deposits and
// deposits that already moved on are acknowledged so the processor stops
// retrying; storage failures answer 500 so it retries.
// POST /api/webhooks/payments
func (h *WebhookHandler) HandlePayment(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	sig := r.Header.Get(SignatureHeader)
	if sig == "" {
		sig = r.Header.Get("Stripe-Signature")
	}
	if err := h.verifier.Verify(sig, body); err != nil {
		h.logger.WarnContext(r.Context(), "webhook signature rejected", slog.String("error", err.Error()))
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var ev webhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid event payload")
		return
	}
	obj := ev.Data.Object
	depositID := obj.Metadata["deposit_id"]
	log := h.logger.With(
		slog.String("event_id", ev.ID),
		slog.String("type", ev.Type),
		slog.String("payment_ref", obj.ID),
		slog.String("deposit_id", depositID),
	)
	if depositID == "" {
		log.DebugContext(r.Context(), "webhook without deposit ignored")
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	switch ev.Type {
	case eventHoldAuthorized:
		_, err = h.deposits.ConfirmAuthorization(r.Context(), depositID, obj.ID)
	case eventPaymentFailed, eventHoldCanceled:
		reason := obj.CancellationReason
		if obj.LastPaymentError != nil && obj.LastPaymentError.Code != "" {
			reason = obj.LastPaymentError.Code
		}
		if reason == "" {
			reason = ev.Type
		}
		_, err = h.deposits.MarkFailed(r.Context(), depositID, reason)
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	switch {
	case err == nil:
		log.InfoContext(r.Context(), "webhook applied")
		writeJSON(w, http.StatusOK, map[string]string{"status": "applied"})
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrInvalidDepositTransition),
		errors.Is(err, domain.ErrStaleState):
		log.InfoContext(r.Context(), "webhook acknowledged without change", slog.String("reason", err.Error()))
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
	default:
		writeDomainError(w, r, log, "webhook", err)
	}
}
