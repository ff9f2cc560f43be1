package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/mohammednour-ai/MatEx-sub001/internal/domain"
)

const maxBodyBytes = 1 << 20

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Minimum string `json:"minimum,omitempty"`
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// decodeJSON reads a size-limited JSON body into v.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}

// errorStatus maps a domain error to an HTTP status and a stable code.
func errorStatus(err error) (int, string) {
	var low *domain.BidTooLowError
	switch {
	case errors.As(err, &low):
		return http.StatusUnprocessableEntity, "bid_too_low"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, domain.ErrSelfBid):
		return http.StatusForbidden, "self_bid"
	case errors.Is(err, domain.ErrDepositRequired):
		return http.StatusPaymentRequired, "deposit_required"
	case errors.Is(err, domain.ErrAuctionNotActive):
		return http.StatusConflict, "auction_not_active"
	case errors.Is(err, domain.ErrAuctionNotEnded):
		return http.StatusConflict, "auction_not_ended"
	case errors.Is(err, domain.ErrAlreadyProcessed):
		return http.StatusConflict, "already_processed"
	case errors.Is(err, domain.ErrSettlementInProgress), errors.Is(err, domain.ErrLockHeld):
		return http.StatusConflict, "settlement_in_progress"
	case errors.Is(err, domain.ErrAlreadyAuthorized):
		return http.StatusConflict, "already_authorized"
	case errors.Is(err, domain.ErrDuplicateBid):
		return http.StatusConflict, "duplicate_bid"
	case errors.Is(err, domain.ErrInvalidDepositTransition), errors.Is(err, domain.ErrStaleState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, domain.ErrPaymentDeclined):
		return http.StatusPaymentRequired, "payment_declined"
	case errors.Is(err, domain.ErrPaymentUnavailable):
		return http.StatusServiceUnavailable, "payment_unavailable"
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// writeDomainError answers with the status errorStatus picks. Server errors
// are logged and their detail is withheld from the client.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	status, code := errorStatus(err)
	body := errorBody{Error: err.Error(), Code: code}

	var low *domain.BidTooLowError
	if errors.As(err, &low) {
		body.Error = "bid below minimum"
		body.Minimum = low.Minimum.StringFixed(2)
	}
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("error", err.Error()),
		)
		if status == http.StatusInternalServerError {
			body.Error = "internal server error"
		}
	}
	writeJSON(w, status, body)
}
