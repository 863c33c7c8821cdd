package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"peerlend/services/lending/engine"
)

type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

// statusFor maps engine errors onto HTTP status codes and stable codes.
func statusFor(err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusOK, "ok"
	case errors.Is(err, engine.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, engine.ErrPaused):
		return http.StatusServiceUnavailable, "paused"
	case errors.Is(err, engine.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, engine.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, engine.ErrInsufficientCollateral):
		return http.StatusUnprocessableEntity, "insufficient_collateral"
	case errors.Is(err, engine.ErrNotLiquidatable):
		return http.StatusUnprocessableEntity, "not_liquidatable"
	case errors.Is(err, engine.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, engine.ErrQuotaExceeded):
		return http.StatusTooManyRequests, "quota_exceeded"
	case errors.Is(err, engine.ErrUnauthorized):
		return http.StatusForbidden, "unauthorized"
	case errors.Is(err, engine.ErrUnavailable):
		return http.StatusBadGateway, "unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, context.Canceled):
		return statusClientClosed, "canceled"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// statusClientClosed is the de facto status for requests abandoned by the
// caller.
const statusClientClosed = 499

func writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	writeError(w, r, status, code, message)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	message = strings.TrimSpace(message)
	if message == "" {
		message = http.StatusText(status)
	}
	writeJSON(w, status, errorBody{Error: message, Code: code, RequestID: requestIDFrom(r.Context())})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
