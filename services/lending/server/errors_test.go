package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"peerlend/services/lending/engine"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{engine.ErrNotFound, http.StatusNotFound, "not_found"},
		{engine.ErrPaused, http.StatusServiceUnavailable, "paused"},
		{engine.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
		{engine.ErrInvalidRequest, http.StatusBadRequest, "invalid_request"},
		{engine.ErrInsufficientCollateral, http.StatusUnprocessableEntity, "insufficient_collateral"},
		{engine.ErrNotLiquidatable, http.StatusUnprocessableEntity, "not_liquidatable"},
		{engine.ErrConflict, http.StatusConflict, "conflict"},
		{engine.ErrQuotaExceeded, http.StatusTooManyRequests, "quota_exceeded"},
		{engine.ErrUnauthorized, http.StatusForbidden, "unauthorized"},
		{engine.ErrUnavailable, http.StatusBadGateway, "unavailable"},
		{context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
		{engine.ErrInternal, http.StatusInternalServerError, "internal"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
		{fmt.Errorf("%w: %w", engine.ErrPaused, errors.New("market paused")), http.StatusServiceUnavailable, "paused"},
	}
	for _, tc := range cases {
		status, code := statusFor(tc.err)
		require.Equal(t, tc.status, status, tc.err.Error())
		require.Equal(t, tc.code, code, tc.err.Error())
	}
}
