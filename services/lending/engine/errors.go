package engine

import "errors"

var (
	ErrNotFound               = errors.New("lending: not found")
	ErrInsufficientCollateral = errors.New("lending: insufficient collateral")
	ErrNotLiquidatable        = errors.New("lending: borrower is healthy")
	ErrPaused                 = errors.New("lending: operation paused")
	ErrInvalidAmount          = errors.New("lending: invalid amount")
	ErrInvalidRequest         = errors.New("lending: invalid request")
	ErrConflict               = errors.New("lending: conflicting state")
	ErrUnauthorized           = errors.New("lending: unauthorized")
	ErrUnavailable            = errors.New("lending: pool unavailable")
	ErrQuotaExceeded          = errors.New("lending: quota exceeded")
	ErrInternal               = errors.New("lending: internal error")
)
