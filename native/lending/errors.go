package lending

import (
	"errors"

	"peerlend/native/lending/dll"
)

var (
	errNilState = errors.New("lending engine: state not configured")
	errNilPool  = errors.New("lending engine: pool adapter not configured")

	ErrMarketNotCreated       = errors.New("lending engine: market not created")
	ErrMarketAlreadyCreated   = errors.New("lending engine: market already created")
	ErrMarketPaused           = errors.New("lending engine: market paused")
	ErrAmountIsZero           = errors.New("lending engine: amount is zero")
	ErrAddressIsZero          = errors.New("lending engine: address is zero")
	ErrInsufficientCollateral = errors.New("lending engine: insufficient collateral")
	ErrNoSupply               = errors.New("lending engine: nothing supplied")
	ErrNoDebt                 = errors.New("lending engine: no outstanding debt")
	ErrNotLiquidatable        = errors.New("lending engine: borrower not eligible for liquidation")
	ErrExternalAdapterFailure = errors.New("lending engine: external adapter failure")
	ErrArithmeticOverflow     = errors.New("lending engine: arithmetic overflow")
	ErrArithmeticUnderflow    = errors.New("lending engine: arithmetic underflow")
	ErrInvalidParameter       = errors.New("lending engine: invalid parameter")
	ErrReentrantCall          = errors.New("lending engine: re-entrant call")
	ErrTreasuryNotSet         = errors.New("lending engine: treasury not configured")

	// List misuse surfaces unchanged from the list package.
	ErrAccountNotInList     = dll.ErrAccountNotInList
	ErrAccountAlreadyInList = dll.ErrAccountAlreadyInList
)
