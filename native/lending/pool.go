package lending

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Pool is the external pooled lending protocol the engine routes unmatched
// liquidity through. Every call may fail; failures abort the enclosing flow.
type Pool interface {
	Supply(ctx context.Context, symbol string, amount *uint256.Int) error
	// Withdraw returns the amount actually released by the pool.
	Withdraw(ctx context.Context, symbol string, amount *uint256.Int) (*uint256.Int, error)
	Borrow(ctx context.Context, symbol string, amount *uint256.Int) error
	Repay(ctx context.Context, symbol string, amount *uint256.Int) error
	// SupplyIndex and BorrowIndex return the pool's current ray-scaled indexes.
	SupplyIndex(ctx context.Context, symbol string) (*uint256.Int, error)
	BorrowIndex(ctx context.Context, symbol string) (*uint256.Int, error)
	// PriceOf returns the wad-scaled price of one underlying unit.
	PriceOf(ctx context.Context, symbol string) (*uint256.Int, error)
	// CollateralFactor returns the share of collateral value that may be
	// borrowed against, in basis points.
	CollateralFactor(ctx context.Context, symbol string) (uint64, error)
}

// Custody moves underlying tokens between users and the engine. Balances held
// by the engine between flows are protocol reserves.
type Custody interface {
	TransferIn(ctx context.Context, symbol string, from common.Address, amount *uint256.Int) error
	TransferOut(ctx context.Context, symbol string, to common.Address, amount *uint256.Int) error
	BalanceOf(ctx context.Context, symbol string) (*uint256.Int, error)
}
