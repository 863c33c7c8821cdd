package engine

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"peerlend/native/lending"
)

// Engine describes the operations required by the lending HTTP surface.
// Amounts and addresses travel as strings and are validated by the
// implementation.
type Engine interface {
	Supply(ctx context.Context, req FlowRequest) (*lending.Receipt, error)
	Borrow(ctx context.Context, req FlowRequest) (*lending.Receipt, error)
	Withdraw(ctx context.Context, req FlowRequest) (*lending.Receipt, error)
	Repay(ctx context.Context, req FlowRequest) (*lending.Receipt, error)
	Liquidate(ctx context.Context, req LiquidationRequest) (*lending.LiquidationReceipt, error)

	GetMarket(ctx context.Context, market string) (Market, error)
	ListMarkets(ctx context.Context) ([]Market, error)
	GetPosition(ctx context.Context, addr, market string) (Position, error)
	GetHealth(ctx context.Context, addr string) (Health, error)
	ListAccounts(ctx context.Context, market, list string) ([]string, error)

	CreateMarket(ctx context.Context, params MarketParams) (Market, error)
	UpdateMarket(ctx context.Context, market string, update MarketUpdate) (Market, error)
	IncreaseP2PDeltas(ctx context.Context, market, amount string) (*uint256.Int, error)
	ClaimReserve(ctx context.Context, market, amount string) (*uint256.Int, error)
	SetModulePaused(ctx context.Context, paused bool) error
}

// FlowRequest carries a supply, borrow, withdraw or repay. Account is the
// party whose funds or position move first (supplier, borrower, owner,
// repayer). Counterparty is the beneficiary for supply and repay and the
// receiver for borrow and withdraw; it defaults to Account.
type FlowRequest struct {
	Account       string  `json:"account"`
	Counterparty  string  `json:"counterparty,omitempty"`
	Market        string  `json:"market"`
	Amount        string  `json:"amount"`
	MaxIterations *uint64 `json:"maxIterations,omitempty"`
}

// LiquidationRequest repays Amount of the borrower's debt on BorrowedMarket
// and seizes collateral on CollateralMarket.
type LiquidationRequest struct {
	Liquidator       string  `json:"liquidator"`
	Borrower         string  `json:"borrower"`
	BorrowedMarket   string  `json:"borrowedMarket"`
	CollateralMarket string  `json:"collateralMarket"`
	Amount           string  `json:"amount"`
	MaxIterations    *uint64 `json:"maxIterations,omitempty"`
}

// Market is a market snapshot with indexes refreshed to the engine clock.
type Market struct {
	Market *lending.Market `json:"market"`
}

// Position reflects one account's balances in one market.
type Position struct {
	Position *lending.PositionView `json:"position"`
}

// Health combines the account's memberships and liquidity.
type Health struct {
	Account   common.Address         `json:"account"`
	Markets   []string               `json:"markets"`
	Liquidity *lending.LiquidityData `json:"liquidity"`
	Healthy   bool                   `json:"healthy"`
}

// MarketParams describes a market to create.
type MarketParams struct {
	Symbol         string `json:"symbol"`
	ReserveFactor  uint64 `json:"reserveFactor"`
	P2PIndexCursor uint64 `json:"p2pIndexCursor"`
	P2PDisabled    bool   `json:"p2pDisabled"`
}

// MarketUpdate lists the parameters to change. Nil fields are left alone.
type MarketUpdate struct {
	ReserveFactor  *uint64               `json:"reserveFactor,omitempty"`
	P2PIndexCursor *uint64               `json:"p2pIndexCursor,omitempty"`
	P2PDisabled    *bool                 `json:"p2pDisabled,omitempty"`
	Paused         *bool                 `json:"paused,omitempty"`
	Pauses         *lending.ActionPauses `json:"pauses,omitempty"`
}

// Empty reports whether the update changes nothing.
func (u MarketUpdate) Empty() bool {
	return u.ReserveFactor == nil && u.P2PIndexCursor == nil && u.P2PDisabled == nil && u.Paused == nil && u.Pauses == nil
}
