// Package rpcpool reaches the external pooled lending protocol and token
// custody over JSON-RPC 2.0. Amounts and indexes travel as decimal strings.
package rpcpool

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"peerlend/native/lending"
)

// Method names served by the remote endpoint.
const (
	MethodSupply           = "pool_supply"
	MethodWithdraw         = "pool_withdraw"
	MethodBorrow           = "pool_borrow"
	MethodRepay            = "pool_repay"
	MethodSupplyIndex      = "pool_supplyIndex"
	MethodBorrowIndex      = "pool_borrowIndex"
	MethodPriceOf          = "pool_priceOf"
	MethodCollateralFactor = "pool_collateralFactor"
	MethodTransferIn       = "custody_transferIn"
	MethodTransferOut      = "custody_transferOut"
	MethodBalanceOf        = "custody_balanceOf"
)

// Caller performs one JSON-RPC call. *rpcclient.Client satisfies it.
type Caller interface {
	Call(ctx context.Context, method string, params any, result any) error
}

// Pool implements lending.Pool and lending.Custody against a remote endpoint.
type Pool struct {
	rpc Caller
}

var (
	_ lending.Pool    = (*Pool)(nil)
	_ lending.Custody = (*Pool)(nil)
)

func New(rpc Caller) *Pool {
	return &Pool{rpc: rpc}
}

func (p *Pool) Supply(ctx context.Context, symbol string, amount *uint256.Int) error {
	return p.rpc.Call(ctx, MethodSupply, []string{symbol, amount.Dec()}, nil)
}

func (p *Pool) Withdraw(ctx context.Context, symbol string, amount *uint256.Int) (*uint256.Int, error) {
	return p.amount(ctx, MethodWithdraw, symbol, amount.Dec())
}

func (p *Pool) Borrow(ctx context.Context, symbol string, amount *uint256.Int) error {
	return p.rpc.Call(ctx, MethodBorrow, []string{symbol, amount.Dec()}, nil)
}

func (p *Pool) Repay(ctx context.Context, symbol string, amount *uint256.Int) error {
	return p.rpc.Call(ctx, MethodRepay, []string{symbol, amount.Dec()}, nil)
}

func (p *Pool) SupplyIndex(ctx context.Context, symbol string) (*uint256.Int, error) {
	return p.amount(ctx, MethodSupplyIndex, symbol)
}

func (p *Pool) BorrowIndex(ctx context.Context, symbol string) (*uint256.Int, error) {
	return p.amount(ctx, MethodBorrowIndex, symbol)
}

func (p *Pool) PriceOf(ctx context.Context, symbol string) (*uint256.Int, error) {
	return p.amount(ctx, MethodPriceOf, symbol)
}

func (p *Pool) CollateralFactor(ctx context.Context, symbol string) (uint64, error) {
	var bps uint64
	if err := p.rpc.Call(ctx, MethodCollateralFactor, []string{symbol}, &bps); err != nil {
		return 0, err
	}
	if bps > 10_000 {
		return 0, fmt.Errorf("%s: collateral factor %d exceeds 10000 bps", MethodCollateralFactor, bps)
	}
	return bps, nil
}

func (p *Pool) TransferIn(ctx context.Context, symbol string, from common.Address, amount *uint256.Int) error {
	return p.rpc.Call(ctx, MethodTransferIn, []string{symbol, from.Hex(), amount.Dec()}, nil)
}

func (p *Pool) TransferOut(ctx context.Context, symbol string, to common.Address, amount *uint256.Int) error {
	return p.rpc.Call(ctx, MethodTransferOut, []string{symbol, to.Hex(), amount.Dec()}, nil)
}

func (p *Pool) BalanceOf(ctx context.Context, symbol string) (*uint256.Int, error) {
	return p.amount(ctx, MethodBalanceOf, symbol)
}

// amount calls method and parses a decimal string result.
func (p *Pool) amount(ctx context.Context, method string, params ...string) (*uint256.Int, error) {
	var raw string
	if err := p.rpc.Call(ctx, method, params, &raw); err != nil {
		return nil, err
	}
	value, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid amount %q: %w", method, raw, err)
	}
	return value, nil
}
