package lending

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"peerlend/core/events"
)

// LiquidationReceipt pairs the repay and seize legs of a liquidation.
type LiquidationReceipt struct {
	Repaid *Receipt
	Seized *Receipt
}

// Liquidate lets liquidator repay part of an undercollateralised borrower's
// debt in borrowedSymbol and receive the matching collateral plus the
// liquidation bonus from collateralSymbol. The repaid amount is capped by the
// close factor and by the collateral available.
func (e *Engine) Liquidate(ctx context.Context, borrowedSymbol, collateralSymbol string, liquidator, borrower common.Address, amount *uint256.Int, maxIterations *uint64) (*LiquidationReceipt, error) {
	if amount == nil || amount.IsZero() {
		return nil, ErrAmountIsZero
	}
	if liquidator == (common.Address{}) || borrower == (common.Address{}) {
		return nil, ErrAddressIsZero
	}
	budget := e.budget(actionLiquidate, maxIterations)
	var receipt *LiquidationReceipt
	err := e.run(ctx, func(tx *txn) error {
		r, err := e.liquidateLogic(tx, borrowedSymbol, collateralSymbol, liquidator, borrower, amount, budget)
		receipt = r
		return err
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

func (e *Engine) liquidateLogic(tx *txn, borrowedSymbol, collateralSymbol string, liquidator, borrower common.Address, amount *uint256.Int, budget uint64) (*LiquidationReceipt, error) {
	borrowed, err := e.loadMarket(tx, borrowedSymbol, actionLiquidate)
	if err != nil {
		return nil, err
	}
	collateral, err := e.loadMarket(tx, collateralSymbol, actionLiquidate)
	if err != nil {
		return nil, err
	}

	liquidity, err := e.liquidityData(tx, borrower, "", zero(), zero())
	if err != nil {
		return nil, err
	}
	if liquidity.Healthy() {
		return nil, fmt.Errorf("%w: debt %s within allowed %s", ErrNotLiquidatable, liquidity.Debt.Dec(), liquidity.MaxDebt.Dec())
	}

	var a arith
	debtPosition, err := tx.position(borrowed.Symbol, borrower)
	if err != nil {
		return nil, err
	}
	debt := borrowBalance(&a, borrowed, debtPosition)
	if a.err != nil {
		return nil, a.err
	}
	if debt.IsZero() {
		return nil, fmt.Errorf("%w: %s in %s", ErrNoDebt, borrower.Hex(), borrowed.Symbol)
	}
	toRepay := minOf(amount, a.percentMul(debt, e.config.CloseFactorBps))

	collateralPosition, err := tx.position(collateral.Symbol, borrower)
	if err != nil {
		return nil, err
	}
	available := supplyBalance(&a, collateral, collateralPosition)
	if a.err != nil {
		return nil, a.err
	}
	if available.IsZero() {
		return nil, fmt.Errorf("%w: %s holds no %s collateral", ErrNoSupply, borrower.Hex(), collateral.Symbol)
	}

	borrowedPrice, err := e.pool.PriceOf(tx.ctx, borrowed.Symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: price of %s: %w", ErrExternalAdapterFailure, borrowed.Symbol, err)
	}
	collateralPrice, err := e.pool.PriceOf(tx.ctx, collateral.Symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: price of %s: %w", ErrExternalAdapterFailure, collateral.Symbol, err)
	}
	if borrowedPrice == nil || collateralPrice == nil || borrowedPrice.IsZero() || collateralPrice.IsZero() {
		return nil, fmt.Errorf("%w: zero price", ErrExternalAdapterFailure)
	}

	bonus := uint256.NewInt(maxBasisPoints + e.config.LiquidationBonusBps)
	toSeize := a.mulDiv(a.mulDiv(toRepay, borrowedPrice, collateralPrice), bonus, bps)
	if toSeize.Cmp(available) > 0 {
		toSeize = available
		toRepay = a.mulDiv(a.mulDiv(toSeize, collateralPrice, borrowedPrice), bps, bonus)
	}
	if a.err != nil {
		return nil, a.err
	}
	if toRepay.IsZero() || toSeize.IsZero() {
		return nil, fmt.Errorf("%w: nothing to liquidate", ErrAmountIsZero)
	}

	repaid, err := e.repayLogic(tx, actionLiquidate, borrowed.Symbol, liquidator, borrower, toRepay, budget)
	if err != nil {
		return nil, err
	}
	seized, err := e.withdrawLogic(tx, actionLiquidate, collateral.Symbol, borrower, liquidator, toSeize, budget)
	if err != nil {
		return nil, err
	}
	tx.emit(events.LendingLiquidated{
		Liquidator:       liquidator,
		Borrower:         borrower,
		BorrowedMarket:   borrowed.Symbol,
		Repaid:           clone(repaid.Amount),
		CollateralMarket: collateral.Symbol,
		Seized:           clone(seized.Amount),
	})
	return &LiquidationReceipt{Repaid: repaid, Seized: seized}, nil
}
