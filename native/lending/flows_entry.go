package lending

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"peerlend/core/events"
)

// Supply pulls amount from the payer and credits it to onBehalf. Pool borrow
// delta is absorbed first, then pool borrowers are promoted peer-to-peer
// within the budget, and any remainder is supplied to the pool. A nil
// maxIterations uses the configured default.
func (e *Engine) Supply(ctx context.Context, symbol string, from, onBehalf common.Address, amount *uint256.Int, maxIterations *uint64) (*Receipt, error) {
	if amount == nil || amount.IsZero() {
		return nil, ErrAmountIsZero
	}
	if from == (common.Address{}) || onBehalf == (common.Address{}) {
		return nil, ErrAddressIsZero
	}
	var receipt *Receipt
	err := e.run(ctx, func(tx *txn) error {
		r, err := e.supplyLogic(tx, symbol, from, onBehalf, amount, e.budget(actionSupply, maxIterations))
		receipt = r
		return err
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

func (e *Engine) supplyLogic(tx *txn, symbol string, from, onBehalf common.Address, amount *uint256.Int, budget uint64) (*Receipt, error) {
	m, err := e.loadMarket(tx, symbol, actionSupply)
	if err != nil {
		return nil, err
	}
	p, err := tx.position(m.Symbol, onBehalf)
	if err != nil {
		return nil, err
	}

	var a arith
	r := newReceipt(m.Symbol, onBehalf, amount)
	remaining := clone(amount)
	toRepay := zero()

	if !m.P2PDisabled {
		r.DeltaMatched = matchDelta(&a, m, SideBorrow, remaining)
		toRepay = a.add(toRepay, r.DeltaMatched)
		remaining = a.sub(remaining, r.DeltaMatched)

		if !remaining.IsZero() {
			matched, iterations, err := tx.match(m, SideBorrow, remaining, budget)
			if err != nil {
				return nil, err
			}
			addAmount(&a, m, SideBorrow, matched)
			r.Matched, r.Iterations = matched, iterations
			toRepay = a.add(toRepay, matched)
			remaining = a.sub(remaining, matched)
		}
	}

	if !toRepay.IsZero() {
		scaled := a.rayDiv(toRepay, m.P2PSupplyIndex)
		m.Delta.P2PSupplyAmount = a.add(m.Delta.P2PSupplyAmount, scaled)
		p.Supply.InP2P = a.add(p.Supply.InP2P, scaled)
	}
	if !remaining.IsZero() {
		p.Supply.OnPool = a.add(p.Supply.OnPool, a.rayDiv(remaining, m.PoolSupplyIndex))
		r.Pool = remaining
	}
	if a.err != nil {
		return nil, a.err
	}
	if err := tx.reconcile(p, SideSupply); err != nil {
		return nil, err
	}
	tx.saveMarket(m)
	tx.emitDelta(m)

	e.transferIn(tx, m.Symbol, from, amount)
	e.poolRepay(tx, m.Symbol, toRepay)
	e.poolSupply(tx, m.Symbol, remaining)

	tx.emit(events.LendingFlow{
		Kind:     events.TypeLendingSupplied,
		Market:   m.Symbol,
		From:     from,
		OnBehalf: onBehalf,
		Amount:   clone(amount),
		OnPool:   clone(p.Supply.OnPool),
		InP2P:    clone(p.Supply.InP2P),
	})
	return r, nil
}

// Borrow lends amount to borrower and sends it to receiver once the account's
// collateral covers the new debt. Supply delta is consumed first, then pool
// suppliers are promoted within the budget, and any remainder is borrowed
// from the pool.
func (e *Engine) Borrow(ctx context.Context, symbol string, borrower, receiver common.Address, amount *uint256.Int, maxIterations *uint64) (*Receipt, error) {
	if amount == nil || amount.IsZero() {
		return nil, ErrAmountIsZero
	}
	if borrower == (common.Address{}) || receiver == (common.Address{}) {
		return nil, ErrAddressIsZero
	}
	var receipt *Receipt
	err := e.run(ctx, func(tx *txn) error {
		r, err := e.borrowLogic(tx, symbol, borrower, receiver, amount, e.budget(actionBorrow, maxIterations))
		receipt = r
		return err
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

func (e *Engine) borrowLogic(tx *txn, symbol string, borrower, receiver common.Address, amount *uint256.Int, budget uint64) (*Receipt, error) {
	m, err := e.loadMarket(tx, symbol, actionBorrow)
	if err != nil {
		return nil, err
	}
	liquidity, err := e.liquidityData(tx, borrower, m.Symbol, zero(), amount)
	if err != nil {
		return nil, err
	}
	if !liquidity.Healthy() {
		return nil, fmt.Errorf("%w: debt %s exceeds allowed %s", ErrInsufficientCollateral, liquidity.Debt.Dec(), liquidity.MaxDebt.Dec())
	}
	p, err := tx.position(m.Symbol, borrower)
	if err != nil {
		return nil, err
	}

	var a arith
	r := newReceipt(m.Symbol, borrower, amount)
	remaining := clone(amount)
	toWithdraw := zero()

	if !m.P2PDisabled {
		r.DeltaMatched = matchDelta(&a, m, SideSupply, remaining)
		toWithdraw = a.add(toWithdraw, r.DeltaMatched)
		remaining = a.sub(remaining, r.DeltaMatched)

		if !remaining.IsZero() {
			matched, iterations, err := tx.match(m, SideSupply, remaining, budget)
			if err != nil {
				return nil, err
			}
			addAmount(&a, m, SideSupply, matched)
			r.Matched, r.Iterations = matched, iterations
			toWithdraw = a.add(toWithdraw, matched)
			remaining = a.sub(remaining, matched)
		}
	}

	if !toWithdraw.IsZero() {
		scaled := a.rayDiv(toWithdraw, m.P2PBorrowIndex)
		m.Delta.P2PBorrowAmount = a.add(m.Delta.P2PBorrowAmount, scaled)
		p.Borrow.InP2P = a.add(p.Borrow.InP2P, scaled)
	}
	if !remaining.IsZero() {
		p.Borrow.OnPool = a.add(p.Borrow.OnPool, a.rayDiv(remaining, m.PoolBorrowIndex))
		r.Pool = remaining
	}
	if a.err != nil {
		return nil, a.err
	}
	if err := tx.reconcile(p, SideBorrow); err != nil {
		return nil, err
	}
	tx.saveMarket(m)
	tx.emitDelta(m)

	e.poolWithdraw(tx, m.Symbol, toWithdraw)
	e.poolBorrow(tx, m.Symbol, remaining)
	e.transferOut(tx, m.Symbol, receiver, amount)

	tx.emit(events.LendingFlow{
		Kind:     events.TypeLendingBorrowed,
		Market:   m.Symbol,
		From:     borrower,
		OnBehalf: receiver,
		Amount:   clone(amount),
		OnPool:   clone(p.Borrow.OnPool),
		InP2P:    clone(p.Borrow.InP2P),
	})
	return r, nil
}
