package lending

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"peerlend/core/events"
)

// takeOnPool removes up to remaining underlying from the balance's pool leg
// and returns the underlying removed.
func takeOnPool(a *arith, bal *Balance, poolIndex, remaining *uint256.Int) *uint256.Int {
	if bal.OnPool.IsZero() || remaining.IsZero() {
		return zero()
	}
	value := a.rayMul(bal.OnPool, poolIndex)
	taken := minOf(value, remaining)
	if taken.Cmp(value) == 0 {
		bal.OnPool = zero()
	} else {
		bal.OnPool = dust(zeroFloorSub(bal.OnPool, a.rayDiv(taken, poolIndex)))
	}
	return taken
}

// takeInP2P removes amount underlying from the balance's p2p leg.
func takeInP2P(a *arith, bal *Balance, p2pIndex, amount *uint256.Int) {
	if bal.InP2P.IsZero() || amount.IsZero() {
		return
	}
	if amount.Cmp(a.rayMul(bal.InP2P, p2pIndex)) >= 0 {
		bal.InP2P = zero()
		return
	}
	bal.InP2P = dust(zeroFloorSub(bal.InP2P, a.rayDiv(amount, p2pIndex)))
}

// Withdraw releases up to amount of owner's supply to receiver. The amount is
// capped at the current supply balance and the remaining position must keep
// any debt covered.
func (e *Engine) Withdraw(ctx context.Context, symbol string, owner, receiver common.Address, amount *uint256.Int, maxIterations *uint64) (*Receipt, error) {
	if amount == nil || amount.IsZero() {
		return nil, ErrAmountIsZero
	}
	if owner == (common.Address{}) || receiver == (common.Address{}) {
		return nil, ErrAddressIsZero
	}
	var receipt *Receipt
	err := e.run(ctx, func(tx *txn) error {
		r, err := e.withdrawLogic(tx, actionWithdraw, symbol, owner, receiver, amount, e.budget(actionWithdraw, maxIterations))
		receipt = r
		return err
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// withdrawLogic serves the pool leg first and then the p2p leg. The p2p leg is
// covered by supply delta, then by promoting pool suppliers with half the
// budget, and finally by demoting p2p borrowers back to the pool. Whatever
// demotion cannot cover becomes borrow delta.
func (e *Engine) withdrawLogic(tx *txn, action, symbol string, owner, receiver common.Address, amount *uint256.Int, budget uint64) (*Receipt, error) {
	m, err := e.loadMarket(tx, symbol, action)
	if err != nil {
		return nil, err
	}
	p, err := tx.position(m.Symbol, owner)
	if err != nil {
		return nil, err
	}

	var a arith
	balance := supplyBalance(&a, m, p)
	if a.err != nil {
		return nil, a.err
	}
	if balance.IsZero() {
		return nil, fmt.Errorf("%w: %s in %s", ErrNoSupply, owner.Hex(), m.Symbol)
	}
	total := minOf(amount, balance)
	if action == actionWithdraw {
		liquidity, err := e.liquidityData(tx, owner, m.Symbol, total, zero())
		if err != nil {
			return nil, err
		}
		if !liquidity.Healthy() {
			return nil, fmt.Errorf("%w: withdrawal leaves debt %s above allowed %s", ErrInsufficientCollateral, liquidity.Debt.Dec(), liquidity.MaxDebt.Dec())
		}
	}

	r := newReceipt(m.Symbol, owner, total)
	remaining := clone(total)
	toWithdraw := takeOnPool(&a, &p.Supply, m.PoolSupplyIndex, remaining)
	remaining = a.sub(remaining, toWithdraw)
	r.Pool = clone(toWithdraw)
	toBorrow := zero()

	if !remaining.IsZero() {
		takeInP2P(&a, &p.Supply, m.P2PSupplyIndex, remaining)
		if err := tx.reconcile(p, SideSupply); err != nil {
			return nil, err
		}

		r.DeltaMatched = matchDelta(&a, m, SideSupply, remaining)
		subAmount(&a, m, SideSupply, r.DeltaMatched)
		toWithdraw = a.add(toWithdraw, r.DeltaMatched)
		remaining = a.sub(remaining, r.DeltaMatched)

		var used uint64
		if !remaining.IsZero() && !m.P2PDisabled {
			matched, iterations, err := tx.match(m, SideSupply, remaining, budget/2)
			if err != nil {
				return nil, err
			}
			r.Matched, used = matched, iterations
			toWithdraw = a.add(toWithdraw, matched)
			remaining = a.sub(remaining, matched)
		}

		if !remaining.IsZero() {
			unmatched, iterations, err := tx.unmatch(m, SideBorrow, remaining, budget-used)
			if err != nil {
				return nil, err
			}
			used += iterations
			r.Unmatched = unmatched
			r.DeltaIncrease = a.sub(remaining, unmatched)
			subAmount(&a, m, SideSupply, remaining)
			subAmount(&a, m, SideBorrow, unmatched)
			increaseDelta(&a, m, SideBorrow, r.DeltaIncrease)
			toBorrow = remaining
		}
		r.Iterations = used
	}
	clampDelta(&a, m, SideSupply)
	clampDelta(&a, m, SideBorrow)
	if a.err != nil {
		return nil, a.err
	}
	if err := tx.reconcile(p, SideSupply); err != nil {
		return nil, err
	}
	tx.saveMarket(m)
	tx.emitDelta(m)

	e.poolWithdraw(tx, m.Symbol, toWithdraw)
	e.poolBorrow(tx, m.Symbol, toBorrow)
	e.transferOut(tx, m.Symbol, receiver, total)

	tx.emit(events.LendingFlow{
		Kind:     events.TypeLendingWithdrawn,
		Market:   m.Symbol,
		From:     owner,
		OnBehalf: receiver,
		Amount:   clone(total),
		OnPool:   clone(p.Supply.OnPool),
		InP2P:    clone(p.Supply.InP2P),
	})
	return r, nil
}

// Repay pulls up to amount from the payer to reduce onBehalf's debt. The
// amount is capped at the current debt.
func (e *Engine) Repay(ctx context.Context, symbol string, from, onBehalf common.Address, amount *uint256.Int, maxIterations *uint64) (*Receipt, error) {
	if amount == nil || amount.IsZero() {
		return nil, ErrAmountIsZero
	}
	if from == (common.Address{}) || onBehalf == (common.Address{}) {
		return nil, ErrAddressIsZero
	}
	var receipt *Receipt
	err := e.run(ctx, func(tx *txn) error {
		r, err := e.repayLogic(tx, actionRepay, symbol, from, onBehalf, amount, e.budget(actionRepay, maxIterations))
		receipt = r
		return err
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// repayLogic mirrors withdrawLogic on the borrow side. Between the delta and
// promotion steps the accrued p2p spread is collected as reserve fee. What
// demotion of p2p suppliers cannot cover becomes supply delta.
func (e *Engine) repayLogic(tx *txn, action, symbol string, from, onBehalf common.Address, amount *uint256.Int, budget uint64) (*Receipt, error) {
	m, err := e.loadMarket(tx, symbol, action)
	if err != nil {
		return nil, err
	}
	p, err := tx.position(m.Symbol, onBehalf)
	if err != nil {
		return nil, err
	}

	var a arith
	debt := borrowBalance(&a, m, p)
	if a.err != nil {
		return nil, a.err
	}
	if debt.IsZero() {
		return nil, fmt.Errorf("%w: %s in %s", ErrNoDebt, onBehalf.Hex(), m.Symbol)
	}
	total := minOf(amount, debt)

	r := newReceipt(m.Symbol, onBehalf, total)
	remaining := clone(total)
	toRepay := takeOnPool(&a, &p.Borrow, m.PoolBorrowIndex, remaining)
	remaining = a.sub(remaining, toRepay)
	r.Pool = clone(toRepay)
	toSupply := zero()

	if !remaining.IsZero() {
		takeInP2P(&a, &p.Borrow, m.P2PBorrowIndex, remaining)
		if err := tx.reconcile(p, SideBorrow); err != nil {
			return nil, err
		}

		r.DeltaMatched = matchDelta(&a, m, SideBorrow, remaining)
		subAmount(&a, m, SideBorrow, r.DeltaMatched)
		toRepay = a.add(toRepay, r.DeltaMatched)
		remaining = a.sub(remaining, r.DeltaMatched)

		if !remaining.IsZero() {
			if fee := p2pFee(&a, m); !fee.IsZero() {
				r.Fee = minOf(fee, remaining)
				remaining = a.sub(remaining, r.Fee)
				subAmount(&a, m, SideBorrow, r.Fee)
			}
		}

		var used uint64
		if !remaining.IsZero() && !m.P2PDisabled {
			matched, iterations, err := tx.match(m, SideBorrow, remaining, budget/2)
			if err != nil {
				return nil, err
			}
			r.Matched, used = matched, iterations
			toRepay = a.add(toRepay, matched)
			remaining = a.sub(remaining, matched)
		}

		if !remaining.IsZero() {
			unmatched, iterations, err := tx.unmatch(m, SideSupply, remaining, budget-used)
			if err != nil {
				return nil, err
			}
			used += iterations
			r.Unmatched = unmatched
			r.DeltaIncrease = a.sub(remaining, unmatched)
			subAmount(&a, m, SideBorrow, remaining)
			subAmount(&a, m, SideSupply, unmatched)
			increaseDelta(&a, m, SideSupply, r.DeltaIncrease)
			toSupply = remaining
		}
		r.Iterations = used
	}
	clampDelta(&a, m, SideSupply)
	clampDelta(&a, m, SideBorrow)
	if a.err != nil {
		return nil, a.err
	}
	if err := tx.reconcile(p, SideBorrow); err != nil {
		return nil, err
	}
	tx.saveMarket(m)
	tx.emitDelta(m)

	e.transferIn(tx, m.Symbol, from, total)
	e.poolRepay(tx, m.Symbol, toRepay)
	e.poolSupply(tx, m.Symbol, toSupply)

	tx.emit(events.LendingFlow{
		Kind:     events.TypeLendingRepaid,
		Market:   m.Symbol,
		From:     from,
		OnBehalf: onBehalf,
		Amount:   clone(total),
		OnPool:   clone(p.Borrow.OnPool),
		InP2P:    clone(p.Borrow.InP2P),
	})
	return r, nil
}
