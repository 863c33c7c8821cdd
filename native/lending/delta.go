package lending

import (
	"github.com/holiman/uint256"

	"peerlend/core/events"
)

// matchDelta absorbs up to amount of the side's delta and returns the
// underlying consumed. The nominal p2p amount is not touched since the delta
// was already counted as matched.
func matchDelta(a *arith, m *Market, side Side, amount *uint256.Int) *uint256.Int {
	delta := m.Delta.delta(side)
	if delta.IsZero() || amount.IsZero() {
		return zero()
	}
	poolIndex := m.poolIndex(side)
	matched := minOf(a.rayMul(delta, poolIndex), amount)
	m.Delta.setDelta(side, zeroFloorSub(delta, a.rayDiv(amount, poolIndex)))
	return matched
}

// increaseDelta records amount of underlying as nominally matched but parked
// on the pool.
func increaseDelta(a *arith, m *Market, side Side, amount *uint256.Int) {
	if amount.IsZero() {
		return
	}
	m.Delta.setDelta(side, a.add(m.Delta.delta(side), a.rayDiv(amount, m.poolIndex(side))))
	clampDelta(a, m, side)
}

// clampDelta caps the delta's underlying value at the side's p2p amount value.
func clampDelta(a *arith, m *Market, side Side) {
	delta := m.Delta.delta(side)
	if delta.IsZero() {
		return
	}
	deltaValue := a.rayMul(delta, m.poolIndex(side))
	amountValue := a.rayMul(m.Delta.amount(side), m.p2pIndex(side))
	if deltaValue.Cmp(amountValue) > 0 {
		m.Delta.setDelta(side, a.rayDiv(amountValue, m.poolIndex(side)))
	}
}

func addAmount(a *arith, m *Market, side Side, underlying *uint256.Int) {
	if underlying.IsZero() {
		return
	}
	m.Delta.setAmount(side, a.add(m.Delta.amount(side), a.rayDiv(underlying, m.p2pIndex(side))))
}

func subAmount(a *arith, m *Market, side Side, underlying *uint256.Int) {
	if underlying.IsZero() {
		return
	}
	m.Delta.setAmount(side, zeroFloorSub(m.Delta.amount(side), a.rayDiv(underlying, m.p2pIndex(side))))
}

// p2pFee is the underlying by which p2p borrows exceed the p2p supply that is
// really matched. It accrues from the reserve factor spread.
func p2pFee(a *arith, m *Market) *uint256.Int {
	borrowValue := a.rayMul(m.Delta.P2PBorrowAmount, m.P2PBorrowIndex)
	supplyValue := a.rayMul(m.Delta.P2PSupplyAmount, m.P2PSupplyIndex)
	supplyDeltaValue := a.rayMul(m.Delta.P2PSupplyDelta, m.PoolSupplyIndex)
	return zeroFloorSub(borrowValue, zeroFloorSub(supplyValue, supplyDeltaValue))
}

func (tx *txn) emitDelta(m *Market) {
	tx.emit(events.LendingDeltaUpdated{
		Market:          m.Symbol,
		P2PSupplyDelta:  clone(m.Delta.P2PSupplyDelta),
		P2PBorrowDelta:  clone(m.Delta.P2PBorrowDelta),
		P2PSupplyAmount: clone(m.Delta.P2PSupplyAmount),
		P2PBorrowAmount: clone(m.Delta.P2PBorrowAmount),
	})
}
