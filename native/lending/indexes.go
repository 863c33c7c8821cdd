package lending

import (
	"fmt"

	"github.com/holiman/uint256"

	"peerlend/core/events"
)

// GrowthFactors holds the ray-scaled growth of each index over one period.
type GrowthFactors struct {
	PoolSupplyGrowthFactor *uint256.Int
	PoolBorrowGrowthFactor *uint256.Int
	P2PSupplyGrowthFactor  *uint256.Int
	P2PBorrowGrowthFactor  *uint256.Int
}

// ComputeGrowthFactors derives the peer-to-peer growth factors from the pool
// index movement. The p2p rate sits between the pool rates at the cursor and
// the reserve factor pulls both p2p rates back towards their pool rate. When
// the pool supply rate exceeds the pool borrow rate both p2p factors fall back
// to the pool borrow growth.
func ComputeGrowthFactors(newPoolSupplyIndex, newPoolBorrowIndex, lastPoolSupplyIndex, lastPoolBorrowIndex *uint256.Int, p2pIndexCursor, reserveFactor uint64) (GrowthFactors, error) {
	if p2pIndexCursor > maxBasisPoints || reserveFactor > maxBasisPoints {
		return GrowthFactors{}, ErrInvalidParameter
	}
	var a arith
	g := GrowthFactors{
		PoolSupplyGrowthFactor: a.rayDiv(newPoolSupplyIndex, lastPoolSupplyIndex),
		PoolBorrowGrowthFactor: a.rayDiv(newPoolBorrowIndex, lastPoolBorrowIndex),
	}
	if a.err != nil {
		return GrowthFactors{}, a.err
	}

	if g.PoolSupplyGrowthFactor.Cmp(g.PoolBorrowGrowthFactor) > 0 {
		g.P2PSupplyGrowthFactor = clone(g.PoolBorrowGrowthFactor)
		g.P2PBorrowGrowthFactor = clone(g.PoolBorrowGrowthFactor)
		return g, nil
	}

	p2pGrowth := a.weightedAvg(g.PoolSupplyGrowthFactor, g.PoolBorrowGrowthFactor, p2pIndexCursor)
	supplySpread := a.sub(p2pGrowth, g.PoolSupplyGrowthFactor)
	borrowSpread := a.sub(g.PoolBorrowGrowthFactor, p2pGrowth)
	g.P2PSupplyGrowthFactor = a.sub(p2pGrowth, a.percentMul(supplySpread, reserveFactor))
	g.P2PBorrowGrowthFactor = a.add(p2pGrowth, a.percentMul(borrowSpread, reserveFactor))
	if a.err != nil {
		return GrowthFactors{}, a.err
	}
	return g, nil
}

// P2PIndexParams are the inputs of one side's p2p index update.
type P2PIndexParams struct {
	PoolGrowthFactor *uint256.Int
	P2PGrowthFactor  *uint256.Int
	LastPoolIndex    *uint256.Int
	LastP2PIndex     *uint256.Int
	P2PDelta         *uint256.Int
	P2PAmount        *uint256.Int
}

// ComputeP2PIndex applies one period of growth to a p2p index. The share of
// the p2p amount actually parked on the pool as delta grows at the pool rate;
// the remainder grows at the p2p rate.
func ComputeP2PIndex(p P2PIndexParams) (*uint256.Int, error) {
	var a arith
	delta, amount := clone(p.P2PDelta), clone(p.P2PAmount)
	if amount.IsZero() || delta.IsZero() {
		idx := a.rayMul(p.LastP2PIndex, p.P2PGrowthFactor)
		return idx, a.err
	}

	deltaValue := a.rayMul(delta, p.LastPoolIndex)
	amountValue := a.rayMul(amount, p.LastP2PIndex)
	share := clone(ray)
	if !amountValue.IsZero() {
		share = minOf(a.rayDiv(deltaValue, amountValue), ray)
	}
	p2pPart := a.rayMul(a.sub(ray, share), p.P2PGrowthFactor)
	poolPart := a.rayMul(share, p.PoolGrowthFactor)
	idx := a.rayMul(p.LastP2PIndex, a.add(p2pPart, poolPart))
	if a.err != nil {
		return nil, a.err
	}
	return idx, nil
}

// updateIndexes refreshes the market indexes at most once per timestamp.
// Pool indexes that moved backwards are treated as flat so stored indexes
// never decrease.
func (e *Engine) updateIndexes(tx *txn, m *Market) error {
	now := e.timestamp
	if now <= m.LastUpdate {
		return nil
	}
	poolSupplyIndex, err := e.pool.SupplyIndex(tx.ctx, m.Symbol)
	if err != nil {
		return fmt.Errorf("%w: supply index: %w", ErrExternalAdapterFailure, err)
	}
	poolBorrowIndex, err := e.pool.BorrowIndex(tx.ctx, m.Symbol)
	if err != nil {
		return fmt.Errorf("%w: borrow index: %w", ErrExternalAdapterFailure, err)
	}
	if poolSupplyIndex == nil || poolBorrowIndex == nil || poolSupplyIndex.IsZero() || poolBorrowIndex.IsZero() {
		return fmt.Errorf("%w: pool returned a zero index", ErrExternalAdapterFailure)
	}
	if poolSupplyIndex.Cmp(m.PoolSupplyIndex) < 0 {
		poolSupplyIndex = clone(m.PoolSupplyIndex)
	}
	if poolBorrowIndex.Cmp(m.PoolBorrowIndex) < 0 {
		poolBorrowIndex = clone(m.PoolBorrowIndex)
	}

	growth, err := ComputeGrowthFactors(poolSupplyIndex, poolBorrowIndex, m.PoolSupplyIndex, m.PoolBorrowIndex, m.P2PIndexCursor, m.ReserveFactor)
	if err != nil {
		return err
	}
	p2pSupplyIndex, err := ComputeP2PIndex(P2PIndexParams{
		PoolGrowthFactor: growth.PoolSupplyGrowthFactor,
		P2PGrowthFactor:  growth.P2PSupplyGrowthFactor,
		LastPoolIndex:    m.PoolSupplyIndex,
		LastP2PIndex:     m.P2PSupplyIndex,
		P2PDelta:         m.Delta.P2PSupplyDelta,
		P2PAmount:        m.Delta.P2PSupplyAmount,
	})
	if err != nil {
		return err
	}
	p2pBorrowIndex, err := ComputeP2PIndex(P2PIndexParams{
		PoolGrowthFactor: growth.PoolBorrowGrowthFactor,
		P2PGrowthFactor:  growth.P2PBorrowGrowthFactor,
		LastPoolIndex:    m.PoolBorrowIndex,
		LastP2PIndex:     m.P2PBorrowIndex,
		P2PDelta:         m.Delta.P2PBorrowDelta,
		P2PAmount:        m.Delta.P2PBorrowAmount,
	})
	if err != nil {
		return err
	}
	if p2pSupplyIndex.Cmp(m.P2PSupplyIndex) < 0 {
		p2pSupplyIndex = clone(m.P2PSupplyIndex)
	}
	if p2pBorrowIndex.Cmp(m.P2PBorrowIndex) < 0 {
		p2pBorrowIndex = clone(m.P2PBorrowIndex)
	}

	m.PoolSupplyIndex = poolSupplyIndex
	m.PoolBorrowIndex = poolBorrowIndex
	m.P2PSupplyIndex = p2pSupplyIndex
	m.P2PBorrowIndex = p2pBorrowIndex
	m.LastUpdate = now
	tx.saveMarket(m)
	tx.emit(events.LendingIndexesUpdated{
		Market:          m.Symbol,
		PoolSupplyIndex: clone(poolSupplyIndex),
		PoolBorrowIndex: clone(poolBorrowIndex),
		P2PSupplyIndex:  clone(p2pSupplyIndex),
		P2PBorrowIndex:  clone(p2pBorrowIndex),
		Timestamp:       now,
	})
	return nil
}
