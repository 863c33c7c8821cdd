package lending

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func supplyBalance(a *arith, m *Market, p *Position) *uint256.Int {
	return a.add(a.rayMul(p.Supply.OnPool, m.PoolSupplyIndex), a.rayMul(p.Supply.InP2P, m.P2PSupplyIndex))
}

func borrowBalance(a *arith, m *Market, p *Position) *uint256.Int {
	return a.add(a.rayMul(p.Borrow.OnPool, m.PoolBorrowIndex), a.rayMul(p.Borrow.InP2P, m.P2PBorrowIndex))
}

// liquidityData values the account across every market it belongs to, with
// withdrawn and borrowed applied hypothetically to the market symbol.
func (e *Engine) liquidityData(tx *txn, account common.Address, symbol string, withdrawn, borrowed *uint256.Int) (*LiquidityData, error) {
	markets, err := tx.membership(account)
	if err != nil {
		return nil, err
	}
	symbols := append([]string(nil), markets...)
	found := false
	for _, s := range symbols {
		if s == symbol {
			found = true
			break
		}
	}
	if !found && symbol != "" {
		symbols = append(symbols, symbol)
	}

	var a arith
	data := &LiquidityData{Collateral: zero(), MaxDebt: zero(), Debt: zero()}
	for _, s := range symbols {
		m, err := tx.market(s)
		if err != nil {
			return nil, err
		}
		if err := e.updateIndexes(tx, m); err != nil {
			return nil, err
		}
		p, err := tx.position(m.Symbol, account)
		if err != nil {
			return nil, err
		}
		supplied := supplyBalance(&a, m, p)
		debt := borrowBalance(&a, m, p)
		if m.Symbol == symbol {
			supplied = zeroFloorSub(supplied, withdrawn)
			debt = a.add(debt, borrowed)
		}
		if a.err != nil {
			return nil, a.err
		}
		if supplied.IsZero() && debt.IsZero() {
			continue
		}
		price, err := e.pool.PriceOf(tx.ctx, m.Symbol)
		if err != nil {
			return nil, fmt.Errorf("%w: price of %s: %w", ErrExternalAdapterFailure, m.Symbol, err)
		}
		if price == nil {
			price = zero()
		}
		factor, err := e.pool.CollateralFactor(tx.ctx, m.Symbol)
		if err != nil {
			return nil, fmt.Errorf("%w: collateral factor of %s: %w", ErrExternalAdapterFailure, m.Symbol, err)
		}
		if factor > maxBasisPoints {
			return nil, fmt.Errorf("%w: collateral factor %d of %s", ErrExternalAdapterFailure, factor, m.Symbol)
		}
		collateral := a.mulDiv(supplied, price, wad)
		data.Collateral = a.add(data.Collateral, collateral)
		data.MaxDebt = a.add(data.MaxDebt, a.percentMul(collateral, factor))
		data.Debt = a.add(data.Debt, a.mulDiv(debt, price, wad))
	}
	if a.err != nil {
		return nil, a.err
	}
	return data, nil
}
