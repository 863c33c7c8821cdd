package lending

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"peerlend/core/events"
)

// SetTreasury configures the recipient of claimed reserves.
func (e *Engine) SetTreasury(treasury common.Address) {
	if e == nil {
		return
	}
	e.config.Treasury = treasury
}

// ClaimToTreasury sends up to amount of the reserve held in custody for the
// market to the treasury. A nil amount claims everything held.
func (e *Engine) ClaimToTreasury(ctx context.Context, symbol string, amount *uint256.Int) (*uint256.Int, error) {
	if amount != nil && amount.IsZero() {
		return nil, ErrAmountIsZero
	}
	treasury := e.Config().Treasury
	if treasury == (common.Address{}) {
		return nil, ErrTreasuryNotSet
	}
	var claimed *uint256.Int
	err := e.run(ctx, func(tx *txn) error {
		m, err := tx.market(symbol)
		if err != nil {
			return err
		}
		held, err := e.custody.BalanceOf(tx.ctx, m.Symbol)
		if err != nil {
			return fmt.Errorf("%w: custody balance: %w", ErrExternalAdapterFailure, err)
		}
		claimed = zeroFloorSub(held, e.Stranded(m.Symbol))
		if amount != nil {
			claimed = minOf(amount, claimed)
		}
		if claimed.IsZero() {
			return fmt.Errorf("%w: no reserve held for %s", ErrAmountIsZero, m.Symbol)
		}
		e.transferOut(tx, m.Symbol, treasury, claimed)
		tx.emit(events.LendingReserveClaimed{Market: m.Symbol, Treasury: treasury, Amount: clone(claimed)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// Markets lists the created markets.
func (e *Engine) Markets() ([]string, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.ListMarkets()
}

// Market returns a snapshot of the market with indexes refreshed for the
// current timestamp.
func (e *Engine) Market(ctx context.Context, symbol string) (*Market, error) {
	var snapshot *Market
	err := e.run(ctx, func(tx *txn) error {
		m, err := tx.market(symbol)
		if err != nil {
			return err
		}
		if err := e.updateIndexes(tx, m); err != nil {
			return err
		}
		snapshot = m.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// Position returns an account's balances in one market, valued at current
// indexes.
func (e *Engine) Position(ctx context.Context, symbol string, account common.Address) (*PositionView, error) {
	var view *PositionView
	err := e.run(ctx, func(tx *txn) error {
		m, err := tx.market(symbol)
		if err != nil {
			return err
		}
		if err := e.updateIndexes(tx, m); err != nil {
			return err
		}
		p, err := tx.position(m.Symbol, account)
		if err != nil {
			return err
		}
		var a arith
		view = &PositionView{
			Market:        m.Symbol,
			Account:       account,
			Supply:        p.Supply.Clone(),
			Borrow:        p.Borrow.Clone(),
			SupplyBalance: supplyBalance(&a, m, p),
			BorrowBalance: borrowBalance(&a, m, p),
		}
		return a.err
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// Liquidity returns the account's collateral and debt across its markets.
func (e *Engine) Liquidity(ctx context.Context, account common.Address) (*LiquidityData, error) {
	var data *LiquidityData
	err := e.run(ctx, func(tx *txn) error {
		d, err := e.liquidityData(tx, account, "", zero(), zero())
		data = d
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Memberships lists the markets the account holds a position in.
func (e *Engine) Memberships(account common.Address) ([]string, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.GetMemberships(account)
}

// ListAccounts returns one ranked list of a market in order.
func (e *Engine) ListAccounts(symbol string, kind ListKind) ([]common.Address, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	l, err := e.state.GetList(NormalizeSymbol(symbol), kind)
	if err != nil {
		return nil, err
	}
	return l.Accounts(), nil
}
