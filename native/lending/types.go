package lending

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Side selects the supply or borrow half of a market.
type Side uint8

const (
	SideSupply Side = iota
	SideBorrow
)

func (s Side) String() string {
	if s == SideBorrow {
		return "borrow"
	}
	return "supply"
}

// Opposite returns the counterparty side.
func (s Side) Opposite() Side {
	if s == SideBorrow {
		return SideSupply
	}
	return SideBorrow
}

// ListKind identifies one of the four ranked position lists kept per market.
type ListKind uint8

const (
	SuppliersOnPool ListKind = iota
	SuppliersInP2P
	BorrowersOnPool
	BorrowersInP2P
)

// ListKinds enumerates every list kind in storage order.
var ListKinds = []ListKind{SuppliersOnPool, SuppliersInP2P, BorrowersOnPool, BorrowersInP2P}

func (k ListKind) String() string {
	switch k {
	case SuppliersOnPool:
		return "suppliers-on-pool"
	case SuppliersInP2P:
		return "suppliers-in-p2p"
	case BorrowersOnPool:
		return "borrowers-on-pool"
	case BorrowersInP2P:
		return "borrowers-in-p2p"
	default:
		return "unknown"
	}
}

func onPoolList(side Side) ListKind {
	if side == SideBorrow {
		return BorrowersOnPool
	}
	return SuppliersOnPool
}

func inP2PList(side Side) ListKind {
	if side == SideBorrow {
		return BorrowersInP2P
	}
	return SuppliersInP2P
}

// NormalizeSymbol canonicalises a market identifier.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Delta tracks, per market, the scaled amounts recorded as peer-to-peer but
// actually parked on the pool, and the scaled totals matched peer-to-peer.
// Deltas are pool-scaled units, amounts are p2p-scaled units.
type Delta struct {
	P2PSupplyDelta  *uint256.Int
	P2PBorrowDelta  *uint256.Int
	P2PSupplyAmount *uint256.Int
	P2PBorrowAmount *uint256.Int
}

// Clone returns a deep copy of the delta.
func (d Delta) Clone() Delta {
	return Delta{
		P2PSupplyDelta:  clone(d.P2PSupplyDelta),
		P2PBorrowDelta:  clone(d.P2PBorrowDelta),
		P2PSupplyAmount: clone(d.P2PSupplyAmount),
		P2PBorrowAmount: clone(d.P2PBorrowAmount),
	}
}

func (d *Delta) delta(side Side) *uint256.Int {
	if side == SideBorrow {
		return d.P2PBorrowDelta
	}
	return d.P2PSupplyDelta
}

func (d *Delta) setDelta(side Side, v *uint256.Int) {
	if side == SideBorrow {
		d.P2PBorrowDelta = v
		return
	}
	d.P2PSupplyDelta = v
}

func (d *Delta) amount(side Side) *uint256.Int {
	if side == SideBorrow {
		return d.P2PBorrowAmount
	}
	return d.P2PSupplyAmount
}

func (d *Delta) setAmount(side Side, v *uint256.Int) {
	if side == SideBorrow {
		d.P2PBorrowAmount = v
		return
	}
	d.P2PSupplyAmount = v
}

// Market is the per-asset accounting record. Indexes are ray scaled.
type Market struct {
	Symbol string
	// Pool indexes as last observed from the external pool.
	PoolSupplyIndex *uint256.Int
	PoolBorrowIndex *uint256.Int
	// Peer-to-peer indexes derived from the pool indexes.
	P2PSupplyIndex *uint256.Int
	P2PBorrowIndex *uint256.Int
	// ReserveFactor and P2PIndexCursor are expressed in basis points.
	ReserveFactor  uint64
	P2PIndexCursor uint64
	LastUpdate     uint64
	Created        bool
	Paused         bool
	P2PDisabled    bool
	Pauses         ActionPauses
	Delta          Delta
}

// Clone returns a deep copy of the market.
func (m *Market) Clone() *Market {
	if m == nil {
		return nil
	}
	return &Market{
		Symbol:          m.Symbol,
		PoolSupplyIndex: clone(m.PoolSupplyIndex),
		PoolBorrowIndex: clone(m.PoolBorrowIndex),
		P2PSupplyIndex:  clone(m.P2PSupplyIndex),
		P2PBorrowIndex:  clone(m.P2PBorrowIndex),
		ReserveFactor:   m.ReserveFactor,
		P2PIndexCursor:  m.P2PIndexCursor,
		LastUpdate:      m.LastUpdate,
		Created:         m.Created,
		Paused:          m.Paused,
		P2PDisabled:     m.P2PDisabled,
		Pauses:          m.Pauses,
		Delta:           m.Delta.Clone(),
	}
}

func (m *Market) poolIndex(side Side) *uint256.Int {
	if side == SideBorrow {
		return m.PoolBorrowIndex
	}
	return m.PoolSupplyIndex
}

func (m *Market) p2pIndex(side Side) *uint256.Int {
	if side == SideBorrow {
		return m.P2PBorrowIndex
	}
	return m.P2PSupplyIndex
}

// Balance is one side of a position split across the pool and peer-to-peer.
// OnPool is pool-scaled, InP2P is p2p-scaled.
type Balance struct {
	OnPool *uint256.Int
	InP2P  *uint256.Int
}

// Clone returns a deep copy of the balance.
func (b Balance) Clone() Balance {
	return Balance{OnPool: clone(b.OnPool), InP2P: clone(b.InP2P)}
}

// IsZero reports whether both legs are empty.
func (b Balance) IsZero() bool {
	return (b.OnPool == nil || b.OnPool.IsZero()) && (b.InP2P == nil || b.InP2P.IsZero())
}

// Position holds an account's supply and borrow balances in one market.
type Position struct {
	Market  string
	Account common.Address
	Supply  Balance
	Borrow  Balance
}

// NewPosition returns an empty position.
func NewPosition(symbol string, account common.Address) *Position {
	return &Position{
		Market:  symbol,
		Account: account,
		Supply:  Balance{OnPool: zero(), InP2P: zero()},
		Borrow:  Balance{OnPool: zero(), InP2P: zero()},
	}
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	return &Position{
		Market:  p.Market,
		Account: p.Account,
		Supply:  p.Supply.Clone(),
		Borrow:  p.Borrow.Clone(),
	}
}

// IsEmpty reports whether the position holds nothing on either side.
func (p *Position) IsEmpty() bool {
	return p == nil || (p.Supply.IsZero() && p.Borrow.IsZero())
}

func (p *Position) balance(side Side) *Balance {
	if side == SideBorrow {
		return &p.Borrow
	}
	return &p.Supply
}

// Receipt summarises how a flow was routed.
type Receipt struct {
	Market  string
	Account common.Address
	// Amount is the underlying amount processed by the flow.
	Amount *uint256.Int
	// DeltaMatched is the underlying absorbed from an existing delta.
	DeltaMatched *uint256.Int
	// Matched is the underlying moved to or from live counterparties.
	Matched *uint256.Int
	// Unmatched is the underlying counterparties were demoted by.
	Unmatched *uint256.Int
	// DeltaIncrease is the underlying that could not be unmatched and was
	// recorded as a new delta instead.
	DeltaIncrease *uint256.Int
	// Pool is the underlying routed through plain pool supply or borrow.
	Pool *uint256.Int
	// Fee is the reserve captured by the flow.
	Fee        *uint256.Int
	Iterations uint64
}

func newReceipt(symbol string, account common.Address, amount *uint256.Int) *Receipt {
	return &Receipt{
		Market:        symbol,
		Account:       account,
		Amount:        clone(amount),
		DeltaMatched:  zero(),
		Matched:       zero(),
		Unmatched:     zero(),
		DeltaIncrease: zero(),
		Pool:          zero(),
		Fee:           zero(),
	}
}

// PositionView exposes a position in underlying units.
type PositionView struct {
	Market        string
	Account       common.Address
	Supply        Balance
	Borrow        Balance
	SupplyBalance *uint256.Int
	BorrowBalance *uint256.Int
}

// LiquidityData aggregates an account's collateral and debt across markets.
// Values are denominated in the price unit.
type LiquidityData struct {
	Collateral *uint256.Int
	MaxDebt    *uint256.Int
	Debt       *uint256.Int
}

// Healthy reports whether the debt is covered by the discounted collateral.
func (l *LiquidityData) Healthy() bool {
	return l.Debt.Cmp(l.MaxDebt) <= 0
}
