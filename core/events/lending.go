package events

import (
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"peerlend/core/types"
)

const (
	TypeLendingMarketCreated   = "lending.market.created"
	TypeLendingMarketUpdated   = "lending.market.updated"
	TypeLendingSupplied        = "lending.supplied"
	TypeLendingWithdrawn       = "lending.withdrawn"
	TypeLendingBorrowed        = "lending.borrowed"
	TypeLendingRepaid          = "lending.repaid"
	TypeLendingLiquidated      = "lending.liquidated"
	TypeLendingIndexesUpdated  = "lending.indexes.updated"
	TypeLendingDeltaUpdated    = "lending.delta.updated"
	TypeLendingPositionUpdated = "lending.position.updated"
	TypeLendingReserveClaimed  = "lending.reserve.claimed"
)

func amountString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func addressString(a common.Address) string {
	if a == (common.Address{}) {
		return ""
	}
	return a.Hex()
}

// LendingMarketCreated is emitted when a market is opened.
type LendingMarketCreated struct {
	Market         string
	ReserveFactor  uint64
	P2PIndexCursor uint64
	P2PDisabled    bool
}

func (LendingMarketCreated) EventType() string { return TypeLendingMarketCreated }

func (e LendingMarketCreated) Event() *types.Event {
	return &types.Event{
		Type: TypeLendingMarketCreated,
		Attributes: map[string]string{
			"market":         normalizeAsset(e.Market),
			"reserveFactor":  strconv.FormatUint(e.ReserveFactor, 10),
			"p2pIndexCursor": strconv.FormatUint(e.P2PIndexCursor, 10),
			"p2pDisabled":    strconv.FormatBool(e.P2PDisabled),
		},
	}
}

// LendingMarketUpdated records an administrative parameter change.
type LendingMarketUpdated struct {
	Market string
	Field  string
	Value  string
}

func (LendingMarketUpdated) EventType() string { return TypeLendingMarketUpdated }

func (e LendingMarketUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeLendingMarketUpdated,
		Attributes: map[string]string{
			"market": normalizeAsset(e.Market),
			"field":  strings.TrimSpace(e.Field),
			"value":  strings.TrimSpace(e.Value),
		},
	}
}

// LendingFlow describes a completed supply, withdraw, borrow or repay. The
// type is selected by Kind so the four flows share one payload.
type LendingFlow struct {
	Kind     string
	Market   string
	From     common.Address
	OnBehalf common.Address
	Amount   *uint256.Int
	OnPool   *uint256.Int
	InP2P    *uint256.Int
}

func (e LendingFlow) EventType() string { return e.Kind }

func (e LendingFlow) Event() *types.Event {
	return &types.Event{
		Type: e.Kind,
		Attributes: map[string]string{
			"market":   normalizeAsset(e.Market),
			"from":     addressString(e.From),
			"onBehalf": addressString(e.OnBehalf),
			"amount":   amountString(e.Amount),
			"onPool":   amountString(e.OnPool),
			"inP2P":    amountString(e.InP2P),
		},
	}
}

// LendingLiquidated is emitted once a liquidation settles.
type LendingLiquidated struct {
	Liquidator       common.Address
	Borrower         common.Address
	BorrowedMarket   string
	Repaid           *uint256.Int
	CollateralMarket string
	Seized           *uint256.Int
}

func (LendingLiquidated) EventType() string { return TypeLendingLiquidated }

func (e LendingLiquidated) Event() *types.Event {
	return &types.Event{
		Type: TypeLendingLiquidated,
		Attributes: map[string]string{
			"liquidator":       addressString(e.Liquidator),
			"borrower":         addressString(e.Borrower),
			"borrowedMarket":   normalizeAsset(e.BorrowedMarket),
			"repaid":           amountString(e.Repaid),
			"collateralMarket": normalizeAsset(e.CollateralMarket),
			"seized":           amountString(e.Seized),
		},
	}
}

// LendingIndexesUpdated carries the refreshed ray-scaled indexes of a market.
type LendingIndexesUpdated struct {
	Market          string
	PoolSupplyIndex *uint256.Int
	PoolBorrowIndex *uint256.Int
	P2PSupplyIndex  *uint256.Int
	P2PBorrowIndex  *uint256.Int
	Timestamp       uint64
}

func (LendingIndexesUpdated) EventType() string { return TypeLendingIndexesUpdated }

func (e LendingIndexesUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeLendingIndexesUpdated,
		Attributes: map[string]string{
			"market":          normalizeAsset(e.Market),
			"poolSupplyIndex": amountString(e.PoolSupplyIndex),
			"poolBorrowIndex": amountString(e.PoolBorrowIndex),
			"p2pSupplyIndex":  amountString(e.P2PSupplyIndex),
			"p2pBorrowIndex":  amountString(e.P2PBorrowIndex),
			"timestamp":       strconv.FormatUint(e.Timestamp, 10),
		},
	}
}

// LendingDeltaUpdated snapshots the delta ledger of a market.
type LendingDeltaUpdated struct {
	Market          string
	P2PSupplyDelta  *uint256.Int
	P2PBorrowDelta  *uint256.Int
	P2PSupplyAmount *uint256.Int
	P2PBorrowAmount *uint256.Int
}

func (LendingDeltaUpdated) EventType() string { return TypeLendingDeltaUpdated }

func (e LendingDeltaUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeLendingDeltaUpdated,
		Attributes: map[string]string{
			"market":          normalizeAsset(e.Market),
			"p2pSupplyDelta":  amountString(e.P2PSupplyDelta),
			"p2pBorrowDelta":  amountString(e.P2PBorrowDelta),
			"p2pSupplyAmount": amountString(e.P2PSupplyAmount),
			"p2pBorrowAmount": amountString(e.P2PBorrowAmount),
		},
	}
}

// LendingPositionUpdated reports the new scaled balances of one side of a
// position, including counterparties moved by matching.
type LendingPositionUpdated struct {
	Market  string
	Account common.Address
	Side    string
	OnPool  *uint256.Int
	InP2P   *uint256.Int
}

func (LendingPositionUpdated) EventType() string { return TypeLendingPositionUpdated }

func (e LendingPositionUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeLendingPositionUpdated,
		Attributes: map[string]string{
			"market":  normalizeAsset(e.Market),
			"account": addressString(e.Account),
			"side":    strings.TrimSpace(e.Side),
			"onPool":  amountString(e.OnPool),
			"inP2P":   amountString(e.InP2P),
		},
	}
}

// LendingReserveClaimed is emitted when reserves are sent to the treasury.
type LendingReserveClaimed struct {
	Market   string
	Treasury common.Address
	Amount   *uint256.Int
}

func (LendingReserveClaimed) EventType() string { return TypeLendingReserveClaimed }

func (e LendingReserveClaimed) Event() *types.Event {
	return &types.Event{
		Type: TypeLendingReserveClaimed,
		Attributes: map[string]string{
			"market":   normalizeAsset(e.Market),
			"treasury": addressString(e.Treasury),
			"amount":   amountString(e.Amount),
		},
	}
}
