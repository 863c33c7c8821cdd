package server

import (
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"peerlend/native/lending"
	"peerlend/services/lending/engine"
)

const (
	rayDecimals = 27
	wadDecimals = 18
)

// Amounts are rendered as integer strings in the token's smallest unit.
// Indexes are rendered as decimals so 1e27 reads as "1".

type marketView struct {
	Symbol         string               `json:"symbol"`
	PoolSupplyIdx  string               `json:"poolSupplyIndex"`
	PoolBorrowIdx  string               `json:"poolBorrowIndex"`
	P2PSupplyIdx   string               `json:"p2pSupplyIndex"`
	P2PBorrowIdx   string               `json:"p2pBorrowIndex"`
	ReserveFactor  uint64               `json:"reserveFactorBps"`
	P2PIndexCursor uint64               `json:"p2pIndexCursorBps"`
	LastUpdate     uint64               `json:"lastUpdate"`
	Paused         bool                 `json:"paused"`
	P2PDisabled    bool                 `json:"p2pDisabled"`
	Pauses         lending.ActionPauses `json:"pauses"`
	Delta          deltaView            `json:"delta"`
}

type deltaView struct {
	P2PSupplyDelta  string `json:"p2pSupplyDelta"`
	P2PBorrowDelta  string `json:"p2pBorrowDelta"`
	P2PSupplyAmount string `json:"p2pSupplyAmount"`
	P2PBorrowAmount string `json:"p2pBorrowAmount"`
}

type balanceView struct {
	OnPool string `json:"onPool"`
	InP2P  string `json:"inP2P"`
}

type positionView struct {
	Market        string      `json:"market"`
	Account       string      `json:"account"`
	Supply        balanceView `json:"supply"`
	Borrow        balanceView `json:"borrow"`
	SupplyBalance string      `json:"supplyBalance"`
	BorrowBalance string      `json:"borrowBalance"`
}

type healthView struct {
	Account      string   `json:"account"`
	Markets      []string `json:"markets"`
	Collateral   string   `json:"collateral"`
	MaxDebt      string   `json:"maxDebt"`
	Debt         string   `json:"debt"`
	HealthFactor string   `json:"healthFactor,omitempty"`
	Healthy      bool     `json:"healthy"`
}

type receiptView struct {
	Market        string `json:"market"`
	Account       string `json:"account"`
	Amount        string `json:"amount"`
	DeltaMatched  string `json:"deltaMatched"`
	Matched       string `json:"matched"`
	Unmatched     string `json:"unmatched"`
	DeltaIncrease string `json:"deltaIncrease"`
	Pool          string `json:"pool"`
	Fee           string `json:"fee"`
	Iterations    uint64 `json:"iterations"`
}

type liquidationView struct {
	Repaid *receiptView `json:"repaid"`
	Seized *receiptView `json:"seized"`
}

func toMarketView(m *lending.Market) marketView {
	if m == nil {
		return marketView{}
	}
	return marketView{
		Symbol:         m.Symbol,
		PoolSupplyIdx:  rayString(m.PoolSupplyIndex),
		PoolBorrowIdx:  rayString(m.PoolBorrowIndex),
		P2PSupplyIdx:   rayString(m.P2PSupplyIndex),
		P2PBorrowIdx:   rayString(m.P2PBorrowIndex),
		ReserveFactor:  m.ReserveFactor,
		P2PIndexCursor: m.P2PIndexCursor,
		LastUpdate:     m.LastUpdate,
		Paused:         m.Paused,
		P2PDisabled:    m.P2PDisabled,
		Pauses:         m.Pauses,
		Delta: deltaView{
			P2PSupplyDelta:  amountString(m.Delta.P2PSupplyDelta),
			P2PBorrowDelta:  amountString(m.Delta.P2PBorrowDelta),
			P2PSupplyAmount: amountString(m.Delta.P2PSupplyAmount),
			P2PBorrowAmount: amountString(m.Delta.P2PBorrowAmount),
		},
	}
}

func toPositionView(p *lending.PositionView) positionView {
	if p == nil {
		return positionView{}
	}
	return positionView{
		Market:        p.Market,
		Account:       p.Account.Hex(),
		Supply:        balanceView{OnPool: amountString(p.Supply.OnPool), InP2P: amountString(p.Supply.InP2P)},
		Borrow:        balanceView{OnPool: amountString(p.Borrow.OnPool), InP2P: amountString(p.Borrow.InP2P)},
		SupplyBalance: amountString(p.SupplyBalance),
		BorrowBalance: amountString(p.BorrowBalance),
	}
}

func toHealthView(h engine.Health) healthView {
	view := healthView{
		Account: h.Account.Hex(),
		Markets: h.Markets,
		Healthy: h.Healthy,
	}
	if view.Markets == nil {
		view.Markets = []string{}
	}
	if h.Liquidity == nil {
		view.Collateral, view.MaxDebt, view.Debt = "0", "0", "0"
		return view
	}
	view.Collateral = amountString(h.Liquidity.Collateral)
	view.MaxDebt = amountString(h.Liquidity.MaxDebt)
	view.Debt = amountString(h.Liquidity.Debt)
	view.HealthFactor = healthFactor(h.Liquidity)
	return view
}

// healthFactor is maxDebt / debt rounded to wad precision. It is omitted for
// accounts without debt.
func healthFactor(l *lending.LiquidityData) string {
	if l.Debt == nil || l.Debt.IsZero() {
		return ""
	}
	maxDebt := toDecimal(l.MaxDebt, 0)
	debt := toDecimal(l.Debt, 0)
	return maxDebt.DivRound(debt, wadDecimals).String()
}

func toReceiptView(r *lending.Receipt) *receiptView {
	if r == nil {
		return nil
	}
	return &receiptView{
		Market:        r.Market,
		Account:       r.Account.Hex(),
		Amount:        amountString(r.Amount),
		DeltaMatched:  amountString(r.DeltaMatched),
		Matched:       amountString(r.Matched),
		Unmatched:     amountString(r.Unmatched),
		DeltaIncrease: amountString(r.DeltaIncrease),
		Pool:          amountString(r.Pool),
		Fee:           amountString(r.Fee),
		Iterations:    r.Iterations,
	}
}

func amountString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func rayString(v *uint256.Int) string {
	return toDecimal(v, rayDecimals).String()
}

func toDecimal(v *uint256.Int, decimals int32) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v.ToBig(), -decimals)
}
