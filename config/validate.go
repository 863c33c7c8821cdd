package config

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"peerlend/native/lending"
)

const maxBasisPoints = 10_000

// Validate checks a normalised genesis.
func Validate(g *Genesis) error {
	if g == nil {
		return fmt.Errorf("genesis is missing")
	}
	if err := g.Engine.Validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	markets := make(map[string]struct{}, len(g.Markets))
	for _, m := range g.Markets {
		if m.Symbol == "" {
			return fmt.Errorf("market: empty symbol")
		}
		if _, dup := markets[m.Symbol]; dup {
			return fmt.Errorf("market %s: declared twice", m.Symbol)
		}
		markets[m.Symbol] = struct{}{}
		if m.ReserveFactor > maxBasisPoints {
			return fmt.Errorf("market %s: reserve factor %d exceeds %d bps", m.Symbol, m.ReserveFactor, maxBasisPoints)
		}
		if m.P2PIndexCursor > maxBasisPoints {
			return fmt.Errorf("market %s: p2p index cursor %d exceeds %d bps", m.Symbol, m.P2PIndexCursor, maxBasisPoints)
		}
	}
	pooled := make(map[string]struct{}, len(g.Pool))
	for _, p := range g.Pool {
		if p.Symbol == "" {
			return fmt.Errorf("pool: empty symbol")
		}
		if _, dup := pooled[p.Symbol]; dup {
			return fmt.Errorf("pool %s: declared twice", p.Symbol)
		}
		pooled[p.Symbol] = struct{}{}
		if p.CollateralFactorBps > maxBasisPoints {
			return fmt.Errorf("pool %s: collateral factor %d exceeds %d bps", p.Symbol, p.CollateralFactorBps, maxBasisPoints)
		}
		if err := checkDecimal(p.Price); err != nil {
			return fmt.Errorf("pool %s: price: %w", p.Symbol, err)
		}
		if err := checkDecimal(p.Liquidity); err != nil {
			return fmt.Errorf("pool %s: liquidity: %w", p.Symbol, err)
		}
	}
	for _, w := range g.Wallets {
		if _, ok := pooled[w.Symbol]; !ok {
			return fmt.Errorf("wallet %s: no simulated pool market %q", w.Account, w.Symbol)
		}
		if !common.IsHexAddress(w.Account) {
			return fmt.Errorf("wallet: invalid account %q", w.Account)
		}
		if err := checkDecimal(w.Amount); err != nil {
			return fmt.Errorf("wallet %s: amount: %w", w.Account, err)
		}
	}
	return nil
}

// RequirePoolMarkets checks that every declared market is served by the
// simulated pool.
func (g *Genesis) RequirePoolMarkets() error {
	pooled := make(map[string]struct{}, len(g.Pool))
	for _, p := range g.Pool {
		pooled[lending.NormalizeSymbol(p.Symbol)] = struct{}{}
	}
	for _, m := range g.Markets {
		if _, ok := pooled[m.Symbol]; !ok {
			return fmt.Errorf("market %s: missing [[pool]] entry for the simulated pool", m.Symbol)
		}
	}
	return nil
}

func checkDecimal(raw string) error {
	if raw == "" {
		return nil
	}
	_, err := uint256.FromDecimal(raw)
	return err
}
