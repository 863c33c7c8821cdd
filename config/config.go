package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"peerlend/native/lending"
	"peerlend/services/lending/pool/simulated"
)

// Load reads the genesis file at path. A missing file is replaced by a
// development default which is written to path and returned.
func Load(path string) (*Genesis, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	g := &Genesis{Engine: lending.DefaultConfig()}
	meta, err := toml.DecodeFile(path, g)
	if err != nil {
		return nil, fmt.Errorf("decode genesis %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, key := range undecoded {
			keys[i] = key.String()
		}
		return nil, fmt.Errorf("genesis %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	g.normalize()
	if err := Validate(g); err != nil {
		return nil, fmt.Errorf("genesis %s: %w", path, err)
	}
	return g, nil
}

func (g *Genesis) normalize() {
	g.Engine.EnsureDefaults()
	for i := range g.Markets {
		g.Markets[i].Symbol = lending.NormalizeSymbol(g.Markets[i].Symbol)
	}
	for i := range g.Pool {
		g.Pool[i].Symbol = lending.NormalizeSymbol(g.Pool[i].Symbol)
	}
	for i := range g.Wallets {
		g.Wallets[i].Symbol = lending.NormalizeSymbol(g.Wallets[i].Symbol)
		g.Wallets[i].Account = strings.TrimSpace(g.Wallets[i].Account)
		g.Wallets[i].Amount = strings.TrimSpace(g.Wallets[i].Amount)
	}
}

// Default returns the development genesis: a stable market and a volatile
// collateral market on the simulated pool.
func Default() *Genesis {
	return &Genesis{
		Engine: lending.DefaultConfig(),
		Markets: []Market{
			{Symbol: "DAI", ReserveFactor: 1_000, P2PIndexCursor: 3_333},
			{Symbol: "WETH", ReserveFactor: 1_500, P2PIndexCursor: 5_000},
		},
		Pool: []simulated.MarketConfig{
			{Symbol: "DAI", SupplyAPRBps: 200, BorrowAPRBps: 450, Price: "1000000000000000000", CollateralFactorBps: 8_000},
			{Symbol: "WETH", SupplyAPRBps: 150, BorrowAPRBps: 350, Price: "2000000000000000000000", CollateralFactorBps: 8_250},
		},
	}
}

// createDefault writes Default to path.
func createDefault(path string) (*Genesis, error) {
	g := Default()
	if err := persist(path, g); err != nil {
		return nil, err
	}
	return g, nil
}

func persist(path string, g *Genesis) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(g)
}
