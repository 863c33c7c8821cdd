package config

import (
	"peerlend/native/lending"
	"peerlend/services/lending/pool/simulated"
)

// Genesis is the TOML file describing the engine parameters and the markets
// opened on first start.
type Genesis struct {
	Engine  lending.Config           `toml:"engine"`
	Markets []Market                 `toml:"market"`
	Pool    []simulated.MarketConfig `toml:"pool"`
	Wallets []Wallet                 `toml:"wallet"`
}

// Market is one market created at start-up when it does not exist yet.
type Market struct {
	Symbol         string `toml:"Symbol"`
	ReserveFactor  uint64 `toml:"ReserveFactor"`
	P2PIndexCursor uint64 `toml:"P2PIndexCursor"`
	P2PDisabled    bool   `toml:"P2PDisabled"`
}

// Wallet pre-funds an account in the simulated pool's token ledger.
type Wallet struct {
	Symbol  string `toml:"symbol"`
	Account string `toml:"account"`
	Amount  string `toml:"amount"`
}
