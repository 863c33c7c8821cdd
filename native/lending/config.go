package lending

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

const (
	defaultMaxSortedUsers      = 16
	defaultCloseFactorBps      = 5_000
	defaultLiquidationBonusBps = 500
	defaultMatchingBudget      = 32
)

// Config captures the runtime configuration for the matching engine.
type Config struct {
	// MaxSortedUsers bounds the insertion scan of the ranked position lists.
	MaxSortedUsers      uint64         `toml:"MaxSortedUsers"`
	DefaultBudgets      Budgets        `toml:"budgets"`
	CloseFactorBps      uint64         `toml:"CloseFactorBps"`
	LiquidationBonusBps uint64         `toml:"LiquidationBonusBps"`
	Treasury            common.Address `toml:"Treasury"`
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() Config {
	return Config{
		MaxSortedUsers: defaultMaxSortedUsers,
		DefaultBudgets: Budgets{
			Supply:   defaultMatchingBudget,
			Borrow:   defaultMatchingBudget,
			Withdraw: defaultMatchingBudget,
			Repay:    defaultMatchingBudget,
		},
		CloseFactorBps:      defaultCloseFactorBps,
		LiquidationBonusBps: defaultLiquidationBonusBps,
	}
}

// EnsureDefaults fills zero valued limits with their defaults. Budgets are
// left untouched since zero is a meaningful budget.
func (c *Config) EnsureDefaults() {
	if c.MaxSortedUsers == 0 {
		c.MaxSortedUsers = defaultMaxSortedUsers
	}
	if c.CloseFactorBps == 0 {
		c.CloseFactorBps = defaultCloseFactorBps
	}
}

// Validate checks the basis point parameters.
func (c Config) Validate() error {
	if c.CloseFactorBps > maxBasisPoints {
		return fmt.Errorf("%w: close factor %d exceeds %d bps", ErrInvalidParameter, c.CloseFactorBps, maxBasisPoints)
	}
	if c.LiquidationBonusBps > maxBasisPoints {
		return fmt.Errorf("%w: liquidation bonus %d exceeds %d bps", ErrInvalidParameter, c.LiquidationBonusBps, maxBasisPoints)
	}
	return nil
}
