package lending

// ActionPauses exposes fine-grained switches for pausing individual lending flows.
type ActionPauses struct {
	Supply    bool `json:"supply" yaml:"supply"`
	Borrow    bool `json:"borrow" yaml:"borrow"`
	Withdraw  bool `json:"withdraw" yaml:"withdraw"`
	Repay     bool `json:"repay" yaml:"repay"`
	Liquidate bool `json:"liquidate" yaml:"liquidate"`
}

// Budgets caps the number of counterparties a flow may visit while matching.
// Withdraw and repay split their budget between promotion and demotion.
type Budgets struct {
	Supply   uint64 `toml:"Supply" yaml:"supply"`
	Borrow   uint64 `toml:"Borrow" yaml:"borrow"`
	Withdraw uint64 `toml:"Withdraw" yaml:"withdraw"`
	Repay    uint64 `toml:"Repay" yaml:"repay"`
}

// Iterations is a convenience for building explicit per-call budgets.
func Iterations(n uint64) *uint64 { return &n }

func (b Budgets) forAction(action string) uint64 {
	switch action {
	case actionSupply:
		return b.Supply
	case actionBorrow:
		return b.Borrow
	case actionWithdraw:
		return b.Withdraw
	case actionRepay, actionLiquidate:
		return b.Repay
	default:
		return 0
	}
}

func (p ActionPauses) paused(action string) bool {
	switch action {
	case actionSupply:
		return p.Supply
	case actionBorrow:
		return p.Borrow
	case actionWithdraw:
		return p.Withdraw
	case actionRepay:
		return p.Repay
	case actionLiquidate:
		return p.Liquidate
	default:
		return false
	}
}
