package lending

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"peerlend/core/events"
	nativecommon "peerlend/native/common"
)

const moduleName = "lending"

const (
	actionSupply    = "supply"
	actionBorrow    = "borrow"
	actionWithdraw  = "withdraw"
	actionRepay     = "repay"
	actionLiquidate = "liquidate"
)

// Engine matches suppliers and borrowers peer-to-peer on top of an external
// pool. It is single writer: callers serialise flows, and a flow that calls
// back into the engine while its interactions run fails with ErrReentrantCall.
type Engine struct {
	state     engineState
	pool      Pool
	custody   Custody
	config    Config
	pauses    nativecommon.PauseView
	emitter   events.Emitter
	log       *slog.Logger
	timestamp uint64
	entered   atomic.Bool
	// stranded is underlying the pool released during a failed withdraw
	// that could not be supplied back. It sits in custody but is not reserve.
	stranded map[string]*uint256.Int
}

// NewEngine constructs an engine routing unmatched liquidity through pool and
// moving user funds through custody.
func NewEngine(pool Pool, custody Custody, cfg Config) *Engine {
	cfg.EnsureDefaults()
	return &Engine{
		pool:    pool,
		custody: custody,
		config:   cfg,
		emitter:  events.NoopEmitter{},
		stranded: make(map[string]*uint256.Int),
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetEmitter configures where committed events are published.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

func (e *Engine) SetLogger(logger *slog.Logger) {
	if e == nil {
		return
	}
	e.log = logger
}

// SetTimestamp records the period used to decide whether indexes are stale.
func (e *Engine) SetTimestamp(ts uint64) {
	if e == nil {
		return
	}
	e.timestamp = ts
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	if e == nil {
		return Config{}
	}
	return e.config
}

func (e *Engine) logger() *slog.Logger {
	if e.log == nil {
		return slog.Default()
	}
	return e.log
}

// run executes fn as one atomic transition. Effects are staged in a txn, the
// queued interactions run once fn succeeds, and the staged records are only
// written after every interaction succeeded. Events are published last.
func (e *Engine) run(ctx context.Context, fn func(tx *txn) error) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.pool == nil || e.custody == nil {
		return errNilPool
	}
	if !e.entered.CompareAndSwap(false, true) {
		return ErrReentrantCall
	}
	defer e.entered.Store(false)

	tx := newTxn(ctx, e)
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	if err := tx.execute(); err != nil {
		tx.rollback()
		return err
	}
	if err := tx.flush(); err != nil {
		tx.discard()
		tx.compensate(len(tx.interactions))
		tx.rollback()
		return fmt.Errorf("lending engine: commit: %w", err)
	}
	for _, evt := range tx.events {
		e.emitter.Emit(evt)
	}
	return nil
}

func (e *Engine) budget(action string, maxIterations *uint64) uint64 {
	if maxIterations != nil {
		return *maxIterations
	}
	return e.config.DefaultBudgets.forAction(action)
}

// checkMarket applies the global guard, the market pause and the per-action
// pause for action.
func (e *Engine) checkMarket(m *Market, action string) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if m.Paused || m.Pauses.paused(action) {
		return fmt.Errorf("%w: %s %s", ErrMarketPaused, m.Symbol, action)
	}
	return nil
}

// loadMarket fetches a market, checks it for action and refreshes its indexes.
func (e *Engine) loadMarket(tx *txn, symbol, action string) (*Market, error) {
	m, err := tx.market(symbol)
	if err != nil {
		return nil, err
	}
	if err := e.checkMarket(m, action); err != nil {
		return nil, err
	}
	if err := e.updateIndexes(tx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (e *Engine) transferIn(tx *txn, symbol string, from common.Address, amount *uint256.Int) {
	if amount.IsZero() {
		return
	}
	amt := clone(amount)
	tx.interact("custody.transfer_in",
		func(ctx context.Context) error { return e.custody.TransferIn(ctx, symbol, from, amt) },
		func(ctx context.Context) error { return e.custody.TransferOut(ctx, symbol, from, amt) },
	)
}

func (e *Engine) transferOut(tx *txn, symbol string, to common.Address, amount *uint256.Int) {
	if amount.IsZero() {
		return
	}
	amt := clone(amount)
	tx.interact("custody.transfer_out",
		func(ctx context.Context) error { return e.custody.TransferOut(ctx, symbol, to, amt) },
		func(ctx context.Context) error { return e.custody.TransferIn(ctx, symbol, to, amt) },
	)
}

func (e *Engine) poolSupply(tx *txn, symbol string, amount *uint256.Int) {
	if amount.IsZero() {
		return
	}
	amt := clone(amount)
	tx.interact("pool.supply",
		func(ctx context.Context) error { return e.pool.Supply(ctx, symbol, amt) },
		func(ctx context.Context) error {
			_, err := e.pool.Withdraw(ctx, symbol, amt)
			return err
		},
	)
}

func (e *Engine) poolWithdraw(tx *txn, symbol string, amount *uint256.Int) {
	if amount.IsZero() {
		return
	}
	amt := clone(amount)
	tx.interact("pool.withdraw",
		func(ctx context.Context) error {
			actual, err := e.pool.Withdraw(ctx, symbol, amt)
			if err != nil {
				return err
			}
			released := clone(actual)
			if released.Cmp(amt) >= 0 {
				return nil
			}
			short := fmt.Errorf("pool released %s of %s", released.Dec(), amt.Dec())
			if released.IsZero() {
				return short
			}
			if err := e.pool.Supply(ctx, symbol, released); err != nil {
				e.strand(symbol, released)
				e.logger().Error("lending partial withdraw left funds in custody",
					"market", symbol,
					"amount", released.Dec(),
					"error", err,
				)
				return errors.Join(short, fmt.Errorf("resupply %s: %w", released.Dec(), err))
			}
			return short
		},
		func(ctx context.Context) error { return e.pool.Supply(ctx, symbol, amt) },
	)
}

func (e *Engine) strand(symbol string, amount *uint256.Int) {
	if e.stranded == nil {
		e.stranded = make(map[string]*uint256.Int)
	}
	total := new(uint256.Int).Set(amount)
	if prev, ok := e.stranded[symbol]; ok {
		total.Add(total, prev)
	}
	e.stranded[symbol] = total
}

// Stranded reports underlying held in custody for symbol that belongs to
// suppliers, not to the reserve.
func (e *Engine) Stranded(symbol string) *uint256.Int {
	if v, ok := e.stranded[NormalizeSymbol(symbol)]; ok {
		return clone(v)
	}
	return zero()
}

// ResupplyStranded puts stranded underlying back on the pool and clears it.
func (e *Engine) ResupplyStranded(ctx context.Context, symbol string) (*uint256.Int, error) {
	symbol = NormalizeSymbol(symbol)
	amount := e.Stranded(symbol)
	if amount.IsZero() {
		return amount, nil
	}
	err := e.run(ctx, func(tx *txn) error {
		if _, err := tx.market(symbol); err != nil {
			return err
		}
		e.poolSupply(tx, symbol, amount)
		return nil
	})
	if err != nil {
		return nil, err
	}
	delete(e.stranded, symbol)
	return amount, nil
}

func (e *Engine) poolBorrow(tx *txn, symbol string, amount *uint256.Int) {
	if amount.IsZero() {
		return
	}
	amt := clone(amount)
	tx.interact("pool.borrow",
		func(ctx context.Context) error { return e.pool.Borrow(ctx, symbol, amt) },
		func(ctx context.Context) error { return e.pool.Repay(ctx, symbol, amt) },
	)
}

func (e *Engine) poolRepay(tx *txn, symbol string, amount *uint256.Int) {
	if amount.IsZero() {
		return
	}
	amt := clone(amount)
	tx.interact("pool.repay",
		func(ctx context.Context) error { return e.pool.Repay(ctx, symbol, amt) },
		func(ctx context.Context) error { return e.pool.Borrow(ctx, symbol, amt) },
	)
}

// MarketOption adjusts a market record before CreateMarket stores it.
type MarketOption func(m *Market)

// WithP2PDisabled opens the market with peer-to-peer matching switched off.
func WithP2PDisabled(disabled bool) MarketOption {
	return func(m *Market) { m.P2PDisabled = disabled }
}

// CreateMarket opens a market seeded with the pool's current indexes. Both
// p2p indexes start at one ray. Options apply in the same transition.
func (e *Engine) CreateMarket(ctx context.Context, symbol string, reserveFactor, p2pIndexCursor uint64, opts ...MarketOption) error {
	symbol = NormalizeSymbol(symbol)
	if symbol == "" {
		return fmt.Errorf("%w: empty market symbol", ErrInvalidParameter)
	}
	if reserveFactor > maxBasisPoints || p2pIndexCursor > maxBasisPoints {
		return fmt.Errorf("%w: basis points above %d", ErrInvalidParameter, maxBasisPoints)
	}
	return e.run(ctx, func(tx *txn) error {
		existing, err := e.state.GetMarket(symbol)
		if err != nil {
			return err
		}
		if existing != nil && existing.Created {
			return fmt.Errorf("%w: %s", ErrMarketAlreadyCreated, symbol)
		}
		poolSupplyIndex, err := e.pool.SupplyIndex(ctx, symbol)
		if err != nil {
			return fmt.Errorf("%w: supply index: %w", ErrExternalAdapterFailure, err)
		}
		poolBorrowIndex, err := e.pool.BorrowIndex(ctx, symbol)
		if err != nil {
			return fmt.Errorf("%w: borrow index: %w", ErrExternalAdapterFailure, err)
		}
		if poolSupplyIndex == nil || poolBorrowIndex == nil || poolSupplyIndex.IsZero() || poolBorrowIndex.IsZero() {
			return fmt.Errorf("%w: pool returned a zero index", ErrExternalAdapterFailure)
		}
		m := &Market{
			Symbol:          symbol,
			PoolSupplyIndex: clone(poolSupplyIndex),
			PoolBorrowIndex: clone(poolBorrowIndex),
			P2PSupplyIndex:  Ray(),
			P2PBorrowIndex:  Ray(),
			ReserveFactor:   reserveFactor,
			P2PIndexCursor:  p2pIndexCursor,
			LastUpdate:      e.timestamp,
			Created:         true,
			Delta: Delta{
				P2PSupplyDelta:  zero(),
				P2PBorrowDelta:  zero(),
				P2PSupplyAmount: zero(),
				P2PBorrowAmount: zero(),
			},
		}
		for _, opt := range opts {
			if opt != nil {
				opt(m)
			}
		}
		tx.createMarket(m)
		tx.emit(events.LendingMarketCreated{Market: symbol, ReserveFactor: reserveFactor, P2PIndexCursor: p2pIndexCursor, P2PDisabled: m.P2PDisabled})
		return nil
	})
}

// updateMarket refreshes indexes under the old parameters before apply runs,
// so a parameter change never applies retroactively.
func (e *Engine) updateMarket(ctx context.Context, symbol, field, value string, apply func(m *Market) error) error {
	return e.run(ctx, func(tx *txn) error {
		m, err := tx.market(symbol)
		if err != nil {
			return err
		}
		if err := e.updateIndexes(tx, m); err != nil {
			return err
		}
		if err := apply(m); err != nil {
			return err
		}
		tx.saveMarket(m)
		tx.emit(events.LendingMarketUpdated{Market: m.Symbol, Field: field, Value: value})
		return nil
	})
}

// SetReserveFactor changes the share of the p2p spread kept as reserve.
func (e *Engine) SetReserveFactor(ctx context.Context, symbol string, bps uint64) error {
	if bps > maxBasisPoints {
		return fmt.Errorf("%w: reserve factor %d", ErrInvalidParameter, bps)
	}
	return e.updateMarket(ctx, symbol, "reserveFactor", strconv.FormatUint(bps, 10), func(m *Market) error {
		m.ReserveFactor = bps
		return nil
	})
}

// SetP2PIndexCursor moves the p2p rate between the pool supply and borrow rates.
func (e *Engine) SetP2PIndexCursor(ctx context.Context, symbol string, bps uint64) error {
	if bps > maxBasisPoints {
		return fmt.Errorf("%w: p2p index cursor %d", ErrInvalidParameter, bps)
	}
	return e.updateMarket(ctx, symbol, "p2pIndexCursor", strconv.FormatUint(bps, 10), func(m *Market) error {
		m.P2PIndexCursor = bps
		return nil
	})
}

// SetP2PDisabled stops new peer-to-peer matching in a market. Existing
// matches are unwound normally by withdrawals and repayments.
func (e *Engine) SetP2PDisabled(ctx context.Context, symbol string, disabled bool) error {
	return e.updateMarket(ctx, symbol, "p2pDisabled", strconv.FormatBool(disabled), func(m *Market) error {
		m.P2PDisabled = disabled
		return nil
	})
}

// SetMarketPaused pauses or resumes every flow of a market.
func (e *Engine) SetMarketPaused(ctx context.Context, symbol string, paused bool) error {
	return e.updateMarket(ctx, symbol, "paused", strconv.FormatBool(paused), func(m *Market) error {
		m.Paused = paused
		return nil
	})
}

// SetActionPauses replaces the per-flow pause switches of a market.
func (e *Engine) SetActionPauses(ctx context.Context, symbol string, pauses ActionPauses) error {
	value := fmt.Sprintf("supply=%t borrow=%t withdraw=%t repay=%t liquidate=%t",
		pauses.Supply, pauses.Borrow, pauses.Withdraw, pauses.Repay, pauses.Liquidate)
	return e.updateMarket(ctx, symbol, "actionPauses", value, func(m *Market) error {
		m.Pauses = pauses
		return nil
	})
}

// IncreaseP2PDeltas moves up to amount of matched liquidity back onto the pool
// on both sides without touching any position. The amount is capped by the
// smaller of the undelta'd p2p supply and borrow values.
func (e *Engine) IncreaseP2PDeltas(ctx context.Context, symbol string, amount *uint256.Int) (*uint256.Int, error) {
	if amount == nil || amount.IsZero() {
		return nil, ErrAmountIsZero
	}
	var moved *uint256.Int
	err := e.run(ctx, func(tx *txn) error {
		m, err := tx.market(symbol)
		if err != nil {
			return err
		}
		if err := e.updateIndexes(tx, m); err != nil {
			return err
		}
		var a arith
		supplyRoom := zeroFloorSub(
			a.rayMul(m.Delta.P2PSupplyAmount, m.P2PSupplyIndex),
			a.rayMul(m.Delta.P2PSupplyDelta, m.PoolSupplyIndex),
		)
		borrowRoom := zeroFloorSub(
			a.rayMul(m.Delta.P2PBorrowAmount, m.P2PBorrowIndex),
			a.rayMul(m.Delta.P2PBorrowDelta, m.PoolBorrowIndex),
		)
		moved = minOf(amount, minOf(supplyRoom, borrowRoom))
		if moved.IsZero() {
			return fmt.Errorf("%w: no matched liquidity to move", ErrAmountIsZero)
		}
		increaseDelta(&a, m, SideSupply, moved)
		increaseDelta(&a, m, SideBorrow, moved)
		if a.err != nil {
			return a.err
		}
		tx.saveMarket(m)
		tx.emitDelta(m)
		e.poolBorrow(tx, m.Symbol, moved)
		e.poolSupply(tx, m.Symbol, moved)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return moved, nil
}

// UpdateIndexes refreshes a market's indexes for the current timestamp.
func (e *Engine) UpdateIndexes(ctx context.Context, symbol string) error {
	return e.run(ctx, func(tx *txn) error {
		m, err := tx.market(symbol)
		if err != nil {
			return err
		}
		return e.updateIndexes(tx, m)
	})
}
