package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	nativecommon "peerlend/native/common"
	"peerlend/native/lending"
	"peerlend/observability"
	telemetry "peerlend/observability/otel"
)

// Local serves the Engine interface from an in-process matching engine. The
// matching engine is single writer, so Local serialises every call.
type Local struct {
	mu      sync.Mutex
	core    *lending.Engine
	clock   func() time.Time
	metrics *observability.LendingMetrics
	quota   *nativecommon.QuotaTracker
	pauses  *nativecommon.PauseSwitch
	tracer  trace.Tracer
	logger  *slog.Logger
}

var _ Engine = (*Local)(nil)

// Option customises a Local engine.
type Option func(*Local)

// WithClock overrides the wall clock used to stamp transitions.
func WithClock(clock func() time.Time) Option {
	return func(l *Local) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// WithMetrics records flow outcomes in the supplied registry.
func WithMetrics(m *observability.LendingMetrics) Option {
	return func(l *Local) { l.metrics = m }
}

// WithQuota limits flows per account.
func WithQuota(q nativecommon.Quota) Option {
	return func(l *Local) {
		if q.Enabled() {
			l.quota = nativecommon.NewQuotaTracker(q)
		}
	}
}

// WithLogger sets the logger used for flow outcomes.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Local) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithModulePaused starts the engine with every flow paused.
func WithModulePaused(paused bool) Option {
	return func(l *Local) { l.pauses.Set(moduleName, paused) }
}

// NewLocal wraps core. The core must already have its state, pool and custody
// wired.
func NewLocal(core *lending.Engine, opts ...Option) *Local {
	l := &Local{
		core:   core,
		clock:  time.Now,
		pauses: nativecommon.NewPauseSwitch(),
		tracer: telemetry.Tracer("lending/engine"),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	core.SetPauses(l.pauses)
	return l
}

const moduleName = "lending"

// SetModulePaused pauses or resumes every flow across all markets. Views
// keep working while paused.
func (l *Local) SetModulePaused(ctx context.Context, paused bool) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, done := l.begin(ctx, "set_module_paused", "")
	defer func() { done(err, 0) }()
	l.pauses.Set(moduleName, paused)
	l.logger.Warn("lending module pause toggled", slog.Bool("paused", paused))
	return nil
}

// begin locks the engine, advances its clock and opens a span. The returned
// function must be called with the call's error.
func (l *Local) begin(ctx context.Context, action, market string) (context.Context, func(error, uint64)) {
	l.mu.Lock()
	now := l.clock()
	l.core.SetTimestamp(uint64(now.Unix()))
	ctx, span := l.tracer.Start(ctx, "lending."+action, trace.WithAttributes(
		attribute.String("lending.market", market),
	))
	return ctx, func(err error, iterations uint64) {
		defer l.mu.Unlock()
		elapsed := l.clock().Sub(now)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Int64("lending.iterations", int64(iterations)))
		span.End()
		l.metrics.ObserveFlow(action, market, err, iterations, elapsed)
	}
}

func (l *Local) flow(ctx context.Context, action string, req FlowRequest,
	run func(ctx context.Context, account, counterparty common.Address, amount *uint256.Int) (*lending.Receipt, error),
) (receipt *lending.Receipt, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	account, err := parseAddress(req.Account)
	if err != nil {
		return nil, err
	}
	counterparty := account
	if strings.TrimSpace(req.Counterparty) != "" {
		if counterparty, err = parseAddress(req.Counterparty); err != nil {
			return nil, err
		}
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return nil, err
	}
	market := lending.NormalizeSymbol(req.Market)
	if market == "" {
		return nil, fmt.Errorf("market required: %w", ErrInvalidRequest)
	}

	ctx, done := l.begin(ctx, action, market)
	defer func() {
		var iterations uint64
		if receipt != nil {
			iterations = receipt.Iterations
		}
		done(err, iterations)
	}()
	if err := l.chargeQuota(account, amount, false); err != nil {
		return nil, err
	}
	receipt, err = run(ctx, account, counterparty, amount)
	if err != nil {
		l.logger.Warn("lending flow rejected", slog.String("action", action), slog.String("market", market), slog.Any("error", err))
		return nil, translateError(err)
	}
	// Only settled flows are charged. l.mu is held, so the check above still holds.
	if err := l.chargeQuota(account, amount, true); err != nil {
		l.logger.Error("lending quota charge failed", slog.String("account", account.Hex()), slog.Any("error", err))
	}
	l.recordRoutes(receipt)
	l.logger.Info("lending flow settled",
		slog.String("action", action),
		slog.String("market", market),
		slog.String("amount", receipt.Amount.Dec()),
		slog.Uint64("iterations", receipt.Iterations),
	)
	return receipt, nil
}

func (l *Local) chargeQuota(account common.Address, amount *uint256.Int, commit bool) error {
	if l.quota == nil {
		return nil
	}
	volume := amount.Uint64()
	if !amount.IsUint64() {
		volume = ^uint64(0)
	}
	check := l.quota.Check
	if commit {
		check = l.quota.Consume
	}
	if err := check(account.Hex(), uint64(l.clock().Unix()), volume); err != nil {
		return fmt.Errorf("%w: %w", ErrQuotaExceeded, err)
	}
	return nil
}

func (l *Local) recordRoutes(r *lending.Receipt) {
	if l.metrics == nil || r == nil {
		return
	}
	l.metrics.AddRouted(r.Market, "delta", toFloat(r.DeltaMatched))
	l.metrics.AddRouted(r.Market, "p2p", toFloat(r.Matched))
	l.metrics.AddRouted(r.Market, "pool", toFloat(r.Pool))
}

func (l *Local) Supply(ctx context.Context, req FlowRequest) (*lending.Receipt, error) {
	return l.flow(ctx, "supply", req, func(ctx context.Context, from, onBehalf common.Address, amount *uint256.Int) (*lending.Receipt, error) {
		return l.core.Supply(ctx, req.Market, from, onBehalf, amount, req.MaxIterations)
	})
}

func (l *Local) Borrow(ctx context.Context, req FlowRequest) (*lending.Receipt, error) {
	return l.flow(ctx, "borrow", req, func(ctx context.Context, borrower, receiver common.Address, amount *uint256.Int) (*lending.Receipt, error) {
		return l.core.Borrow(ctx, req.Market, borrower, receiver, amount, req.MaxIterations)
	})
}

func (l *Local) Withdraw(ctx context.Context, req FlowRequest) (*lending.Receipt, error) {
	return l.flow(ctx, "withdraw", req, func(ctx context.Context, owner, receiver common.Address, amount *uint256.Int) (*lending.Receipt, error) {
		return l.core.Withdraw(ctx, req.Market, owner, receiver, amount, req.MaxIterations)
	})
}

func (l *Local) Repay(ctx context.Context, req FlowRequest) (*lending.Receipt, error) {
	return l.flow(ctx, "repay", req, func(ctx context.Context, from, onBehalf common.Address, amount *uint256.Int) (*lending.Receipt, error) {
		return l.core.Repay(ctx, req.Market, from, onBehalf, amount, req.MaxIterations)
	})
}

func (l *Local) Liquidate(ctx context.Context, req LiquidationRequest) (result *lending.LiquidationReceipt, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	liquidator, err := parseAddress(req.Liquidator)
	if err != nil {
		return nil, err
	}
	borrower, err := parseAddress(req.Borrower)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.BorrowedMarket) == "" || strings.TrimSpace(req.CollateralMarket) == "" {
		return nil, fmt.Errorf("borrowed and collateral markets required: %w", ErrInvalidRequest)
	}
	market := lending.NormalizeSymbol(req.BorrowedMarket)
	ctx, done := l.begin(ctx, "liquidate", market)
	defer func() {
		var iterations uint64
		if result != nil && result.Repaid != nil {
			iterations = result.Repaid.Iterations
		}
		done(err, iterations)
	}()
	result, err = l.core.Liquidate(ctx, req.BorrowedMarket, req.CollateralMarket, liquidator, borrower, amount, req.MaxIterations)
	if err != nil {
		return nil, translateError(err)
	}
	l.logger.Info("borrower liquidated",
		slog.String("market", market),
		slog.String("repaid", result.Repaid.Amount.Dec()),
		slog.String("seized", result.Seized.Amount.Dec()),
	)
	return result, nil
}

func (l *Local) GetMarket(ctx context.Context, market string) (m Market, err error) {
	if err := ctx.Err(); err != nil {
		return Market{}, err
	}
	ctx, done := l.begin(ctx, "get_market", market)
	defer func() { done(err, 0) }()
	snapshot, err := l.core.Market(ctx, market)
	if err != nil {
		return Market{}, translateError(err)
	}
	return Market{Market: snapshot}, nil
}

func (l *Local) ListMarkets(ctx context.Context) (out []Market, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ctx, done := l.begin(ctx, "list_markets", "")
	defer func() { done(err, 0) }()
	symbols, err := l.core.Markets()
	if err != nil {
		return nil, translateError(err)
	}
	out = make([]Market, 0, len(symbols))
	for _, symbol := range symbols {
		snapshot, err := l.core.Market(ctx, symbol)
		if err != nil {
			return nil, translateError(err)
		}
		out = append(out, Market{Market: snapshot})
	}
	return out, nil
}

func (l *Local) GetPosition(ctx context.Context, addr, market string) (p Position, err error) {
	if err := ctx.Err(); err != nil {
		return Position{}, err
	}
	account, err := parseAddress(addr)
	if err != nil {
		return Position{}, err
	}
	ctx, done := l.begin(ctx, "get_position", market)
	defer func() { done(err, 0) }()
	view, err := l.core.Position(ctx, market, account)
	if err != nil {
		return Position{}, translateError(err)
	}
	if view.Supply.IsZero() && view.Borrow.IsZero() {
		return Position{}, ErrNotFound
	}
	return Position{Position: view}, nil
}

func (l *Local) GetHealth(ctx context.Context, addr string) (h Health, err error) {
	if err := ctx.Err(); err != nil {
		return Health{}, err
	}
	account, err := parseAddress(addr)
	if err != nil {
		return Health{}, err
	}
	ctx, done := l.begin(ctx, "get_health", "")
	defer func() { done(err, 0) }()
	markets, err := l.core.Memberships(account)
	if err != nil {
		return Health{}, translateError(err)
	}
	if len(markets) == 0 {
		return Health{}, ErrNotFound
	}
	data, err := l.core.Liquidity(ctx, account)
	if err != nil {
		return Health{}, translateError(err)
	}
	return Health{Account: account, Markets: markets, Liquidity: data, Healthy: data.Healthy()}, nil
}

func (l *Local) ListAccounts(ctx context.Context, market, list string) (out []string, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	kind, err := parseListKind(list)
	if err != nil {
		return nil, err
	}
	_, done := l.begin(ctx, "list_accounts", market)
	defer func() { done(err, 0) }()
	accounts, err := l.core.ListAccounts(market, kind)
	if err != nil {
		return nil, translateError(err)
	}
	out = make([]string, len(accounts))
	for i, a := range accounts {
		out[i] = a.Hex()
	}
	return out, nil
}

func (l *Local) CreateMarket(ctx context.Context, params MarketParams) (m Market, err error) {
	if err := ctx.Err(); err != nil {
		return Market{}, err
	}
	ctx, done := l.begin(ctx, "create_market", params.Symbol)
	defer func() { done(err, 0) }()
	if err := l.core.CreateMarket(ctx, params.Symbol, params.ReserveFactor, params.P2PIndexCursor,
		lending.WithP2PDisabled(params.P2PDisabled)); err != nil {
		return Market{}, translateError(err)
	}
	snapshot, err := l.core.Market(ctx, params.Symbol)
	if err != nil {
		return Market{}, translateError(err)
	}
	l.logger.Info("market created", slog.String("market", snapshot.Symbol))
	return Market{Market: snapshot}, nil
}

// UpdateMarket applies each set field as its own transition, in a fixed
// order. A failure leaves earlier fields applied.
func (l *Local) UpdateMarket(ctx context.Context, market string, update MarketUpdate) (m Market, err error) {
	if err := ctx.Err(); err != nil {
		return Market{}, err
	}
	if update.Empty() {
		return Market{}, fmt.Errorf("no fields to update: %w", ErrInvalidRequest)
	}
	ctx, done := l.begin(ctx, "update_market", market)
	defer func() { done(err, 0) }()
	steps := []func() error{}
	if update.ReserveFactor != nil {
		steps = append(steps, func() error { return l.core.SetReserveFactor(ctx, market, *update.ReserveFactor) })
	}
	if update.P2PIndexCursor != nil {
		steps = append(steps, func() error { return l.core.SetP2PIndexCursor(ctx, market, *update.P2PIndexCursor) })
	}
	if update.P2PDisabled != nil {
		steps = append(steps, func() error { return l.core.SetP2PDisabled(ctx, market, *update.P2PDisabled) })
	}
	if update.Paused != nil {
		steps = append(steps, func() error { return l.core.SetMarketPaused(ctx, market, *update.Paused) })
	}
	if update.Pauses != nil {
		steps = append(steps, func() error { return l.core.SetActionPauses(ctx, market, *update.Pauses) })
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return Market{}, translateError(err)
		}
	}
	snapshot, err := l.core.Market(ctx, market)
	if err != nil {
		return Market{}, translateError(err)
	}
	return Market{Market: snapshot}, nil
}

func (l *Local) IncreaseP2PDeltas(ctx context.Context, market, amount string) (moved *uint256.Int, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	value, err := parseAmount(amount)
	if err != nil {
		return nil, err
	}
	ctx, done := l.begin(ctx, "increase_p2p_deltas", market)
	defer func() { done(err, 0) }()
	moved, err = l.core.IncreaseP2PDeltas(ctx, market, value)
	if err != nil {
		return nil, translateError(err)
	}
	return moved, nil
}

// ClaimReserve sends reserve to the treasury. An empty amount claims all of
// it.
func (l *Local) ClaimReserve(ctx context.Context, market, amount string) (claimed *uint256.Int, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var value *uint256.Int
	if strings.TrimSpace(amount) != "" {
		if value, err = parseAmount(amount); err != nil {
			return nil, err
		}
	}
	ctx, done := l.begin(ctx, "claim_reserve", market)
	defer func() { done(err, 0) }()
	claimed, err = l.core.ClaimToTreasury(ctx, market, value)
	if err != nil {
		return nil, translateError(err)
	}
	return claimed, nil
}

func parseAddress(addr string) (common.Address, error) {
	trimmed := strings.TrimSpace(addr)
	if trimmed == "" {
		return common.Address{}, fmt.Errorf("address required: %w", ErrInvalidRequest)
	}
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid address %q: %w", trimmed, ErrInvalidRequest)
	}
	out := common.HexToAddress(trimmed)
	if out == (common.Address{}) {
		return common.Address{}, fmt.Errorf("zero address: %w", ErrInvalidRequest)
	}
	return out, nil
}

func parseAmount(amount string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(amount)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required: %w", ErrInvalidAmount)
	}
	value, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid amount: %w", ErrInvalidAmount)
	}
	if value.IsZero() {
		return nil, fmt.Errorf("amount must be positive: %w", ErrInvalidAmount)
	}
	return value, nil
}

func parseListKind(list string) (lending.ListKind, error) {
	normalized := strings.ToLower(strings.TrimSpace(list))
	for _, kind := range lending.ListKinds {
		if kind.String() == normalized {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("unknown list %q: %w", list, ErrInvalidRequest)
}

// translateError maps engine sentinels onto the service taxonomy while
// keeping the engine error in the chain for logs.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var mapped error
	switch {
	case errors.Is(err, lending.ErrMarketNotCreated):
		mapped = ErrNotFound
	case errors.Is(err, lending.ErrMarketPaused), errors.Is(err, nativecommon.ErrModulePaused):
		mapped = ErrPaused
	case errors.Is(err, lending.ErrAmountIsZero),
		errors.Is(err, lending.ErrArithmeticOverflow),
		errors.Is(err, lending.ErrArithmeticUnderflow):
		mapped = ErrInvalidAmount
	case errors.Is(err, lending.ErrAddressIsZero), errors.Is(err, lending.ErrInvalidParameter):
		mapped = ErrInvalidRequest
	case errors.Is(err, lending.ErrInsufficientCollateral):
		mapped = ErrInsufficientCollateral
	case errors.Is(err, lending.ErrNotLiquidatable):
		mapped = ErrNotLiquidatable
	case errors.Is(err, lending.ErrNoSupply),
		errors.Is(err, lending.ErrNoDebt),
		errors.Is(err, lending.ErrMarketAlreadyCreated),
		errors.Is(err, lending.ErrReentrantCall),
		errors.Is(err, lending.ErrTreasuryNotSet):
		mapped = ErrConflict
	case errors.Is(err, lending.ErrExternalAdapterFailure):
		mapped = ErrUnavailable
	default:
		mapped = ErrInternal
	}
	return fmt.Errorf("%w: %w", mapped, err)
}

func toFloat(v *uint256.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := v.ToBig().Float64()
	return f
}
