// Package simulated provides an in-process pooled lending protocol and token
// ledger for development and tests. Indexes grow linearly from configured
// annual rates; balances are tracked in underlying units without accrual.
package simulated

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"peerlend/native/lending"
)

const secondsPerYear = 365 * 24 * 60 * 60

var (
	ErrUnknownMarket         = errors.New("simulated pool: unknown market")
	ErrInsufficientBalance   = errors.New("simulated pool: insufficient balance")
	ErrInsufficientLiquidity = errors.New("simulated pool: insufficient liquidity")
)

// MarketConfig seeds one market of the simulated pool.
type MarketConfig struct {
	Symbol string `yaml:"symbol" toml:"symbol"`
	// SupplyAPRBps and BorrowAPRBps drive the linear index growth.
	SupplyAPRBps uint64 `yaml:"supply_apr_bps" toml:"supply_apr_bps"`
	BorrowAPRBps uint64 `yaml:"borrow_apr_bps" toml:"borrow_apr_bps"`
	// Price is the wad-scaled price of one unit, as a decimal string.
	Price               string `yaml:"price" toml:"price"`
	CollateralFactorBps uint64 `yaml:"collateral_factor_bps" toml:"collateral_factor_bps"`
	// Liquidity is the amount already available to borrow before any supply.
	Liquidity string `yaml:"liquidity" toml:"liquidity"`
}

type market struct {
	supplyRate       *uint256.Int
	borrowRate       *uint256.Int
	price            *uint256.Int
	collateralFactor uint64
	liquidity        *uint256.Int
	supplied         *uint256.Int
	borrowed         *uint256.Int
	start            int64
}

// Pool implements lending.Pool and lending.Custody in memory.
type Pool struct {
	mu      sync.Mutex
	clock   func() time.Time
	markets map[string]*market
	wallets map[string]map[common.Address]*uint256.Int
	custody map[string]*uint256.Int
}

var (
	_ lending.Pool    = (*Pool)(nil)
	_ lending.Custody = (*Pool)(nil)
)

// New returns an empty pool reading time from clock. A nil clock uses
// time.Now.
func New(clock func() time.Time) *Pool {
	if clock == nil {
		clock = time.Now
	}
	return &Pool{
		clock:   clock,
		markets: make(map[string]*market),
		wallets: make(map[string]map[common.Address]*uint256.Int),
		custody: make(map[string]*uint256.Int),
	}
}

// AddMarket registers a market. Its indexes start at one ray at the current
// clock.
func (p *Pool) AddMarket(cfg MarketConfig) error {
	symbol := lending.NormalizeSymbol(cfg.Symbol)
	if symbol == "" {
		return fmt.Errorf("simulated pool: empty symbol")
	}
	if cfg.CollateralFactorBps > 10_000 {
		return fmt.Errorf("simulated pool: collateral factor %d exceeds 10000 bps", cfg.CollateralFactorBps)
	}
	price, err := decimalOrZero(cfg.Price)
	if err != nil {
		return fmt.Errorf("simulated pool: price: %w", err)
	}
	liquidity, err := decimalOrZero(cfg.Liquidity)
	if err != nil {
		return fmt.Errorf("simulated pool: liquidity: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.markets[symbol]; exists {
		return fmt.Errorf("simulated pool: market %s already registered", symbol)
	}
	p.markets[symbol] = &market{
		supplyRate:       ratePerSecond(cfg.SupplyAPRBps),
		borrowRate:       ratePerSecond(cfg.BorrowAPRBps),
		price:            price,
		collateralFactor: cfg.CollateralFactorBps,
		liquidity:        liquidity,
		supplied:         new(uint256.Int),
		borrowed:         new(uint256.Int),
		start:            p.clock().Unix(),
	}
	p.custody[symbol] = new(uint256.Int)
	return nil
}

// SetPrice updates a market's wad-scaled price.
func (p *Pool) SetPrice(symbol string, price *uint256.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, err := p.market(symbol)
	if err != nil {
		return err
	}
	m.price = new(uint256.Int).Set(price)
	return nil
}

// Mint credits tokens to a wallet.
func (p *Pool) Mint(symbol string, to common.Address, amount *uint256.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.market(symbol); err != nil {
		return err
	}
	bal := p.wallet(lending.NormalizeSymbol(symbol), to)
	bal.Add(bal, amount)
	return nil
}

// Balance returns a wallet's token balance.
func (p *Pool) Balance(symbol string, account common.Address) *uint256.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(uint256.Int).Set(p.wallet(lending.NormalizeSymbol(symbol), account))
}

// Liquidity returns what the pool can currently lend or release.
func (p *Pool) Liquidity(symbol string) (*uint256.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, err := p.market(symbol)
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).Set(m.liquidity), nil
}

func (p *Pool) Supply(_ context.Context, symbol string, amount *uint256.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, err := p.market(symbol)
	if err != nil {
		return err
	}
	if err := p.debitCustody(symbol, amount); err != nil {
		return err
	}
	m.liquidity.Add(m.liquidity, amount)
	m.supplied.Add(m.supplied, amount)
	return nil
}

// Withdraw releases at most the available liquidity.
func (p *Pool) Withdraw(_ context.Context, symbol string, amount *uint256.Int) (*uint256.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, err := p.market(symbol)
	if err != nil {
		return nil, err
	}
	actual := new(uint256.Int).Set(amount)
	if actual.Gt(m.liquidity) {
		actual.Set(m.liquidity)
	}
	m.liquidity.Sub(m.liquidity, actual)
	if actual.Gt(m.supplied) {
		m.supplied.Clear()
	} else {
		m.supplied.Sub(m.supplied, actual)
	}
	p.creditCustody(symbol, actual)
	return actual, nil
}

func (p *Pool) Borrow(_ context.Context, symbol string, amount *uint256.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, err := p.market(symbol)
	if err != nil {
		return err
	}
	if amount.Gt(m.liquidity) {
		return fmt.Errorf("%w: %s wants %s, has %s", ErrInsufficientLiquidity, lending.NormalizeSymbol(symbol), amount.Dec(), m.liquidity.Dec())
	}
	m.liquidity.Sub(m.liquidity, amount)
	m.borrowed.Add(m.borrowed, amount)
	p.creditCustody(symbol, amount)
	return nil
}

func (p *Pool) Repay(_ context.Context, symbol string, amount *uint256.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, err := p.market(symbol)
	if err != nil {
		return err
	}
	if err := p.debitCustody(symbol, amount); err != nil {
		return err
	}
	m.liquidity.Add(m.liquidity, amount)
	if amount.Gt(m.borrowed) {
		m.borrowed.Clear()
	} else {
		m.borrowed.Sub(m.borrowed, amount)
	}
	return nil
}

func (p *Pool) SupplyIndex(_ context.Context, symbol string) (*uint256.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, err := p.market(symbol)
	if err != nil {
		return nil, err
	}
	return p.index(m, m.supplyRate), nil
}

func (p *Pool) BorrowIndex(_ context.Context, symbol string) (*uint256.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, err := p.market(symbol)
	if err != nil {
		return nil, err
	}
	return p.index(m, m.borrowRate), nil
}

func (p *Pool) PriceOf(_ context.Context, symbol string) (*uint256.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, err := p.market(symbol)
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).Set(m.price), nil
}

func (p *Pool) CollateralFactor(_ context.Context, symbol string) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, err := p.market(symbol)
	if err != nil {
		return 0, err
	}
	return m.collateralFactor, nil
}

// TransferIn moves tokens from a wallet into engine custody.
func (p *Pool) TransferIn(_ context.Context, symbol string, from common.Address, amount *uint256.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.market(symbol); err != nil {
		return err
	}
	bal := p.wallet(lending.NormalizeSymbol(symbol), from)
	if amount.Gt(bal) {
		return fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientBalance, from.Hex(), bal.Dec(), amount.Dec())
	}
	bal.Sub(bal, amount)
	p.creditCustody(symbol, amount)
	return nil
}

// TransferOut moves tokens from engine custody to a wallet.
func (p *Pool) TransferOut(_ context.Context, symbol string, to common.Address, amount *uint256.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.market(symbol); err != nil {
		return err
	}
	if err := p.debitCustody(symbol, amount); err != nil {
		return err
	}
	bal := p.wallet(lending.NormalizeSymbol(symbol), to)
	bal.Add(bal, amount)
	return nil
}

// BalanceOf returns the tokens held by the engine between flows.
func (p *Pool) BalanceOf(_ context.Context, symbol string) (*uint256.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.market(symbol); err != nil {
		return nil, err
	}
	return new(uint256.Int).Set(p.custody[lending.NormalizeSymbol(symbol)]), nil
}

func (p *Pool) market(symbol string) (*market, error) {
	m, ok := p.markets[lending.NormalizeSymbol(symbol)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMarket, symbol)
	}
	return m, nil
}

func (p *Pool) wallet(symbol string, account common.Address) *uint256.Int {
	accounts, ok := p.wallets[symbol]
	if !ok {
		accounts = make(map[common.Address]*uint256.Int)
		p.wallets[symbol] = accounts
	}
	bal, ok := accounts[account]
	if !ok {
		bal = new(uint256.Int)
		accounts[account] = bal
	}
	return bal
}

func (p *Pool) creditCustody(symbol string, amount *uint256.Int) {
	held := p.custody[lending.NormalizeSymbol(symbol)]
	held.Add(held, amount)
}

func (p *Pool) debitCustody(symbol string, amount *uint256.Int) error {
	held := p.custody[lending.NormalizeSymbol(symbol)]
	if amount.Gt(held) {
		return fmt.Errorf("%w: custody holds %s, needs %s", ErrInsufficientBalance, held.Dec(), amount.Dec())
	}
	held.Sub(held, amount)
	return nil
}

// index is ray + rate·elapsed, never below one ray.
func (p *Pool) index(m *market, rate *uint256.Int) *uint256.Int {
	elapsed := p.clock().Unix() - m.start
	if elapsed < 0 {
		elapsed = 0
	}
	growth := new(uint256.Int).Mul(rate, uint256.NewInt(uint64(elapsed)))
	return growth.Add(growth, lending.Ray())
}

func ratePerSecond(aprBps uint64) *uint256.Int {
	rate := new(uint256.Int).Mul(lending.Ray(), uint256.NewInt(aprBps))
	return rate.Div(rate, uint256.NewInt(10_000*secondsPerYear))
}

func decimalOrZero(raw string) (*uint256.Int, error) {
	if raw == "" {
		return new(uint256.Int), nil
	}
	return uint256.FromDecimal(raw)
}
