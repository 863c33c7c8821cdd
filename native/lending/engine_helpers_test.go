package lending

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"peerlend/core/events"
	"peerlend/native/lending/dll"
)

type mockEngineState struct {
	markets     map[string]*Market
	positions   map[positionKey]*Position
	memberships map[common.Address][]string
	lists       map[listKey]*dll.List
	failPut     error
}

func newMockEngineState() *mockEngineState {
	return &mockEngineState{
		markets:     make(map[string]*Market),
		positions:   make(map[positionKey]*Position),
		memberships: make(map[common.Address][]string),
		lists:       make(map[listKey]*dll.List),
	}
}

func (m *mockEngineState) GetMarket(symbol string) (*Market, error) {
	return m.markets[symbol], nil
}

func (m *mockEngineState) PutMarket(market *Market) error {
	if m.failPut != nil {
		return m.failPut
	}
	m.markets[market.Symbol] = market.Clone()
	return nil
}

func (m *mockEngineState) ListMarkets() ([]string, error) {
	out := make([]string, 0, len(m.markets))
	for symbol := range m.markets {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out, nil
}

func (m *mockEngineState) GetPosition(symbol string, account common.Address) (*Position, error) {
	return m.positions[positionKey{market: symbol, account: account}], nil
}

func (m *mockEngineState) PutPosition(position *Position) error {
	key := positionKey{market: position.Market, account: position.Account}
	if position.IsEmpty() {
		delete(m.positions, key)
		return nil
	}
	m.positions[key] = position.Clone()
	return nil
}

func (m *mockEngineState) GetMemberships(account common.Address) ([]string, error) {
	return m.memberships[account], nil
}

func (m *mockEngineState) PutMemberships(account common.Address, markets []string) error {
	if len(markets) == 0 {
		delete(m.memberships, account)
		return nil
	}
	m.memberships[account] = append([]string(nil), markets...)
	return nil
}

func (m *mockEngineState) GetList(symbol string, kind ListKind) (*dll.List, error) {
	key := listKey{market: symbol, kind: kind}
	if l, ok := m.lists[key]; ok {
		return l, nil
	}
	l := dll.New()
	m.lists[key] = l
	return l, nil
}

func (m *mockEngineState) PutList(symbol string, kind ListKind, list *dll.List) error {
	m.lists[listKey{market: symbol, kind: kind}] = list
	return nil
}

// snapshot renders the whole ledger so tests can assert nothing changed.
func (m *mockEngineState) snapshot() string {
	out := ""
	symbols, _ := m.ListMarkets()
	for _, s := range symbols {
		mk := m.markets[s]
		out += fmt.Sprintf("market %s %s %s %s %s %s %s %s %s %d\n", s,
			mk.PoolSupplyIndex, mk.PoolBorrowIndex, mk.P2PSupplyIndex, mk.P2PBorrowIndex,
			mk.Delta.P2PSupplyDelta, mk.Delta.P2PBorrowDelta, mk.Delta.P2PSupplyAmount, mk.Delta.P2PBorrowAmount,
			mk.LastUpdate)
		for _, kind := range ListKinds {
			l, _ := m.GetList(s, kind)
			for _, id := range l.Accounts() {
				out += fmt.Sprintf("  %s %s=%s\n", kind, id.Hex(), l.ValueOf(id))
			}
		}
	}
	keys := make([]string, 0, len(m.positions))
	for k, p := range m.positions {
		keys = append(keys, fmt.Sprintf("position %s %s %s/%s %s/%s", k.market, k.account.Hex(),
			p.Supply.OnPool, p.Supply.InP2P, p.Borrow.OnPool, p.Borrow.InP2P))
	}
	sort.Strings(keys)
	for _, k := range keys {
		out += k + "\n"
	}
	return out
}

// mockVenue plays both the external pool and token custody over one ledger so
// that whatever the engine keeps between flows is its reserve.
type mockVenue struct {
	supplyIndex map[string]*uint256.Int
	borrowIndex map[string]*uint256.Int
	prices      map[string]*uint256.Int
	factors     map[string]uint64

	held         map[string]*uint256.Int
	poolSupplied map[string]*uint256.Int
	poolBorrowed map[string]*uint256.Int
	wallets      map[string]map[common.Address]*uint256.Int

	// release caps what Withdraw hands back per market.
	release map[string]*uint256.Int

	calls []string
	fail  map[string]error
	hook  func(method string)
}

func newMockVenue() *mockVenue {
	return &mockVenue{
		supplyIndex:  make(map[string]*uint256.Int),
		borrowIndex:  make(map[string]*uint256.Int),
		prices:       make(map[string]*uint256.Int),
		factors:      make(map[string]uint64),
		held:         make(map[string]*uint256.Int),
		poolSupplied: make(map[string]*uint256.Int),
		poolBorrowed: make(map[string]*uint256.Int),
		wallets:      make(map[string]map[common.Address]*uint256.Int),
		release:      make(map[string]*uint256.Int),
		fail:         make(map[string]error),
	}
}

func (v *mockVenue) enter(method string) error {
	v.calls = append(v.calls, method)
	if v.hook != nil {
		v.hook(method)
	}
	return v.fail[method]
}

func (v *mockVenue) get(m map[string]*uint256.Int, symbol string) *uint256.Int {
	if x, ok := m[symbol]; ok {
		return x
	}
	return zero()
}

func (v *mockVenue) wallet(symbol string, account common.Address) *uint256.Int {
	if w, ok := v.wallets[symbol]; ok {
		if x, ok := w[account]; ok {
			return x
		}
	}
	return zero()
}

func (v *mockVenue) fund(symbol string, account common.Address, amount uint64) {
	if _, ok := v.wallets[symbol]; !ok {
		v.wallets[symbol] = make(map[common.Address]*uint256.Int)
	}
	v.wallets[symbol][account] = new(uint256.Int).Add(v.wallet(symbol, account), uint256.NewInt(amount))
}

func (v *mockVenue) debitHeld(symbol string, amount *uint256.Int) error {
	held := v.get(v.held, symbol)
	if held.Cmp(amount) < 0 {
		return fmt.Errorf("custody holds %s %s, need %s", held, symbol, amount)
	}
	v.held[symbol] = new(uint256.Int).Sub(held, amount)
	return nil
}

func (v *mockVenue) creditHeld(symbol string, amount *uint256.Int) {
	v.held[symbol] = new(uint256.Int).Add(v.get(v.held, symbol), amount)
}

func (v *mockVenue) Supply(_ context.Context, symbol string, amount *uint256.Int) error {
	if err := v.enter("pool.supply"); err != nil {
		return err
	}
	if err := v.debitHeld(symbol, amount); err != nil {
		return err
	}
	v.poolSupplied[symbol] = new(uint256.Int).Add(v.get(v.poolSupplied, symbol), amount)
	return nil
}

func (v *mockVenue) Withdraw(_ context.Context, symbol string, amount *uint256.Int) (*uint256.Int, error) {
	if err := v.enter("pool.withdraw"); err != nil {
		return nil, err
	}
	if limit, ok := v.release[symbol]; ok {
		amount = minOf(amount, limit)
	}
	v.poolSupplied[symbol] = zeroFloorSub(v.get(v.poolSupplied, symbol), amount)
	v.creditHeld(symbol, amount)
	return clone(amount), nil
}

func (v *mockVenue) Borrow(_ context.Context, symbol string, amount *uint256.Int) error {
	if err := v.enter("pool.borrow"); err != nil {
		return err
	}
	v.poolBorrowed[symbol] = new(uint256.Int).Add(v.get(v.poolBorrowed, symbol), amount)
	v.creditHeld(symbol, amount)
	return nil
}

func (v *mockVenue) Repay(_ context.Context, symbol string, amount *uint256.Int) error {
	if err := v.enter("pool.repay"); err != nil {
		return err
	}
	if err := v.debitHeld(symbol, amount); err != nil {
		return err
	}
	v.poolBorrowed[symbol] = zeroFloorSub(v.get(v.poolBorrowed, symbol), amount)
	return nil
}

func (v *mockVenue) SupplyIndex(_ context.Context, symbol string) (*uint256.Int, error) {
	if err := v.fail["pool.supply_index"]; err != nil {
		return nil, err
	}
	if x, ok := v.supplyIndex[symbol]; ok {
		return clone(x), nil
	}
	return Ray(), nil
}

func (v *mockVenue) BorrowIndex(_ context.Context, symbol string) (*uint256.Int, error) {
	if x, ok := v.borrowIndex[symbol]; ok {
		return clone(x), nil
	}
	return Ray(), nil
}

func (v *mockVenue) PriceOf(_ context.Context, symbol string) (*uint256.Int, error) {
	if err := v.fail["pool.price"]; err != nil {
		return nil, err
	}
	if x, ok := v.prices[symbol]; ok {
		return clone(x), nil
	}
	return clone(wad), nil
}

func (v *mockVenue) CollateralFactor(_ context.Context, symbol string) (uint64, error) {
	if f, ok := v.factors[symbol]; ok {
		return f, nil
	}
	return 8_000, nil
}

func (v *mockVenue) TransferIn(_ context.Context, symbol string, from common.Address, amount *uint256.Int) error {
	if err := v.enter("custody.transfer_in"); err != nil {
		return err
	}
	balance := v.wallet(symbol, from)
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("wallet %s holds %s %s, need %s", from.Hex(), balance, symbol, amount)
	}
	v.wallets[symbol][from] = new(uint256.Int).Sub(balance, amount)
	v.creditHeld(symbol, amount)
	return nil
}

func (v *mockVenue) TransferOut(_ context.Context, symbol string, to common.Address, amount *uint256.Int) error {
	if err := v.enter("custody.transfer_out"); err != nil {
		return err
	}
	if err := v.debitHeld(symbol, amount); err != nil {
		return err
	}
	if _, ok := v.wallets[symbol]; !ok {
		v.wallets[symbol] = make(map[common.Address]*uint256.Int)
	}
	v.wallets[symbol][to] = new(uint256.Int).Add(v.wallet(symbol, to), amount)
	return nil
}

func (v *mockVenue) BalanceOf(_ context.Context, symbol string) (*uint256.Int, error) {
	return clone(v.get(v.held, symbol)), nil
}

func (v *mockVenue) called(method string) bool {
	for _, c := range v.calls {
		if c == method {
			return true
		}
	}
	return false
}

type recordingEmitter struct {
	events []events.Event
}

func (r *recordingEmitter) Emit(evt events.Event) { r.events = append(r.events, evt) }

func (r *recordingEmitter) count(kind string) int {
	n := 0
	for _, evt := range r.events {
		if evt.EventType() == kind {
			n++
		}
	}
	return n
}

type harness struct {
	t       *testing.T
	engine  *Engine
	state   *mockEngineState
	venue   *mockVenue
	emitter *recordingEmitter
}

func newHarness(t *testing.T, markets ...string) *harness {
	t.Helper()
	venue := newMockVenue()
	state := newMockEngineState()
	emitter := &recordingEmitter{}
	engine := NewEngine(venue, venue, DefaultConfig())
	engine.SetState(state)
	engine.SetEmitter(emitter)
	engine.SetTimestamp(1)
	for _, symbol := range markets {
		if err := engine.CreateMarket(context.Background(), symbol, 0, 5_000); err != nil {
			t.Fatalf("create market %s: %v", symbol, err)
		}
	}
	return &harness{t: t, engine: engine, state: state, venue: venue, emitter: emitter}
}

func account(suffix byte) common.Address {
	var a common.Address
	a[0] = 0xAC
	a[len(a)-1] = suffix
	return a
}

func units(n uint64) *uint256.Int { return uint256.NewInt(n) }

func rayFrac(numerator, denominator uint64) *uint256.Int {
	x := new(uint256.Int).Mul(ray, uint256.NewInt(numerator))
	return x.Div(x, uint256.NewInt(denominator))
}

func (h *harness) supply(symbol string, who common.Address, amount uint64, budget *uint64) *Receipt {
	h.t.Helper()
	h.venue.fund(symbol, who, amount)
	r, err := h.engine.Supply(context.Background(), symbol, who, who, units(amount), budget)
	if err != nil {
		h.t.Fatalf("supply %d %s for %s: %v", amount, symbol, who.Hex(), err)
	}
	return r
}

func (h *harness) borrow(symbol string, who common.Address, amount uint64, budget *uint64) *Receipt {
	h.t.Helper()
	r, err := h.engine.Borrow(context.Background(), symbol, who, who, units(amount), budget)
	if err != nil {
		h.t.Fatalf("borrow %d %s for %s: %v", amount, symbol, who.Hex(), err)
	}
	return r
}

func (h *harness) position(symbol string, who common.Address) *Position {
	if p := h.state.positions[positionKey{market: symbol, account: who}]; p != nil {
		return p
	}
	return NewPosition(symbol, who)
}

func (h *harness) market(symbol string) *Market {
	return h.state.markets[symbol]
}

func (h *harness) listed(symbol string, kind ListKind, who common.Address) bool {
	l, _ := h.state.GetList(symbol, kind)
	return l.Contains(who)
}

// checkDeltaBounds asserts that no delta exceeds its side's p2p amount value.
func (h *harness) checkDeltaBounds(symbol string) {
	h.t.Helper()
	m := h.market(symbol)
	for _, side := range []Side{SideSupply, SideBorrow} {
		var a arith
		deltaValue := a.rayMul(m.Delta.delta(side), m.poolIndex(side))
		amountValue := a.rayMul(m.Delta.amount(side), m.p2pIndex(side))
		if a.err != nil {
			h.t.Fatalf("delta bound arithmetic: %v", a.err)
		}
		if deltaValue.Cmp(amountValue) > 0 {
			h.t.Fatalf("%s %s delta value %s exceeds p2p amount value %s", symbol, side, deltaValue, amountValue)
		}
	}
}

func expectUint(t *testing.T, name string, got *uint256.Int, want uint64) {
	t.Helper()
	if got == nil || !got.Eq(uint256.NewInt(want)) {
		t.Fatalf("unexpected %s: got %v want %d", name, got, want)
	}
}

var errVenueDown = errors.New("venue unavailable")
