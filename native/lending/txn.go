package lending

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"peerlend/core/events"
	"peerlend/native/lending/dll"
)

type engineState interface {
	// GetMarket returns nil without error when the market does not exist.
	GetMarket(symbol string) (*Market, error)
	PutMarket(market *Market) error
	ListMarkets() ([]string, error)
	// GetPosition returns nil without error when the account holds nothing.
	GetPosition(symbol string, account common.Address) (*Position, error)
	// PutPosition deletes the record when the position is empty.
	PutPosition(position *Position) error
	GetMemberships(account common.Address) ([]string, error)
	PutMemberships(account common.Address, markets []string) error
	// GetList never returns nil; an unknown list is empty.
	GetList(symbol string, kind ListKind) (*dll.List, error)
	PutList(symbol string, kind ListKind, list *dll.List) error
}

// batchState is implemented by stores that stage writes until Commit.
type batchState interface {
	Commit() error
	Discard()
}

type positionKey struct {
	market  string
	account common.Address
}

type listKey struct {
	market string
	kind   ListKind
}

type interaction struct {
	name string
	do   func(ctx context.Context) error
	undo func(ctx context.Context) error
}

// txn is the journaled overlay a single flow runs against. Reads are cached
// copies, list edits are applied in place with an undo log, and external
// interactions are queued until every effect has been computed.
type txn struct {
	ctx context.Context
	e   *Engine

	markets      map[string]*Market
	marketOrder  []string
	dirtyMarkets map[string]bool

	positions      map[positionKey]*Position
	positionOrder  []positionKey
	dirtyPositions map[positionKey]bool

	memberships      map[common.Address][]string
	dirtyMemberships map[common.Address]bool

	lists      map[listKey]*dll.List
	listOrder  []listKey
	dirtyLists map[listKey]bool

	undo         []func()
	interactions []interaction
	events       []events.Event
}

func newTxn(ctx context.Context, e *Engine) *txn {
	return &txn{
		ctx:              ctx,
		e:                e,
		markets:          make(map[string]*Market),
		dirtyMarkets:     make(map[string]bool),
		positions:        make(map[positionKey]*Position),
		dirtyPositions:   make(map[positionKey]bool),
		memberships:      make(map[common.Address][]string),
		dirtyMemberships: make(map[common.Address]bool),
		lists:            make(map[listKey]*dll.List),
		dirtyLists:       make(map[listKey]bool),
	}
}

// market loads a created market. Index refresh is left to the caller.
func (tx *txn) market(symbol string) (*Market, error) {
	symbol = NormalizeSymbol(symbol)
	if m, ok := tx.markets[symbol]; ok {
		return m, nil
	}
	stored, err := tx.e.state.GetMarket(symbol)
	if err != nil {
		return nil, err
	}
	if stored == nil || !stored.Created {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotCreated, symbol)
	}
	m := stored.Clone()
	tx.markets[symbol] = m
	tx.marketOrder = append(tx.marketOrder, symbol)
	return m, nil
}

func (tx *txn) createMarket(m *Market) {
	tx.markets[m.Symbol] = m
	tx.marketOrder = append(tx.marketOrder, m.Symbol)
	tx.dirtyMarkets[m.Symbol] = true
}

func (tx *txn) saveMarket(m *Market) {
	tx.dirtyMarkets[m.Symbol] = true
}

func (tx *txn) position(symbol string, account common.Address) (*Position, error) {
	key := positionKey{market: symbol, account: account}
	if p, ok := tx.positions[key]; ok {
		return p, nil
	}
	stored, err := tx.e.state.GetPosition(symbol, account)
	if err != nil {
		return nil, err
	}
	var p *Position
	if stored == nil {
		p = NewPosition(symbol, account)
	} else {
		p = stored.Clone()
		p.Supply = normalizeBalance(p.Supply)
		p.Borrow = normalizeBalance(p.Borrow)
	}
	tx.positions[key] = p
	tx.positionOrder = append(tx.positionOrder, key)
	return p, nil
}

func normalizeBalance(b Balance) Balance {
	return Balance{OnPool: clone(b.OnPool), InP2P: clone(b.InP2P)}
}

func (tx *txn) savePosition(p *Position) {
	tx.dirtyPositions[positionKey{market: p.Market, account: p.Account}] = true
}

func (tx *txn) membership(account common.Address) ([]string, error) {
	if m, ok := tx.memberships[account]; ok {
		return m, nil
	}
	stored, err := tx.e.state.GetMemberships(account)
	if err != nil {
		return nil, err
	}
	markets := append([]string(nil), stored...)
	tx.memberships[account] = markets
	return markets, nil
}

func (tx *txn) setMember(account common.Address, symbol string, member bool) error {
	markets, err := tx.membership(account)
	if err != nil {
		return err
	}
	idx := -1
	for i, m := range markets {
		if m == symbol {
			idx = i
			break
		}
	}
	switch {
	case member && idx < 0:
		markets = append(markets, symbol)
	case !member && idx >= 0:
		markets = append(markets[:idx:idx], markets[idx+1:]...)
	default:
		return nil
	}
	tx.memberships[account] = markets
	tx.dirtyMemberships[account] = true
	return nil
}

func (tx *txn) list(symbol string, kind ListKind) (*dll.List, error) {
	key := listKey{market: symbol, kind: kind}
	if l, ok := tx.lists[key]; ok {
		return l, nil
	}
	l, err := tx.e.state.GetList(symbol, kind)
	if err != nil {
		return nil, err
	}
	if l == nil {
		l = dll.New()
	}
	tx.lists[key] = l
	tx.listOrder = append(tx.listOrder, key)
	return l, nil
}

func (tx *txn) listInsert(symbol string, kind ListKind, id common.Address, value *uint256.Int) error {
	l, err := tx.list(symbol, kind)
	if err != nil {
		return err
	}
	if err := l.Insert(id, value, tx.e.config.MaxSortedUsers); err != nil {
		return err
	}
	tx.dirtyLists[listKey{market: symbol, kind: kind}] = true
	tx.undo = append(tx.undo, func() { _ = l.Remove(id) })
	return nil
}

func (tx *txn) listRemove(symbol string, kind ListKind, id common.Address) error {
	l, err := tx.list(symbol, kind)
	if err != nil {
		return err
	}
	node, ok := l.Node(id)
	if !ok {
		return nil
	}
	if err := l.Remove(id); err != nil {
		return err
	}
	tx.dirtyLists[listKey{market: symbol, kind: kind}] = true
	tx.undo = append(tx.undo, func() { _ = l.InsertAfter(node.Prev, id, node.Value) })
	return nil
}

func (tx *txn) interact(name string, do, undo func(ctx context.Context) error) {
	tx.interactions = append(tx.interactions, interaction{name: name, do: do, undo: undo})
}

func (tx *txn) emit(evt events.Event) {
	tx.events = append(tx.events, evt)
}

// execute runs the queued interactions in order. When one fails the ones that
// already succeeded are compensated in reverse order.
func (tx *txn) execute() error {
	for i, it := range tx.interactions {
		if err := it.do(tx.ctx); err != nil {
			tx.compensate(i)
			return fmt.Errorf("%w: %s: %w", ErrExternalAdapterFailure, it.name, err)
		}
	}
	return nil
}

func (tx *txn) compensate(executed int) {
	for i := executed - 1; i >= 0; i-- {
		it := tx.interactions[i]
		if it.undo == nil {
			continue
		}
		if err := it.undo(tx.ctx); err != nil {
			tx.e.logger().Error("lending compensation failed",
				"interaction", it.name,
				"error", err,
			)
		}
	}
}

// rollback reverts in-place list edits. Cached records are simply dropped.
func (tx *txn) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

// flush writes every dirty record to the state in load order.
func (tx *txn) flush() error {
	for _, symbol := range tx.marketOrder {
		if !tx.dirtyMarkets[symbol] {
			continue
		}
		if err := tx.e.state.PutMarket(tx.markets[symbol]); err != nil {
			return err
		}
	}
	for _, key := range tx.positionOrder {
		if !tx.dirtyPositions[key] {
			continue
		}
		if err := tx.e.state.PutPosition(tx.positions[key]); err != nil {
			return err
		}
	}
	for account := range tx.dirtyMemberships {
		if err := tx.e.state.PutMemberships(account, tx.memberships[account]); err != nil {
			return err
		}
	}
	for _, key := range tx.listOrder {
		if !tx.dirtyLists[key] {
			continue
		}
		if err := tx.e.state.PutList(key.market, key.kind, tx.lists[key]); err != nil {
			return err
		}
	}
	if b, ok := tx.e.state.(batchState); ok {
		return b.Commit()
	}
	return nil
}

func (tx *txn) discard() {
	if b, ok := tx.e.state.(batchState); ok {
		b.Discard()
	}
}
