package state

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"peerlend/native/lending"
	"peerlend/native/lending/dll"
	"peerlend/storage"
)

var (
	lendingMarketPrefix     = []byte("lending/market/")
	lendingMarketIndexKey   = ethcrypto.Keccak256([]byte("lending/market-index"))
	lendingPositionPrefix   = []byte("lending/position/")
	lendingMembershipPrefix = []byte("lending/membership/")
	lendingListPrefix       = []byte("lending/list/")
	lendingNodePrefix       = []byte("lending/node/")
)

func lendingKey(prefix []byte, parts ...string) []byte {
	buf := append([]byte(nil), prefix...)
	for i, p := range parts {
		if i > 0 {
			buf = append(buf, ':')
		}
		buf = append(buf, p...)
	}
	return ethcrypto.Keccak256(buf)
}

func marketKey(symbol string) []byte { return lendingKey(lendingMarketPrefix, symbol) }

func positionKey(symbol string, account common.Address) []byte {
	return lendingKey(lendingPositionPrefix, symbol, account.Hex())
}

func membershipKey(account common.Address) []byte {
	return lendingKey(lendingMembershipPrefix, account.Hex())
}

func listKey(symbol string, kind lending.ListKind) []byte {
	return lendingKey(lendingListPrefix, symbol, strconv.Itoa(int(kind)))
}

func nodeKey(symbol string, kind lending.ListKind, account common.Address) []byte {
	return lendingKey(lendingNodePrefix, symbol, strconv.Itoa(int(kind)), account.Hex())
}

type storedMarket struct {
	Symbol          string
	PoolSupplyIndex *uint256.Int
	PoolBorrowIndex *uint256.Int
	P2PSupplyIndex  *uint256.Int
	P2PBorrowIndex  *uint256.Int
	ReserveFactor   uint64
	P2PIndexCursor  uint64
	LastUpdate      uint64
	Created         bool
	Paused          bool
	P2PDisabled     bool
	PauseSupply     bool
	PauseBorrow     bool
	PauseWithdraw   bool
	PauseRepay      bool
	PauseLiquidate  bool
	P2PSupplyDelta  *uint256.Int
	P2PBorrowDelta  *uint256.Int
	P2PSupplyAmount *uint256.Int
	P2PBorrowAmount *uint256.Int
}

type storedPosition struct {
	SupplyOnPool *uint256.Int
	SupplyInP2P  *uint256.Int
	BorrowOnPool *uint256.Int
	BorrowInP2P  *uint256.Int
}

type storedListEnds struct {
	Head common.Address
	Tail common.Address
}

type storedNode struct {
	Prev  common.Address
	Next  common.Address
	Value *uint256.Int
}

func nonNil(x *uint256.Int) *uint256.Int {
	if x == nil {
		return new(uint256.Int)
	}
	return x
}

type stagedValue struct {
	value   []byte
	deleted bool
}

// LendingStore persists the matching engine state in a key-value database.
// Records are RLP encoded under keccak keys and ranked lists are stored node
// by node. Writes are staged until Commit applies them in one batch, and reads
// see staged writes.
type LendingStore struct {
	db     storage.Database
	staged map[string]stagedValue
	order  []string
}

// NewLendingStore returns a store backed by db.
func NewLendingStore(db storage.Database) *LendingStore {
	return &LendingStore{db: db, staged: make(map[string]stagedValue)}
}

func (s *LendingStore) get(key []byte) ([]byte, error) {
	if staged, ok := s.staged[string(key)]; ok {
		if staged.deleted {
			return nil, nil
		}
		return staged.value, nil
	}
	data, err := s.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return data, err
}

func (s *LendingStore) stage(key []byte, value []byte, deleted bool) {
	k := string(key)
	if _, ok := s.staged[k]; !ok {
		s.order = append(s.order, k)
	}
	s.staged[k] = stagedValue{value: value, deleted: deleted}
}

func (s *LendingStore) put(key []byte, v interface{}) error {
	encoded, err := rlp.EncodeToBytes(v)
	if err != nil {
		return err
	}
	s.stage(key, encoded, false)
	return nil
}

func (s *LendingStore) load(key []byte, v interface{}) (bool, error) {
	data, err := s.get(key)
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := rlp.DecodeBytes(data, v); err != nil {
		return false, fmt.Errorf("lending store: decode: %w", err)
	}
	return true, nil
}

// Commit writes every staged record in one batch.
func (s *LendingStore) Commit() error {
	if len(s.order) == 0 {
		return nil
	}
	batch := s.db.NewBatch()
	for _, k := range s.order {
		staged := s.staged[k]
		if staged.deleted {
			batch.Delete([]byte(k))
			continue
		}
		batch.Put([]byte(k), staged.value)
	}
	if err := batch.Write(); err != nil {
		return err
	}
	s.Discard()
	return nil
}

// Discard drops every staged write.
func (s *LendingStore) Discard() {
	s.staged = make(map[string]stagedValue)
	s.order = nil
}

func (s *LendingStore) GetMarket(symbol string) (*lending.Market, error) {
	var rec storedMarket
	ok, err := s.load(marketKey(symbol), &rec)
	if err != nil || !ok {
		return nil, err
	}
	return &lending.Market{
		Symbol:          rec.Symbol,
		PoolSupplyIndex: nonNil(rec.PoolSupplyIndex),
		PoolBorrowIndex: nonNil(rec.PoolBorrowIndex),
		P2PSupplyIndex:  nonNil(rec.P2PSupplyIndex),
		P2PBorrowIndex:  nonNil(rec.P2PBorrowIndex),
		ReserveFactor:   rec.ReserveFactor,
		P2PIndexCursor:  rec.P2PIndexCursor,
		LastUpdate:      rec.LastUpdate,
		Created:         rec.Created,
		Paused:          rec.Paused,
		P2PDisabled:     rec.P2PDisabled,
		Pauses: lending.ActionPauses{
			Supply:    rec.PauseSupply,
			Borrow:    rec.PauseBorrow,
			Withdraw:  rec.PauseWithdraw,
			Repay:     rec.PauseRepay,
			Liquidate: rec.PauseLiquidate,
		},
		Delta: lending.Delta{
			P2PSupplyDelta:  nonNil(rec.P2PSupplyDelta),
			P2PBorrowDelta:  nonNil(rec.P2PBorrowDelta),
			P2PSupplyAmount: nonNil(rec.P2PSupplyAmount),
			P2PBorrowAmount: nonNil(rec.P2PBorrowAmount),
		},
	}, nil
}

// PutMarket stores the market and records it in the market index.
func (s *LendingStore) PutMarket(m *lending.Market) error {
	if m == nil {
		return fmt.Errorf("lending store: nil market")
	}
	rec := storedMarket{
		Symbol:          m.Symbol,
		PoolSupplyIndex: nonNil(m.PoolSupplyIndex),
		PoolBorrowIndex: nonNil(m.PoolBorrowIndex),
		P2PSupplyIndex:  nonNil(m.P2PSupplyIndex),
		P2PBorrowIndex:  nonNil(m.P2PBorrowIndex),
		ReserveFactor:   m.ReserveFactor,
		P2PIndexCursor:  m.P2PIndexCursor,
		LastUpdate:      m.LastUpdate,
		Created:         m.Created,
		Paused:          m.Paused,
		P2PDisabled:     m.P2PDisabled,
		PauseSupply:     m.Pauses.Supply,
		PauseBorrow:     m.Pauses.Borrow,
		PauseWithdraw:   m.Pauses.Withdraw,
		PauseRepay:      m.Pauses.Repay,
		PauseLiquidate:  m.Pauses.Liquidate,
		P2PSupplyDelta:  nonNil(m.Delta.P2PSupplyDelta),
		P2PBorrowDelta:  nonNil(m.Delta.P2PBorrowDelta),
		P2PSupplyAmount: nonNil(m.Delta.P2PSupplyAmount),
		P2PBorrowAmount: nonNil(m.Delta.P2PBorrowAmount),
	}
	if err := s.put(marketKey(m.Symbol), &rec); err != nil {
		return err
	}
	markets, err := s.ListMarkets()
	if err != nil {
		return err
	}
	idx := sort.SearchStrings(markets, m.Symbol)
	if idx < len(markets) && markets[idx] == m.Symbol {
		return nil
	}
	markets = append(markets, "")
	copy(markets[idx+1:], markets[idx:])
	markets[idx] = m.Symbol
	return s.put(lendingMarketIndexKey, markets)
}

// ListMarkets returns the stored market symbols in sorted order.
func (s *LendingStore) ListMarkets() ([]string, error) {
	var markets []string
	if _, err := s.load(lendingMarketIndexKey, &markets); err != nil {
		return nil, err
	}
	return markets, nil
}

func (s *LendingStore) GetPosition(symbol string, account common.Address) (*lending.Position, error) {
	var rec storedPosition
	ok, err := s.load(positionKey(symbol, account), &rec)
	if err != nil || !ok {
		return nil, err
	}
	return &lending.Position{
		Market:  symbol,
		Account: account,
		Supply:  lending.Balance{OnPool: nonNil(rec.SupplyOnPool), InP2P: nonNil(rec.SupplyInP2P)},
		Borrow:  lending.Balance{OnPool: nonNil(rec.BorrowOnPool), InP2P: nonNil(rec.BorrowInP2P)},
	}, nil
}

// PutPosition stores the position, deleting the record once it is empty.
func (s *LendingStore) PutPosition(p *lending.Position) error {
	key := positionKey(p.Market, p.Account)
	if p.IsEmpty() {
		s.stage(key, nil, true)
		return nil
	}
	return s.put(key, &storedPosition{
		SupplyOnPool: nonNil(p.Supply.OnPool),
		SupplyInP2P:  nonNil(p.Supply.InP2P),
		BorrowOnPool: nonNil(p.Borrow.OnPool),
		BorrowInP2P:  nonNil(p.Borrow.InP2P),
	})
}

func (s *LendingStore) GetMemberships(account common.Address) ([]string, error) {
	var markets []string
	if _, err := s.load(membershipKey(account), &markets); err != nil {
		return nil, err
	}
	return markets, nil
}

func (s *LendingStore) PutMemberships(account common.Address, markets []string) error {
	if len(markets) == 0 {
		s.stage(membershipKey(account), nil, true)
		return nil
	}
	return s.put(membershipKey(account), markets)
}

// GetList rebuilds a ranked list by walking its nodes from the head.
func (s *LendingStore) GetList(symbol string, kind lending.ListKind) (*dll.List, error) {
	var ends storedListEnds
	ok, err := s.load(listKey(symbol, kind), &ends)
	if err != nil {
		return nil, err
	}
	if !ok || ends.Head == (common.Address{}) {
		return dll.New(), nil
	}
	nodes := make(map[common.Address]dll.Node)
	for id := ends.Head; id != (common.Address{}); {
		if _, seen := nodes[id]; seen {
			return nil, fmt.Errorf("lending store: %s %s list loops at %s", symbol, kind, id.Hex())
		}
		var n storedNode
		found, err := s.load(nodeKey(symbol, kind, id), &n)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("lending store: %s %s list missing node %s", symbol, kind, id.Hex())
		}
		nodes[id] = dll.Node{Prev: n.Prev, Next: n.Next, Value: nonNil(n.Value)}
		id = n.Next
	}
	return dll.FromNodes(ends.Head, ends.Tail, nodes), nil
}

// PutList writes the nodes touched since the list was loaded and, when they
// moved, the head and tail.
func (s *LendingStore) PutList(symbol string, kind lending.ListKind, list *dll.List) error {
	touched, endsMoved := list.TakeTouched()
	for _, id := range touched {
		key := nodeKey(symbol, kind, id)
		n, ok := list.Node(id)
		if !ok {
			s.stage(key, nil, true)
			continue
		}
		if err := s.put(key, &storedNode{Prev: n.Prev, Next: n.Next, Value: nonNil(n.Value)}); err != nil {
			return err
		}
	}
	if !endsMoved {
		return nil
	}
	return s.put(listKey(symbol, kind), &storedListEnds{Head: list.Head(), Tail: list.Tail()})
}
