// Package dll implements the bounded-insertion sorted doubly linked list used
// to rank lending positions by balance. Nodes are keyed by account address and
// ordered by descending value. The zero address acts as the head and tail
// sentinel, so it can never be stored.
package dll

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrAddressIsZero        = errors.New("dll: address is zero")
	ErrValueIsZero          = errors.New("dll: value is zero")
	ErrAccountAlreadyInList = errors.New("dll: account already in list")
	ErrAccountNotInList     = errors.New("dll: account not in list")
)

// Node is the stored representation of a list entry.
type Node struct {
	Prev  common.Address
	Next  common.Address
	Value *uint256.Int
}

// List is a sorted doubly linked list keyed by account.
type List struct {
	head    common.Address
	tail    common.Address
	nodes   map[common.Address]*Node
	touched map[common.Address]struct{}
	ends    bool
}

// New returns an empty list.
func New() *List {
	return &List{
		nodes:   make(map[common.Address]*Node),
		touched: make(map[common.Address]struct{}),
	}
}

// FromNodes rebuilds a list from persisted nodes. The supplied nodes must form
// a consistent chain from head to tail.
func FromNodes(head, tail common.Address, nodes map[common.Address]Node) *List {
	l := New()
	l.head = head
	l.tail = tail
	for id, n := range nodes {
		value := new(uint256.Int)
		if n.Value != nil {
			value.Set(n.Value)
		}
		l.nodes[id] = &Node{Prev: n.Prev, Next: n.Next, Value: value}
	}
	return l
}

// Head returns the account with the largest value, or the zero address.
func (l *List) Head() common.Address { return l.head }

// Tail returns the last account of the list, or the zero address.
func (l *List) Tail() common.Address { return l.tail }

// Len returns the number of accounts in the list.
func (l *List) Len() int { return len(l.nodes) }

// Contains reports whether the account is stored in the list.
func (l *List) Contains(id common.Address) bool {
	_, ok := l.nodes[id]
	return ok
}

// ValueOf returns a copy of the stored value, zero when absent.
func (l *List) ValueOf(id common.Address) *uint256.Int {
	n, ok := l.nodes[id]
	if !ok {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(n.Value)
}

// Next returns the account following id, or the zero address.
func (l *List) Next(id common.Address) common.Address {
	if n, ok := l.nodes[id]; ok {
		return n.Next
	}
	return common.Address{}
}

// Prev returns the account preceding id, or the zero address.
func (l *List) Prev(id common.Address) common.Address {
	if n, ok := l.nodes[id]; ok {
		return n.Prev
	}
	return common.Address{}
}

// Node returns a copy of the stored node.
func (l *List) Node(id common.Address) (Node, bool) {
	n, ok := l.nodes[id]
	if !ok {
		return Node{}, false
	}
	return Node{Prev: n.Prev, Next: n.Next, Value: new(uint256.Int).Set(n.Value)}, true
}

// Insert places id before the first node holding a strictly smaller value. At
// most maxIterations nodes are inspected; when the budget runs out the account
// is appended at the tail regardless of its true rank.
func (l *List) Insert(id common.Address, value *uint256.Int, maxIterations uint64) error {
	if id == (common.Address{}) {
		return ErrAddressIsZero
	}
	if value == nil || value.IsZero() {
		return ErrValueIsZero
	}
	if l.Contains(id) {
		return ErrAccountAlreadyInList
	}

	var iterations uint64
	next := l.head
	for iterations < maxIterations && next != (common.Address{}) && l.nodes[next].Value.Cmp(value) >= 0 {
		next = l.nodes[next].Next
		iterations++
	}

	if iterations < maxIterations && next != (common.Address{}) {
		return l.InsertAfter(l.nodes[next].Prev, id, value)
	}
	return l.InsertAfter(l.tail, id, value)
}

// InsertAfter links id directly after prev. A zero prev makes id the new head.
// It performs no ordering check and is used to restore an exact placement.
func (l *List) InsertAfter(prev, id common.Address, value *uint256.Int) error {
	if id == (common.Address{}) {
		return ErrAddressIsZero
	}
	if value == nil || value.IsZero() {
		return ErrValueIsZero
	}
	if l.Contains(id) {
		return ErrAccountAlreadyInList
	}
	var next common.Address
	if prev == (common.Address{}) {
		next = l.head
	} else {
		p, ok := l.nodes[prev]
		if !ok {
			return ErrAccountNotInList
		}
		next = p.Next
	}

	l.nodes[id] = &Node{Prev: prev, Next: next, Value: new(uint256.Int).Set(value)}
	l.touch(id)

	if prev == (common.Address{}) {
		l.head = id
		l.ends = true
	} else {
		l.nodes[prev].Next = id
		l.touch(prev)
	}
	if next == (common.Address{}) {
		l.tail = id
		l.ends = true
	} else {
		l.nodes[next].Prev = id
		l.touch(next)
	}
	return nil
}

// Remove unlinks id from the list in constant time. Removing an account that
// is not listed is a no-op.
func (l *List) Remove(id common.Address) error {
	n, ok := l.nodes[id]
	if !ok {
		return nil
	}
	if n.Prev != (common.Address{}) {
		l.nodes[n.Prev].Next = n.Next
		l.touch(n.Prev)
	} else {
		l.head = n.Next
		l.ends = true
	}
	if n.Next != (common.Address{}) {
		l.nodes[n.Next].Prev = n.Prev
		l.touch(n.Next)
	} else {
		l.tail = n.Prev
		l.ends = true
	}
	delete(l.nodes, id)
	l.touch(id)
	return nil
}

// Accounts returns the accounts in list order.
func (l *List) Accounts() []common.Address {
	out := make([]common.Address, 0, len(l.nodes))
	for id := l.head; id != (common.Address{}); id = l.nodes[id].Next {
		out = append(out, id)
	}
	return out
}

func (l *List) touch(id common.Address) {
	l.touched[id] = struct{}{}
}

// TakeTouched returns the accounts whose node changed since the last call and
// whether the head or tail moved, then resets the tracking.
func (l *List) TakeTouched() ([]common.Address, bool) {
	out := make([]common.Address, 0, len(l.touched))
	for id := range l.touched {
		out = append(out, id)
	}
	ends := l.ends
	l.touched = make(map[common.Address]struct{})
	l.ends = false
	return out, ends
}
