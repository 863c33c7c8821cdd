package lending

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"peerlend/core/events"
)

// match promotes up to amount of the side's pool positions to peer-to-peer,
// visiting at most budget accounts from the head of the on-pool list. It
// returns the underlying moved and the number of accounts visited. The head
// is re-read on every iteration since a fully matched account leaves the list.
func (tx *txn) match(m *Market, side Side, amount *uint256.Int, budget uint64) (*uint256.Int, uint64, error) {
	var a arith
	remaining := clone(amount)
	matched := zero()
	poolIndex, p2pIndex := m.poolIndex(side), m.p2pIndex(side)

	var iterations uint64
	for !remaining.IsZero() && iterations < budget {
		l, err := tx.list(m.Symbol, onPoolList(side))
		if err != nil {
			return nil, iterations, err
		}
		head := l.Head()
		if head == (common.Address{}) {
			break
		}
		p, err := tx.position(m.Symbol, head)
		if err != nil {
			return nil, iterations, err
		}
		bal := p.balance(side)
		onPoolValue := a.rayMul(bal.OnPool, poolIndex)
		toMatch := minOf(onPoolValue, remaining)
		if toMatch.Cmp(onPoolValue) == 0 {
			bal.OnPool = zero()
		} else {
			bal.OnPool = dust(zeroFloorSub(bal.OnPool, a.rayDiv(toMatch, poolIndex)))
		}
		bal.InP2P = a.add(bal.InP2P, a.rayDiv(toMatch, p2pIndex))
		remaining = a.sub(remaining, toMatch)
		matched = a.add(matched, toMatch)
		if a.err != nil {
			return nil, iterations, a.err
		}
		if err := tx.reconcile(p, side); err != nil {
			return nil, iterations, err
		}
		tx.emitPosition(p, side)
		iterations++
	}
	return matched, iterations, nil
}

// unmatch demotes up to amount of the side's peer-to-peer positions back to
// the pool, mirroring match over the in-p2p list.
func (tx *txn) unmatch(m *Market, side Side, amount *uint256.Int, budget uint64) (*uint256.Int, uint64, error) {
	var a arith
	remaining := clone(amount)
	unmatched := zero()
	poolIndex, p2pIndex := m.poolIndex(side), m.p2pIndex(side)

	var iterations uint64
	for !remaining.IsZero() && iterations < budget {
		l, err := tx.list(m.Symbol, inP2PList(side))
		if err != nil {
			return nil, iterations, err
		}
		head := l.Head()
		if head == (common.Address{}) {
			break
		}
		p, err := tx.position(m.Symbol, head)
		if err != nil {
			return nil, iterations, err
		}
		bal := p.balance(side)
		inP2PValue := a.rayMul(bal.InP2P, p2pIndex)
		toUnmatch := minOf(inP2PValue, remaining)
		if toUnmatch.Cmp(inP2PValue) == 0 {
			bal.InP2P = zero()
		} else {
			bal.InP2P = dust(zeroFloorSub(bal.InP2P, a.rayDiv(toUnmatch, p2pIndex)))
		}
		bal.OnPool = a.add(bal.OnPool, a.rayDiv(toUnmatch, poolIndex))
		remaining = a.sub(remaining, toUnmatch)
		unmatched = a.add(unmatched, toUnmatch)
		if a.err != nil {
			return nil, iterations, a.err
		}
		if err := tx.reconcile(p, side); err != nil {
			return nil, iterations, err
		}
		tx.emitPosition(p, side)
		iterations++
	}
	return unmatched, iterations, nil
}

// reconcile brings the side's list memberships and the account's market
// membership in line with the position's balances.
func (tx *txn) reconcile(p *Position, side Side) error {
	bal := p.balance(side)
	legs := []struct {
		kind  ListKind
		value *uint256.Int
	}{
		{kind: onPoolList(side), value: bal.OnPool},
		{kind: inP2PList(side), value: bal.InP2P},
	}
	for _, leg := range legs {
		l, err := tx.list(p.Market, leg.kind)
		if err != nil {
			return err
		}
		present := l.Contains(p.Account)
		if present && l.ValueOf(p.Account).Eq(leg.value) {
			continue
		}
		if present {
			if err := tx.listRemove(p.Market, leg.kind, p.Account); err != nil {
				return err
			}
		}
		if !leg.value.IsZero() {
			if err := tx.listInsert(p.Market, leg.kind, p.Account, leg.value); err != nil {
				return err
			}
		}
	}
	tx.savePosition(p)
	return tx.setMember(p.Account, p.Market, !p.IsEmpty())
}

func (tx *txn) emitPosition(p *Position, side Side) {
	bal := p.balance(side)
	tx.emit(events.LendingPositionUpdated{
		Market:  p.Market,
		Account: p.Account,
		Side:    side.String(),
		OnPool:  clone(bal.OnPool),
		InP2P:   clone(bal.InP2P),
	})
}
