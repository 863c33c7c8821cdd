package lending

import (
	"context"
	"testing"
)

func TestMatchThenUnmatchRestoresPoolBalances(t *testing.T) {
	h := newHarness(t)
	h.venue.supplyIndex["DAI"] = rayFrac(3, 2)
	if err := h.engine.CreateMarket(context.Background(), "DAI", 0, 5_000); err != nil {
		t.Fatalf("create market: %v", err)
	}
	first, second, third := account(1), account(2), account(3)
	h.supply("DAI", first, 1_000, nil)
	h.supply("DAI", second, 700, nil)
	h.supply("DAI", third, 333, nil)
	expectUint(t, "first scaled", h.position("DAI", first).Supply.OnPool, 667)
	expectUint(t, "second scaled", h.position("DAI", second).Supply.OnPool, 467)
	expectUint(t, "third scaled", h.position("DAI", third).Supply.OnPool, 222)

	err := h.engine.run(context.Background(), func(tx *txn) error {
		m, err := tx.market("DAI")
		if err != nil {
			return err
		}
		matched, iterations, err := tx.match(m, SideSupply, units(1_500), 10)
		if err != nil {
			return err
		}
		expectUint(t, "matched", matched, 1_500)
		if iterations != 2 {
			t.Fatalf("expected 2 iterations, got %d", iterations)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("match: %v", err)
	}

	expectUint(t, "first on pool", h.position("DAI", first).Supply.OnPool, 0)
	expectUint(t, "first p2p", h.position("DAI", first).Supply.InP2P, 1_001)
	expectUint(t, "second on pool", h.position("DAI", second).Supply.OnPool, 134)
	expectUint(t, "second p2p", h.position("DAI", second).Supply.InP2P, 499)
	expectUint(t, "third on pool", h.position("DAI", third).Supply.OnPool, 222)
	if h.listed("DAI", SuppliersOnPool, first) {
		t.Fatalf("fully matched supplier left in the on-pool list")
	}

	err = h.engine.run(context.Background(), func(tx *txn) error {
		m, err := tx.market("DAI")
		if err != nil {
			return err
		}
		unmatched, _, err := tx.unmatch(m, SideSupply, units(1_500), 10)
		if err != nil {
			return err
		}
		expectUint(t, "unmatched", unmatched, 1_500)
		return nil
	})
	if err != nil {
		t.Fatalf("unmatch: %v", err)
	}

	expectUint(t, "first restored", h.position("DAI", first).Supply.OnPool, 667)
	expectUint(t, "second restored", h.position("DAI", second).Supply.OnPool, 467)
	expectUint(t, "first p2p", h.position("DAI", first).Supply.InP2P, 0)
	expectUint(t, "second p2p", h.position("DAI", second).Supply.InP2P, 0)
	if h.listed("DAI", SuppliersInP2P, first) || h.listed("DAI", SuppliersInP2P, second) {
		t.Fatalf("in-p2p list not emptied")
	}
}

func TestMatchStopsAtBudget(t *testing.T) {
	h := newHarness(t, "DAI")
	first, second := account(1), account(2)
	h.supply("DAI", first, 300, nil)
	h.supply("DAI", second, 200, nil)

	err := h.engine.run(context.Background(), func(tx *txn) error {
		m, err := tx.market("DAI")
		if err != nil {
			return err
		}
		matched, iterations, err := tx.match(m, SideSupply, units(500), 1)
		if err != nil {
			return err
		}
		expectUint(t, "matched", matched, 300)
		if iterations != 1 {
			t.Fatalf("expected budget to stop after one account, got %d", iterations)
		}

		matched, iterations, err = tx.match(m, SideSupply, units(500), 0)
		if err != nil {
			return err
		}
		expectUint(t, "matched without budget", matched, 0)
		if iterations != 0 {
			t.Fatalf("expected no iterations, got %d", iterations)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	expectUint(t, "second untouched", h.position("DAI", second).Supply.OnPool, 200)
}

func TestMatchOnEmptyListIsNoop(t *testing.T) {
	h := newHarness(t, "DAI")
	err := h.engine.run(context.Background(), func(tx *txn) error {
		m, err := tx.market("DAI")
		if err != nil {
			return err
		}
		matched, iterations, err := tx.match(m, SideBorrow, units(500), 8)
		if err != nil {
			return err
		}
		expectUint(t, "matched", matched, 0)
		if iterations != 0 {
			t.Fatalf("expected no iterations, got %d", iterations)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("match: %v", err)
	}
}

func TestListsStayRankedByBalance(t *testing.T) {
	h := newHarness(t, "DAI")
	small, large, medium := account(1), account(2), account(3)
	h.supply("DAI", small, 10, nil)
	h.supply("DAI", large, 1_000, nil)
	h.supply("DAI", medium, 100, nil)

	got, err := h.engine.ListAccounts("dai", SuppliersOnPool)
	if err != nil {
		t.Fatalf("list accounts: %v", err)
	}
	if len(got) != 3 || got[0] != large || got[1] != medium || got[2] != small {
		t.Fatalf("unexpected order: %v", got)
	}

	if _, err := h.engine.Withdraw(context.Background(), "DAI", large, large, units(995), nil); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	got, _ = h.engine.ListAccounts("DAI", SuppliersOnPool)
	if len(got) != 3 || got[0] != medium || got[1] != small || got[2] != large {
		t.Fatalf("list not re-ranked after withdraw: %v", got)
	}
}
