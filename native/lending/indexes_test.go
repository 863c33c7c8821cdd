package lending

import (
	"context"
	"errors"
	"testing"

	"github.com/holiman/uint256"
)

func TestComputeGrowthFactors(t *testing.T) {
	cases := []struct {
		name           string
		supply, borrow *uint256.Int
		cursor, rf     uint64
		wantSupply     *uint256.Int
		wantBorrow     *uint256.Int
	}{
		{
			name:       "spread split by cursor and reserve factor",
			supply:     rayFrac(102, 100),
			borrow:     rayFrac(106, 100),
			cursor:     5_000,
			rf:         1_000,
			wantSupply: rayFrac(1_038, 1_000),
			wantBorrow: rayFrac(1_042, 1_000),
		},
		{
			name:       "no reserve factor",
			supply:     rayFrac(102, 100),
			borrow:     rayFrac(106, 100),
			cursor:     2_500,
			rf:         0,
			wantSupply: rayFrac(103, 100),
			wantBorrow: rayFrac(103, 100),
		},
		{
			name:       "full reserve factor keeps pool rates",
			supply:     rayFrac(102, 100),
			borrow:     rayFrac(106, 100),
			cursor:     5_000,
			rf:         10_000,
			wantSupply: rayFrac(102, 100),
			wantBorrow: rayFrac(106, 100),
		},
		{
			name:       "inverted spread collapses to pool borrow growth",
			supply:     rayFrac(105, 100),
			borrow:     rayFrac(103, 100),
			cursor:     5_000,
			rf:         1_000,
			wantSupply: rayFrac(103, 100),
			wantBorrow: rayFrac(103, 100),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g, err := ComputeGrowthFactors(tc.supply, tc.borrow, Ray(), Ray(), tc.cursor, tc.rf)
			if err != nil {
				t.Fatalf("compute: %v", err)
			}
			if !g.P2PSupplyGrowthFactor.Eq(tc.wantSupply) {
				t.Fatalf("p2p supply growth %s, want %s", g.P2PSupplyGrowthFactor, tc.wantSupply)
			}
			if !g.P2PBorrowGrowthFactor.Eq(tc.wantBorrow) {
				t.Fatalf("p2p borrow growth %s, want %s", g.P2PBorrowGrowthFactor, tc.wantBorrow)
			}
			if g.P2PSupplyGrowthFactor.Cmp(g.P2PBorrowGrowthFactor) > 0 {
				t.Fatalf("p2p supply growth above p2p borrow growth")
			}
		})
	}
}

func TestComputeGrowthFactorsRejectsBasisPointsAboveMax(t *testing.T) {
	if _, err := ComputeGrowthFactors(Ray(), Ray(), Ray(), Ray(), 10_001, 0); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter for cursor, got %v", err)
	}
	if _, err := ComputeGrowthFactors(Ray(), Ray(), Ray(), Ray(), 0, 10_001); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter for reserve factor, got %v", err)
	}
}

func TestComputeP2PIndex(t *testing.T) {
	base := P2PIndexParams{
		PoolGrowthFactor: rayFrac(102, 100),
		P2PGrowthFactor:  rayFrac(104, 100),
		LastPoolIndex:    Ray(),
		LastP2PIndex:     Ray(),
	}
	cases := []struct {
		name          string
		delta, amount uint64
		want          *uint256.Int
	}{
		{name: "half delta blends growths", delta: 50, amount: 100, want: rayFrac(103, 100)},
		{name: "delta above amount grows at pool rate", delta: 200, amount: 100, want: rayFrac(102, 100)},
		{name: "no delta grows at p2p rate", delta: 0, amount: 100, want: rayFrac(104, 100)},
		{name: "no amount grows at p2p rate", delta: 0, amount: 0, want: rayFrac(104, 100)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := base
			p.P2PDelta = units(tc.delta)
			p.P2PAmount = units(tc.amount)
			got, err := ComputeP2PIndex(p)
			if err != nil {
				t.Fatalf("compute: %v", err)
			}
			if !got.Eq(tc.want) {
				t.Fatalf("index %s, want %s", got, tc.want)
			}
		})
	}
}

func TestIndexesRefreshOncePerTimestamp(t *testing.T) {
	h := newHarness(t, "DAI")
	ctx := context.Background()
	h.venue.supplyIndex["DAI"] = rayFrac(110, 100)

	m, err := h.engine.Market(ctx, "DAI")
	if err != nil {
		t.Fatalf("market: %v", err)
	}
	if !m.PoolSupplyIndex.Eq(Ray()) {
		t.Fatalf("index refreshed within the same timestamp: %s", m.PoolSupplyIndex)
	}

	h.engine.SetTimestamp(2)
	m, err = h.engine.Market(ctx, "DAI")
	if err != nil {
		t.Fatalf("market: %v", err)
	}
	if !m.PoolSupplyIndex.Eq(rayFrac(110, 100)) || m.LastUpdate != 2 {
		t.Fatalf("index not refreshed: %s at %d", m.PoolSupplyIndex, m.LastUpdate)
	}
}

func TestIndexesNeverDecrease(t *testing.T) {
	h := newHarness(t, "DAI")
	ctx := context.Background()
	h.venue.supplyIndex["DAI"] = rayFrac(110, 100)
	h.venue.borrowIndex["DAI"] = rayFrac(120, 100)
	h.engine.SetTimestamp(2)
	before, err := h.engine.Market(ctx, "DAI")
	if err != nil {
		t.Fatalf("market: %v", err)
	}

	h.venue.supplyIndex["DAI"] = rayFrac(105, 100)
	h.venue.borrowIndex["DAI"] = rayFrac(100, 100)
	h.engine.SetTimestamp(3)
	after, err := h.engine.Market(ctx, "DAI")
	if err != nil {
		t.Fatalf("market: %v", err)
	}
	for name, pair := range map[string][2]*uint256.Int{
		"pool supply": {before.PoolSupplyIndex, after.PoolSupplyIndex},
		"pool borrow": {before.PoolBorrowIndex, after.PoolBorrowIndex},
		"p2p supply":  {before.P2PSupplyIndex, after.P2PSupplyIndex},
		"p2p borrow":  {before.P2PBorrowIndex, after.P2PBorrowIndex},
	} {
		if pair[1].Cmp(pair[0]) < 0 {
			t.Fatalf("%s index decreased from %s to %s", name, pair[0], pair[1])
		}
	}
	if after.LastUpdate != 3 {
		t.Fatalf("expected last update 3, got %d", after.LastUpdate)
	}
}

func TestIndexRefreshFailureIsAdapterError(t *testing.T) {
	h := newHarness(t, "DAI")
	h.venue.fail["pool.supply_index"] = errVenueDown
	h.engine.SetTimestamp(2)
	if err := h.engine.UpdateIndexes(context.Background(), "DAI"); !errors.Is(err, ErrExternalAdapterFailure) {
		t.Fatalf("expected ErrExternalAdapterFailure, got %v", err)
	}
	if h.market("DAI").LastUpdate != 1 {
		t.Fatalf("failed refresh was persisted")
	}
}
