package state

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"peerlend/native/lending"
	"peerlend/native/lending/dll"
	"peerlend/storage"
)

func addr(b byte) common.Address {
	var a common.Address
	a[19] = b
	return a
}

func sampleMarket(symbol string) *lending.Market {
	return &lending.Market{
		Symbol:          symbol,
		PoolSupplyIndex: lending.Ray(),
		PoolBorrowIndex: uint256.NewInt(7),
		P2PSupplyIndex:  lending.Ray(),
		P2PBorrowIndex:  lending.Ray(),
		ReserveFactor:   1_000,
		P2PIndexCursor:  5_000,
		LastUpdate:      42,
		Created:         true,
		P2PDisabled:     true,
		Pauses:          lending.ActionPauses{Borrow: true, Liquidate: true},
		Delta: lending.Delta{
			P2PSupplyDelta:  uint256.NewInt(1),
			P2PBorrowDelta:  uint256.NewInt(2),
			P2PSupplyAmount: uint256.NewInt(3),
			P2PBorrowAmount: uint256.NewInt(4),
		},
	}
}

func TestLendingStoreMarketsRoundTrip(t *testing.T) {
	db := storage.NewMemDB()
	store := NewLendingStore(db)

	missing, err := store.GetMarket("DAI")
	require.NoError(t, err)
	require.Nil(t, missing)

	require.NoError(t, store.PutMarket(sampleMarket("WETH")))
	require.NoError(t, store.PutMarket(sampleMarket("DAI")))
	require.NoError(t, store.PutMarket(sampleMarket("DAI")))
	require.NoError(t, store.Commit())

	reopened := NewLendingStore(db)
	got, err := reopened.GetMarket("DAI")
	require.NoError(t, err)
	require.Equal(t, sampleMarket("DAI"), got)

	markets, err := reopened.ListMarkets()
	require.NoError(t, err)
	require.Equal(t, []string{"DAI", "WETH"}, markets)
}

func TestLendingStoreStagesUntilCommit(t *testing.T) {
	db := storage.NewMemDB()
	store := NewLendingStore(db)
	require.NoError(t, store.PutMarket(sampleMarket("DAI")))

	staged, err := store.GetMarket("DAI")
	require.NoError(t, err)
	require.NotNil(t, staged, "reads must see staged writes")

	fresh, err := NewLendingStore(db).GetMarket("DAI")
	require.NoError(t, err)
	require.Nil(t, fresh, "nothing reaches the database before Commit")

	store.Discard()
	dropped, err := store.GetMarket("DAI")
	require.NoError(t, err)
	require.Nil(t, dropped)
}

func TestLendingStorePositionsAndMemberships(t *testing.T) {
	store := NewLendingStore(storage.NewMemDB())
	who := addr(1)

	p := lending.NewPosition("DAI", who)
	p.Supply.OnPool = uint256.NewInt(10)
	p.Borrow.InP2P = uint256.NewInt(20)
	require.NoError(t, store.PutPosition(p))
	require.NoError(t, store.PutMemberships(who, []string{"DAI", "WETH"}))
	require.NoError(t, store.Commit())

	got, err := store.GetPosition("DAI", who)
	require.NoError(t, err)
	require.Equal(t, p, got)

	markets, err := store.GetMemberships(who)
	require.NoError(t, err)
	require.Equal(t, []string{"DAI", "WETH"}, markets)

	require.NoError(t, store.PutPosition(lending.NewPosition("DAI", who)))
	require.NoError(t, store.PutMemberships(who, nil))
	require.NoError(t, store.Commit())

	got, err = store.GetPosition("DAI", who)
	require.NoError(t, err)
	require.Nil(t, got)
	markets, err = store.GetMemberships(who)
	require.NoError(t, err)
	require.Empty(t, markets)
}

func TestLendingStorePersistsListsNodeByNode(t *testing.T) {
	dir := t.TempDir()
	db, err := storage.NewLevelDB(dir)
	require.NoError(t, err)
	store := NewLendingStore(db)

	list, err := store.GetList("DAI", lending.SuppliersOnPool)
	require.NoError(t, err)
	require.Zero(t, list.Len())
	require.NoError(t, list.Insert(addr(1), uint256.NewInt(100), 16))
	require.NoError(t, list.Insert(addr(2), uint256.NewInt(300), 16))
	require.NoError(t, list.Insert(addr(3), uint256.NewInt(200), 16))
	require.NoError(t, store.PutList("DAI", lending.SuppliersOnPool, list))
	require.NoError(t, store.Commit())
	db.Close()

	db, err = storage.NewLevelDB(dir)
	require.NoError(t, err)
	defer db.Close()
	store = NewLendingStore(db)

	restored, err := store.GetList("DAI", lending.SuppliersOnPool)
	require.NoError(t, err)
	require.Equal(t, []common.Address{addr(2), addr(3), addr(1)}, restored.Accounts())
	require.Equal(t, uint256.NewInt(200), restored.ValueOf(addr(3)))

	require.NoError(t, restored.Remove(addr(2)))
	require.NoError(t, store.PutList("DAI", lending.SuppliersOnPool, restored))
	require.NoError(t, store.Commit())

	again, err := store.GetList("DAI", lending.SuppliersOnPool)
	require.NoError(t, err)
	require.Equal(t, []common.Address{addr(3), addr(1)}, again.Accounts())
	require.Equal(t, addr(3), again.Head())

	other, err := store.GetList("DAI", lending.BorrowersInP2P)
	require.NoError(t, err)
	require.Zero(t, other.Len())
}

func TestLendingStoreRejectsBrokenChain(t *testing.T) {
	store := NewLendingStore(storage.NewMemDB())
	list := dll.New()
	require.NoError(t, list.Insert(addr(1), uint256.NewInt(5), 4))
	require.NoError(t, list.Insert(addr(2), uint256.NewInt(3), 4))
	require.NoError(t, store.PutList("DAI", lending.BorrowersOnPool, list))
	require.NoError(t, store.Commit())

	store.stage(nodeKey("DAI", lending.BorrowersOnPool, addr(2)), nil, true)
	_, err := store.GetList("DAI", lending.BorrowersOnPool)
	require.ErrorContains(t, err, "missing node")
}
