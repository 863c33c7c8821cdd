package rpcpool

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"peerlend/core/state"
	"peerlend/native/lending"
	"peerlend/services/lending/engine/rpcclient"
	"peerlend/storage"
)

type call struct {
	Method string
	Params []string
}

// fakeEndpoint answers pool methods from a static table and records calls.
func fakeEndpoint(t *testing.T, results map[string]any, calls *[]call) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     uint64   `json:"id"`
			Method string   `json:"method"`
			Params []string `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
			return
		}
		*calls = append(*calls, call{Method: req.Method, Params: req.Params})
		result, ok := results[req.Method]
		if !ok {
			_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "error": map[string]any{"code": -32601, "message": "method not found"}})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
	}))
}

func newPool(t *testing.T, results map[string]any) (*Pool, *[]call) {
	t.Helper()
	calls := &[]call{}
	srv := fakeEndpoint(t, results, calls)
	t.Cleanup(srv.Close)
	client, err := rpcclient.NewClient(rpcclient.Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	return New(client), calls
}

func TestPoolEncodesAmountsAsDecimalStrings(t *testing.T) {
	pool, calls := newPool(t, map[string]any{
		MethodSupply:      nil,
		MethodWithdraw:    "250",
		MethodTransferIn:  nil,
		MethodSupplyIndex: lending.Ray().Dec(),
	})
	ctx := context.Background()
	who := common.HexToAddress("0x00000000000000000000000000000000000000a1")

	if err := pool.TransferIn(ctx, "DAI", who, uint256.NewInt(300)); err != nil {
		t.Fatalf("transfer in: %v", err)
	}
	if err := pool.Supply(ctx, "DAI", uint256.NewInt(300)); err != nil {
		t.Fatalf("supply: %v", err)
	}
	got, err := pool.Withdraw(ctx, "DAI", uint256.NewInt(300))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got.Uint64() != 250 {
		t.Fatalf("withdraw actual = %s", got.Dec())
	}
	idx, err := pool.SupplyIndex(ctx, "DAI")
	if err != nil || !idx.Eq(lending.Ray()) {
		t.Fatalf("supply index = %v, %v", idx, err)
	}

	want := []call{
		{MethodTransferIn, []string{"DAI", who.Hex(), "300"}},
		{MethodSupply, []string{"DAI", "300"}},
		{MethodWithdraw, []string{"DAI", "300"}},
		{MethodSupplyIndex, []string{"DAI"}},
	}
	if len(*calls) != len(want) {
		t.Fatalf("calls = %+v", *calls)
	}
	for i := range want {
		if (*calls)[i].Method != want[i].Method || len((*calls)[i].Params) != len(want[i].Params) {
			t.Fatalf("call %d = %+v, want %+v", i, (*calls)[i], want[i])
		}
		for j := range want[i].Params {
			if (*calls)[i].Params[j] != want[i].Params[j] {
				t.Fatalf("call %d param %d = %q, want %q", i, j, (*calls)[i].Params[j], want[i].Params[j])
			}
		}
	}
}

func TestPoolRejectsMalformedResults(t *testing.T) {
	pool, _ := newPool(t, map[string]any{
		MethodPriceOf:          "1.5",
		MethodCollateralFactor: 12_000,
	})
	ctx := context.Background()
	if _, err := pool.PriceOf(ctx, "DAI"); err == nil {
		t.Fatalf("fractional price accepted")
	}
	if _, err := pool.CollateralFactor(ctx, "DAI"); err == nil {
		t.Fatalf("collateral factor above 10000 accepted")
	}
	var rpcErr *rpcclient.Error
	if _, err := pool.BorrowIndex(ctx, "DAI"); !errors.As(err, &rpcErr) {
		t.Fatalf("expected rpc error for unknown method, got %v", err)
	}
}

func TestPoolDrivesEngineOverRPC(t *testing.T) {
	pool, calls := newPool(t, map[string]any{
		MethodSupplyIndex: lending.Ray().Dec(),
		MethodBorrowIndex: lending.Ray().Dec(),
		MethodTransferIn:  nil,
		MethodSupply:      nil,
	})
	core := lending.NewEngine(pool, pool, lending.DefaultConfig())
	core.SetState(state.NewLendingStore(storage.NewMemDB()))
	ctx := context.Background()
	if err := core.CreateMarket(ctx, "DAI", 0, 5_000); err != nil {
		t.Fatalf("create market: %v", err)
	}
	who := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	receipt, err := core.Supply(ctx, "DAI", who, who, uint256.NewInt(1_000), nil)
	if err != nil {
		t.Fatalf("supply: %v", err)
	}
	if receipt.Pool.Uint64() != 1_000 {
		t.Fatalf("receipt = %+v", receipt)
	}
	last := (*calls)[len(*calls)-1]
	if last.Method != MethodSupply || last.Params[1] != "1000" {
		t.Fatalf("last call = %+v", last)
	}
}
