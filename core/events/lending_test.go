package events

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func TestLendingFlowEvent(t *testing.T) {
	account := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	evt := LendingFlow{
		Kind:     TypeLendingSupplied,
		Market:   "dai",
		From:     account,
		OnBehalf: account,
		Amount:   uint256.NewInt(1000),
		OnPool:   uint256.NewInt(400),
		InP2P:    uint256.NewInt(600),
	}.Event()
	if evt.Type != TypeLendingSupplied {
		t.Fatalf("unexpected type: %s", evt.Type)
	}
	if evt.Attributes["market"] != "DAI" {
		t.Fatalf("unexpected market attr: %s", evt.Attributes["market"])
	}
	if evt.Attributes["amount"] != "1000" || evt.Attributes["onPool"] != "400" || evt.Attributes["inP2P"] != "600" {
		t.Fatalf("unexpected attrs: %+v", evt.Attributes)
	}
	if evt.Attributes["from"] != account.Hex() {
		t.Fatalf("unexpected from attr: %s", evt.Attributes["from"])
	}
}

func TestLendingDeltaEventDefaultsNilToZero(t *testing.T) {
	evt := LendingDeltaUpdated{Market: "usdc", P2PSupplyDelta: uint256.NewInt(7)}.Event()
	if evt.Attributes["p2pSupplyDelta"] != "7" {
		t.Fatalf("unexpected supply delta: %s", evt.Attributes["p2pSupplyDelta"])
	}
	if evt.Attributes["p2pBorrowDelta"] != "0" || evt.Attributes["p2pBorrowAmount"] != "0" {
		t.Fatalf("expected nil amounts rendered as zero: %+v", evt.Attributes)
	}
}

func TestLendingReserveClaimedOmitsZeroTreasury(t *testing.T) {
	evt := LendingReserveClaimed{Market: "weth", Amount: uint256.NewInt(3)}.Event()
	if evt.Attributes["treasury"] != "" {
		t.Fatalf("expected empty treasury, got %s", evt.Attributes["treasury"])
	}
	if evt.Attributes["market"] != "WETH" {
		t.Fatalf("unexpected market: %s", evt.Attributes["market"])
	}
}
