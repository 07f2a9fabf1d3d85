package wallet

import (
	"errors"
	"testing"

	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

func TestSelectCoins_PrefersSingleUTXOOverAccumulation(t *testing.T) {
	utxos := []types.UTXO{
		{TxID: "a", Amount: 50},
		{TxID: "b", Amount: 30},
		{TxID: "c", Amount: 120},
	}
	sel, err := SelectCoins(utxos, 100)
	if err != nil {
		t.Fatalf("SelectCoins: %v", err)
	}
	if len(sel.Inputs) != 1 || sel.Inputs[0].TxID != "c" {
		t.Errorf("expected the single smallest covering UTXO (c, 120), got %+v", sel.Inputs)
	}
	if sel.Change != 20 {
		t.Errorf("change = %v, want 20", sel.Change)
	}
}

func TestSelectCoins_AccumulatesWhenNoSingleUTXOCovers(t *testing.T) {
	utxos := []types.UTXO{
		{TxID: "a", Amount: 30},
		{TxID: "b", Amount: 40},
		{TxID: "c", Amount: 10},
	}
	sel, err := SelectCoins(utxos, 60)
	if err != nil {
		t.Fatalf("SelectCoins: %v", err)
	}
	if sel.Total < 60 {
		t.Errorf("selection total %v should cover the target 60", sel.Total)
	}
}

func TestSelectCoins_InsufficientFunds(t *testing.T) {
	utxos := []types.UTXO{{TxID: "a", Amount: 10}}
	_, err := SelectCoins(utxos, 100)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestSelectCoins_NoUTXOs(t *testing.T) {
	_, err := SelectCoins(nil, 10)
	if !errors.Is(err, ErrNoUTXOs) {
		t.Errorf("expected ErrNoUTXOs, got %v", err)
	}
}

func TestSelectCoins_NonPositiveTarget(t *testing.T) {
	utxos := []types.UTXO{{TxID: "a", Amount: 10}}
	if _, err := SelectCoins(utxos, 0); err == nil {
		t.Error("a zero target should be rejected")
	}
}
