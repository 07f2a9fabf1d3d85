package wallet

import (
	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
	"testing"
)

func TestBuildTransaction_SingleUTXOWithChange(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	utxos := []types.UTXO{{TxID: "a", OutIndex: 0, Address: kp.Address(), Amount: 100}}

	built, err := BuildTransaction(kp, utxos, "bob", 30)
	if err != nil {
		t.Fatalf("BuildTransaction: %v", err)
	}
	if len(built.Outs) != 2 {
		t.Fatalf("expected a payment output plus a change output, got %d outs", len(built.Outs))
	}
	if built.Outs[0].Address != "bob" || built.Outs[0].Amount != 30 {
		t.Errorf("first output should pay bob 30, got %+v", built.Outs[0])
	}
	if built.Outs[1].Address != kp.Address() || built.Outs[1].Amount != 70 {
		t.Errorf("second output should return 70 change to the sender, got %+v", built.Outs[1])
	}

	fakeUTXOSet := mockUTXOProvider{utxos[0].OutPoint(): utxos[0]}
	if !tx.Validate(built, fakeUTXOSet) {
		t.Error("a transaction built by BuildTransaction should validate against the UTXO it spent")
	}
}

func TestBuildTransaction_ExactAmountNoChange(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	utxos := []types.UTXO{{TxID: "a", OutIndex: 0, Address: kp.Address(), Amount: 100}}

	built, err := BuildTransaction(kp, utxos, "bob", 100)
	if err != nil {
		t.Fatalf("BuildTransaction: %v", err)
	}
	if len(built.Outs) != 1 {
		t.Errorf("spending the exact UTXO amount should produce no change output, got %d outs", len(built.Outs))
	}
}

func TestBuildTransaction_InsufficientFunds(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	utxos := []types.UTXO{{TxID: "a", OutIndex: 0, Address: kp.Address(), Amount: 10}}

	_, err = BuildTransaction(kp, utxos, "bob", 100)
	if err == nil {
		t.Error("BuildTransaction should fail when no combination of UTXOs covers the target amount")
	}
}

type mockUTXOProvider map[types.OutPoint]types.UTXO

func (m mockUTXOProvider) Lookup(out types.OutPoint) (types.UTXO, bool) {
	u, ok := m[out]
	return u, ok
}
