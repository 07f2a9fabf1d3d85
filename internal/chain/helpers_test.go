package chain

import (
	"encoding/hex"
	"testing"

	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
)

func genTestKeyPair(t *testing.T) *crypto.KeyPair {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	return kp
}

// signedSpendForTest builds a transaction spending (prevTxID, prevOutIndex),
// owned by kp, correctly signed over the hex-decoded id.
func signedSpendForTest(t *testing.T, kp *crypto.KeyPair, prevTxID string, prevOutIndex int, outs []tx.Out) *tx.Transaction {
	t.Helper()
	ins := []tx.In{{PrevTxID: prevTxID, PrevOutIndex: prevOutIndex}}
	id := tx.ComputeID(ins, outs)
	sig, err := kp.Sign(id)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	ins[0].Signature = hex.EncodeToString(sig)
	ins[0].PublicKey = string(crypto.PEMPublicKey(kp.Public))
	return &tx.Transaction{ID: id, Ins: ins, Outs: outs}
}
