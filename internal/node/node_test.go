package node

import (
	"encoding/hex"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/Klingon-tech/klingnet-chain/internal/mempool"
	"github.com/Klingon-tech/klingnet-chain/internal/miner"
	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
)

// mineBlock mines a valid child of parent at difficulty, carrying a
// coinbase to minerAddr plus any extra transactions. Tests drive mining
// directly rather than through the debounced driver, so outcomes are
// deterministic.
func mineBlock(t *testing.T, difficulty int, parent *block.Block, minerAddr string, extra ...*tx.Transaction) *block.Block {
	t.Helper()
	height := parent.Height + 1
	coinbase := tx.NewCoinbase(minerAddr, height)
	txs := append([]*tx.Transaction{coinbase}, extra...)
	job := miner.Job{
		Height:     height,
		PrevHash:   parent.Hash,
		Difficulty: difficulty,
		Timestamp:  parent.Timestamp,
		Data:       block.Data{MinerTag: "test", Txs: txs},
	}
	var cancel atomic.Uint32
	found, ok := miner.NewEngine().Mine(job, &cancel)
	if !ok {
		t.Fatalf("failed to mine a block at height %d", height)
	}
	return found
}

func newTestNode(t *testing.T) *Node {
	t.Helper()
	return New(Config{Difficulty: 1, SelfURL: "http://node-under-test"})
}

func TestSubmitBlock_CoinbaseOnly(t *testing.T) {
	n := newTestNode(t)
	b := mineBlock(t, 1, n.LatestBlock(), "alice")

	outcome, err := n.SubmitBlock(b, "", nil)
	if err != nil {
		t.Fatalf("SubmitBlock: %v", err)
	}
	if outcome.String() != "accepted" {
		t.Fatalf("expected accepted, got %s", outcome)
	}

	if got := n.Balance("alice"); got != tx.CoinbaseReward {
		t.Errorf("balance(alice) = %v, want %v", got, tx.CoinbaseReward)
	}
	unspent := n.Unspent("alice")
	if len(unspent) != 1 || unspent[0].OutIndex != 0 || unspent[0].Amount != tx.CoinbaseReward {
		t.Errorf("unspent(alice) = %+v, want one UTXO of %v at index 0", unspent, tx.CoinbaseReward)
	}
}

func TestSubmitTransaction_SimpleTransfer(t *testing.T) {
	n := newTestNode(t)
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	b1 := mineBlock(t, 1, n.LatestBlock(), kp.Address())
	if _, err := n.SubmitBlock(b1, "", nil); err != nil {
		t.Fatalf("SubmitBlock b1: %v", err)
	}

	spendTx := signTransfer(t, kp, b1.Data.Txs[0].ID, 0, []tx.Out{
		{Address: "bob", Amount: 30},
		{Address: kp.Address(), Amount: 70},
	})
	if err := n.SubmitTransaction(spendTx); err != nil {
		t.Fatalf("SubmitTransaction: %v", err)
	}

	b2 := mineBlock(t, 1, n.LatestBlock(), "miner2", spendTx)
	if _, err := n.SubmitBlock(b2, "", nil); err != nil {
		t.Fatalf("SubmitBlock b2: %v", err)
	}

	if got := n.Balance(kp.Address()); got != 70 {
		t.Errorf("balance(sender) = %v, want 70 (change only; coinbase went to miner2)", got)
	}
	if got := n.Balance("bob"); got != 30 {
		t.Errorf("balance(bob) = %v, want 30", got)
	}
	if n.pool.Len() != 0 {
		t.Errorf("mempool should be empty after the spending transaction is mined, Len = %d", n.pool.Len())
	}
}

func TestSubmitTransaction_DoubleSpendInPool(t *testing.T) {
	n := newTestNode(t)
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	b1 := mineBlock(t, 1, n.LatestBlock(), kp.Address())
	if _, err := n.SubmitBlock(b1, "", nil); err != nil {
		t.Fatalf("SubmitBlock b1: %v", err)
	}

	prevTxID := b1.Data.Txs[0].ID
	tx1 := signTransfer(t, kp, prevTxID, 0, []tx.Out{{Address: "bob", Amount: 100}})
	tx2 := signTransfer(t, kp, prevTxID, 0, []tx.Out{{Address: "carol", Amount: 100}})

	if err := n.SubmitTransaction(tx1); err != nil {
		t.Fatalf("tx1 should be accepted: %v", err)
	}
	err = n.SubmitTransaction(tx2)
	if !errors.Is(err, mempool.ErrConflict) {
		t.Fatalf("tx2 spending the same outpoint should be rejected with ErrConflict, got %v", err)
	}

	b2 := mineBlock(t, 1, n.LatestBlock(), "miner2", tx1)
	if _, err := n.SubmitBlock(b2, "", nil); err != nil {
		t.Fatalf("SubmitBlock b2: %v", err)
	}
	if got := n.Balance("bob"); got != 100 {
		t.Errorf("balance(bob) = %v, want 100 once tx1 is mined", got)
	}
}

func TestSubmitBlock_Orphan_ResolvesOnParentDelivery(t *testing.T) {
	n := newTestNode(t)
	b1 := mineBlock(t, 1, n.LatestBlock(), "alice")
	b2 := mineBlock(t, 1, b1, "alice")

	outcome, err := n.SubmitBlock(b2, "", nil)
	if err != nil {
		t.Fatalf("SubmitBlock b2: %v", err)
	}
	if outcome.String() != "orphan" {
		t.Fatalf("expected orphan, got %s", outcome)
	}
	if n.LatestBlock().Height != 0 {
		t.Error("tip should not advance while the parent is missing")
	}

	outcome, err = n.SubmitBlock(b1, "", nil)
	if err != nil {
		t.Fatalf("SubmitBlock b1: %v", err)
	}
	if outcome.String() != "accepted" {
		t.Fatalf("expected accepted, got %s", outcome)
	}
	if n.LatestBlock().Hash != b2.Hash {
		t.Error("delivering the missing parent should advance the tip past the previously orphaned block")
	}
}

func TestSubmitBlock_SuppressesRebroadcastWhenTrailContainsSelf(t *testing.T) {
	n := newTestNode(t)
	b := mineBlock(t, 1, n.LatestBlock(), "alice")

	// previousPeers already contains this node's own URL: it must accept
	// the block but never attempt to gossip it onward.
	outcome, err := n.SubmitBlock(b, "http://upstream", []string{n.SelfURL()})
	if err != nil {
		t.Fatalf("SubmitBlock: %v", err)
	}
	if outcome.String() != "accepted" {
		t.Fatalf("expected accepted, got %s", outcome)
	}
}

func TestMiningStatus_StartStop(t *testing.T) {
	n := newTestNode(t)
	enabled, _, _ := n.MiningStatus()
	if enabled {
		t.Error("mining should be disabled by default")
	}

	n.StartMining("alice")
	enabled, addr, _ := n.MiningStatus()
	if !enabled || addr != "alice" {
		t.Errorf("expected mining enabled for alice, got enabled=%v addr=%q", enabled, addr)
	}

	n.StopMining()
	enabled, _, _ = n.MiningStatus()
	if enabled {
		t.Error("mining should be disabled after StopMining")
	}
}

func TestUnspentAndBalance_ExcludeMempoolConsumed(t *testing.T) {
	n := newTestNode(t)
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	b1 := mineBlock(t, 1, n.LatestBlock(), kp.Address())
	if _, err := n.SubmitBlock(b1, "", nil); err != nil {
		t.Fatalf("SubmitBlock b1: %v", err)
	}
	if got := n.Balance(kp.Address()); got != tx.CoinbaseReward {
		t.Fatalf("balance before spend = %v, want %v", got, tx.CoinbaseReward)
	}

	spendTx := signTransfer(t, kp, b1.Data.Txs[0].ID, 0, []tx.Out{
		{Address: "bob", Amount: tx.CoinbaseReward},
	})
	if err := n.SubmitTransaction(spendTx); err != nil {
		t.Fatalf("SubmitTransaction: %v", err)
	}

	// The coinbase UTXO is still canonical (no block has been mined with
	// spendTx yet) but is now claimed by a pooled transaction, so it must
	// not be offered to another caller.
	if unspent := n.Unspent(kp.Address()); len(unspent) != 0 {
		t.Errorf("unspent(sender) = %+v, want none while the input is pool-consumed", unspent)
	}
	if got := n.Balance(kp.Address()); got != 0 {
		t.Errorf("balance(sender) = %v, want 0 while the input is pool-consumed", got)
	}
}

func signTransfer(t *testing.T, kp *crypto.KeyPair, prevTxID string, prevOutIndex int, outs []tx.Out) *tx.Transaction {
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
