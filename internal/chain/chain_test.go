package chain

import (
	"sync/atomic"
	"testing"

	"github.com/Klingon-tech/klingnet-chain/internal/miner"
	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
)

// mineNext mines a valid child of parent at the chain's fixed difficulty,
// optionally carrying extra (non-coinbase) transactions.
func mineNext(t *testing.T, difficulty int, parent *block.Block, minerAddr string, extra ...*tx.Transaction) *block.Block {
	t.Helper()
	height := parent.Height + 1
	coinbase := tx.NewCoinbase(minerAddr, height)
	txs := append([]*tx.Transaction{coinbase}, extra...)
	data := block.Data{MinerTag: "test", Txs: txs}

	engine := miner.NewEngine()
	var cancel atomic.Uint32
	job := miner.Job{
		Height:     height,
		PrevHash:   parent.Hash,
		Difficulty: difficulty,
		Timestamp:  parent.Timestamp,
		Data:       data,
	}
	found, ok := engine.Mine(job, &cancel)
	if !ok {
		t.Fatalf("failed to mine a block at height %d", height)
	}
	return found
}

func TestIngestBlock_CoinbaseOnly(t *testing.T) {
	c := New(1)
	b := mineNext(t, 1, c.Genesis(), "alice")

	res := c.IngestBlock(b)
	if res.Outcome != Accepted {
		t.Fatalf("expected Accepted, got %s (%s)", res.Outcome, res.Reason)
	}
	if c.Tip().Hash != b.Hash {
		t.Error("tip should advance to the newly mined block")
	}
	utxos := c.UTXOSet().ForAddress("alice")
	if len(utxos) != 1 || utxos[0].Amount != tx.CoinbaseReward || utxos[0].OutIndex != 0 {
		t.Errorf("alice should hold one coinbase UTXO of reward amount at index 0, got %+v", utxos)
	}
}

func TestIngestBlock_AlreadyKnown(t *testing.T) {
	c := New(1)
	b := mineNext(t, 1, c.Genesis(), "alice")
	c.IngestBlock(b)

	res := c.IngestBlock(b)
	if res.Outcome != AlreadyKnown {
		t.Errorf("re-ingesting the same block should report AlreadyKnown, got %s", res.Outcome)
	}
}

func TestIngestBlock_GenesisOverWireIsAlreadyKnown(t *testing.T) {
	c := New(1)
	res := c.IngestBlock(c.Genesis())
	if res.Outcome != AlreadyKnown {
		t.Errorf("the hardcoded genesis is already known at height 0, got %s", res.Outcome)
	}
}

func TestIngestBlock_WrongDifficultyRejected(t *testing.T) {
	c := New(2)
	b := mineNext(t, 1, c.Genesis(), "alice") // mined at difficulty 1, node requires 2
	res := c.IngestBlock(b)
	if res.Outcome != Rejected {
		t.Errorf("a block mined at the wrong difficulty should be rejected, got %s", res.Outcome)
	}
}

func TestIngestBlock_Orphan(t *testing.T) {
	c := New(1)
	b1 := mineNext(t, 1, c.Genesis(), "alice")
	b2 := mineNext(t, 1, b1, "alice")

	res := c.IngestBlock(b2)
	if res.Outcome != Orphan {
		t.Fatalf("a block whose parent is unknown should be stored as an orphan, got %s", res.Outcome)
	}
	if c.Tip().Hash != c.Genesis().Hash {
		t.Error("tip should not move while the parent is missing")
	}

	res = c.IngestBlock(b1)
	if res.Outcome != Accepted {
		t.Fatalf("delivering the missing parent should be accepted, got %s (%s)", res.Outcome, res.Reason)
	}
	if c.Tip().Hash != b2.Hash {
		t.Error("delivering the missing parent should advance the tip past it in one step, resolving the waiting orphan")
	}
}

func TestIngestBlock_ForkChoicePrefersHigherCumulativeDifficulty(t *testing.T) {
	c := New(1)
	a1 := mineNext(t, 1, c.Genesis(), "alice")
	c.IngestBlock(a1)

	// A side branch off genesis with equal difficulty but arriving after a1
	// must not overtake it (equal cumulative difficulty keeps the
	// earlier-observed tip).
	b1 := mineNext(t, 1, c.Genesis(), "bob")
	// perturb b1 so it differs from a1 and has a different hash.
	for b1.Hash == a1.Hash {
		b1 = mineNext(t, 1, c.Genesis(), "bob")
	}
	c.IngestBlock(b1)
	if c.Tip().Hash != a1.Hash {
		t.Error("equal cumulative difficulty should not dethrone the earlier-observed tip")
	}

	b2 := mineNext(t, 1, b1, "bob")
	res := c.IngestBlock(b2)
	if res.Outcome != Accepted || !res.ReorgOccurred {
		t.Fatalf("a side branch overtaking the canonical tip should reorg, got %s reorg=%v", res.Outcome, res.ReorgOccurred)
	}
	if c.Tip().Hash != b2.Hash {
		t.Error("tip should switch to the heavier branch")
	}
}

func TestIngestBlock_ReorgDetachesNonCoinbaseTxs(t *testing.T) {
	c := New(1)

	kp := genTestKeyPair(t)
	a1 := mineNext(t, 1, c.Genesis(), kp.Address())
	c.IngestBlock(a1)

	prevOut := a1.Data.Txs[0].ID
	spendTx := signedSpendForTest(t, kp, prevOut, 0, []tx.Out{{Address: "bob", Amount: tx.CoinbaseReward}})
	a2 := mineNext(t, 1, a1, "miner2", spendTx)
	c.IngestBlock(a2)

	// Build a heavier side branch off genesis (height 3 > height 2).
	b1 := mineNext(t, 1, c.Genesis(), "carol")
	for b1.Hash == a1.Hash {
		b1 = mineNext(t, 1, c.Genesis(), "carol")
	}
	c.IngestBlock(b1)
	b2 := mineNext(t, 1, b1, "carol")
	c.IngestBlock(b2)
	res := c.IngestBlock(mineNext(t, 1, b2, "carol"))

	if res.Outcome != Accepted || !res.ReorgOccurred {
		t.Fatalf("expected an accepted reorg, got %s reorg=%v", res.Outcome, res.ReorgOccurred)
	}
	found := false
	for _, dt := range res.DetachedTxs {
		if dt.ID == spendTx.ID {
			found = true
		}
	}
	if !found {
		t.Error("the spend from the detached branch should be reported as a detached transaction")
	}
}

func TestReplaceWithChain_AdoptsHeavierRemote(t *testing.T) {
	c1 := New(1)
	c2 := New(1)

	a1 := mineNext(t, 1, c1.Genesis(), "alice")
	c1.IngestBlock(a1)
	a2 := mineNext(t, 1, a1, "alice")
	c1.IngestBlock(a2)

	b1 := mineNext(t, 1, c2.Genesis(), "bob")
	c2.IngestBlock(b1)
	b2 := mineNext(t, 1, b1, "bob")
	c2.IngestBlock(b2)
	b3 := mineNext(t, 1, b2, "bob")
	c2.IngestBlock(b3)

	res, err := c1.ReplaceWithChain(c2.CanonicalChain())
	if err != nil {
		t.Fatalf("ReplaceWithChain: %v", err)
	}
	if res == nil {
		t.Fatal("a remote chain with strictly greater cumulative difficulty should be adopted")
	}
	if c1.Tip().Hash != b3.Hash {
		t.Error("tip should now equal the remote chain's tip")
	}
	if !res.CanonicalTxIDs[b3.Data.Txs[0].ID] {
		t.Error("the adoption result should carry the new canonical transaction ids for mempool repair")
	}
}

func TestReplaceWithChain_RejectsLighterRemote(t *testing.T) {
	c1 := New(1)
	c2 := New(1)

	a1 := mineNext(t, 1, c1.Genesis(), "alice")
	c1.IngestBlock(a1)
	a2 := mineNext(t, 1, a1, "alice")
	c1.IngestBlock(a2)

	b1 := mineNext(t, 1, c2.Genesis(), "bob")
	c2.IngestBlock(b1)

	res, err := c1.ReplaceWithChain(c2.CanonicalChain())
	if err != nil {
		t.Fatalf("ReplaceWithChain: %v", err)
	}
	if res != nil {
		t.Error("a remote chain with lesser cumulative difficulty should not be adopted")
	}
	if c1.Tip().Hash != a2.Hash {
		t.Error("tip should remain unchanged when the remote chain is lighter")
	}
}

func TestIngestBlock_OrphanDrainReportsFinalReorgState(t *testing.T) {
	c := New(1)
	b1 := mineNext(t, 1, c.Genesis(), "alice")
	b2 := mineNext(t, 1, b1, "alice")

	if res := c.IngestBlock(b2); res.Outcome != Orphan {
		t.Fatalf("expected Orphan for the out-of-order child, got %s", res.Outcome)
	}

	// Delivering b1 accepts it and drains b2, moving the tip twice within
	// one ingest. The single result must describe the final state: b2's
	// transactions canonical, tip difficulty 2.
	res := c.IngestBlock(b1)
	if res.Outcome != Accepted || !res.ReorgOccurred {
		t.Fatalf("expected an accepted reorg, got %s reorg=%v", res.Outcome, res.ReorgOccurred)
	}
	if !res.CanonicalTxIDs[b2.Data.Txs[0].ID] {
		t.Error("the result's canonical tx ids should include the drained orphan's coinbase")
	}
	if res.NewDifficulty == nil || res.NewDifficulty.Int64() != 2 {
		t.Errorf("NewDifficulty = %v, want 2 after draining to height 2", res.NewDifficulty)
	}
}

func TestCanonicalSupplyMatchesHeight(t *testing.T) {
	c := New(1)
	parent := c.Genesis()
	for i := 0; i < 3; i++ {
		b := mineNext(t, 1, parent, "alice")
		if res := c.IngestBlock(b); res.Outcome != Accepted {
			t.Fatalf("ingest at height %d: %s (%s)", b.Height, res.Outcome, res.Reason)
		}
		parent = b
	}
	want := float64(tx.CoinbaseReward * c.Height())
	if got := c.UTXOSet().TotalValue(); got != want {
		t.Errorf("total UTXO value = %v, want %v (only coinbases create value)", got, want)
	}
}
