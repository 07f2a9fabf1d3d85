// Package chain implements the block tree, fork-choice, and reorg logic:
// the subsystem that decides which chain of blocks is canonical and keeps
// the UTXO set in sync with it.
package chain

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/Klingon-tech/klingnet-chain/internal/log"
	"github.com/Klingon-tech/klingnet-chain/internal/utxo"
	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/rs/zerolog"
)

// Outcome classifies the result of ingesting a block.
type Outcome int

const (
	// Accepted means the block was validated and inserted into the tree
	// (it may or may not have become the canonical tip).
	Accepted Outcome = iota
	// AlreadyKnown means the block's hash was already in the tree.
	AlreadyKnown
	// Orphan means the block's parent is not yet known; it is stored in
	// the orphan index awaiting the parent.
	Orphan
	// Rejected means the block failed validation and was not stored.
	Rejected
)

// String implements fmt.Stringer for logging.
func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case AlreadyKnown:
		return "already-known"
	case Orphan:
		return "orphan"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Result reports the outcome of ingesting one block, plus whatever the
// caller (node.Node) needs to repair the mempool if a reorg occurred.
type Result struct {
	Outcome       Outcome
	Reason        string
	ReorgOccurred bool
	BecameTip     bool

	// Fields populated only when ReorgOccurred is true.
	CanonicalTxIDs map[string]bool   // tx ids now present in the canonical chain
	DetachedTxs    []*tx.Transaction // non-coinbase txs from detached blocks, oldest first
	NewDifficulty  *big.Int
}

// treeNode is one block's entry in the tree.
type treeNode struct {
	block                *block.Block
	cumulativeDifficulty *big.Int
}

// Chain holds the full set of known blocks (canonical and side-branch),
// the orphan index, and the canonical UTXO snapshot.
type Chain struct {
	mu sync.Mutex

	difficulty int
	genesis    *block.Block

	blocks  map[string]*treeNode
	orphans map[string][]*block.Block // missingParentHash -> dependents, insertion order

	canonicalTipHash string
	canonicalChain   []*block.Block // genesis -> tip, cached
	canonicalTxIDs   map[string]bool
	utxos            utxo.Set

	logger zerolog.Logger

	// onMissingParent is invoked (outside the lock) for every orphan whose
	// parent is not yet known, so the caller can fetch it from peers.
	onMissingParent func(missingHash string)
}

// New creates a chain pinned to the hardcoded genesis block with the given
// fixed node-wide difficulty.
func New(difficulty int) *Chain {
	g := block.Genesis()
	c := &Chain{
		difficulty:       difficulty,
		genesis:          g,
		blocks:           map[string]*treeNode{g.Hash: {block: g, cumulativeDifficulty: big.NewInt(0)}},
		orphans:          make(map[string][]*block.Block),
		canonicalTipHash: g.Hash,
		canonicalChain:   []*block.Block{g},
		canonicalTxIDs:   make(map[string]bool),
		utxos:            utxo.New(),
		logger:           log.WithComponent("chain"),
	}
	return c
}

// SetMissingParentHook registers the callback invoked when a received
// block's parent is unknown, so the caller can fetch it from peers.
func (c *Chain) SetMissingParentHook(fn func(missingHash string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMissingParent = fn
}

// Difficulty returns the node's fixed mining/validation difficulty.
func (c *Chain) Difficulty() int { return c.difficulty }

// Genesis returns the hardcoded genesis block.
func (c *Chain) Genesis() *block.Block { return c.genesis }

// Tip returns the current canonical tip block.
func (c *Chain) Tip() *block.Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blocks[c.canonicalTipHash].block
}

// Height returns the canonical tip's height.
func (c *Chain) Height() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blocks[c.canonicalTipHash].block.Height
}

// UTXOSet returns the canonical UTXO snapshot. Callers must treat it as
// read-only: the chain replaces it wholesale on updates rather than
// mutating it in place, so a previously returned value remains a valid
// point-in-time snapshot.
func (c *Chain) UTXOSet() utxo.Set {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.utxos
}

// GetBlock looks up a block by hash, from anywhere in the tree (canonical
// or side-branch).
func (c *Chain) GetBlock(hash string) (*block.Block, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.blocks[hash]
	if !ok {
		return nil, false
	}
	return n.block, true
}

// CanonicalChain returns the genesis-to-tip sequence of the current
// canonical chain.
func (c *Chain) CanonicalChain() []*block.Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*block.Block, len(c.canonicalChain))
	copy(out, c.canonicalChain)
	return out
}

// CumulativeDifficulty returns the canonical tip's cumulative difficulty.
func (c *Chain) CumulativeDifficulty() *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.blocks[c.canonicalTipHash].cumulativeDifficulty)
}

// IngestBlock validates and inserts b into the tree, running fork-choice
// and orphan draining as needed. It is the single entry point used for
// both externally received blocks and locally mined ones.
//
// Draining orphans can move the canonical tip more than once within a
// single ingest, so the returned Result's reorg fields always describe the
// final canonical state, letting the caller repair the mempool exactly
// once.
func (c *Chain) IngestBlock(b *block.Block) Result {
	c.mu.Lock()
	results, missingParents := c.ingestAndDrain(b)
	res := c.mergeResultsLocked(results)
	c.mu.Unlock()

	for _, h := range missingParents {
		if c.onMissingParent != nil {
			c.onMissingParent(h)
		}
	}
	return res
}

// mergeResultsLocked collapses the per-block results of one ingest-and-
// drain pass into a single Result: the first block's outcome, plus reorg
// repair data recomputed against the final canonical state when any block
// in the pass switched the tip. Must be called with c.mu held.
func (c *Chain) mergeResultsLocked(results []Result) Result {
	if len(results) == 0 {
		return Result{Outcome: Rejected, Reason: "internal: no result produced"}
	}
	res := results[0]

	var detached []*tx.Transaction
	reorged := false
	for _, r := range results {
		if r.ReorgOccurred {
			reorged = true
			detached = append(detached, r.DetachedTxs...)
		}
	}
	if !reorged {
		return res
	}

	res.ReorgOccurred = true
	res.CanonicalTxIDs = c.canonicalTxIDs
	res.DetachedTxs = nil
	for _, t := range detached {
		if !c.canonicalTxIDs[t.ID] {
			res.DetachedTxs = append(res.DetachedTxs, t)
		}
	}
	res.NewDifficulty = new(big.Int).Set(c.blocks[c.canonicalTipHash].cumulativeDifficulty)
	return res
}

// ingestAndDrain processes b and then iteratively drains any orphans that
// were waiting on b's hash (or on hashes produced while draining), in
// insertion order. Must be called with c.mu held.
func (c *Chain) ingestAndDrain(b *block.Block) ([]Result, []string) {
	var results []Result
	var missingParents []string

	queue := []*block.Block{b}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		res, missing, resolvedHash := c.ingestOne(cur)
		results = append(results, res)
		if missing != "" {
			missingParents = append(missingParents, missing)
			continue
		}
		if res.Outcome == Accepted {
			waiting := c.orphans[resolvedHash]
			delete(c.orphans, resolvedHash)
			queue = append(queue, waiting...)
		}
	}
	return results, missingParents
}

// ingestOne runs the full single-block ingest pipeline: duplicate and
// genesis checks, parent lookup, validation, candidate-chain replay, and
// fork-choice. Must be called with c.mu held. Returns the result, the
// missing-parent hash (non-empty only for Orphan outcomes), and the
// block's own hash (for orphan-draining lookups).
func (c *Chain) ingestOne(b *block.Block) (Result, string, string) {
	if _, known := c.blocks[b.Hash]; known {
		return Result{Outcome: AlreadyKnown}, "", b.Hash
	}
	if b.Height == 0 {
		return Result{Outcome: Rejected, Reason: "genesis is hardcoded, not accepted over the wire"}, "", b.Hash
	}

	parentNode, ok := c.blocks[b.PrevHash]
	if !ok {
		c.orphans[b.PrevHash] = append(c.orphans[b.PrevHash], b)
		c.logger.Debug().Str("hash", b.Hash).Str("missing_parent", b.PrevHash).Msg("block stored as orphan")
		return Result{Outcome: Orphan, Reason: "parent unknown"}, b.PrevHash, b.Hash
	}
	parent := parentNode.block

	if reason, ok := c.validateAgainstParent(b, parent); !ok {
		c.logger.Warn().Str("hash", b.Hash).Str("reason", reason).Msg("block rejected")
		return Result{Outcome: Rejected, Reason: reason}, "", b.Hash
	}

	candidateChain, err := c.buildCandidateChain(b)
	if err != nil {
		return Result{Outcome: Rejected, Reason: err.Error()}, "", b.Hash
	}

	replayedUTXOs, err := replayChain(candidateChain)
	if err != nil {
		return Result{Outcome: Rejected, Reason: err.Error()}, "", b.Hash
	}

	cumDiff := new(big.Int).Add(parentNode.cumulativeDifficulty, big.NewInt(int64(b.Difficulty)))
	c.blocks[b.Hash] = &treeNode{block: b, cumulativeDifficulty: cumDiff}

	res := Result{Outcome: Accepted}

	currentTipDiff := c.blocks[c.canonicalTipHash].cumulativeDifficulty
	if cumDiff.Cmp(currentTipDiff) > 0 {
		c.switchCanonical(candidateChain, replayedUTXOs, &res)
	}

	return res, "", b.Hash
}

// validateAgainstParent checks height, hash linkage, declared hash,
// proof-of-work, and timestamp bounds.
func (c *Chain) validateAgainstParent(b, parent *block.Block) (string, bool) {
	if b.Height != parent.Height+1 {
		return "height is not parent height + 1", false
	}
	if b.PrevHash != parent.Hash {
		return "prevHash does not match parent hash", false
	}
	if b.Difficulty != c.difficulty {
		return "difficulty does not match node configuration", false
	}
	if !block.SchemaValid(b) {
		return "declared hash does not match recomputed header hash", false
	}
	if !block.MeetsDifficulty(b) {
		return "hash does not meet stated difficulty", false
	}
	if !block.TimestampValid(b, parent.Timestamp, time.Now()) {
		return "timestamp out of bounds", false
	}
	return "", true
}

// buildCandidateChain walks parent pointers from b back to genesis,
// verifying the root equals the hardcoded genesis block.
func (c *Chain) buildCandidateChain(b *block.Block) ([]*block.Block, error) {
	chain := []*block.Block{b}
	cur := b
	for cur.Height > 0 {
		parentNode, ok := c.blocks[cur.PrevHash]
		if !ok {
			return nil, fmt.Errorf("candidate chain broken at height %d", cur.Height)
		}
		cur = parentNode.block
		chain = append(chain, cur)
	}
	if cur.Hash != c.genesis.Hash {
		return nil, fmt.Errorf("candidate chain root is not the hardcoded genesis block")
	}
	// Reverse to genesis-first order.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// replayChain replays every block's transactions from an empty UTXO set
// in order, returning the resulting snapshot or an error on the first
// invalid block.
func replayChain(chain []*block.Block) (utxo.Set, error) {
	set := utxo.New()
	for _, b := range chain {
		next, err := utxo.ApplyBlock(b.Data.Txs, set, b.Height)
		if err != nil {
			return nil, fmt.Errorf("replay block %s at height %d: %w", b.Hash, b.Height, err)
		}
		set = next
	}
	return set, nil
}

// switchCanonical adopts candidateChain as canonical, computes the
// detached set, and populates res with the mempool-repair inputs. Must be
// called with c.mu held.
func (c *Chain) switchCanonical(candidateChain []*block.Block, replayedUTXOs utxo.Set, res *Result) {
	oldChain := c.canonicalChain
	newHashes := make(map[string]bool, len(candidateChain))
	newTxIDs := make(map[string]bool)
	for _, b := range candidateChain {
		newHashes[b.Hash] = true
		for _, t := range b.Data.Txs {
			newTxIDs[t.ID] = true
		}
	}

	var detachedTxs []*tx.Transaction
	for _, b := range oldChain {
		if newHashes[b.Hash] {
			continue
		}
		for i, t := range b.Data.Txs {
			if i == 0 {
				continue // coinbase never re-admitted
			}
			detachedTxs = append(detachedTxs, t)
		}
	}

	c.canonicalChain = candidateChain
	c.canonicalTipHash = candidateChain[len(candidateChain)-1].Hash
	c.canonicalTxIDs = newTxIDs
	c.utxos = replayedUTXOs

	res.ReorgOccurred = true
	res.BecameTip = true
	res.CanonicalTxIDs = newTxIDs
	res.DetachedTxs = detachedTxs
	res.NewDifficulty = new(big.Int).Set(c.blocks[c.canonicalTipHash].cumulativeDifficulty)

	c.logger.Info().
		Str("new_tip", c.canonicalTipHash).
		Int("height", candidateChain[len(candidateChain)-1].Height).
		Int("detached_txs", len(detachedTxs)).
		Msg("canonical chain switched")
}

// ReplaceWithChain discards the current tree and adopts a linear chain
// received wholesale from a peer during full sync, provided its
// cumulative difficulty strictly exceeds the current canonical tip's. The
// chain must start at the hardcoded genesis block and every block must
// validate in sequence. Side branches and orphans are discarded.
//
// When the remote chain is adopted the returned Result carries the same
// mempool-repair data a reorg through IngestBlock would: the new
// canonical transaction ids and the non-coinbase transactions detached
// from the previous canonical chain. A nil Result means the remote chain
// was valid but not strictly heavier.
func (c *Chain) ReplaceWithChain(newChain []*block.Block) (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(newChain) == 0 || newChain[0].Hash != c.genesis.Hash {
		return nil, fmt.Errorf("remote chain does not start at the hardcoded genesis block")
	}

	cumDiff := big.NewInt(0)
	for i, b := range newChain {
		if i == 0 {
			continue
		}
		parent := newChain[i-1]
		if reason, ok := c.validateAgainstParent(b, parent); !ok {
			return nil, fmt.Errorf("remote chain invalid at height %d: %s", b.Height, reason)
		}
		cumDiff.Add(cumDiff, big.NewInt(int64(b.Difficulty)))
	}

	currentTipDiff := c.blocks[c.canonicalTipHash].cumulativeDifficulty
	if cumDiff.Cmp(currentTipDiff) <= 0 {
		return nil, nil
	}

	replayedUTXOs, err := replayChain(newChain)
	if err != nil {
		return nil, fmt.Errorf("replay remote chain: %w", err)
	}

	c.blocks = make(map[string]*treeNode, len(newChain))
	running := big.NewInt(0)
	for i, b := range newChain {
		if i > 0 {
			running.Add(running, big.NewInt(int64(b.Difficulty)))
		}
		c.blocks[b.Hash] = &treeNode{block: b, cumulativeDifficulty: new(big.Int).Set(running)}
	}
	c.orphans = make(map[string][]*block.Block)

	res := Result{Outcome: Accepted}
	c.switchCanonical(newChain, replayedUTXOs, &res)
	return &res, nil
}
