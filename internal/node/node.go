// Package node ties the chain, mempool, peer set, and miner together into
// a single composition root. Block and transaction submission, chain sync,
// peer registration and mining-settings changes take the node's coarse
// lock, so each such request is one atomic transition even though net/http
// serves requests concurrently. The other methods rely only on the locks
// of the chain, mempool, peer set and mining driver.
package node

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Klingon-tech/klingnet-chain/internal/chain"
	"github.com/Klingon-tech/klingnet-chain/internal/log"
	"github.com/Klingon-tech/klingnet-chain/internal/mempool"
	"github.com/Klingon-tech/klingnet-chain/internal/miner"
	"github.com/Klingon-tech/klingnet-chain/internal/p2p"
	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
	"github.com/rs/zerolog"
)

// PingInterval is how often the node checks the liveness of every known
// peer. Failures are logged only; unreachable peers are never dropped.
const PingInterval = 30 * time.Second

// MaxTxsPerBlock is the default cap on non-coinbase transactions a mined
// block may include.
const MaxTxsPerBlock = 2

// Config configures a Node at startup.
type Config struct {
	Difficulty     int
	SelfURL        string
	Seeds          []string
	MiningAddress  string
	MiningEnabled  bool
	MinerTag       string
	MaxTxsPerBlock int
}

// Node is the composition root: it owns the chain, mempool, peer set, and
// mining driver, and is the single place business rules are enforced.
type Node struct {
	mu sync.Mutex

	cfg    Config
	chain  *chain.Chain
	pool   *mempool.Pool
	peers  *p2p.PeerSet
	client *p2p.Client
	driver *miner.Driver
	logger zerolog.Logger
}

// New constructs a node and wires the chain's missing-parent hook to fetch
// blocks from peers asynchronously.
func New(cfg Config) *Node {
	if cfg.MaxTxsPerBlock <= 0 {
		cfg.MaxTxsPerBlock = MaxTxsPerBlock
	}
	if cfg.MinerTag == "" {
		cfg.MinerTag = "klingnet"
	}

	n := &Node{
		cfg:    cfg,
		chain:  chain.New(cfg.Difficulty),
		pool:   mempool.New(),
		peers:  p2p.NewPeerSet(),
		client: p2p.NewClient(p2p.DefaultTimeout),
		logger: log.WithComponent("node"),
	}
	n.peers.Register(cfg.SelfURL, cfg.Seeds...)
	n.chain.SetMissingParentHook(n.onMissingParent)
	n.driver = miner.NewDriver(n.buildMiningJob, n.onBlockMined)
	if cfg.MiningEnabled {
		n.driver.NotifyChange()
	}
	go n.pingLoop()
	return n
}

// pingLoop periodically checks every known peer's liveness. This is the
// node's only recurring timer besides the miner's debounce; a failed ping
// is logged and otherwise ignored, with no backoff and no eviction.
func (n *Node) pingLoop() {
	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()
	for range ticker.C {
		for _, peerURL := range n.peers.List() {
			if err := n.client.Ping(context.Background(), peerURL, n.cfg.SelfURL); err != nil {
				n.logger.Warn().Str("peer", peerURL).Err(err).Msg("peer ping failed")
			}
		}
	}
}

// onMissingParent is invoked by the chain (outside its own lock) when an
// ingested block's parent is unknown. It fetches the parent from every
// known peer in a background goroutine.
func (n *Node) onMissingParent(missingHash string) {
	go func() {
		for _, peerURL := range n.peers.List() {
			b, err := n.client.FetchBlock(context.Background(), peerURL, missingHash)
			if err != nil {
				continue
			}
			n.SubmitBlock(b, peerURL, nil)
			return
		}
		n.logger.Debug().Str("hash", missingHash).Msg("could not locate missing parent from any peer")
	}()
}

// SubmitBlock ingests a block received either from a peer (sourceURL set,
// previousPeers carrying the gossip trail it has already travelled) or
// mined locally (sourceURL empty, previousPeers nil), repairs the mempool
// on a tip change, and gossips the block onward with loop prevention: a
// node never rebroadcasts toward a peer already in previousPeers or equal
// to sourceURL, and never rebroadcasts at all once its own URL already
// appears in the trail.
func (n *Node) SubmitBlock(b *block.Block, sourceURL string, previousPeers []string) (chain.Outcome, error) {
	n.mu.Lock()
	res := n.chain.IngestBlock(b)
	if res.Outcome == chain.Accepted && res.ReorgOccurred {
		n.pool.Reconcile(res.CanonicalTxIDs, res.DetachedTxs, n.chain.UTXOSet())
	}
	peers := n.peers.List()
	selfURL := n.cfg.SelfURL
	n.mu.Unlock()

	switch res.Outcome {
	case chain.Accepted:
		n.logger.Info().Str("hash", b.Hash).Int("height", b.Height).Bool("tip_changed", res.ReorgOccurred).Msg("block accepted")
		if !containsURL(previousPeers, selfURL) {
			go n.client.BroadcastBlock(context.Background(), peers, selfURL, sourceURL, previousPeers, b)
		}
		if res.ReorgOccurred {
			n.driver.NotifyChange()
		}
		return res.Outcome, nil
	case chain.AlreadyKnown:
		return res.Outcome, nil
	case chain.Orphan:
		if sourceURL != "" {
			go n.SyncFromPeer(sourceURL)
		}
		return res.Outcome, nil
	default:
		return res.Outcome, fmt.Errorf("%s", res.Reason)
	}
}

func containsURL(urls []string, url string) bool {
	for _, u := range urls {
		if u == url {
			return true
		}
	}
	return false
}

// SubmitTransaction admits a transaction to the mempool. Unlike blocks,
// transactions are never gossiped onward by the core: a wallet submits
// directly to the node that will mine or forward it, and downstream
// propagation is left as a future extension (see DESIGN.md).
func (n *Node) SubmitTransaction(t *tx.Transaction) error {
	n.mu.Lock()
	err := n.pool.Submit(t, n.chain.UTXOSet())
	n.mu.Unlock()
	if err != nil {
		return err
	}
	n.driver.NotifyChange()
	return nil
}

// LatestBlock returns the canonical tip.
func (n *Node) LatestBlock() *block.Block {
	return n.chain.Tip()
}

// FullChain returns the full canonical chain, genesis first.
func (n *Node) FullChain() []*block.Block {
	return n.chain.CanonicalChain()
}

// BlockByHash looks up a block anywhere in the tree by hash.
func (n *Node) BlockByHash(hash string) (*block.Block, bool) {
	return n.chain.GetBlock(hash)
}

// Unspent returns every unspent output belonging to address that is not
// currently consumed by a pooled transaction, so a wallet never attempts
// to spend an input another pending transaction has already claimed.
func (n *Node) Unspent(address string) []types.UTXO {
	consumed := n.pool.ConsumedOutpoints()
	all := n.chain.UTXOSet().ForAddress(address)
	out := make([]types.UTXO, 0, len(all))
	for _, u := range all {
		if consumed[u.OutPoint()] {
			continue
		}
		out = append(out, u)
	}
	return out
}

// Balance sums the unspent outputs belonging to address.
func (n *Node) Balance(address string) float64 {
	var total float64
	for _, u := range n.Unspent(address) {
		total += u.Amount
	}
	return total
}

// RegisterPeers adds peer URLs, attempts to register back with each of
// them, and catches up on each one's chain: registration also fetches the
// peer's full chain and adopts it when its cumulative difficulty strictly
// exceeds the local tip's. Returns the union of peers now known.
func (n *Node) RegisterPeers(urls ...string) []string {
	n.mu.Lock()
	added := n.peers.Register(n.cfg.SelfURL, urls...)
	n.mu.Unlock()

	for _, u := range added {
		go func(peerURL string) {
			discovered, err := n.client.RegisterWith(context.Background(), peerURL, n.cfg.SelfURL)
			if err != nil {
				n.logger.Warn().Str("peer", peerURL).Err(err).Msg("peer registration failed")
			} else {
				n.mu.Lock()
				n.peers.Register(n.cfg.SelfURL, discovered...)
				n.mu.Unlock()
			}

			if _, err := n.SyncFromPeer(peerURL); err != nil {
				n.logger.Warn().Str("peer", peerURL).Err(err).Msg("catch-up sync on registration failed")
			}
		}(u)
	}
	return n.peers.List()
}

// DeregisterPeers removes peer URLs locally. Deregistration never notifies
// the removed peer or any other node.
func (n *Node) DeregisterPeers(urls ...string) {
	n.peers.Deregister(urls...)
}

// Peers returns every known peer URL.
func (n *Node) Peers() []string {
	return n.peers.List()
}

// SelfURL returns this node's own advertised URL.
func (n *Node) SelfURL() string {
	return n.cfg.SelfURL
}

// SyncFromPeer fetches a peer's full chain and adopts it if its
// cumulative difficulty exceeds the local tip's, repairing the mempool the
// same way an in-tree reorg does: transactions confirmed by the adopted
// chain leave the pool, and still-valid transactions from the displaced
// local blocks are re-admitted.
func (n *Node) SyncFromPeer(peerURL string) (bool, error) {
	remoteChain, err := n.client.FetchChain(context.Background(), peerURL)
	if err != nil {
		return false, err
	}
	n.mu.Lock()
	res, err := n.chain.ReplaceWithChain(remoteChain)
	if res != nil {
		n.pool.Reconcile(res.CanonicalTxIDs, res.DetachedTxs, n.chain.UTXOSet())
	}
	n.mu.Unlock()
	if res != nil {
		n.driver.NotifyChange()
		return true, nil
	}
	return false, err
}

// StartMining enables mining to address and kicks the driver.
func (n *Node) StartMining(address string) {
	n.mu.Lock()
	n.cfg.MiningAddress = address
	n.cfg.MiningEnabled = true
	n.mu.Unlock()
	n.driver.NotifyChange()
}

// StopMining disables mining and cancels any in-flight job immediately.
func (n *Node) StopMining() {
	n.mu.Lock()
	n.cfg.MiningEnabled = false
	n.mu.Unlock()
	n.driver.Cancel()
}

// RestartMining cancels any in-flight job and schedules a fresh one
// (after the usual debounce) on top of the current tip and mempool, if
// mining is currently enabled.
func (n *Node) RestartMining() {
	n.driver.NotifyChange()
}

// MiningStatus reports whether mining is enabled, the configured mining
// address, and whether a job is currently in flight.
func (n *Node) MiningStatus() (enabled bool, address string, running bool) {
	n.mu.Lock()
	enabled, address = n.cfg.MiningEnabled, n.cfg.MiningAddress
	n.mu.Unlock()
	return enabled, address, n.driver.Running()
}

// buildMiningJob is the miner.Driver's JobBuilder: it assembles the next
// candidate block on top of the current tip.
func (n *Node) buildMiningJob() (miner.Job, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.cfg.MiningEnabled || n.cfg.MiningAddress == "" {
		return miner.Job{}, false
	}

	tip := n.chain.Tip()
	height := tip.Height + 1
	coinbase := tx.NewCoinbase(n.cfg.MiningAddress, height)
	pending := n.pool.TopValid(n.cfg.MaxTxsPerBlock, n.chain.UTXOSet())
	data := miner.BuildData(n.cfg.MinerTag, coinbase, pending, n.cfg.MaxTxsPerBlock)

	return miner.Job{
		Height:     height,
		PrevHash:   tip.Hash,
		Difficulty: n.cfg.Difficulty,
		Timestamp:  miner.Now(),
		Data:       data,
	}, true
}

// onBlockMined is the miner.Driver's completion callback: it submits the
// freshly mined block through the same ingest path as any other block.
func (n *Node) onBlockMined(b *block.Block) {
	n.SubmitBlock(b, "", nil)
}
