// Package mempool implements the pending-transaction pool: admission,
// double-spend conflict detection, and post-reorg reconciliation.
package mempool

import (
	"errors"
	"sync"

	"github.com/Klingon-tech/klingnet-chain/internal/log"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
	"github.com/rs/zerolog"
)

// ErrDuplicate is returned when a transaction with the same id is already
// in the pool.
var ErrDuplicate = errors.New("transaction already in mempool")

// ErrConflict is returned when a transaction spends an outpoint already
// spent by another pooled transaction.
var ErrConflict = errors.New("transaction conflicts with a pooled transaction")

// ErrInvalid is returned when a transaction fails structural or signature
// validation against the given UTXO set.
var ErrInvalid = errors.New("transaction failed validation")

// Pool holds pending transactions, keyed by id, plus a secondary index of
// spent outpoints for double-spend conflict detection. Insertion order is
// preserved (there are no fees to sort by).
type Pool struct {
	mu sync.Mutex

	txs    map[string]*tx.Transaction
	order  []string                  // tx ids, oldest first
	spends map[types.OutPoint]string // outpoint -> tx id spending it

	logger zerolog.Logger
}

// New returns an empty pool.
func New() *Pool {
	return &Pool{
		txs:    make(map[string]*tx.Transaction),
		spends: make(map[types.OutPoint]string),
		logger: log.WithComponent("mempool"),
	}
}

// Submit validates t against utxos and, if it does not conflict with an
// already-pooled transaction, admits it.
func (p *Pool) Submit(t *tx.Transaction, utxos tx.UTXOProvider) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.submitLocked(t, utxos)
}

func (p *Pool) submitLocked(t *tx.Transaction, utxos tx.UTXOProvider) error {
	if t == nil {
		return ErrInvalid
	}
	if _, ok := p.txs[t.ID]; ok {
		return ErrDuplicate
	}
	if !tx.Validate(t, utxos) {
		return ErrInvalid
	}
	for _, in := range t.Ins {
		out := types.OutPoint{TxID: in.PrevTxID, OutIndex: in.PrevOutIndex}
		if _, taken := p.spends[out]; taken {
			return ErrConflict
		}
	}

	p.txs[t.ID] = t
	p.order = append(p.order, t.ID)
	for _, in := range t.Ins {
		out := types.OutPoint{TxID: in.PrevTxID, OutIndex: in.PrevOutIndex}
		p.spends[out] = t.ID
	}
	p.logger.Debug().Str("tx_id", t.ID).Msg("transaction admitted to mempool")
	return nil
}

// ConsumedOutpoints returns every outpoint currently spent by some pooled
// transaction, so callers can exclude it from what a wallet is offered to
// spend next: the canonical UTXOs minus whatever the pool has already
// committed to spending.
func (p *Pool) ConsumedOutpoints() map[types.OutPoint]bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[types.OutPoint]bool, len(p.spends))
	for op := range p.spends {
		out[op] = true
	}
	return out
}

// Has reports whether txID is currently pooled.
func (p *Pool) Has(txID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.txs[txID]
	return ok
}

// Len returns the number of pooled transactions.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.order)
}

// Top returns up to n pooled transactions, oldest first, for block
// assembly.
func (p *Pool) Top(n int) []*tx.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n > len(p.order) {
		n = len(p.order)
	}
	out := make([]*tx.Transaction, 0, n)
	for _, id := range p.order[:n] {
		out = append(out, p.txs[id])
	}
	return out
}

// TopValid returns up to n pooled transactions, oldest first, skipping any
// that no longer validate against utxos. Used by the miner driver when
// assembling a candidate block: the pool is normally kept consistent with
// the canonical UTXO set by Reconcile, but the miner re-checks explicitly
// rather than trusting that invariant blindly.
func (p *Pool) TopValid(n int, utxos tx.UTXOProvider) []*tx.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*tx.Transaction, 0, n)
	for _, id := range p.order {
		if len(out) >= n {
			break
		}
		t := p.txs[id]
		if !tx.Validate(t, utxos) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// All returns every pooled transaction, oldest first.
func (p *Pool) All() []*tx.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*tx.Transaction, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.txs[id])
	}
	return out
}

// removeLocked drops txID from the pool and its spend index. Must be
// called with p.mu held.
func (p *Pool) removeLocked(txID string) {
	t, ok := p.txs[txID]
	if !ok {
		return
	}
	delete(p.txs, txID)
	for i, id := range p.order {
		if id == txID {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	for _, in := range t.Ins {
		out := types.OutPoint{TxID: in.PrevTxID, OutIndex: in.PrevOutIndex}
		if p.spends[out] == txID {
			delete(p.spends, out)
		}
	}
}

// Remove drops a confirmed or invalidated transaction from the pool.
func (p *Pool) Remove(txID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLocked(txID)
}

// Reconcile repairs the pool after a reorg: transactions now present in
// the canonical chain are dropped (they are confirmed), every remaining
// transaction is re-validated against the new canonical UTXO set and
// dropped if it no longer holds, and detached transactions (from blocks
// that fell off the canonical chain) are re-admitted, oldest first, where
// they still validate and don't conflict.
func (p *Pool) Reconcile(canonicalTxIDs map[string]bool, detachedTxs []*tx.Transaction, utxos tx.UTXOProvider) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, id := range append([]string(nil), p.order...) {
		if canonicalTxIDs[id] {
			p.removeLocked(id)
		}
	}
	for _, id := range append([]string(nil), p.order...) {
		if !tx.Validate(p.txs[id], utxos) {
			p.removeLocked(id)
		}
	}
	for _, t := range detachedTxs {
		if canonicalTxIDs[t.ID] {
			continue
		}
		if _, ok := p.txs[t.ID]; ok {
			continue
		}
		if err := p.submitLocked(t, utxos); err != nil {
			p.logger.Debug().Str("tx_id", t.ID).Err(err).Msg("detached transaction not re-admitted")
		}
	}
}
