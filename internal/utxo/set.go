// Package utxo implements the unspent-output engine: applying a block's
// transactions to a UTXO set and producing the resulting set, enforcing
// coinbase rules and intra-block no-double-spend.
package utxo

import (
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// ErrInvalid is returned by ApplyBlock when the block's transactions fail
// validation against the given UTXO set. Callers only need to know
// "reject and do not store"; the reason is logged at the call site.
var ErrInvalid = errors.New("block transactions invalid against utxo set")

// Set is an in-memory, immutable-per-value snapshot of unspent outputs
// keyed by outpoint. Callers that need to apply a block derive a new Set
// rather than mutating an existing one, so a failed replay never corrupts
// canonical state.
type Set map[types.OutPoint]types.UTXO

// New returns an empty UTXO set.
func New() Set {
	return make(Set)
}

// Lookup implements tx.UTXOProvider.
func (s Set) Lookup(out types.OutPoint) (types.UTXO, bool) {
	u, ok := s[out]
	return u, ok
}

// Clone returns a shallow copy of s, safe to mutate independently.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// ForAddress returns every UTXO in s owned by address.
func (s Set) ForAddress(address string) []types.UTXO {
	var out []types.UTXO
	for _, u := range s {
		if u.Address == address {
			out = append(out, u)
		}
	}
	return out
}

// TotalValue sums the amount of every UTXO in s.
func (s Set) TotalValue() float64 {
	var total float64
	for _, u := range s {
		total += u.Amount
	}
	return total
}

// ApplyBlock validates txs against utxos (the starting snapshot, not a
// running view) and returns the resulting set with consumed outputs
// removed and produced outputs added. The rules:
//
//  1. Height 0 requires an empty tx list and returns utxos unchanged.
//  2. txs[0] must be a valid coinbase for blockHeight.
//  3. Every (prevTxId, prevOutIndex) referenced anywhere in txs must be
//     unique; intra-block double-spend is rejected.
//  4. Every non-coinbase transaction must validate against utxos (not a
//     mutated view), so a transaction cannot spend an output created
//     earlier in the same block.
//  5. The new set removes every consumed UTXO and adds every produced one.
func ApplyBlock(txs []*tx.Transaction, utxos Set, blockHeight int) (Set, error) {
	if blockHeight == 0 {
		if len(txs) != 0 {
			return nil, fmt.Errorf("%w: genesis block must have no transactions", ErrInvalid)
		}
		return utxos, nil
	}
	if len(txs) == 0 {
		return nil, fmt.Errorf("%w: non-genesis block must start with a coinbase", ErrInvalid)
	}
	if !tx.ValidateCoinbase(txs[0], blockHeight) {
		return nil, fmt.Errorf("%w: invalid coinbase", ErrInvalid)
	}

	seen := make(map[types.OutPoint]bool)
	for _, t := range txs {
		for _, in := range t.Ins {
			if in.IsCoinbaseInput() {
				continue
			}
			key := types.OutPoint{TxID: in.PrevTxID, OutIndex: in.PrevOutIndex}
			if seen[key] {
				return nil, fmt.Errorf("%w: double-spend of %s within block", ErrInvalid, key)
			}
			seen[key] = true
		}
	}

	for _, t := range txs[1:] {
		if !tx.Validate(t, utxos) {
			return nil, fmt.Errorf("%w: transaction %s failed validation", ErrInvalid, t.ID)
		}
	}

	next := utxos.Clone()
	for _, t := range txs {
		for _, in := range t.Ins {
			if in.IsCoinbaseInput() {
				continue
			}
			delete(next, types.OutPoint{TxID: in.PrevTxID, OutIndex: in.PrevOutIndex})
		}
		for i, out := range t.Outs {
			u := types.UTXO{TxID: t.ID, OutIndex: i, Address: out.Address, Amount: out.Amount}
			next[u.OutPoint()] = u
		}
	}
	return next, nil
}
