package tx

import (
	"encoding/hex"
	"math"

	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// UTXOProvider is the minimal read-only view the validator needs of a UTXO
// set: a point lookup by outpoint. internal/utxo.Set implements this.
type UTXOProvider interface {
	Lookup(out types.OutPoint) (types.UTXO, bool)
}

// Validate checks a transaction's structure, id, per-input signatures, and
// value conservation against utxos. It never panics on malformed input.
func Validate(t *Transaction, utxos UTXOProvider) bool {
	if t == nil {
		return false
	}
	if !structurallyValid(t) {
		return false
	}
	if ComputeID(t.Ins, t.Outs) != t.ID {
		return false
	}

	var inputSum, outputSum float64
	for _, in := range t.Ins {
		u, ok := utxos.Lookup(types.OutPoint{TxID: in.PrevTxID, OutIndex: in.PrevOutIndex})
		if !ok {
			return false
		}
		if crypto.AddressFromPEM([]byte(in.PublicKey)) != u.Address {
			return false
		}
		sig, err := hex.DecodeString(in.Signature)
		if err != nil {
			return false
		}
		if !crypto.VerifySignature(t.ID, sig, crypto.RawKeyFromPEM(in.PublicKey)) {
			return false
		}
		inputSum += u.Amount
	}
	for _, out := range t.Outs {
		outputSum += out.Amount
	}
	return floatEquals(inputSum, outputSum)
}

// ValidateCoinbase checks that t is a well-formed coinbase transaction for
// blockHeight: exactly one synthetic input, exactly one output paying
// CoinbaseReward, and a correctly recomputed id.
func ValidateCoinbase(t *Transaction, blockHeight int) bool {
	if t == nil || len(t.Ins) != 1 || len(t.Outs) != 1 {
		return false
	}
	in := t.Ins[0]
	if in.PrevTxID != "" || in.PrevOutIndex != blockHeight || in.Signature != "" || in.PublicKey != "" {
		return false
	}
	if t.Outs[0].Amount != CoinbaseReward {
		return false
	}
	return ComputeID(t.Ins, t.Outs) == t.ID
}

// structurallyValid checks field-level well-formedness: non-empty id, at
// least one input and output, and every amount a finite non-negative
// number.
func structurallyValid(t *Transaction) bool {
	if t.ID == "" || len(t.Ins) == 0 || len(t.Outs) == 0 {
		return false
	}
	for _, out := range t.Outs {
		if math.IsNaN(out.Amount) || math.IsInf(out.Amount, 0) || out.Amount < 0 {
			return false
		}
	}
	return true
}

func floatEquals(a, b float64) bool {
	const epsilon = 1e-9
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < epsilon
}
