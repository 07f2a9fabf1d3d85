// Package tx implements the transaction data model, id computation, and
// the structural, signature, and value-conservation validators.
package tx

import (
	"strconv"
	"strings"

	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
)

// CoinbaseReward is the fixed amount minted by a block's coinbase
// transaction. Difficulty retargeting and fees are out of scope; this is
// the only source of new value in the system.
const CoinbaseReward = 100

// In is a transaction input. For a coinbase input, PrevTxID is empty,
// PrevOutIndex carries the block height, and Signature/PublicKey are empty.
type In struct {
	PrevTxID     string `json:"prevTxId"`
	PrevOutIndex int    `json:"prevOutIndex"`
	Signature    string `json:"signature"`
	PublicKey    string `json:"publicKey"`
}

// IsCoinbaseInput reports whether this input is the synthetic coinbase
// input (no real previous output is referenced).
func (i In) IsCoinbaseInput() bool {
	return i.PrevTxID == ""
}

// Out is a transaction output: an amount paid to an address.
type Out struct {
	Address string  `json:"address"`
	Amount  float64 `json:"amount"`
}

// Transaction is an immutable record of value transfer. Once built via New
// or NewCoinbase its Ins/Outs/ID should not be mutated.
type Transaction struct {
	ID   string `json:"id"`
	Ins  []In   `json:"ins"`
	Outs []Out  `json:"outs"`
}

// ComputeID returns the lowercase hex SHA-256 of the concatenation
//
//	(in.prevTxId || in.prevOutIndex)* (out.address || out.amount)*
//
// in input then output order.
func ComputeID(ins []In, outs []Out) string {
	var b strings.Builder
	for _, in := range ins {
		b.WriteString(in.PrevTxID)
		b.WriteString(strconv.Itoa(in.PrevOutIndex))
	}
	for _, out := range outs {
		b.WriteString(out.Address)
		b.WriteString(formatAmount(out.Amount))
	}
	return crypto.Hash([]byte(b.String()))
}

// formatAmount renders an amount in the minimal canonical decimal form used
// both when computing the transaction id and when the wallet signs it, so
// both sides of the wire agree on the bytes hashed.
func formatAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', -1, 64)
}

// New builds a transaction from inputs and outputs and computes its id.
func New(ins []In, outs []Out) *Transaction {
	return &Transaction{
		ID:   ComputeID(ins, outs),
		Ins:  ins,
		Outs: outs,
	}
}

// NewCoinbase builds the coinbase transaction minting CoinbaseReward to
// address at the given block height.
func NewCoinbase(address string, height int) *Transaction {
	ins := []In{{PrevTxID: "", PrevOutIndex: height}}
	outs := []Out{{Address: address, Amount: CoinbaseReward}}
	return New(ins, outs)
}
