// Package types holds the plain data model shared by the transaction,
// block, and UTXO layers: unspent outputs and their unique keys.
package types

import "fmt"

// OutPoint identifies a UTXO by the transaction that created it and the
// index of the output within that transaction.
type OutPoint struct {
	TxID     string
	OutIndex int
}

// String renders the outpoint as "txid:index" for logs and error messages.
// UTXO sets and mempool conflict indices key their maps by the OutPoint
// value itself.
func (o OutPoint) String() string {
	return fmt.Sprintf("%s:%d", o.TxID, o.OutIndex)
}

// UTXO is an unspent transaction output, uniquely identified by
// (TxID, OutIndex).
type UTXO struct {
	TxID     string  `json:"txId"`
	OutIndex int     `json:"outIndex"`
	Address  string  `json:"address"`
	Amount   float64 `json:"amount"`
}

// OutPoint returns the key under which this UTXO is indexed.
func (u UTXO) OutPoint() OutPoint {
	return OutPoint{TxID: u.TxID, OutIndex: u.OutIndex}
}
