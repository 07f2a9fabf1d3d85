// Package wallet implements the companion wallet: an encrypted Ed25519
// keystore, UTXO-based coin selection, and transaction construction and
// signing.
package wallet

import (
	"encoding/hex"
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// changeDust is the smallest change amount worth creating an output for.
const changeDust = 1e-9

// BuildTransaction selects enough of utxos to cover amount, pays toAddress,
// returns any change to the owner of kp, and signs every input.
func BuildTransaction(kp *crypto.KeyPair, utxos []types.UTXO, toAddress string, amount float64) (*tx.Transaction, error) {
	selection, err := SelectCoins(utxos, amount)
	if err != nil {
		return nil, fmt.Errorf("select coins: %w", err)
	}

	outs := []tx.Out{{Address: toAddress, Amount: amount}}
	if selection.Change > changeDust {
		outs = append(outs, tx.Out{Address: kp.Address(), Amount: selection.Change})
	}

	ins := make([]tx.In, len(selection.Inputs))
	for i, u := range selection.Inputs {
		ins[i] = tx.In{PrevTxID: u.TxID, PrevOutIndex: u.OutIndex}
	}

	id := tx.ComputeID(ins, outs)

	pemPub := string(crypto.PEMPublicKey(kp.Public))
	sig, err := kp.Sign(id)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	sigHex := hex.EncodeToString(sig)
	for i := range ins {
		ins[i].Signature = sigHex
		ins[i].PublicKey = pemPub
	}

	return &tx.Transaction{ID: id, Ins: ins, Outs: outs}, nil
}
