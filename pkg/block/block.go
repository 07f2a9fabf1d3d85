// Package block implements the block and header types, header hashing,
// the genesis block, and block-level schema validation.
package block

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
)

// ZeroHash is the 64 hex-zero digit hash used as the genesis block's
// prevHash.
var ZeroHash = strings.Repeat("0", 64)

// Data carries a block's miner tag and transactions.
type Data struct {
	MinerTag string          `json:"minerTag"`
	Txs      []*tx.Transaction `json:"txs"`
}

// Block is a block in the chain: a header plus its embedded data, already
// hashed.
type Block struct {
	Height     int    `json:"height"`
	Timestamp  int64  `json:"timestamp"`
	PrevHash   string `json:"prevHash"`
	Data       Data   `json:"data"`
	Nonce      uint64 `json:"nonce"`
	Difficulty int    `json:"difficulty"`
	Hash       string `json:"hash"`
}

// HeaderHash computes the SHA-256 hex digest over the textual
// concatenation `height | timestamp | prevHash | JSON(data) | nonce |
// difficulty`.
func HeaderHash(height int, timestamp int64, prevHash string, data Data, nonce uint64, difficulty int) (string, error) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshal block data: %w", err)
	}
	var b strings.Builder
	b.WriteString(strconv.Itoa(height))
	b.WriteString(strconv.FormatInt(timestamp, 10))
	b.WriteString(prevHash)
	b.Write(dataJSON)
	b.WriteString(strconv.FormatUint(nonce, 10))
	b.WriteString(strconv.Itoa(difficulty))
	return crypto.Hash([]byte(b.String())), nil
}

// RecomputeHash returns the header hash this block should have given its
// other fields, independent of whatever is currently stored in b.Hash.
func (b *Block) RecomputeHash() (string, error) {
	return HeaderHash(b.Height, b.Timestamp, b.PrevHash, b.Data, b.Nonce, b.Difficulty)
}

// Genesis returns the single, deterministic genesis block shared by every
// node: height 0, timestamp 0, prevHash all-zero, no transactions,
// difficulty 0, nonce 0.
func Genesis() *Block {
	g := &Block{
		Height:     0,
		Timestamp:  0,
		PrevHash:   ZeroHash,
		Data:       Data{MinerTag: "genesis", Txs: nil},
		Nonce:      0,
		Difficulty: 0,
	}
	h, err := g.RecomputeHash()
	if err != nil {
		panic(fmt.Sprintf("compute genesis hash: %v", err))
	}
	g.Hash = h
	return g
}
