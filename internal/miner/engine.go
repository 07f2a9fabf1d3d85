// Package miner implements the background mining worker: the debounced
// driver that decides when to (re)start mining, and the engine that does
// the proof-of-work search itself.
package miner

import (
	"sync/atomic"
	"time"

	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
)

// CancelPollInterval is the maximum number of nonce attempts between
// checks of the cancellation word. A stride of 4096 header hashes takes a
// few milliseconds on commodity hardware, so a cancelled job returns well
// before the debounced restart would fire.
const CancelPollInterval = 4096

// Job describes one candidate block to search for a valid nonce for.
type Job struct {
	Height     int
	PrevHash   string
	Difficulty int
	Timestamp  int64
	Data       block.Data
}

// Engine runs the proof-of-work search for a single job.
type Engine struct{}

// NewEngine returns a mining engine.
func NewEngine() *Engine { return &Engine{} }

// Mine searches for a nonce that makes job's header hash meet its
// difficulty, polling cancel at least every CancelPollInterval attempts.
// It returns the mined block and true on success, or nil and false if
// cancel was set before a solution was found.
func (e *Engine) Mine(job Job, cancel *atomic.Uint32) (*block.Block, bool) {
	var nonce uint64
	for {
		for i := 0; i < CancelPollInterval; i++ {
			hash, err := block.HeaderHash(job.Height, job.Timestamp, job.PrevHash, job.Data, nonce, job.Difficulty)
			if err == nil && crypto.MeetsDifficulty(hash, job.Difficulty) {
				return &block.Block{
					Height:     job.Height,
					Timestamp:  job.Timestamp,
					PrevHash:   job.PrevHash,
					Data:       job.Data,
					Nonce:      nonce,
					Difficulty: job.Difficulty,
					Hash:       hash,
				}, true
			}
			nonce++
		}
		if cancel.Load() != 0 {
			return nil, false
		}
	}
}

// BuildData assembles a block's data section: a coinbase paying reward
// plus up to maxTxs transactions drawn from the mempool.
func BuildData(minerTag string, coinbase *tx.Transaction, pending []*tx.Transaction, maxTxs int) block.Data {
	if len(pending) > maxTxs {
		pending = pending[:maxTxs]
	}
	txs := make([]*tx.Transaction, 0, 1+len(pending))
	txs = append(txs, coinbase)
	txs = append(txs, pending...)
	return block.Data{MinerTag: minerTag, Txs: txs}
}

// Now returns the current time in epoch milliseconds, used to stamp a new
// job's timestamp at the moment it is built.
func Now() int64 {
	return time.Now().UnixMilli()
}
