package block

import (
	"time"

	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
)

// FutureTolerance is the maximum amount a block's timestamp may exceed the
// local clock by before it is rejected.
const FutureTolerance = 60 * time.Second

// SchemaValid checks the block's JSON schema: difficulty in range, hash
// present, and that the declared hash matches the recomputed header hash.
func SchemaValid(b *Block) bool {
	if b == nil {
		return false
	}
	if b.Difficulty < 0 || b.Difficulty > 64 {
		return false
	}
	if b.Height < 0 {
		return false
	}
	recomputed, err := b.RecomputeHash()
	if err != nil {
		return false
	}
	return recomputed == b.Hash
}

// MeetsDifficulty reports whether the block's hash satisfies its own
// stated proof-of-work difficulty.
func MeetsDifficulty(b *Block) bool {
	return crypto.MeetsDifficulty(b.Hash, b.Difficulty)
}

// TimestampValid checks that the block's timestamp is not before the
// parent's and not further in the future than FutureTolerance.
func TimestampValid(b *Block, parentTimestamp int64, now time.Time) bool {
	if b.Timestamp < parentTimestamp {
		return false
	}
	maxAllowed := now.Add(FutureTolerance).UnixMilli()
	return b.Timestamp <= maxAllowed
}
