package work

import (
	"encoding/binary"
	"math"

	"github.com/tundak/nano-node-sub003/types"
	"golang.org/x/crypto/blake2b"
)

// Difficulty is the little-endian 64-bit Blake2b digest of the nonce (little
// endian) followed by the root. Higher is harder.
func Difficulty(root types.Hash, work types.Work) uint64 {
	digest, _ := blake2b.New(8, nil)

	nonce := make([]byte, 8)
	binary.LittleEndian.PutUint64(nonce, uint64(work))
	digest.Write(nonce)
	digest.Write(root[:])

	return binary.LittleEndian.Uint64(digest.Sum(nil))
}

func BlockDifficulty(block *types.Block) uint64 {
	return Difficulty(block.Root(), block.Work)
}

const twoTo64 = float64(1 << 64)

// ToMultiplier expresses difficulty relative to base. Both are measured by the
// distance to 2^64, which is what the expected number of attempts scales with.
func ToMultiplier(difficulty uint64, base uint64) float64 {
	if difficulty == 0 {
		return 0
	}

	return float64(-base) / float64(-difficulty)
}

// FromMultiplier is the inverse of ToMultiplier. Multipliers past either end
// of the range saturate at 0 and math.MaxUint64.
func FromMultiplier(multiplier float64, base uint64) uint64 {
	if multiplier <= 0 {
		return 0
	}

	reverse := float64(-base) / multiplier
	if reverse >= twoTo64 {
		return 0
	}

	if uint64(reverse) == 0 {
		return math.MaxUint64
	}

	return -uint64(reverse)
}
