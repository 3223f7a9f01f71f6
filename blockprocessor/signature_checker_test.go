package blockprocessor

import (
	"testing"

	"github.com/tundak/nano-node-sub003/testutil"
	"github.com/tundak/nano-node-sub003/types"
)

func TestSignatureCheckerBatches(t *testing.T) {
	keys := testutil.Key(7)

	const size = signatureCheckBatch*3 + 17
	set := NewSignatureCheckSet(size)
	for i := 0; i < size; i++ {
		vote := types.NewVote(keys, uint64(i), []types.Hash{{byte(i), byte(i >> 8)}})
		hash := vote.Hash()

		signature := vote.Signature
		if i%100 == 3 {
			signature[0] ^= 0xff
		}

		set.Append(hash[:], keys.Address, signature)
	}

	NewSignatureChecker(4).Verify(set)

	for i, valid := range set.Verifications {
		if valid != (i%100 != 3) {
			t.Fatalf("verification %d is %t", i, valid)
		}
	}
}
