package blockprocessor

import (
	"github.com/shryder/ed25519-blake2b"
	"github.com/tundak/nano-node-sub003/types"
	"golang.org/x/sync/errgroup"
)

const signatureCheckBatch = 256

// SignatureCheckSet holds parallel slices, Verifications is filled in by Verify.
type SignatureCheckSet struct {
	Messages      [][]byte
	PublicKeys    []types.Address
	Signatures    []types.Signature
	Verifications []bool
}

func NewSignatureCheckSet(size int) *SignatureCheckSet {
	return &SignatureCheckSet{
		Messages:      make([][]byte, 0, size),
		PublicKeys:    make([]types.Address, 0, size),
		Signatures:    make([]types.Signature, 0, size),
		Verifications: make([]bool, size),
	}
}

func (set *SignatureCheckSet) Append(message []byte, public_key types.Address, signature types.Signature) {
	set.Messages = append(set.Messages, message)
	set.PublicKeys = append(set.PublicKeys, public_key)
	set.Signatures = append(set.Signatures, signature)
}

func (set *SignatureCheckSet) Size() int {
	return len(set.Messages)
}

// SignatureChecker verifies signatures in batches spread over a fixed number
// of goroutines.
type SignatureChecker struct {
	threads int
}

func NewSignatureChecker(threads int) *SignatureChecker {
	if threads < 1 {
		threads = 1
	}

	return &SignatureChecker{threads: threads}
}

func (checker *SignatureChecker) Verify(set *SignatureCheckSet) {
	size := set.Size()
	if len(set.Verifications) < size {
		set.Verifications = make([]bool, size)
	}

	if size <= signatureCheckBatch {
		checker.verifyRange(set, 0, size)
		return
	}

	var group errgroup.Group
	group.SetLimit(checker.threads)
	for start := 0; start < size; start += signatureCheckBatch {
		start, end := start, min(start+signatureCheckBatch, size)
		group.Go(func() error {
			checker.verifyRange(set, start, end)
			return nil
		})
	}

	group.Wait()
}

func (checker *SignatureChecker) verifyRange(set *SignatureCheckSet, start int, end int) {
	for i := start; i < end; i++ {
		set.Verifications[i] = ed25519.Verify(set.PublicKeys[i].ToPublicKey(), set.Messages[i], set.Signatures[i][:])
	}
}
