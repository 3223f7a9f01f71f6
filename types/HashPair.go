package types

// HashPair is the (hash, root) couple carried by confirm_req packets.
type HashPair struct {
	Hash Hash
	Root Hash
}

func (pair *HashPair) FromSlice(b []byte) {
	copy(pair.Hash[:], b[0:32])
	copy(pair.Root[:], b[32:64])
}

func (pair *HashPair) ToSlice() []byte {
	return append(append(make([]byte, 0, 64), pair.Hash[:]...), pair.Root[:]...)
}

// QualifiedRoot identifies a contested position on an account chain: the root
// (previous, or the account for open blocks) followed by the previous hash.
type QualifiedRoot [64]byte

func NewQualifiedRoot(root Hash, previous Hash) QualifiedRoot {
	var qualified QualifiedRoot
	copy(qualified[:32], root[:])
	copy(qualified[32:], previous[:])

	return qualified
}

func (root QualifiedRoot) Root() Hash {
	var hash Hash
	copy(hash[:], root[:32])

	return hash
}

func (root QualifiedRoot) Previous() Hash {
	var hash Hash
	copy(hash[:], root[32:])

	return hash
}

func (root QualifiedRoot) String() string {
	return root.Root().ToHexString() + root.Previous().ToHexString()
}
