package types

// SignatureVerification records what the block processor already knows about
// a block's signature so the ledger can skip re-checking it.
type SignatureVerification byte

const (
	SIGNATURE_UNKNOWN SignatureVerification = iota
	SIGNATURE_INVALID
	SIGNATURE_VALID
	SIGNATURE_VALID_EPOCH
)

// UncheckedInfo is a block parked until the dependency it is keyed by arrives.
type UncheckedInfo struct {
	Block    *Block
	Account  Address
	Modified uint64
	Verified SignatureVerification
}
