package types

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/shryder/ed25519-blake2b"
	"golang.org/x/crypto/blake2b"
)

const MaxVoteHashes = 12

var votePrefix = []byte("vote ")

// Vote is a representative's signed endorsement of up to 12 block hashes.
// Only the highest sequence per representative counts.
type Vote struct {
	Account   Address   `json:"account"`
	Signature Signature `json:"signature"`
	Sequence  uint64    `json:"sequence"`
	Hashes    []Hash    `json:"blocks"`
}

func (vote *Vote) Hash() Hash {
	vote_hash, _ := blake2b.New256(nil)

	vote_hash.Write(votePrefix)
	for _, hash := range vote.Hashes {
		vote_hash.Write(hash[:])
	}

	sequence := make([]byte, 8)
	binary.LittleEndian.PutUint64(sequence, vote.Sequence)
	vote_hash.Write(sequence)

	var hash Hash
	copy(hash[:], vote_hash.Sum(nil))

	return hash
}

// FullHash also covers the signer and signature, two votes with the same
// content from different representatives differ here.
func (vote *Vote) FullHash() Hash {
	full_hash, _ := blake2b.New256(nil)

	hash := vote.Hash()
	full_hash.Write(hash[:])
	full_hash.Write(vote.Account[:])
	full_hash.Write(vote.Signature[:])

	var result Hash
	copy(result[:], full_hash.Sum(nil))

	return result
}

func (vote *Vote) Sign(private_key ed25519.PrivateKey) {
	hash := vote.Hash()
	copy(vote.Signature[:], ed25519.Sign(private_key, hash[:]))
}

// Validate reports whether the signature is valid for the vote's account.
func (vote *Vote) Validate() bool {
	hash := vote.Hash()

	return ed25519.Verify(vote.Account.ToPublicKey(), hash[:], vote.Signature[:])
}

func NewVote(keys *KeyPair, sequence uint64, hashes []Hash) *Vote {
	vote := &Vote{
		Account:  keys.Address,
		Sequence: sequence,
		Hashes:   append([]Hash(nil), hashes...),
	}
	vote.Sign(keys.PrivateKey)

	return vote
}

// Serialize writes the confirm_ack by-hash body: account, signature,
// little-endian sequence, then the hashes.
func (vote *Vote) Serialize() []byte {
	data := make([]byte, 0, 104+32*len(vote.Hashes))
	data = append(data, vote.Account[:]...)
	data = append(data, vote.Signature[:]...)
	data = binary.LittleEndian.AppendUint64(data, vote.Sequence)
	for _, hash := range vote.Hashes {
		data = append(data, hash[:]...)
	}

	return data
}

func DeserializeVote(data []byte) (*Vote, error) {
	if len(data) < 104+32 || (len(data)-104)%32 != 0 {
		return nil, errors.Errorf("malformed vote of %d bytes", len(data))
	}

	count := (len(data) - 104) / 32
	if count > MaxVoteHashes {
		return nil, errors.Errorf("vote carries %d hashes, max is %d", count, MaxVoteHashes)
	}

	vote := &Vote{Hashes: make([]Hash, count)}
	copy(vote.Account[:], data[0:32])
	copy(vote.Signature[:], data[32:96])
	vote.Sequence = binary.LittleEndian.Uint64(data[96:104])
	for i := 0; i < count; i++ {
		copy(vote.Hashes[i][:], data[104+32*i:136+32*i])
	}

	return vote, nil
}
