package types

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
	"github.com/shryder/ed25519-blake2b"
	"golang.org/x/crypto/blake2b"
)

type BlockType byte

const (
	BLOCK_TYPE_INVALID     BlockType = 0x00
	BLOCK_TYPE_NOT_A_BLOCK BlockType = 0x01
	BLOCK_TYPE_SEND        BlockType = 0x02
	BLOCK_TYPE_RECEIVE     BlockType = 0x03
	BLOCK_TYPE_OPEN        BlockType = 0x04
	BLOCK_TYPE_CHANGE      BlockType = 0x05
	BLOCK_TYPE_STATE       BlockType = 0x06
)

var ErrInvalidBlockType = errors.New("invalid block type")

func (blockType BlockType) String() string {
	switch blockType {
	case BLOCK_TYPE_NOT_A_BLOCK:
		return "not_a_block"
	case BLOCK_TYPE_SEND:
		return "send"
	case BLOCK_TYPE_RECEIVE:
		return "receive"
	case BLOCK_TYPE_OPEN:
		return "open"
	case BLOCK_TYPE_CHANGE:
		return "change"
	case BLOCK_TYPE_STATE:
		return "state"
	}

	return "invalid"
}

func (blockType BlockType) MarshalText() ([]byte, error) {
	return []byte(blockType.String()), nil
}

func (blockType *BlockType) UnmarshalText(data []byte) error {
	for _, candidate := range []BlockType{BLOCK_TYPE_SEND, BLOCK_TYPE_RECEIVE, BLOCK_TYPE_OPEN, BLOCK_TYPE_CHANGE, BLOCK_TYPE_STATE} {
		if candidate.String() == string(data) {
			*blockType = candidate
			return nil
		}
	}

	return errors.Wrap(ErrInvalidBlockType, string(data))
}

// Size is the serialized size of a block body on the wire and on disk.
func (blockType BlockType) Size() uint {
	switch blockType {
	case BLOCK_TYPE_SEND:
		return 152
	case BLOCK_TYPE_RECEIVE:
		return 136
	case BLOCK_TYPE_OPEN:
		return 168
	case BLOCK_TYPE_CHANGE:
		return 136
	case BLOCK_TYPE_STATE:
		return 216
	}

	return 0
}

// Block holds every block variant. Fields a variant doesn't carry stay zero:
//
//	send:    Previous, Link (destination), Balance
//	receive: Previous, Link (source)
//	open:    Link (source), Representative, Account
//	change:  Previous, Representative
//	state:   all of them
type Block struct {
	Type           BlockType `json:"type"`
	Account        Address   `json:"account"`
	Previous       Hash      `json:"previous"`
	Representative Address   `json:"representative"`
	Balance        Amount    `json:"balance"`
	Link           Link      `json:"link"`
	Signature      Signature `json:"signature"`
	Work           Work      `json:"work"`

	Sideband *Sideband `json:"-"`
}

var statePreamble = func() []byte {
	preamble := make([]byte, 32)
	preamble[31] = byte(BLOCK_TYPE_STATE)

	return preamble
}()

func (block *Block) Hash() Hash {
	b2b_hash, _ := blake2b.New256(nil)

	switch block.Type {
	case BLOCK_TYPE_SEND:
		b2b_hash.Write(block.Previous[:])
		b2b_hash.Write(block.Link[:])
		b2b_hash.Write(block.Balance[:])
	case BLOCK_TYPE_RECEIVE:
		b2b_hash.Write(block.Previous[:])
		b2b_hash.Write(block.Link[:])
	case BLOCK_TYPE_OPEN:
		b2b_hash.Write(block.Link[:])
		b2b_hash.Write(block.Representative[:])
		b2b_hash.Write(block.Account[:])
	case BLOCK_TYPE_CHANGE:
		b2b_hash.Write(block.Previous[:])
		b2b_hash.Write(block.Representative[:])
	case BLOCK_TYPE_STATE:
		b2b_hash.Write(statePreamble)
		b2b_hash.Write(block.Account[:])
		b2b_hash.Write(block.Previous[:])
		b2b_hash.Write(block.Representative[:])
		b2b_hash.Write(block.Balance[:])
		b2b_hash.Write(block.Link[:])
	}

	var hash Hash
	copy(hash[:], b2b_hash.Sum(nil))

	return hash
}

func (block *Block) IsOpenBlock() bool {
	return block.Type == BLOCK_TYPE_OPEN || (block.Type == BLOCK_TYPE_STATE && block.Previous.IsZero())
}

func (block *Block) IsLegacy() bool {
	return block.Type != BLOCK_TYPE_STATE
}

// Root is the previous hash, or the account for the first block of a chain.
func (block *Block) Root() Hash {
	if block.Type == BLOCK_TYPE_OPEN || block.Previous.IsZero() {
		return Hash(block.Account)
	}

	return block.Previous
}

func (block *Block) QualifiedRoot() QualifiedRoot {
	return NewQualifiedRoot(block.Root(), block.Previous)
}

// Source is the hash being received by legacy receive and open blocks.
// State blocks need ledger context to know whether their link is a source.
func (block *Block) Source() Hash {
	if block.Type == BLOCK_TYPE_RECEIVE || block.Type == BLOCK_TYPE_OPEN {
		return block.Link.AsHash()
	}

	return Hash{}
}

func (block *Block) Destination() Address {
	if block.Type == BLOCK_TYPE_SEND {
		return block.Link.AsAddress()
	}

	return Address{}
}

func (block *Block) HasRepresentative() bool {
	return block.Type == BLOCK_TYPE_OPEN || block.Type == BLOCK_TYPE_CHANGE || block.Type == BLOCK_TYPE_STATE
}

func (block *Block) HasBalance() bool {
	return block.Type == BLOCK_TYPE_SEND || block.Type == BLOCK_TYPE_STATE
}

func (block *Block) Serialize() []byte {
	data := make([]byte, 0, block.Type.Size())

	switch block.Type {
	case BLOCK_TYPE_SEND:
		data = append(data, block.Previous[:]...)
		data = append(data, block.Link[:]...)
		data = append(data, block.Balance[:]...)
		data = append(data, block.Signature[:]...)
		data = binary.LittleEndian.AppendUint64(data, uint64(block.Work))
	case BLOCK_TYPE_RECEIVE:
		data = append(data, block.Previous[:]...)
		data = append(data, block.Link[:]...)
		data = append(data, block.Signature[:]...)
		data = binary.LittleEndian.AppendUint64(data, uint64(block.Work))
	case BLOCK_TYPE_OPEN:
		data = append(data, block.Link[:]...)
		data = append(data, block.Representative[:]...)
		data = append(data, block.Account[:]...)
		data = append(data, block.Signature[:]...)
		data = binary.LittleEndian.AppendUint64(data, uint64(block.Work))
	case BLOCK_TYPE_CHANGE:
		data = append(data, block.Previous[:]...)
		data = append(data, block.Representative[:]...)
		data = append(data, block.Signature[:]...)
		data = binary.LittleEndian.AppendUint64(data, uint64(block.Work))
	case BLOCK_TYPE_STATE:
		data = append(data, block.Account[:]...)
		data = append(data, block.Previous[:]...)
		data = append(data, block.Representative[:]...)
		data = append(data, block.Balance[:]...)
		data = append(data, block.Link[:]...)
		data = append(data, block.Signature[:]...)
		data = binary.BigEndian.AppendUint64(data, uint64(block.Work))
	}

	return data
}

func DeserializeBlock(blockType BlockType, data []byte) (*Block, error) {
	if blockType.Size() == 0 {
		return nil, errors.Wrapf(ErrInvalidBlockType, "type %d", blockType)
	}

	if uint(len(data)) != blockType.Size() {
		return nil, errors.Errorf("%s block must be %d bytes, got %d", blockType, blockType.Size(), len(data))
	}

	block := &Block{Type: blockType}

	switch blockType {
	case BLOCK_TYPE_SEND:
		copy(block.Previous[:], data[0:32])
		copy(block.Link[:], data[32:64])
		copy(block.Balance[:], data[64:80])
		copy(block.Signature[:], data[80:144])
		block.Work = Work(binary.LittleEndian.Uint64(data[144:152]))
	case BLOCK_TYPE_RECEIVE:
		copy(block.Previous[:], data[0:32])
		copy(block.Link[:], data[32:64])
		copy(block.Signature[:], data[64:128])
		block.Work = Work(binary.LittleEndian.Uint64(data[128:136]))
	case BLOCK_TYPE_OPEN:
		copy(block.Link[:], data[0:32])
		copy(block.Representative[:], data[32:64])
		copy(block.Account[:], data[64:96])
		copy(block.Signature[:], data[96:160])
		block.Work = Work(binary.LittleEndian.Uint64(data[160:168]))
	case BLOCK_TYPE_CHANGE:
		copy(block.Previous[:], data[0:32])
		copy(block.Representative[:], data[32:64])
		copy(block.Signature[:], data[64:128])
		block.Work = Work(binary.LittleEndian.Uint64(data[128:136]))
	case BLOCK_TYPE_STATE:
		copy(block.Account[:], data[0:32])
		copy(block.Previous[:], data[32:64])
		copy(block.Representative[:], data[64:96])
		copy(block.Balance[:], data[96:112])
		copy(block.Link[:], data[112:144])
		copy(block.Signature[:], data[144:208])
		block.Work = Work(binary.BigEndian.Uint64(data[208:216]))
	}

	return block, nil
}

func (block *Block) Sign(private_key ed25519.PrivateKey) {
	hash := block.Hash()
	copy(block.Signature[:], ed25519.Sign(private_key, hash[:]))
}

func (block *Block) VerifySignature(signer Address) bool {
	hash := block.Hash()

	return ed25519.Verify(signer.ToPublicKey(), hash[:], block.Signature[:])
}

// Clone returns a copy that doesn't share the sideband.
func (block *Block) Clone() *Block {
	clone := *block
	if block.Sideband != nil {
		sideband := *block.Sideband
		clone.Sideband = &sideband
	}

	return &clone
}

func (block *Block) String() string {
	return fmt.Sprintf("%s block %s", block.Type, block.Hash().ToHexString())
}
