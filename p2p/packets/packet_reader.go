package packets

import (
	"bufio"
	"io"

	"github.com/pkg/errors"
	"github.com/tundak/nano-node-sub003/types"
)

type PacketReader struct {
	Buffer *bufio.Reader
}

func (reader *PacketReader) ReadHeader() (Header, error) {
	data := make([]byte, HeaderSize)
	if _, err := io.ReadFull(reader, data); err != nil {
		return Header{}, err
	}

	return DeserializeHeader(data)
}

func (reader *PacketReader) ReadAddress() (types.Address, error) {
	var address types.Address
	_, err := io.ReadFull(reader, address[:])

	return address, err
}

func (reader *PacketReader) ReadSignature() (types.Signature, error) {
	var signature types.Signature
	_, err := io.ReadFull(reader, signature[:])

	return signature, err
}

func (reader *PacketReader) ReadHash() (types.Hash, error) {
	var hash types.Hash
	_, err := io.ReadFull(reader, hash[:])

	return hash, err
}

func (reader *PacketReader) ReadAmount() (types.Amount, error) {
	var amount types.Amount
	_, err := io.ReadFull(reader, amount[:])

	return amount, err
}

func (reader *PacketReader) ReadBlock(blockType types.BlockType) (*types.Block, error) {
	size, err := blockSize(blockType)
	if err != nil {
		return nil, err
	}

	block_data := make([]byte, size)
	if _, err := io.ReadFull(reader, block_data); err != nil {
		return nil, err
	}

	return types.DeserializeBlock(blockType, block_data)
}

// ReadHashPairs reads the (hash, root) list of a confirm_req by hash.
func (reader *PacketReader) ReadHashPairs(count uint) ([]types.HashPair, error) {
	if count == 0 {
		return nil, errors.Wrap(ErrInvalidHeader, "confirm_req without hashes")
	}

	pairs := make([]types.HashPair, count)
	for i := range pairs {
		data := make([]byte, 64)
		if _, err := io.ReadFull(reader, data); err != nil {
			return nil, err
		}

		pairs[i].FromSlice(data)
	}

	return pairs, nil
}

// ReadVote reads a confirm_ack body. A vote carrying a full block is returned
// with that block, voting for its hash.
func (reader *PacketReader) ReadVote(header *Header) (*types.Vote, *types.Block, error) {
	size, err := header.PayloadSize()
	if err != nil {
		return nil, nil, err
	}

	if header.Extension.BlockType() == types.BLOCK_TYPE_NOT_A_BLOCK {
		data := make([]byte, size)
		if _, err := io.ReadFull(reader, data); err != nil {
			return nil, nil, err
		}

		vote, err := types.DeserializeVote(data)

		return vote, nil, err
	}

	prefix := make([]byte, 32+64+8)
	if _, err := io.ReadFull(reader, prefix); err != nil {
		return nil, nil, err
	}

	block, err := reader.ReadBlock(header.Extension.BlockType())
	if err != nil {
		return nil, nil, err
	}

	hash := block.Hash()
	vote, err := types.DeserializeVote(append(prefix, hash[:]...))

	return vote, block, err
}

func (reader PacketReader) Read(p []byte) (int, error) {
	return reader.Buffer.Read(p)
}

func (reader PacketReader) ReadByte() (byte, error) {
	return reader.Buffer.ReadByte()
}
