package database

import (
	"crypto/rand"

	"github.com/pkg/errors"
	"github.com/tundak/nano-node-sub003/types"
)

func blockTableFor(block *types.Block) Table {
	switch block.Type {
	case types.BLOCK_TYPE_SEND:
		return TABLE_BLOCKS_SEND
	case types.BLOCK_TYPE_RECEIVE:
		return TABLE_BLOCKS_RECEIVE
	case types.BLOCK_TYPE_OPEN:
		return TABLE_BLOCKS_OPEN
	case types.BLOCK_TYPE_CHANGE:
		return TABLE_BLOCKS_CHANGE
	}

	if block.Sideband != nil && block.Sideband.Epoch == types.EPOCH_1 {
		return TABLE_BLOCKS_STATE_V1
	}

	return TABLE_BLOCKS_STATE_V0
}

func blockTypeFor(table Table) types.BlockType {
	switch table {
	case TABLE_BLOCKS_SEND:
		return types.BLOCK_TYPE_SEND
	case TABLE_BLOCKS_RECEIVE:
		return types.BLOCK_TYPE_RECEIVE
	case TABLE_BLOCKS_OPEN:
		return types.BLOCK_TYPE_OPEN
	case TABLE_BLOCKS_CHANGE:
		return types.BLOCK_TYPE_CHANGE
	}

	return types.BLOCK_TYPE_STATE
}

func decodeBlockRow(table Table, value []byte) (*types.Block, error) {
	blockType := blockTypeFor(table)
	size := int(blockType.Size())
	if len(value) != size+types.SidebandSize {
		return nil, errors.Errorf("corrupt %s row of %d bytes", table, len(value))
	}

	block, err := types.DeserializeBlock(blockType, value[:size])
	if err != nil {
		return nil, err
	}

	block.Sideband, err = types.DeserializeSideband(value[size:])
	if err != nil {
		return nil, err
	}

	return block, nil
}

// PutBlock stores a block together with its sideband, which must be set.
func (txn *Transaction) PutBlock(block *types.Block) error {
	if block.Sideband == nil {
		panic("PutBlock called without a sideband")
	}

	hash := block.Hash()
	value := append(block.Serialize(), block.Sideband.Serialize()...)

	return txn.put(blockTableFor(block), hash[:], value)
}

func (txn *Transaction) getBlockRow(hash types.Hash) (Table, []byte, error) {
	for _, table := range blockTables {
		value, err := txn.get(table, hash[:])
		if err == ErrNotFound {
			continue
		}

		if err != nil {
			return 0, nil, err
		}

		return table, value, nil
	}

	return 0, nil, ErrNotFound
}

func (txn *Transaction) GetBlock(hash types.Hash) (*types.Block, error) {
	table, value, err := txn.getBlockRow(hash)
	if err != nil {
		return nil, err
	}

	return decodeBlockRow(table, value)
}

func (txn *Transaction) BlockExists(hash types.Hash) (bool, error) {
	for _, table := range blockTables {
		exists, err := txn.exists(table, hash[:])
		if err != nil || exists {
			return exists, err
		}
	}

	return false, nil
}

func (txn *Transaction) DeleteBlock(hash types.Hash) error {
	table, _, err := txn.getBlockRow(hash)
	if err != nil {
		return err
	}

	return txn.del(table, hash[:])
}

func (txn *Transaction) GetSuccessor(hash types.Hash) (types.Hash, error) {
	block, err := txn.GetBlock(hash)
	if err != nil {
		return types.Hash{}, err
	}

	return block.Sideband.Successor, nil
}

func (txn *Transaction) SetSuccessor(hash types.Hash, successor types.Hash) error {
	block, err := txn.GetBlock(hash)
	if err != nil {
		return errors.Wrapf(err, "setting successor of %s", hash)
	}

	block.Sideband.Successor = successor

	return txn.PutBlock(block)
}

func (txn *Transaction) ClearSuccessor(hash types.Hash) error {
	return txn.SetSuccessor(hash, types.Hash{})
}

func (txn *Transaction) BlockCount() (uint64, error) {
	var total uint64
	for _, table := range blockTables {
		count, err := txn.count(table)
		if err != nil {
			return 0, err
		}

		total += count
	}

	return total, nil
}

// RandomBlock seeks a random hash in a random block table.
func (txn *Transaction) RandomBlock() (*types.Block, error) {
	var seed [33]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return nil, err
	}

	for i := range blockTables {
		table := blockTables[(int(seed[32])+i)%len(blockTables)]

		_, value, err := txn.seek(table, seed[:32])
		if err == ErrNotFound {
			_, value, err = txn.seek(table, nil)
		}

		if err == ErrNotFound {
			continue
		}

		if err != nil {
			return nil, err
		}

		return decodeBlockRow(table, value)
	}

	return nil, ErrNotFound
}
