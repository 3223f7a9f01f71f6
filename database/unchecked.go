package database

import (
	"github.com/pkg/errors"
	"github.com/tundak/nano-node-sub003/types"
	"github.com/vmihailenco/msgpack"
)

type uncheckedRecord struct {
	Type     byte   `msgpack:"t"`
	Block    []byte `msgpack:"b"`
	Account  []byte `msgpack:"a"`
	Modified uint64 `msgpack:"m"`
	Verified byte   `msgpack:"v"`
}

func encodeUnchecked(info *types.UncheckedInfo) ([]byte, error) {
	return msgpack.Marshal(&uncheckedRecord{
		Type:     byte(info.Block.Type),
		Block:    info.Block.Serialize(),
		Account:  info.Account[:],
		Modified: info.Modified,
		Verified: byte(info.Verified),
	})
}

func decodeUnchecked(value []byte) (*types.UncheckedInfo, error) {
	var record uncheckedRecord
	if err := msgpack.Unmarshal(value, &record); err != nil {
		return nil, errors.Wrap(err, "decoding unchecked row")
	}

	block, err := types.DeserializeBlock(types.BlockType(record.Type), record.Block)
	if err != nil {
		return nil, err
	}

	info := &types.UncheckedInfo{
		Block:    block,
		Modified: record.Modified,
		Verified: types.SignatureVerification(record.Verified),
	}
	copy(info.Account[:], record.Account)

	return info, nil
}

func uncheckedKey(dependency types.Hash, hash types.Hash) []byte {
	return append(append(make([]byte, 0, 64), dependency[:]...), hash[:]...)
}

// PutUnchecked parks info under the hash it is waiting for.
func (txn *Transaction) PutUnchecked(dependency types.Hash, info *types.UncheckedInfo) error {
	value, err := encodeUnchecked(info)
	if err != nil {
		return err
	}

	return txn.put(TABLE_UNCHECKED, uncheckedKey(dependency, info.Block.Hash()), value)
}

// GetUnchecked returns every block waiting on dependency.
func (txn *Transaction) GetUnchecked(dependency types.Hash) ([]*types.UncheckedInfo, error) {
	var result []*types.UncheckedInfo
	err := txn.iterate(TABLE_UNCHECKED, dependency[:], true, func(_ []byte, value []byte) (bool, error) {
		info, err := decodeUnchecked(value)
		if err != nil {
			return false, err
		}

		result = append(result, info)

		return true, nil
	})

	return result, err
}

func (txn *Transaction) DeleteUnchecked(dependency types.Hash, hash types.Hash) error {
	return txn.del(TABLE_UNCHECKED, uncheckedKey(dependency, hash))
}

func (txn *Transaction) UncheckedExists(dependency types.Hash, hash types.Hash) (bool, error) {
	return txn.exists(TABLE_UNCHECKED, uncheckedKey(dependency, hash))
}

func (txn *Transaction) UncheckedCount() (uint64, error) {
	return txn.count(TABLE_UNCHECKED)
}

// IterateUnchecked visits every parked block with the hash it waits for.
func (txn *Transaction) IterateUnchecked(fn func(dependency types.Hash, info *types.UncheckedInfo) bool) error {
	return txn.iterate(TABLE_UNCHECKED, nil, true, func(key []byte, value []byte) (bool, error) {
		info, err := decodeUnchecked(value)
		if err != nil {
			return false, err
		}

		var dependency types.Hash
		copy(dependency[:], key[:32])

		return fn(dependency, info), nil
	})
}
