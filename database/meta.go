package database

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

var versionKey = []byte("version")

// GetVersion returns ErrNotFound on a store that was never initialized.
func (txn *Transaction) GetVersion() (uint64, error) {
	value, err := txn.get(TABLE_META, versionKey)
	if err != nil {
		return 0, err
	}

	if len(value) != 8 {
		return 0, errors.Errorf("corrupt version value of %d bytes", len(value))
	}

	return binary.BigEndian.Uint64(value), nil
}

func (txn *Transaction) PutVersion(version uint64) error {
	return txn.put(TABLE_META, versionKey, binary.BigEndian.AppendUint64(nil, version))
}
