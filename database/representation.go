package database

import (
	"github.com/tundak/nano-node-sub003/types"
)

// GetRepresentation returns the weight delegated to representative, zero when
// it has none.
func (txn *Transaction) GetRepresentation(representative types.Address) (types.Amount, error) {
	value, err := txn.get(TABLE_REPRESENTATION, representative[:])
	if err == ErrNotFound {
		return types.Amount{}, nil
	}

	if err != nil {
		return types.Amount{}, err
	}

	return types.AmountFromBytesBE(value), nil
}

func (txn *Transaction) PutRepresentation(representative types.Address, weight types.Amount) error {
	if weight.IsZero() {
		return txn.del(TABLE_REPRESENTATION, representative[:])
	}

	return txn.put(TABLE_REPRESENTATION, representative[:], weight.Bytes())
}

func (txn *Transaction) AddRepresentation(representative types.Address, delta types.Amount) error {
	weight, err := txn.GetRepresentation(representative)
	if err != nil {
		return err
	}

	return txn.PutRepresentation(representative, weight.Add(delta))
}

func (txn *Transaction) SubRepresentation(representative types.Address, delta types.Amount) error {
	weight, err := txn.GetRepresentation(representative)
	if err != nil {
		return err
	}

	return txn.PutRepresentation(representative, weight.Sub(delta))
}

func (txn *Transaction) IterateRepresentation(fn func(representative types.Address, weight types.Amount) bool) error {
	return txn.iterate(TABLE_REPRESENTATION, nil, true, func(key []byte, value []byte) (bool, error) {
		var representative types.Address
		copy(representative[:], key)

		return fn(representative, types.AmountFromBytesBE(value)), nil
	})
}
