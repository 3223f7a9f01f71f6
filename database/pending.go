package database

import (
	"github.com/tundak/nano-node-sub003/types"
)

func pendingTableFor(epoch types.Epoch) Table {
	if epoch == types.EPOCH_1 {
		return TABLE_PENDING_V1
	}

	return TABLE_PENDING_V0
}

func (txn *Transaction) GetPending(key types.PendingKey) (*types.PendingInfo, error) {
	for _, epoch := range []types.Epoch{types.EPOCH_0, types.EPOCH_1} {
		value, err := txn.get(pendingTableFor(epoch), key.Serialize())
		if err == ErrNotFound {
			continue
		}

		if err != nil {
			return nil, err
		}

		info, err := types.DeserializePendingInfo(value, epoch)
		if err != nil {
			return nil, err
		}

		return &info, nil
	}

	return nil, ErrNotFound
}

func (txn *Transaction) PutPending(key types.PendingKey, info types.PendingInfo) error {
	return txn.put(pendingTableFor(info.Epoch), key.Serialize(), info.Serialize())
}

func (txn *Transaction) DeletePending(key types.PendingKey) error {
	if err := txn.del(TABLE_PENDING_V0, key.Serialize()); err != nil {
		return err
	}

	return txn.del(TABLE_PENDING_V1, key.Serialize())
}

func (txn *Transaction) PendingExists(key types.PendingKey) (bool, error) {
	exists, err := txn.exists(TABLE_PENDING_V0, key.Serialize())
	if err != nil || exists {
		return exists, err
	}

	return txn.exists(TABLE_PENDING_V1, key.Serialize())
}

// IteratePending visits the unreceived sends to account, v0 then v1.
func (txn *Transaction) IteratePending(account types.Address, fn func(key types.PendingKey, info types.PendingInfo) bool) error {
	return txn.iteratePending(account[:], fn)
}

func (txn *Transaction) iteratePending(prefix []byte, fn func(key types.PendingKey, info types.PendingInfo) bool) error {
	for _, epoch := range []types.Epoch{types.EPOCH_0, types.EPOCH_1} {
		stopped := false

		err := txn.iterate(pendingTableFor(epoch), prefix, true, func(key []byte, value []byte) (bool, error) {
			pending_key, err := types.DeserializePendingKey(key)
			if err != nil {
				return false, err
			}

			info, err := types.DeserializePendingInfo(value, epoch)
			if err != nil {
				return false, err
			}

			stopped = !fn(pending_key, info)

			return !stopped, nil
		})

		if err != nil || stopped {
			return err
		}
	}

	return nil
}

func (txn *Transaction) AnyPending(account types.Address) (bool, error) {
	found := false
	err := txn.IteratePending(account, func(types.PendingKey, types.PendingInfo) bool {
		found = true
		return false
	})

	return found, err
}

// IterateUnreceived visits every pending row regardless of destination.
func (txn *Transaction) IterateUnreceived(fn func(key types.PendingKey, info types.PendingInfo) bool) error {
	return txn.iteratePending(nil, fn)
}
