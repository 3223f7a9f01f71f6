package database

import (
	"github.com/tundak/nano-node-sub003/types"
)

func accountsTableFor(epoch types.Epoch) Table {
	if epoch == types.EPOCH_1 {
		return TABLE_ACCOUNTS_V1
	}

	return TABLE_ACCOUNTS_V0
}

func (txn *Transaction) GetAccountInfo(account types.Address) (*types.AccountInfo, error) {
	for _, epoch := range []types.Epoch{types.EPOCH_0, types.EPOCH_1} {
		value, err := txn.get(accountsTableFor(epoch), account[:])
		if err == ErrNotFound {
			continue
		}

		if err != nil {
			return nil, err
		}

		return types.DeserializeAccountInfo(value, epoch)
	}

	return nil, ErrNotFound
}

// PutAccountInfo writes the row into the table matching info.Epoch and removes
// it from the other one, so an account lives in exactly one table.
func (txn *Transaction) PutAccountInfo(account types.Address, info *types.AccountInfo) error {
	other := types.EPOCH_1
	if info.Epoch == types.EPOCH_1 {
		other = types.EPOCH_0
	}

	if err := txn.del(accountsTableFor(other), account[:]); err != nil {
		return err
	}

	return txn.put(accountsTableFor(info.Epoch), account[:], info.Serialize())
}

func (txn *Transaction) DeleteAccountInfo(account types.Address) error {
	if err := txn.del(TABLE_ACCOUNTS_V0, account[:]); err != nil {
		return err
	}

	return txn.del(TABLE_ACCOUNTS_V1, account[:])
}

func (txn *Transaction) AccountExists(account types.Address) (bool, error) {
	exists, err := txn.exists(TABLE_ACCOUNTS_V0, account[:])
	if err != nil || exists {
		return exists, err
	}

	return txn.exists(TABLE_ACCOUNTS_V1, account[:])
}

// IterateAccounts visits every account in both epoch tables.
func (txn *Transaction) IterateAccounts(fn func(account types.Address, info *types.AccountInfo) bool) error {
	for _, epoch := range []types.Epoch{types.EPOCH_0, types.EPOCH_1} {
		stopped := false

		err := txn.iterate(accountsTableFor(epoch), nil, true, func(key []byte, value []byte) (bool, error) {
			info, err := types.DeserializeAccountInfo(value, epoch)
			if err != nil {
				return false, err
			}

			var account types.Address
			copy(account[:], key)

			stopped = !fn(account, info)

			return !stopped, nil
		})

		if err != nil || stopped {
			return err
		}
	}

	return nil
}

func (txn *Transaction) AccountCount() (uint64, error) {
	v0, err := txn.count(TABLE_ACCOUNTS_V0)
	if err != nil {
		return 0, err
	}

	v1, err := txn.count(TABLE_ACCOUNTS_V1)

	return v0 + v1, err
}
