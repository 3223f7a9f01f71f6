package database

import (
	"time"

	"github.com/pkg/errors"
	"github.com/tundak/nano-node-sub003/params"
	"github.com/tundak/nano-node-sub003/types"
)

const (
	STORE_VERSION_V1      uint64 = 1
	STORE_VERSION_V5      uint64 = 5
	STORE_VERSION_V13     uint64 = 13
	STORE_VERSION_CURRENT uint64 = 14
)

// Rows rewritten per write transaction while upgrading, badger refuses
// transactions that grow too large.
const migrationBatchSize = 1000

// Initialize seeds the genesis block, account and weight into an empty store.
// It does nothing on a store that already carries a version.
func (db *Database) Initialize(genesis params.Genesis) error {
	txn := db.TxBeginWrite()
	defer txn.Discard()

	_, err := txn.GetVersion()
	if err == nil {
		return nil
	}

	if err != ErrNotFound {
		return err
	}

	block := genesis.Block.Clone()
	block.Sideband = &types.Sideband{
		Account:   genesis.Account,
		Balance:   genesis.Amount,
		Height:    1,
		Timestamp: uint64(time.Now().Unix()),
		Epoch:     types.EPOCH_0,
	}

	if err := txn.PutBlock(block); err != nil {
		return err
	}

	err = txn.PutAccountInfo(genesis.Account, &types.AccountInfo{
		Head:               genesis.Hash,
		OpenBlock:          genesis.Hash,
		Representative:     genesis.Account,
		Balance:            genesis.Amount,
		Modified:           block.Sideband.Timestamp,
		BlockCount:         1,
		ConfirmationHeight: 1,
		Epoch:              types.EPOCH_0,
	})
	if err != nil {
		return err
	}

	if err := txn.PutRepresentation(genesis.Account, genesis.Amount); err != nil {
		return err
	}

	if err := txn.PutVersion(STORE_VERSION_CURRENT); err != nil {
		return err
	}

	db.logger.Infof("Seeded genesis %s", genesis.Hash)

	return txn.Commit()
}

// upgrade brings an existing store to STORE_VERSION_CURRENT, one step at a time.
func (db *Database) upgrade() error {
	txn := db.TxBeginRead()
	version, err := txn.GetVersion()
	txn.Discard()

	if err == ErrNotFound {
		return nil
	}

	if err != nil {
		return err
	}

	if version > STORE_VERSION_CURRENT {
		return errors.Wrapf(ErrVersionTooHigh, "store is at version %d, max supported is %d", version, STORE_VERSION_CURRENT)
	}

	if version < STORE_VERSION_V5 {
		db.logger.Infof("Upgrading store from v%d to v%d", version, STORE_VERSION_V5)
		if err := db.rewriteAccounts(STORE_VERSION_V5, upgradeAccountV1); err != nil {
			return errors.Wrap(err, "v1 -> v5")
		}
	}

	if version < STORE_VERSION_V13 {
		db.logger.Infof("Upgrading store to v%d", STORE_VERSION_V13)
		if err := db.rewriteAccounts(STORE_VERSION_V13, upgradeAccountV5); err != nil {
			return errors.Wrap(err, "v5 -> v13")
		}
	}

	if version < STORE_VERSION_CURRENT {
		db.logger.Infof("Upgrading store to v%d", STORE_VERSION_CURRENT)
		if err := db.rewriteAccounts(STORE_VERSION_CURRENT, upgradeAccountV13); err != nil {
			return errors.Wrap(err, "v13 -> current")
		}
	}

	return nil
}

type accountUpgrader func(txn *Transaction, value []byte, epoch types.Epoch) ([]byte, error)

type accountRow struct {
	table Table
	epoch types.Epoch
	key   []byte
	value []byte
}

// rewriteAccounts converts every row of both account tables with upgrader,
// leaving each row in the table it was read from, then stamps the store with
// version.
func (db *Database) rewriteAccounts(version uint64, upgrader accountUpgrader) error {
	var rows []accountRow

	read := db.TxBeginRead()
	for _, epoch := range []types.Epoch{types.EPOCH_0, types.EPOCH_1} {
		table := accountsTableFor(epoch)

		err := read.iterate(table, nil, true, func(key []byte, value []byte) (bool, error) {
			rows = append(rows, accountRow{table: table, epoch: epoch, key: key, value: value})
			return true, nil
		})
		if err != nil {
			read.Discard()
			return err
		}
	}
	read.Discard()

	for start := 0; start < len(rows); start += migrationBatchSize {
		end := start + migrationBatchSize
		if end > len(rows) {
			end = len(rows)
		}

		if err := db.rewriteAccountBatch(rows[start:end], upgrader); err != nil {
			return err
		}
	}

	txn := db.TxBeginWrite()
	defer txn.Discard()

	if err := txn.PutVersion(version); err != nil {
		return err
	}

	return txn.Commit()
}

func (db *Database) rewriteAccountBatch(rows []accountRow, upgrader accountUpgrader) error {
	txn := db.TxBeginWrite()
	defer txn.Discard()

	for _, row := range rows {
		upgraded, err := upgrader(txn, row.value, row.epoch)
		if err != nil {
			return errors.Wrapf(ErrMigration, "account %X in %s: %s", row.key, row.table, err)
		}

		if err := txn.put(row.table, row.key, upgraded); err != nil {
			return err
		}
	}

	return txn.Commit()
}

// chainWalk follows previous links from head down to the open block and
// returns the open block hash and the number of blocks seen.
func chainWalk(txn *Transaction, head types.Hash) (types.Hash, uint64, error) {
	var count uint64

	current := head
	for {
		block, err := txn.GetBlock(current)
		if err != nil {
			return types.Hash{}, 0, errors.Wrapf(err, "walking chain at %s", current)
		}

		count++
		if block.IsOpenBlock() {
			return current, count, nil
		}

		current = block.Previous
	}
}

func upgradeAccountV1(txn *Transaction, value []byte, epoch types.Epoch) ([]byte, error) {
	old, err := types.DeserializeAccountInfoV1(value)
	if err != nil {
		return nil, err
	}

	open, _, err := chainWalk(txn, old.Head)
	if err != nil {
		return nil, err
	}

	upgraded := &types.AccountInfoV5{
		Head:      old.Head,
		RepBlock:  old.RepBlock,
		OpenBlock: open,
		Balance:   old.Balance,
		Modified:  old.Modified,
	}

	return upgraded.Serialize(), nil
}

func upgradeAccountV5(txn *Transaction, value []byte, epoch types.Epoch) ([]byte, error) {
	old, err := types.DeserializeAccountInfoV5(value)
	if err != nil {
		return nil, err
	}

	_, count, err := chainWalk(txn, old.Head)
	if err != nil {
		return nil, err
	}

	upgraded := &types.AccountInfoV13{
		Head:       old.Head,
		RepBlock:   old.RepBlock,
		OpenBlock:  old.OpenBlock,
		Balance:    old.Balance,
		Modified:   old.Modified,
		BlockCount: count,
	}

	return upgraded.Serialize(), nil
}

// The v13 layout has no epoch field, the table a row sits in is its epoch.
func upgradeAccountV13(txn *Transaction, value []byte, epoch types.Epoch) ([]byte, error) {
	old, err := types.DeserializeAccountInfoV13(value)
	if err != nil {
		return nil, err
	}

	rep_block, err := txn.GetBlock(old.RepBlock)
	if err != nil {
		return nil, errors.Wrapf(err, "representative block %s", old.RepBlock)
	}

	upgraded := &types.AccountInfo{
		Head:               old.Head,
		OpenBlock:          old.OpenBlock,
		Representative:     rep_block.Representative,
		Balance:            old.Balance,
		Modified:           old.Modified,
		BlockCount:         old.BlockCount,
		ConfirmationHeight: 0,
		Epoch:              epoch,
	}

	return upgraded.Serialize(), nil
}
