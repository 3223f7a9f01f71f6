package database

import (
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/pkg/errors"
)

// Transaction wraps a badger transaction. Read transactions see a snapshot,
// write transactions additionally hold the store's WriteMutex until they are
// committed or discarded.
type Transaction struct {
	db    *Database
	txn   *badger.Txn
	write bool
	done  bool

	started time.Time
	stack   []byte
}

func (db *Database) TxBeginRead() *Transaction {
	return &Transaction{
		db:      db,
		txn:     db.Badger.NewTransaction(false),
		started: time.Now(),
	}
}

func (db *Database) TxBeginWrite() *Transaction {
	db.WriteMutex.Lock()

	txn := &Transaction{
		db:      db,
		txn:     db.Badger.NewTransaction(true),
		write:   true,
		started: time.Now(),
	}
	db.tracker.begin(txn)

	return txn
}

func (txn *Transaction) IsWrite() bool {
	return txn.write
}

// Commit persists a write transaction. For read transactions it only releases
// the snapshot.
func (txn *Transaction) Commit() error {
	if txn.done {
		return nil
	}

	txn.done = true
	if !txn.write {
		txn.txn.Discard()
		return nil
	}

	defer txn.db.WriteMutex.Unlock()
	defer txn.db.tracker.end(txn)

	return errors.Wrap(txn.txn.Commit(), "committing write transaction")
}

func (txn *Transaction) Discard() {
	if txn.done {
		return
	}

	txn.done = true
	txn.txn.Discard()

	if txn.write {
		txn.db.tracker.end(txn)
		txn.db.WriteMutex.Unlock()
	}
}

// Renew moves a read transaction to the latest snapshot.
func (txn *Transaction) Renew() {
	if txn.write {
		panic("Renew called on a write transaction")
	}

	txn.txn.Discard()
	txn.txn = txn.db.Badger.NewTransaction(false)
	txn.started = time.Now()
	txn.done = false
}

// Refresh renews a read transaction that has been open longer than max.
func (txn *Transaction) Refresh(max time.Duration) {
	if !txn.write && time.Since(txn.started) > max {
		txn.Renew()
	}
}

func (txn *Transaction) get(table Table, key []byte) ([]byte, error) {
	item, err := txn.txn.Get(table.Key(key))
	if err == badger.ErrKeyNotFound {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", table)
	}

	return item.ValueCopy(nil)
}

func (txn *Transaction) exists(table Table, key []byte) (bool, error) {
	_, err := txn.txn.Get(table.Key(key))
	if err == badger.ErrKeyNotFound {
		return false, nil
	}

	if err != nil {
		return false, errors.Wrapf(err, "reading %s", table)
	}

	return true, nil
}

func (txn *Transaction) put(table Table, key []byte, value []byte) error {
	if !txn.write {
		return ErrReadOnlyTxn
	}

	return errors.Wrapf(txn.txn.Set(table.Key(key), value), "writing %s", table)
}

func (txn *Transaction) del(table Table, key []byte) error {
	if !txn.write {
		return ErrReadOnlyTxn
	}

	return errors.Wrapf(txn.txn.Delete(table.Key(key)), "deleting from %s", table)
}

// iterate walks every row of table whose key starts with prefix, in key order.
// The key passed to fn has the table byte stripped. Returning false stops.
func (txn *Transaction) iterate(table Table, prefix []byte, values bool, fn func(key []byte, value []byte) (bool, error)) error {
	options := badger.DefaultIteratorOptions
	options.PrefetchValues = values
	options.Prefix = table.Key(prefix)

	it := txn.txn.NewIterator(options)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		key := item.KeyCopy(nil)[1:]

		var value []byte
		if values {
			var err error
			value, err = item.ValueCopy(nil)
			if err != nil {
				return errors.Wrapf(err, "reading %s", table)
			}
		}

		more, err := fn(key, value)
		if err != nil {
			return err
		}

		if !more {
			break
		}
	}

	return nil
}

// seek returns the first row of table at or after key.
func (txn *Transaction) seek(table Table, key []byte) ([]byte, []byte, error) {
	options := badger.DefaultIteratorOptions
	options.Prefix = []byte{byte(table)}

	it := txn.txn.NewIterator(options)
	defer it.Close()

	it.Seek(table.Key(key))
	if !it.Valid() {
		return nil, nil, ErrNotFound
	}

	value, err := it.Item().ValueCopy(nil)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "reading %s", table)
	}

	return it.Item().KeyCopy(nil)[1:], value, nil
}

func (txn *Transaction) count(table Table) (uint64, error) {
	var count uint64
	err := txn.iterate(table, nil, false, func([]byte, []byte) (bool, error) {
		count++
		return true, nil
	})

	return count, err
}
