package database

import (
	"time"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack"
)

type peerRecord struct {
	LastSeen int64 `msgpack:"s"`
}

// AddNodeIPs records peers we successfully talked to.
func (db *Database) AddNodeIPs(addresses []string) error {
	txn := db.TxBeginWrite()
	defer txn.Discard()

	now := time.Now().Unix()
	for _, address := range addresses {
		value, err := msgpack.Marshal(&peerRecord{LastSeen: now})
		if err != nil {
			return err
		}

		if err := txn.put(TABLE_PEERS, []byte(address), value); err != nil {
			return err
		}
	}

	return txn.Commit()
}

// GetNodeIPs returns ip => last seen unix time.
func (db *Database) GetNodeIPs() (map[string]uint, error) {
	txn := db.TxBeginRead()
	defer txn.Discard()

	nodes := make(map[string]uint)
	err := txn.iterate(TABLE_PEERS, nil, true, func(key []byte, value []byte) (bool, error) {
		var record peerRecord
		if err := msgpack.Unmarshal(value, &record); err != nil {
			return false, errors.Wrap(err, "decoding peer row")
		}

		nodes[string(key)] = uint(record.LastSeen)

		return true, nil
	})

	return nodes, err
}

func (db *Database) DeleteNodeIP(address string) error {
	txn := db.TxBeginWrite()
	defer txn.Discard()

	if err := txn.del(TABLE_PEERS, []byte(address)); err != nil {
		return err
	}

	return txn.Commit()
}
