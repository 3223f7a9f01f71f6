package database

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/tundak/nano-node-sub003/types"
	"github.com/vmihailenco/msgpack"
)

type onlineWeightRecord struct {
	Weight []byte `msgpack:"w"`
}

func (txn *Transaction) PutOnlineWeight(timestamp uint64, weight types.Amount) error {
	value, err := msgpack.Marshal(&onlineWeightRecord{Weight: weight.Bytes()})
	if err != nil {
		return err
	}

	return txn.put(TABLE_ONLINE_WEIGHT, binary.BigEndian.AppendUint64(nil, timestamp), value)
}

func (txn *Transaction) DeleteOnlineWeight(timestamp uint64) error {
	return txn.del(TABLE_ONLINE_WEIGHT, binary.BigEndian.AppendUint64(nil, timestamp))
}

// IterateOnlineWeight visits samples oldest first.
func (txn *Transaction) IterateOnlineWeight(fn func(timestamp uint64, weight types.Amount) bool) error {
	return txn.iterate(TABLE_ONLINE_WEIGHT, nil, true, func(key []byte, value []byte) (bool, error) {
		var record onlineWeightRecord
		if err := msgpack.Unmarshal(value, &record); err != nil {
			return false, errors.Wrap(err, "decoding online weight sample")
		}

		return fn(binary.BigEndian.Uint64(key), types.AmountFromBytesBE(record.Weight)), nil
	})
}

func (txn *Transaction) OnlineWeightCount() (uint64, error) {
	return txn.count(TABLE_ONLINE_WEIGHT)
}
