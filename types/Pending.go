package types

import "github.com/pkg/errors"

// PendingKey addresses an unreceived send: the destination and the send hash.
type PendingKey struct {
	Account Address
	Hash    Hash
}

func (key PendingKey) Serialize() []byte {
	return append(append(make([]byte, 0, 64), key.Account[:]...), key.Hash[:]...)
}

func DeserializePendingKey(data []byte) (PendingKey, error) {
	var key PendingKey
	if len(data) != 64 {
		return key, errors.New("pending key must be 64 bytes")
	}

	copy(key.Account[:], data[:32])
	copy(key.Hash[:], data[32:])

	return key, nil
}

// PendingInfo is stored for a pending key. Epoch is implied by the table.
type PendingInfo struct {
	Source Address `json:"source"`
	Amount Amount  `json:"amount"`
	Epoch  Epoch   `json:"epoch"`
}

func (info PendingInfo) Serialize() []byte {
	return append(append(make([]byte, 0, 48), info.Source[:]...), info.Amount[:]...)
}

func DeserializePendingInfo(data []byte, epoch Epoch) (PendingInfo, error) {
	var info PendingInfo
	if len(data) != 48 {
		return info, errors.New("pending info must be 48 bytes")
	}

	copy(info.Source[:], data[:32])
	copy(info.Amount[:], data[32:])
	info.Epoch = epoch

	return info, nil
}
