package types

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

const SidebandSize = 32 + 32 + 16 + 8 + 8 + 1

// Sideband is stored next to every block so height, owner and successor lookups
// don't need a chain walk.
type Sideband struct {
	Successor Hash    `json:"successor"`
	Account   Address `json:"account"`
	Balance   Amount  `json:"balance"`
	Height    uint64  `json:"height"`
	Timestamp uint64  `json:"timestamp"`
	Epoch     Epoch   `json:"epoch"`
}

func (sideband *Sideband) Serialize() []byte {
	data := make([]byte, 0, SidebandSize)
	data = append(data, sideband.Successor[:]...)
	data = append(data, sideband.Account[:]...)
	data = append(data, sideband.Balance[:]...)
	data = binary.BigEndian.AppendUint64(data, sideband.Height)
	data = binary.BigEndian.AppendUint64(data, sideband.Timestamp)
	data = append(data, byte(sideband.Epoch))

	return data
}

func DeserializeSideband(data []byte) (*Sideband, error) {
	if len(data) != SidebandSize {
		return nil, errors.Errorf("sideband must be %d bytes, got %d", SidebandSize, len(data))
	}

	sideband := new(Sideband)
	copy(sideband.Successor[:], data[0:32])
	copy(sideband.Account[:], data[32:64])
	copy(sideband.Balance[:], data[64:80])
	sideband.Height = binary.BigEndian.Uint64(data[80:88])
	sideband.Timestamp = binary.BigEndian.Uint64(data[88:96])
	sideband.Epoch = Epoch(data[96])

	return sideband, nil
}
