package types

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

type Epoch byte

const (
	EPOCH_0 Epoch = 0
	EPOCH_1 Epoch = 1
)

func (epoch Epoch) String() string {
	if epoch == EPOCH_1 {
		return "epoch_1"
	}

	return "epoch_0"
}

const AccountInfoSize = 32 + 32 + 32 + 16 + 8 + 8 + 8

// AccountInfo is the current on-disk account layout. Epoch is not serialized,
// it is implied by the table the row lives in.
type AccountInfo struct {
	Head               Hash    `json:"frontier"`
	OpenBlock          Hash    `json:"open_block"`
	Representative     Address `json:"representative"`
	Balance            Amount  `json:"balance"`
	Modified           uint64  `json:"modified_timestamp"`
	BlockCount         uint64  `json:"block_count"`
	ConfirmationHeight uint64  `json:"confirmation_height"`
	Epoch              Epoch   `json:"epoch"`
}

func (info *AccountInfo) Serialize() []byte {
	data := make([]byte, 0, AccountInfoSize)
	data = append(data, info.Head[:]...)
	data = append(data, info.OpenBlock[:]...)
	data = append(data, info.Representative[:]...)
	data = append(data, info.Balance[:]...)
	data = binary.BigEndian.AppendUint64(data, info.Modified)
	data = binary.BigEndian.AppendUint64(data, info.BlockCount)
	data = binary.BigEndian.AppendUint64(data, info.ConfirmationHeight)

	return data
}

func DeserializeAccountInfo(data []byte, epoch Epoch) (*AccountInfo, error) {
	if len(data) != AccountInfoSize {
		return nil, errors.Errorf("account info must be %d bytes, got %d", AccountInfoSize, len(data))
	}

	info := &AccountInfo{Epoch: epoch}
	copy(info.Head[:], data[0:32])
	copy(info.OpenBlock[:], data[32:64])
	copy(info.Representative[:], data[64:96])
	copy(info.Balance[:], data[96:112])
	info.Modified = binary.BigEndian.Uint64(data[112:120])
	info.BlockCount = binary.BigEndian.Uint64(data[120:128])
	info.ConfirmationHeight = binary.BigEndian.Uint64(data[128:136])

	return info, nil
}

// Older layouts, read only while upgrading a store.

type AccountInfoV1 struct {
	Head     Hash
	RepBlock Hash
	Balance  Amount
	Modified uint64
}

const AccountInfoV1Size = 32 + 32 + 16 + 8

func (info *AccountInfoV1) Serialize() []byte {
	data := make([]byte, 0, AccountInfoV1Size)
	data = append(data, info.Head[:]...)
	data = append(data, info.RepBlock[:]...)
	data = append(data, info.Balance[:]...)

	return binary.BigEndian.AppendUint64(data, info.Modified)
}

func DeserializeAccountInfoV1(data []byte) (*AccountInfoV1, error) {
	if len(data) != AccountInfoV1Size {
		return nil, errors.Errorf("v1 account info must be %d bytes, got %d", AccountInfoV1Size, len(data))
	}

	info := new(AccountInfoV1)
	copy(info.Head[:], data[0:32])
	copy(info.RepBlock[:], data[32:64])
	copy(info.Balance[:], data[64:80])
	info.Modified = binary.BigEndian.Uint64(data[80:88])

	return info, nil
}

type AccountInfoV5 struct {
	Head      Hash
	RepBlock  Hash
	OpenBlock Hash
	Balance   Amount
	Modified  uint64
}

const AccountInfoV5Size = 32 + 32 + 32 + 16 + 8

func (info *AccountInfoV5) Serialize() []byte {
	data := make([]byte, 0, AccountInfoV5Size)
	data = append(data, info.Head[:]...)
	data = append(data, info.RepBlock[:]...)
	data = append(data, info.OpenBlock[:]...)
	data = append(data, info.Balance[:]...)

	return binary.BigEndian.AppendUint64(data, info.Modified)
}

func DeserializeAccountInfoV5(data []byte) (*AccountInfoV5, error) {
	if len(data) != AccountInfoV5Size {
		return nil, errors.Errorf("v5 account info must be %d bytes, got %d", AccountInfoV5Size, len(data))
	}

	info := new(AccountInfoV5)
	copy(info.Head[:], data[0:32])
	copy(info.RepBlock[:], data[32:64])
	copy(info.OpenBlock[:], data[64:96])
	copy(info.Balance[:], data[96:112])
	info.Modified = binary.BigEndian.Uint64(data[112:120])

	return info, nil
}

type AccountInfoV13 struct {
	Head       Hash
	RepBlock   Hash
	OpenBlock  Hash
	Balance    Amount
	Modified   uint64
	BlockCount uint64
}

const AccountInfoV13Size = AccountInfoV5Size + 8

func (info *AccountInfoV13) Serialize() []byte {
	data := make([]byte, 0, AccountInfoV13Size)
	data = append(data, info.Head[:]...)
	data = append(data, info.RepBlock[:]...)
	data = append(data, info.OpenBlock[:]...)
	data = append(data, info.Balance[:]...)
	data = binary.BigEndian.AppendUint64(data, info.Modified)

	return binary.BigEndian.AppendUint64(data, info.BlockCount)
}

func DeserializeAccountInfoV13(data []byte) (*AccountInfoV13, error) {
	if len(data) != AccountInfoV13Size {
		return nil, errors.Errorf("v13 account info must be %d bytes, got %d", AccountInfoV13Size, len(data))
	}

	info := new(AccountInfoV13)
	copy(info.Head[:], data[0:32])
	copy(info.RepBlock[:], data[32:64])
	copy(info.OpenBlock[:], data[64:96])
	copy(info.Balance[:], data[96:112])
	info.Modified = binary.BigEndian.Uint64(data[112:120])
	info.BlockCount = binary.BigEndian.Uint64(data[120:128])

	return info, nil
}
