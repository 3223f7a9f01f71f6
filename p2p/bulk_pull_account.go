package p2p

import (
	"github.com/pkg/errors"
	"github.com/tundak/nano-node-sub003/database"
	"github.com/tundak/nano-node-sub003/p2p/networking"
	"github.com/tundak/nano-node-sub003/p2p/packets"
	"github.com/tundak/nano-node-sub003/types"
)

const (
	BULK_PULL_ACCOUNT_HASH_AND_AMOUNT         byte = 0
	BULK_PULL_ACCOUNT_PENDING_ADDRESS_ONLY    byte = 1
	BULK_PULL_ACCOUNT_HASH_AMOUNT_AND_ADDRESS byte = 2
)

var ErrInvalidBulkPullAccountFlag = errors.New("invalid bulk_pull_account flag")

func (srv *P2P) SendBulkPullAccount(peer *networking.PeerNode, account types.Address, amount types.Amount, flag byte) error {
	return peer.WritePacket(
		packets.PACKET_TYPE_BULK_PULL_ACCOUNT,
		packets.HeaderExtension(0),

		account[:],
		amount.Bytes(),

		[]byte{flag},
	)
}

// bulkPullAccountEntry encodes one pending entry in the layout flag asks for.
func bulkPullAccountEntry(flag byte, key types.PendingKey, info types.PendingInfo) []byte {
	switch flag {
	case BULK_PULL_ACCOUNT_PENDING_ADDRESS_ONLY:
		return info.Source[:]
	case BULK_PULL_ACCOUNT_HASH_AMOUNT_AND_ADDRESS:
		data := append(key.Hash[:], info.Amount[:]...)
		return append(data, info.Source[:]...)
	}

	return append(key.Hash[:], info.Amount[:]...)
}

func bulkPullAccountEntrySize(flag byte) int {
	switch flag {
	case BULK_PULL_ACCOUNT_PENDING_ADDRESS_ONLY:
		return 32
	case BULK_PULL_ACCOUNT_HASH_AMOUNT_AND_ADDRESS:
		return 32 + 16 + 32
	}

	return 32 + 16
}

// HandleBulkPullAccount answers with the account's frontier and balance,
// then every pending entry of at least the requested amount, then a zeroed
// entry.
func (srv *P2P) HandleBulkPullAccount(reader *packets.PacketReader, peer *networking.PeerNode) error {
	account, err := reader.ReadAddress()
	if err != nil {
		return err
	}

	minimum, err := reader.ReadAmount()
	if err != nil {
		return err
	}

	flag, err := reader.ReadByte()
	if err != nil {
		return err
	}

	if flag > BULK_PULL_ACCOUNT_HASH_AMOUNT_AND_ADDRESS {
		return errors.Wrapf(ErrInvalidBulkPullAccountFlag, "%d", flag)
	}

	txn := srv.Database.TxBeginRead()
	defer txn.Discard()

	var response packets.PacketBody
	info, err := txn.GetAccountInfo(account)
	switch {
	case err == database.ErrNotFound:
		response.WriteBE(types.Hash{})
		response.WriteBE(types.Amount{})
	case err != nil:
		return err
	default:
		response.WriteBE(info.Head)
		response.WriteBE(info.Balance)
	}

	seen := make(map[types.Address]bool)
	err = txn.IteratePending(account, func(key types.PendingKey, pending types.PendingInfo) bool {
		if pending.Amount.Cmp(minimum) < 0 {
			return true
		}

		if flag == BULK_PULL_ACCOUNT_PENDING_ADDRESS_ONLY {
			if seen[pending.Source] {
				return true
			}

			seen[pending.Source] = true
		}

		response.WriteBE(bulkPullAccountEntry(flag, key, pending))

		return true
	})
	if err != nil {
		return err
	}

	response.WriteBE(make([]byte, bulkPullAccountEntrySize(flag)))

	return peer.Write(response.Bytes())
}
