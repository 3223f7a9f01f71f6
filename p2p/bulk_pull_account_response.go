package p2p

import (
	"github.com/pkg/errors"
	"github.com/tundak/nano-node-sub003/p2p/packets"
	"github.com/tundak/nano-node-sub003/types"
)

// BulkPullAccountEntry is one pending entry. Fields the requested flag
// leaves out are zero.
type BulkPullAccountEntry struct {
	Hash   types.Hash
	Amount types.Amount
	Source types.Address
}

type BulkPullAccountResponse struct {
	Frontier types.Hash
	Balance  types.Amount
	Entries  []BulkPullAccountEntry
}

func readBulkPullAccountEntry(reader *packets.PacketReader, flag byte) (BulkPullAccountEntry, bool, error) {
	var entry BulkPullAccountEntry
	var err error

	if flag != BULK_PULL_ACCOUNT_PENDING_ADDRESS_ONLY {
		if entry.Hash, err = reader.ReadHash(); err != nil {
			return entry, false, err
		}

		if entry.Amount, err = reader.ReadAmount(); err != nil {
			return entry, false, err
		}
	}

	if flag != BULK_PULL_ACCOUNT_HASH_AND_AMOUNT {
		if entry.Source, err = reader.ReadAddress(); err != nil {
			return entry, false, err
		}
	}

	// The terminator is an entry of zeroes.
	done := entry.Hash.IsZero() && entry.Amount.IsZero() && entry.Source.IsZero()

	return entry, done, nil
}

func (srv *P2P) HandleBulkPullAccountResponse(reader *packets.PacketReader, flag byte) (*BulkPullAccountResponse, error) {
	if flag > BULK_PULL_ACCOUNT_HASH_AMOUNT_AND_ADDRESS {
		return nil, errors.Wrapf(ErrInvalidBulkPullAccountFlag, "%d", flag)
	}

	frontier, err := reader.ReadHash()
	if err != nil {
		return nil, err
	}

	balance, err := reader.ReadAmount()
	if err != nil {
		return nil, err
	}

	response := &BulkPullAccountResponse{Frontier: frontier, Balance: balance}
	for {
		entry, done, err := readBulkPullAccountEntry(reader, flag)
		if err != nil {
			return nil, err
		}

		if done {
			break
		}

		response.Entries = append(response.Entries, entry)
	}

	return response, nil
}
