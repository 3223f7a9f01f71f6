package p2p

import (
	"github.com/pkg/errors"
	"github.com/tundak/nano-node-sub003/database"
	"github.com/tundak/nano-node-sub003/p2p/networking"
	"github.com/tundak/nano-node-sub003/p2p/packets"
	"github.com/tundak/nano-node-sub003/types"
)

func (srv *P2P) SendBulkPull(peer *networking.PeerNode, start types.Hash, end types.Hash) error {
	return peer.WritePacket(
		packets.PACKET_TYPE_BULK_PULL,
		packets.HeaderExtension(0),

		start[:],
		end[:],
	)
}

// pullHead resolves a bulk_pull start, which is either an account or the
// hash of the newest block wanted.
func pullHead(txn *database.Transaction, start types.Hash) (types.Hash, error) {
	info, err := txn.GetAccountInfo(types.Address(start))
	if err == nil {
		return info.Head, nil
	}

	if err != database.ErrNotFound {
		return types.Hash{}, err
	}

	exists, err := txn.BlockExists(start)
	if err != nil || !exists {
		return types.Hash{}, err
	}

	return start, nil
}

// HandleBulkPull streams blocks from the requested head back to end, or to
// the open block, newest first.
func (srv *P2P) HandleBulkPull(reader *packets.PacketReader, peer *networking.PeerNode) error {
	start, err := reader.ReadHash()
	if err != nil {
		return err
	}

	end, err := reader.ReadHash()
	if err != nil {
		return err
	}

	txn := srv.Database.TxBeginRead()
	defer txn.Discard()

	current, err := pullHead(txn, start)
	if err != nil {
		return err
	}

	sent := 0
	for !current.IsZero() && current != end {
		block, err := txn.GetBlock(current)
		if err != nil {
			return errors.Wrapf(err, "serving bulk_pull at %s", current)
		}

		data := append([]byte{byte(block.Type)}, block.Serialize()...)
		if err := peer.Write(data); err != nil {
			return err
		}

		sent++
		if block.IsOpenBlock() {
			break
		}

		current = block.Previous
	}

	srv.Stats.Add("bootstrap", "bulk_pull_blocks", uint64(sent))

	return peer.Write([]byte{byte(types.BLOCK_TYPE_NOT_A_BLOCK)})
}

// HandleBulkPullResponse reads blocks until the not_a_block terminator.
func (srv *P2P) HandleBulkPullResponse(reader *packets.PacketReader, peer *networking.PeerNode, start types.Hash) ([]*types.Block, error) {
	var blocks []*types.Block
	for {
		block_type_byte, err := reader.ReadByte()
		if err != nil {
			return blocks, err
		}

		block_type := types.BlockType(block_type_byte)
		if block_type == types.BLOCK_TYPE_NOT_A_BLOCK {
			break
		}

		block, err := reader.ReadBlock(block_type)
		if err != nil {
			return blocks, err
		}

		blocks = append(blocks, block)
	}

	srv.BootstrapDataManager.Logger.Debugf("Peer %s returned %d blocks for our bulk_pull of %s", peer.Alias, len(blocks), start)

	return blocks, nil
}
