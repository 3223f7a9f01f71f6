package p2p

import (
	"github.com/tundak/nano-node-sub003/blockprocessor"
	"github.com/tundak/nano-node-sub003/p2p/networking"
	"github.com/tundak/nano-node-sub003/p2p/packets"
	"github.com/tundak/nano-node-sub003/types"
)

func (srv *P2P) HandleConfirmReqHashPairs(reader *packets.PacketReader, header *packets.Header, peer *networking.PeerNode) error {
	pairs, err := reader.ReadHashPairs(header.Extension.Count())
	if err != nil {
		return err
	}

	srv.Workers.ConfirmReq.AddConfirmReqHashPairsToQueue(peer, pairs)

	return nil
}

// HandleConfirmReqBlock feeds the block to the processor, then treats it like
// a request by hash.
func (srv *P2P) HandleConfirmReqBlock(reader *packets.PacketReader, header *packets.Header, peer *networking.PeerNode) error {
	block, err := reader.ReadBlock(header.Extension.BlockType())
	if err != nil {
		return err
	}

	if processor := srv.collaborators.BlockProcessor; processor != nil && !processor.Full() {
		processor.Add(block, blockprocessor.ORIGIN_NETWORK, peer)
	}

	srv.Workers.ConfirmReq.AddConfirmReqHashPairsToQueue(peer, []types.HashPair{{Hash: block.Hash(), Root: block.Root()}})

	return nil
}

func (srv *P2P) HandleConfirmReq(reader *packets.PacketReader, header *packets.Header, peer *networking.PeerNode) error {
	if header.Extension.BlockType() == types.BLOCK_TYPE_NOT_A_BLOCK {
		return srv.HandleConfirmReqHashPairs(reader, header, peer)
	}

	return srv.HandleConfirmReqBlock(reader, header, peer)
}

// SendConfirmReq asks representatives we know of, or a fanout of live peers
// when we know none, to vote on blocks.
func (srv *P2P) SendConfirmReq(blocks []*types.Block) {
	if len(blocks) == 0 {
		return
	}

	pairs := make([]types.HashPair, len(blocks))
	for i, block := range blocks {
		pairs[i] = types.HashPair{Hash: block.Hash(), Root: block.Root()}
	}

	peers := srv.PeersManager.GetRepresentatives()
	if len(peers) == 0 {
		peers = srv.PeersManager.Fanout()
	}

	for start := 0; start < len(pairs); start += packets.MaxConfirmReqPairs {
		chunk := pairs[start:min(start+packets.MaxConfirmReqPairs, len(pairs))]
		for _, peer := range peers {
			if err := peer.SendConfirmReq(chunk); err != nil {
				srv.logger.Debugf("Error sending confirm_req to %s: %s", peer.Alias, err)
			}
		}
	}
}
