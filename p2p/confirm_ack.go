package p2p

import (
	"github.com/tundak/nano-node-sub003/blockprocessor"
	"github.com/tundak/nano-node-sub003/p2p/networking"
	"github.com/tundak/nano-node-sub003/p2p/packets"
	"github.com/tundak/nano-node-sub003/types"
)

func (srv *P2P) HandleConfirmAck(reader *packets.PacketReader, header *packets.Header, peer *networking.PeerNode) error {
	vote, block, err := reader.ReadVote(header)
	if err != nil {
		return err
	}

	if block != nil {
		if processor := srv.collaborators.BlockProcessor; processor != nil && !processor.Full() {
			processor.Add(block, blockprocessor.ORIGIN_NETWORK, peer)
		}
	}

	// Signatures are checked in batches by the vote processor.
	srv.Workers.ConfirmAck.AddConfirmAckToQueue(peer, vote)

	return nil
}

// FloodVote sends vote to a fanout of live peers.
func (srv *P2P) FloodVote(vote *types.Vote) {
	for _, peer := range srv.PeersManager.Fanout() {
		if err := peer.SendVote(vote); err != nil {
			srv.logger.Debugf("Error flooding vote to %s: %s", peer.Alias, err)
		}
	}
}

// FloodBlock publishes block to a fanout of live peers.
func (srv *P2P) FloodBlock(block *types.Block) {
	for _, peer := range srv.PeersManager.Fanout() {
		if err := peer.SendBlock(block); err != nil {
			srv.logger.Debugf("Error flooding block to %s: %s", peer.Alias, err)
		}
	}
}
