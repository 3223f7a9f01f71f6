package p2p

import (
	"io"

	"github.com/tundak/nano-node-sub003/p2p/networking"
	"github.com/tundak/nano-node-sub003/p2p/packets"
)

func (srv *P2P) HandleKeepAlive(reader *packets.PacketReader, header *packets.Header, peer *networking.PeerNode) error {
	message := make([]byte, packets.KeepaliveSize)
	if _, err := io.ReadFull(reader, message); err != nil {
		return err
	}

	suggested := packets.DeserializeKeepalive(message)
	if len(suggested) == 0 {
		return nil
	}

	peers := make([]string, 0, len(suggested))
	for _, endpoint := range suggested {
		peers = append(peers, endpoint.String())
	}

	srv.logger.Tracef("Suggested peers (%d): %v", len(peers), peers)

	return srv.Database.AddNodeIPs(peers)
}

func (srv *P2P) SendKeepAlive(peer *networking.PeerNode) error {
	return peer.WritePacket(packets.PACKET_TYPE_KEEPALIVE, 0, packets.SerializeKeepalive(srv.PeersManager.KeepalivePeers()))
}
