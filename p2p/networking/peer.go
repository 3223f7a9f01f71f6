// Package networking holds the per-connection state shared by the p2p
// handlers.
package networking

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/tundak/nano-node-sub003/p2p/packets"
	"github.com/tundak/nano-node-sub003/params"
	"github.com/tundak/nano-node-sub003/types"
)

const writeTimeout = 5 * time.Second

// PeerNode is one TCP connection. It is the types.Channel handed to the block
// and vote processors so replies go back to the peer they came from.
type PeerNode struct {
	Alias string
	Conn  net.Conn
	mux   sync.Mutex

	BootstrapConnection bool

	NodeID *types.Address

	networkID [2]byte
	// Unix nanoseconds of the last message read.
	lastSeen atomic.Int64
}

func NewPeerNode(conn net.Conn, nodeId *types.Address, bootstrap_connection bool, networkID [2]byte) *PeerNode {
	alias := conn.RemoteAddr().String()
	if nodeId != nil {
		alias += "(" + nodeId.ToNodeAddress() + ")"
	} else {
		alias += "(bootstrap)"
	}

	peer := &PeerNode{
		Alias:               alias,
		Conn:                conn,
		NodeID:              nodeId,
		BootstrapConnection: bootstrap_connection,
		networkID:           networkID,
	}
	peer.Touch()

	return peer
}

func (peer *PeerNode) Write(p []byte) error {
	peer.mux.Lock()
	defer peer.mux.Unlock()

	peer.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err := peer.Conn.Write(p)

	return errors.Wrapf(err, "writing to %s", peer.Alias)
}

// WritePacket prefixes data with a header for messageType and sends it.
func (peer *PeerNode) WritePacket(messageType packets.MessageType, extension packets.HeaderExtension, data ...[]byte) error {
	header := packets.Header{
		NetworkID:       peer.networkID,
		ProtocolVersion: packets.ProtocolVersion{Max: params.PROTOCOL_VERSION, Using: params.PROTOCOL_VERSION, Min: params.PROTOCOL_VERSION_MIN},
		MessageType:     messageType,
		Extension:       extension,
	}

	packet := header.Serialize()
	for _, field := range data {
		packet = append(packet, field...)
	}

	return peer.Write(packet)
}

func (peer *PeerNode) SendBlock(block *types.Block) error {
	return peer.WritePacket(packets.PACKET_TYPE_PUBLISH, packets.PublishExtension(block), block.Serialize())
}

func (peer *PeerNode) SendVote(vote *types.Vote) error {
	return peer.WritePacket(packets.PACKET_TYPE_CONFIRM_ACK, packets.ConfirmAckExtension(vote), vote.Serialize())
}

func (peer *PeerNode) SendConfirmReq(pairs []types.HashPair) error {
	return peer.WritePacket(packets.PACKET_TYPE_CONFIRM_REQ, packets.ConfirmReqExtension(len(pairs)), packets.SerializeHashPairs(pairs))
}

func (peer *PeerNode) String() string {
	return peer.Alias
}

func (peer *PeerNode) Touch() {
	peer.lastSeen.Store(time.Now().UnixNano())
}

func (peer *PeerNode) LastSeen() time.Time {
	return time.Unix(0, peer.lastSeen.Load())
}
