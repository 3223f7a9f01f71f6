package p2p

import (
	"crypto/rand"
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/shryder/ed25519-blake2b"
	"github.com/tundak/nano-node-sub003/p2p/networking"
	"github.com/tundak/nano-node-sub003/p2p/packets"
	"github.com/tundak/nano-node-sub003/types"
)

const handshakeTimeout = 5 * time.Second

var ErrInvalidHandshake = errors.New("invalid node_id_handshake")

type handshake struct {
	cookie    []byte
	node_id   types.Address
	signature []byte
}

func (srv *P2P) readHandshake(reader *packets.PacketReader, header *packets.Header) (*handshake, error) {
	if header.MessageType != packets.PACKET_TYPE_NODE_ID_HANDSHAKE {
		return nil, errors.Wrapf(ErrInvalidHandshake, "was expecting a node_id_handshake packet, got %s", header.MessageType)
	}

	message := new(handshake)
	if header.Extension.IsQuery() {
		message.cookie = make([]byte, 32)
		if _, err := io.ReadFull(reader, message.cookie); err != nil {
			return nil, err
		}
	}

	if header.Extension.IsResponse() {
		data := make([]byte, 32+64)
		if _, err := io.ReadFull(reader, data); err != nil {
			return nil, err
		}

		copy(message.node_id[:], data[:32])
		message.signature = data[32:]
	}

	return message, nil
}

func (srv *P2P) writeHandshake(peer *networking.PeerNode, cookie []byte, peer_cookie []byte) error {
	var extension packets.HeaderExtension
	var data [][]byte

	if cookie != nil {
		extension.SetQuery(true)
		data = append(data, cookie)
	}

	if peer_cookie != nil {
		extension.SetResponse(true)
		data = append(data, srv.NodeKeyPair.PublicKey, ed25519.Sign(srv.NodeKeyPair.PrivateKey, peer_cookie))
	}

	return peer.WritePacket(packets.PACKET_TYPE_NODE_ID_HANDSHAKE, extension, data...)
}

// makeHandshake proves both node ids. The dialing side sends a cookie, the
// listening side answers with its own cookie and the signed one, and the
// dialing side finishes by signing the listener's cookie.
func (srv *P2P) makeHandshake(conn net.Conn, reader *packets.PacketReader, incoming bool, first *packets.Header) (*networking.PeerNode, error) {
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetReadDeadline(time.Time{})

	// Send handshake with random cookie that the peer will have to sign
	cookie := make([]byte, 32)
	if _, err := rand.Read(cookie); err != nil {
		return nil, err
	}

	pending := networking.NewPeerNode(conn, nil, false, srv.Params.HeaderNetworkID)

	if incoming {
		query, err := srv.readHandshake(reader, first)
		if err != nil {
			return nil, err
		}

		if query.cookie == nil {
			return nil, errors.Wrap(ErrInvalidHandshake, "first handshake carries no cookie")
		}

		if err := srv.writeHandshake(pending, cookie, query.cookie); err != nil {
			return nil, err
		}

		header, err := srv.ReadHeader(reader)
		if err != nil {
			return nil, errors.Wrap(err, "reading handshake response")
		}

		response, err := srv.readHandshake(reader, &header)
		if err != nil {
			return nil, err
		}

		return srv.verifyHandshake(conn, cookie, response)
	}

	if err := srv.writeHandshake(pending, cookie, nil); err != nil {
		return nil, err
	}

	header, err := srv.ReadHeader(reader)
	if err != nil {
		return nil, errors.Wrap(err, "reading handshake response")
	}

	response, err := srv.readHandshake(reader, &header)
	if err != nil {
		return nil, err
	}

	peer, err := srv.verifyHandshake(conn, cookie, response)
	if err != nil {
		return nil, err
	}

	if response.cookie == nil {
		return nil, errors.Wrap(ErrInvalidHandshake, "response carries no cookie")
	}

	if err := srv.writeHandshake(peer, nil, response.cookie); err != nil {
		return nil, err
	}

	return peer, nil
}

func (srv *P2P) verifyHandshake(conn net.Conn, cookie []byte, response *handshake) (*networking.PeerNode, error) {
	if response.signature == nil {
		return nil, errors.Wrap(ErrInvalidHandshake, "no signed cookie")
	}

	if !ed25519.Verify(response.node_id.ToPublicKey(), cookie, response.signature) {
		return nil, errors.Wrap(ErrInvalidHandshake, "received invalid handshake signature from peer")
	}

	if response.node_id == srv.NodeKeyPair.NodeID() {
		return nil, errors.Wrap(ErrInvalidHandshake, "connected to ourselves")
	}

	node_id := response.node_id

	return networking.NewPeerNode(conn, &node_id, false, srv.Params.HeaderNetworkID), nil
}
