package p2p

import (
	"bytes"
	"encoding/binary"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/shryder/ed25519-blake2b"
	"github.com/tundak/nano-node-sub003/p2p/networking"
	"github.com/tundak/nano-node-sub003/p2p/packets"
	"github.com/tundak/nano-node-sub003/params"
)

const telemetrySignedSize = 202 - 64

// TelemetryData is what a telemetry_ack carries, big-endian, signed by the
// sender's node id over everything after the signature.
type TelemetryData struct {
	Signature         [64]byte
	NodeID            [32]byte
	BlockCount        uint64
	CementedCount     uint64
	UncheckedCount    uint64
	AccountCount      uint64
	BandwidthCap      uint64
	PeerCount         uint32
	ProtocolVersion   byte
	Uptime            uint64
	GenesisBlock      [32]byte
	MajorVersion      byte
	MinorVersion      byte
	PatchVersion      byte
	PreReleaseVersion byte
	Maker             byte
	Timestamp         uint64
	ActiveDifficulty  uint64
}

func (telemetry *TelemetryData) signedBytes() []byte {
	var packet packets.PacketBody
	packet.WriteBE(telemetry)

	return packet.Bytes()[64:]
}

func (telemetry *TelemetryData) Validate() bool {
	return ed25519.Verify(ed25519.PublicKey(telemetry.NodeID[:]), telemetry.signedBytes(), telemetry.Signature[:])
}

func (srv *P2P) LocalTelemetry() (*TelemetryData, error) {
	txn := srv.Database.TxBeginRead()
	defer txn.Discard()

	block_count, err := txn.BlockCount()
	if err != nil {
		return nil, err
	}

	unchecked_count, err := txn.UncheckedCount()
	if err != nil {
		return nil, err
	}

	account_count, err := txn.AccountCount()
	if err != nil {
		return nil, err
	}

	telemetry := &TelemetryData{
		NodeID:          srv.NodeKeyPair.NodeID(),
		BlockCount:      block_count,
		CementedCount:   srv.Stats.Count("confirmation_height", "blocks_confirmed"),
		UncheckedCount:  unchecked_count,
		AccountCount:    account_count,
		PeerCount:       uint32(srv.PeersManager.GetLivePeersCount()),
		ProtocolVersion: params.PROTOCOL_VERSION,
		Uptime:          uint64(time.Since(srv.NodeStartTimestamp).Seconds()),
		GenesisBlock:    srv.Params.Genesis.Hash,
		MajorVersion:    params.VERSION_MAJOR,
		MinorVersion:    params.VERSION_MINOR,
		Timestamp:       uint64(time.Now().UnixMilli()),
	}

	if difficulty := srv.collaborators.Difficulty; difficulty != nil {
		telemetry.ActiveDifficulty = difficulty.ActiveDifficulty()
	} else {
		telemetry.ActiveDifficulty = srv.Params.PublishThreshold
	}

	copy(telemetry.Signature[:], ed25519.Sign(srv.NodeKeyPair.PrivateKey, telemetry.signedBytes()))

	return telemetry, nil
}

func (srv *P2P) SendTelemetryAck(peer *networking.PeerNode) error {
	telemetry, err := srv.LocalTelemetry()
	if err != nil {
		return err
	}

	var packet packets.PacketBody
	packet.WriteBE(telemetry)

	var extension packets.HeaderExtension
	extension.SetTelemetrySize(uint(packet.Buff.Len()))

	return peer.WritePacket(packets.PACKET_TYPE_TELEMETRY_ACK, extension, packet.Bytes())
}

func (srv *P2P) SendTelemetryReq(peer *networking.PeerNode) error {
	return peer.WritePacket(packets.PACKET_TYPE_TELEMETRY_REQ, 0)
}

func (srv *P2P) HandleTelemetryReq(reader *packets.PacketReader, header *packets.Header, peer *networking.PeerNode) error {
	return srv.SendTelemetryAck(peer)
}

func (srv *P2P) HandleTelemetryAck(reader *packets.PacketReader, header *packets.Header, peer *networking.PeerNode) error {
	data := make([]byte, header.Extension.TelemetrySize())
	if _, err := io.ReadFull(reader, data); err != nil {
		return err
	}

	// Newer nodes append fields we don't know about.
	if len(data) < 64+telemetrySignedSize {
		srv.Stats.Inc("telemetry", "invalid_size")
		return nil
	}

	telemetry := new(TelemetryData)
	if err := binary.Read(bytes.NewReader(data), binary.BigEndian, telemetry); err != nil {
		return errors.Wrap(err, "decoding telemetry")
	}

	if len(data) == 64+telemetrySignedSize && !telemetry.Validate() {
		srv.Stats.Inc("telemetry", "invalid_signature")
		return nil
	}

	if telemetry.GenesisBlock != srv.Params.Genesis.Hash {
		return errors.Wrapf(ErrPeerOnAnotherNetwork, "genesis %x", telemetry.GenesisBlock)
	}

	srv.PeersManager.SetTelemetry(peer, telemetry)

	return nil
}
