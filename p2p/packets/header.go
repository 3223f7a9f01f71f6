package packets

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
	"github.com/tundak/nano-node-sub003/types"
)

type MessageType byte

const (
	PACKET_TYPE_INVALID           MessageType = 0x0
	PACKET_TYPE_NOT_A_TYPE        MessageType = 0x1
	PACKET_TYPE_KEEPALIVE         MessageType = 0x2
	PACKET_TYPE_PUBLISH           MessageType = 0x3
	PACKET_TYPE_CONFIRM_REQ       MessageType = 0x4
	PACKET_TYPE_CONFIRM_ACK       MessageType = 0x5
	PACKET_TYPE_BULK_PULL         MessageType = 0x6
	PACKET_TYPE_BULK_PUSH         MessageType = 0x7
	PACKET_TYPE_FRONTIER_REQ      MessageType = 0x8
	PACKET_TYPE_NODE_ID_HANDSHAKE MessageType = 0x0a
	PACKET_TYPE_BULK_PULL_ACCOUNT MessageType = 0x0b
	PACKET_TYPE_TELEMETRY_REQ     MessageType = 0x0c
	PACKET_TYPE_TELEMETRY_ACK     MessageType = 0x0d
)

const HeaderSize = 8

var (
	ErrInvalidHeader    = errors.New("invalid packet header")
	ErrInvalidBlockType = errors.New("invalid block type")
)

func (messageType MessageType) String() string {
	packet_names := []string{"INVALID_0", "NOT_A_TYPE", "KEEP_ALIVE", "PUBLISH", "CONFIRM_REQ", "CONFIRM_ACK", "BULK_PULL", "BULK_PUSH", "FRONTIER_REQ", "INVALID_9", "NODE_ID_HANDSHAKE", "BULK_PULL_ACCOUNT", "TELEMETRY_REQ", "TELEMETRY_ACK"}

	message_type_int := uint(messageType)
	if message_type_int >= uint(len(packet_names)) {
		return fmt.Sprintf("INVALID_%d", message_type_int)
	}

	return packet_names[message_type_int]
}

type HeaderExtension uint16

type ProtocolVersion struct {
	Max   byte
	Using byte
	Min   byte
}

// Header is the 8 byte prefix of every message: network magic, protocol
// versions, message type and little-endian extension bits.
type Header struct {
	NetworkID       [2]byte
	ProtocolVersion ProtocolVersion
	MessageType     MessageType
	Extension       HeaderExtension
}

func (header *Header) Serialize() []byte {
	data := []byte{
		header.NetworkID[0],
		header.NetworkID[1],

		header.ProtocolVersion.Max,
		header.ProtocolVersion.Using,
		header.ProtocolVersion.Min,

		byte(header.MessageType),
	}

	return binary.LittleEndian.AppendUint16(data, uint16(header.Extension))
}

func DeserializeHeader(data []byte) (Header, error) {
	if len(data) != HeaderSize {
		return Header{}, errors.Wrapf(ErrInvalidHeader, "%d bytes", len(data))
	}

	return Header{
		NetworkID:       [2]byte{data[0], data[1]},
		ProtocolVersion: ProtocolVersion{Max: data[2], Using: data[3], Min: data[4]},
		MessageType:     MessageType(data[5]),
		Extension:       HeaderExtension(binary.LittleEndian.Uint16(data[6:8])),
	}, nil
}

// Bits 8-11 carry the block type, bits 12-15 the item count.

func (extension HeaderExtension) BlockType() types.BlockType {
	return types.BlockType((extension & 0x0f00) >> 8)
}

func (extension *HeaderExtension) SetBlockType(blockType types.BlockType) {
	*extension &= 0xf0ff
	*extension |= HeaderExtension(blockType&0x0f) << 8
}

func (extension HeaderExtension) Count() uint {
	return uint((extension & 0xf000) >> 12)
}

func (extension *HeaderExtension) SetCount(count uint) {
	*extension &= 0x0fff
	*extension |= HeaderExtension(count&0x0f) << 12
}

func (extension HeaderExtension) TelemetrySize() uint {
	return uint(extension & 0x3ff)
}

func (extension *HeaderExtension) SetTelemetrySize(size uint) {
	*extension &= 0xfc00
	*extension |= HeaderExtension(size & 0x3ff)
}

func (extension HeaderExtension) IsQuery() bool {
	return extension&0x0001 != 0
}

func (extension *HeaderExtension) SetQuery(is_query bool) {
	*extension &= 0xfffe
	if is_query {
		*extension |= 0x0001
	}
}

func (extension HeaderExtension) IsResponse() bool {
	return extension&0x0002 != 0
}

func (extension *HeaderExtension) SetResponse(is_response bool) {
	*extension &= 0xfffd
	if is_response {
		*extension |= 0x0002
	}
}

// PayloadSize returns how many bytes follow the header. Bulk pull responses
// are streamed without headers and never reach here.
func (header *Header) PayloadSize() (uint, error) {
	switch header.MessageType {
	case PACKET_TYPE_TELEMETRY_REQ, PACKET_TYPE_BULK_PUSH:
		return 0, nil
	case PACKET_TYPE_KEEPALIVE:
		return KeepaliveSize, nil
	case PACKET_TYPE_BULK_PULL:
		return 32 + 32, nil
	case PACKET_TYPE_FRONTIER_REQ:
		return 32 + 4 + 4, nil
	case PACKET_TYPE_BULK_PULL_ACCOUNT:
		return 32 + 16 + 1, nil
	case PACKET_TYPE_NODE_ID_HANDSHAKE:
		size := uint(0)
		if header.Extension.IsQuery() {
			// Cookie
			size += 32
		}

		if header.Extension.IsResponse() {
			// Node id and the signed cookie
			size += 32 + 64
		}

		return size, nil
	case PACKET_TYPE_PUBLISH:
		return blockSize(header.Extension.BlockType())
	case PACKET_TYPE_CONFIRM_REQ:
		if header.Extension.BlockType() == types.BLOCK_TYPE_NOT_A_BLOCK {
			return 64 * header.Extension.Count(), nil
		}

		return blockSize(header.Extension.BlockType())
	case PACKET_TYPE_CONFIRM_ACK:
		// Account, signature and sequence
		size := uint(32 + 64 + 8)
		if header.Extension.BlockType() == types.BLOCK_TYPE_NOT_A_BLOCK {
			return size + 32*header.Extension.Count(), nil
		}

		block_size, err := blockSize(header.Extension.BlockType())

		return size + block_size, err
	case PACKET_TYPE_TELEMETRY_ACK:
		return header.Extension.TelemetrySize(), nil
	}

	return 0, errors.Wrapf(ErrInvalidHeader, "message type %s", header.MessageType)
}

func blockSize(blockType types.BlockType) (uint, error) {
	size := blockType.Size()
	if size == 0 {
		return 0, errors.Wrapf(ErrInvalidBlockType, "type %d", blockType)
	}

	return size, nil
}
