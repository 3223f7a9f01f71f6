package packets

import (
	"bufio"
	"bytes"
	"net/netip"
	"testing"

	"github.com/tundak/nano-node-sub003/types"
)

func TestHeaderLayout(t *testing.T) {
	header := Header{
		NetworkID:       [2]byte{'R', 'C'},
		ProtocolVersion: ProtocolVersion{Max: 18, Using: 18, Min: 17},
		MessageType:     PACKET_TYPE_CONFIRM_ACK,
	}
	header.Extension.SetBlockType(types.BLOCK_TYPE_NOT_A_BLOCK)
	header.Extension.SetCount(12)

	data := header.Serialize()
	want := []byte{'R', 'C', 18, 18, 17, 0x05, 0x00, 0xc1}
	if !bytes.Equal(data, want) {
		t.Fatalf("header %x, want %x", data, want)
	}

	decoded, err := DeserializeHeader(data)
	if err != nil {
		t.Fatal(err)
	}

	if decoded != header {
		t.Fatalf("decoded %+v", decoded)
	}

	size, err := decoded.PayloadSize()
	if err != nil || size != 104+12*32 {
		t.Fatalf("payload size %d err %v", size, err)
	}
}

func TestExtensionBits(t *testing.T) {
	var extension HeaderExtension
	extension.SetQuery(true)
	extension.SetResponse(true)
	if !extension.IsQuery() || !extension.IsResponse() {
		t.Fatal("query and response flags not set")
	}

	extension.SetQuery(false)
	if extension.IsQuery() || !extension.IsResponse() {
		t.Fatal("clearing query touched response")
	}

	extension.SetBlockType(types.BLOCK_TYPE_STATE)
	extension.SetCount(3)
	if extension.BlockType() != types.BLOCK_TYPE_STATE || extension.Count() != 3 {
		t.Fatalf("block type %d count %d", extension.BlockType(), extension.Count())
	}

	header := Header{MessageType: PACKET_TYPE_NODE_ID_HANDSHAKE, Extension: extension}
	if size, _ := header.PayloadSize(); size != 96 {
		t.Fatalf("handshake response size %d", size)
	}

	header = Header{MessageType: PACKET_TYPE_PUBLISH}
	if _, err := header.PayloadSize(); err == nil {
		t.Fatal("publish without a block type accepted")
	}
}

func TestKeepalive(t *testing.T) {
	peers := []netip.AddrPort{
		netip.MustParseAddrPort("127.0.0.1:7075"),
		netip.MustParseAddrPort("[::1]:44000"),
	}

	data := SerializeKeepalive(peers)
	if len(data) != KeepaliveSize {
		t.Fatalf("keepalive is %d bytes", len(data))
	}

	decoded := DeserializeKeepalive(data)
	if len(decoded) != 2 || decoded[0] != peers[0] || decoded[1] != peers[1] {
		t.Fatalf("decoded %v", decoded)
	}
}

func TestReadVoteWithBlock(t *testing.T) {
	keys, err := types.KeyPairFromSeed([32]byte{1})
	if err != nil {
		t.Fatal(err)
	}

	block := &types.Block{Type: types.BLOCK_TYPE_STATE, Account: keys.Address, Balance: types.AmountFromUint64(1)}
	block.Sign(keys.PrivateKey)
	vote := types.NewVote(keys, 7, []types.Hash{block.Hash()})

	header := Header{MessageType: PACKET_TYPE_CONFIRM_ACK}
	header.Extension.SetBlockType(block.Type)

	payload := append(vote.Serialize()[:104], block.Serialize()...)
	reader := PacketReader{Buffer: bufio.NewReader(bytes.NewReader(payload))}

	decoded, decodedBlock, err := reader.ReadVote(&header)
	if err != nil {
		t.Fatal(err)
	}

	if decodedBlock.Hash() != block.Hash() || decoded.Sequence != 7 || !decoded.Validate() {
		t.Fatalf("decoded vote %+v", decoded)
	}
}
