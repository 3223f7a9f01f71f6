package p2p

import (
	"github.com/shryder/ed25519-blake2b"
	"github.com/tundak/nano-node-sub003/types"
)

type NodeKeyPair struct {
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

func (keys *NodeKeyPair) NodeID() types.Address {
	var node_id types.Address
	copy(node_id[:], keys.PublicKey)

	return node_id
}
