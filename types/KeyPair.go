package types

import (
	"bytes"
	"encoding/hex"

	"github.com/pkg/errors"
	"github.com/shryder/ed25519-blake2b"
)

type KeyPair struct {
	Address    Address
	PrivateKey ed25519.PrivateKey
}

// KeyPairFromSeed expands a 32 byte private key the way node_id.dat is loaded.
func KeyPairFromSeed(seed [32]byte) (*KeyPair, error) {
	public_key, private_key, err := ed25519.GenerateKey(bytes.NewReader(seed[:]))
	if err != nil {
		return nil, err
	}

	keys := &KeyPair{PrivateKey: private_key}
	copy(keys.Address[:], public_key)

	return keys, nil
}

func KeyPairFromHex(private_key_hex string) (*KeyPair, error) {
	decoded, err := hex.DecodeString(private_key_hex)
	if err != nil {
		return nil, errors.Wrap(err, "private key is not hex")
	}

	if len(decoded) != 32 {
		return nil, errors.New("private key must be 32 bytes")
	}

	var seed [32]byte
	copy(seed[:], decoded)

	return KeyPairFromSeed(seed)
}
