package types

import (
	"encoding/hex"
	"math/big"
	"strings"

	"github.com/pkg/errors"
)

type Hash [32]byte

func (hash Hash) IsZero() bool {
	return hash == Hash{}
}

func (hash *Hash) BigInt() *big.Int {
	return new(big.Int).SetBytes((*hash)[:])
}

func (hash Hash) ToHexString() string {
	return strings.ToUpper(hex.EncodeToString(hash[:]))
}

func (hash Hash) String() string {
	return hash.ToHexString()
}

func (hash Hash) Cmp(other Hash) int {
	for i := range hash {
		if hash[i] != other[i] {
			if hash[i] < other[i] {
				return -1
			}

			return 1
		}
	}

	return 0
}

func (hash Hash) MarshalText() ([]byte, error) {
	return []byte(hash.ToHexString()), nil
}

func (hash *Hash) UnmarshalText(data []byte) error {
	decoded, err := StringToHash(string(data))
	if err != nil {
		return err
	}

	*hash = *decoded

	return nil
}

func StringToHash(hash_str string) (*Hash, error) {
	hash_slice, err := hex.DecodeString(hash_str)
	if err != nil {
		return nil, err
	}

	if len(hash_slice) != 32 {
		return nil, errors.Errorf("hash must be 32 bytes, got %d", len(hash_slice))
	}

	hash := new(Hash)
	copy(hash[:], hash_slice)

	return hash, nil
}

// Must be used only with compile time constants
func MustHash(hash_str string) Hash {
	hash, err := StringToHash(hash_str)
	if err != nil {
		panic(err)
	}

	return *hash
}
