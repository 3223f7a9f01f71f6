package types

import (
	"encoding/base32"
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
	"github.com/shryder/ed25519-blake2b"
	"golang.org/x/crypto/blake2b"
)

var NanoEncoding = base32.NewEncoding("13456789abcdefghijkmnopqrstuwxyz")

// Address is a 256-bit account identifier, which is also the account's
// ed25519 public key.
type Address [32]byte

func (address Address) IsZero() bool {
	return address == Address{}
}

func (address Address) ToHexString() string {
	return strings.ToUpper(hex.EncodeToString(address[:]))
}

func checksum(pubkey []byte) (checksum []byte, err error) {
	hash, err := blake2b.New(5, nil)
	if err != nil {
		return
	}
	hash.Write(pubkey)
	for _, b := range hash.Sum(nil) {
		checksum = append([]byte{b}, checksum...)
	}
	return
}

func (address Address) encode(prefix string) string {
	checksum, err := checksum(address[:])
	if err != nil {
		return ""
	}

	pubkey := append([]byte{0, 0, 0}, address[:]...)

	return prefix + NanoEncoding.EncodeToString(pubkey)[4:] + NanoEncoding.EncodeToString(checksum)
}

func (address Address) ToNanoAddress() string {
	return address.encode("nano_")
}

func (address Address) ToNodeAddress() string {
	return address.encode("node_")
}

func (address Address) String() string {
	return address.ToNanoAddress()
}

func (address Address) ToPublicKey() ed25519.PublicKey {
	return ed25519.PublicKey(address[:])
}

func (address Address) MarshalText() ([]byte, error) {
	return []byte(address.ToNanoAddress()), nil
}

func (address *Address) UnmarshalText(data []byte) error {
	text := string(data)
	if len(text) == 64 {
		decoded, err := StringPublicKeyToAddress(text)
		if err != nil {
			return err
		}

		*address = *decoded
		return nil
	}

	decoded, err := DecodeNanoAddress(text)
	if err != nil {
		return err
	}

	*address = *decoded

	return nil
}

func DecodeNanoAddress(nano_address string) (addy *Address, err error) {
	switch {
	case strings.HasPrefix(nano_address, "nano_"):
		nano_address = nano_address[5:]
	case strings.HasPrefix(nano_address, "xrb_"):
		nano_address = nano_address[4:]
	default:
		return nil, errors.New("Invalid address format")
	}

	// The remaining 60 characters are the 52 character key followed by an 8
	// character checksum, base 32 encoded with nano's alphabet.
	if len(nano_address) != 60 {
		return nil, errors.New("Invalid address size")
	}

	// The key is 260 bits which doesn't fall on a byte boundary.
	// Pad with zeros to 280 bits (zeros are encoded as 1 in nano's alphabet).
	key_b32nano := "1111" + nano_address[0:52]
	input_checksum := nano_address[52:]

	key_bytes, err := NanoEncoding.DecodeString(key_b32nano)
	if err != nil {
		return nil, err
	}
	// strip off upper 24 bits (3 bytes). 20 padding was added by us,
	// 4 is unused as account is 256 bits.
	key_bytes = key_bytes[3:]

	// nano checksum is calculated by hashing the key and reversing the bytes
	address_checksum, err := checksum(key_bytes)
	if err != nil {
		return nil, errors.New("Couldn't create checksum")
	}

	valid := NanoEncoding.EncodeToString(address_checksum) == input_checksum
	if !valid {
		return nil, errors.New("Invalid address checksum")
	}

	addy = new(Address)
	copy(addy[:], key_bytes)

	return addy, nil
}

func StringPublicKeyToAddress(public_key_str string) (*Address, error) {
	public_key_slice, err := hex.DecodeString(public_key_str)
	if err != nil {
		return nil, err
	}

	if len(public_key_slice) != 32 {
		return nil, errors.New("public key must be 32 bytes")
	}

	address := new(Address)
	copy(address[:], public_key_slice)

	return address, nil
}

func MustAddress(public_key_str string) Address {
	address, err := StringPublicKeyToAddress(public_key_str)
	if err != nil {
		panic(err)
	}

	return *address
}
