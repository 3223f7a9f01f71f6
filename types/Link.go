package types

import (
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
)

// Link is the multi-purpose field of state blocks: a source hash for receives,
// a destination account for sends, or an epoch marker.
type Link [32]byte

func (link Link) IsZero() bool {
	return link == Link{}
}

func (link Link) AsHash() Hash {
	return Hash(link)
}

func (link Link) AsAddress() Address {
	return Address(link)
}

func (link Link) ToHexString() string {
	return strings.ToUpper(hex.EncodeToString(link[:]))
}

func (link Link) MarshalText() ([]byte, error) {
	return []byte(link.ToHexString()), nil
}

func (link *Link) UnmarshalText(link_hex []byte) error {
	decoded, err := LinkFromString(string(link_hex))
	if err != nil {
		return err
	}

	*link = *decoded

	return nil
}

func LinkFromString(link_str string) (*Link, error) {
	link_slice, err := hex.DecodeString(link_str)
	if err != nil {
		return nil, err
	}

	if len(link_slice) != 32 {
		return nil, errors.New("link must be 32 bytes")
	}

	link := new(Link)
	copy(link[:], link_slice)

	return link, nil
}

// LinkFromText left-aligns an ascii marker into a zero padded link, the way
// epoch links are built.
func LinkFromText(text string) Link {
	var link Link
	copy(link[:], text)

	return link
}
