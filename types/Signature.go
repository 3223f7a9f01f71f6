package types

import (
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
)

type Signature [64]byte

func (sig Signature) ToHexString() string {
	return strings.ToUpper(hex.EncodeToString(sig[:]))
}

func (sig Signature) MarshalText() ([]byte, error) {
	return []byte(sig.ToHexString()), nil
}

func (sig *Signature) UnmarshalText(data []byte) error {
	decoded, err := hex.DecodeString(string(data))
	if err != nil {
		return err
	}

	if len(decoded) != 64 {
		return errors.New("signature must be 64 bytes")
	}

	copy(sig[:], decoded)

	return nil
}

func MustSignature(sig_str string) Signature {
	var sig Signature
	if err := sig.UnmarshalText([]byte(sig_str)); err != nil {
		panic(err)
	}

	return sig
}
