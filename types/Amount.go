package types

import (
	"math/big"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

// Amount is a 128-bit big-endian quantity of raw.
type Amount [16]byte

var MaxAmount = Amount{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

func AmountFromBytesBE(data []byte) Amount {
	var amount Amount
	copy(amount[:], data)

	return amount
}

func AmountFromUint64(value uint64) Amount {
	return amountFromUint256(uint256.NewInt(value))
}

func AmountFromString(decimal string) (Amount, error) {
	value, err := uint256.FromDecimal(decimal)
	if err != nil {
		return Amount{}, errors.Wrapf(err, "invalid amount %q", decimal)
	}

	if value.BitLen() > 128 {
		return Amount{}, errors.Errorf("amount %s overflows 128 bits", decimal)
	}

	return amountFromUint256(value), nil
}

func MustAmount(decimal string) Amount {
	amount, err := AmountFromString(decimal)
	if err != nil {
		panic(err)
	}

	return amount
}

func amountFromUint256(value *uint256.Int) Amount {
	bytes32 := value.Bytes32()

	return AmountFromBytesBE(bytes32[16:])
}

func (amount Amount) Uint256() *uint256.Int {
	return new(uint256.Int).SetBytes(amount[:])
}

func (amount Amount) BigInt() *big.Int {
	return new(big.Int).SetBytes(amount[:])
}

func (amount Amount) IsZero() bool {
	return amount == Amount{}
}

func (amount Amount) Cmp(other Amount) int {
	return amount.Uint256().Cmp(other.Uint256())
}

// Add wraps around 2^128 like the fixed width integer it models.
func (amount Amount) Add(other Amount) Amount {
	return amountFromUint256(new(uint256.Int).Add(amount.Uint256(), other.Uint256()))
}

// Sub wraps around 2^128 like the fixed width integer it models.
func (amount Amount) Sub(other Amount) Amount {
	return amountFromUint256(new(uint256.Int).Sub(amount.Uint256(), other.Uint256()))
}

func (amount Amount) MulDiv(mul uint64, div uint64) Amount {
	value := amount.Uint256()
	value.Mul(value, uint256.NewInt(mul))
	value.Div(value, uint256.NewInt(div))

	return amountFromUint256(value)
}

func (amount Amount) Max(other Amount) Amount {
	if amount.Cmp(other) >= 0 {
		return amount
	}

	return other
}

func (amount Amount) String() string {
	return amount.Uint256().Dec()
}

func (amount Amount) Bytes() []byte {
	return amount[:]
}

func (amount Amount) MarshalText() ([]byte, error) {
	return []byte(amount.String()), nil
}

func (amount *Amount) UnmarshalText(data []byte) error {
	decoded, err := AmountFromString(string(data))
	if err != nil {
		return err
	}

	*amount = decoded

	return nil
}
