package types

import (
	"fmt"
	"strconv"
)

type Work uint64

func (work Work) ToHexString() string {
	return fmt.Sprintf("%016x", uint64(work))
}

func (work Work) MarshalText() ([]byte, error) {
	return []byte(work.ToHexString()), nil
}

func (work *Work) UnmarshalText(work_hex []byte) error {
	value, err := strconv.ParseUint(string(work_hex), 16, 64)
	if err != nil {
		return err
	}

	*work = Work(value)

	return nil
}
