package utils

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/tundak/nano-node-sub003/types"
	"golang.org/x/crypto/blake2b"
)

func Blake2BHash(data ...[]byte) types.Hash {
	b2b_hash, _ := blake2b.New(32, nil)
	for _, item := range data {
		b2b_hash.Write(item)
	}

	var hash types.Hash
	copy(hash[:], b2b_hash.Sum(nil))

	return hash
}

// NewLogger returns a component logger, silenced when the component's log
// switch is off.
func NewLogger(component string, enabled bool) *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})

	if !enabled {
		logger.SetOutput(io.Discard)
	}

	return logger.WithField("component", component)
}
