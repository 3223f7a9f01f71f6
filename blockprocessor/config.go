package blockprocessor

import "time"

type Config struct {
	// A write transaction is kept open until either bound is reached.
	BatchMaxTime time.Duration `validate:"required"`
	BatchSize    int           `validate:"min=1"`

	FullSize              int `validate:"min=1"`
	SignatureCheckThreads int `validate:"min=1"`

	LogInterval time.Duration

	RolledBackMax int `validate:"min=1"`
	RolledBackTTL time.Duration

	UncheckedCutoff          time.Duration
	UncheckedCleanupInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		BatchMaxTime:             500 * time.Millisecond,
		BatchSize:                4096,
		FullSize:                 65536,
		SignatureCheckThreads:    4,
		LogInterval:              15 * time.Second,
		RolledBackMax:            1024,
		RolledBackTTL:            5 * time.Second,
		UncheckedCutoff:          4 * time.Hour,
		UncheckedCleanupInterval: 30 * time.Minute,
	}
}
