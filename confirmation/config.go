package confirmation

type Config struct {
	// Height updates gathered before they are written in one transaction.
	BatchWriteSize int `validate:"min=1"`
	// Blocks read before the read transaction is renewed.
	BatchReadSize int `validate:"min=1"`
}

func DefaultConfig() Config {
	return Config{
		BatchWriteSize: 4096,
		BatchReadSize:  4096,
	}
}
