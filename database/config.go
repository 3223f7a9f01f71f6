package database

import "time"

type Config struct {
	DataDir  string `validate:"required_unless=InMemory true"`
	InMemory bool

	// Write transactions held longer than this are reported with the stack of
	// the goroutine that opened them. Zero disables tracking.
	WriteTxnWarnThreshold time.Duration
}
