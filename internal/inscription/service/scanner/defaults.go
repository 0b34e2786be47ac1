package scanner

import "time"

const (
	defaultWorkerCount  = 8
	defaultWindow       = 32
	defaultPollInterval = 5 * time.Second
	defaultRetryDelay   = 5 * time.Second
	defaultMaxPayload   = 1 << 20

	// partialFlushEvery bounds how much of a block is replayed after a
	// crash mid-commit.
	partialFlushEvery = 256
)
