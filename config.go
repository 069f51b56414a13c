package payrun

import "time"

// Config holds configuration for the engine.
type Config struct {
	// Concurrency is the maximum number of jobs processed concurrently.
	Concurrency int

	// Queues is the list of job queues this process will poll.
	Queues []string

	// PollInterval is how often to poll for new jobs.
	PollInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration

	// HeartbeatInterval is how often running jobs send heartbeats.
	HeartbeatInterval time.Duration

	// StaleJobThreshold is how long before a job without heartbeat is
	// considered stale.
	StaleJobThreshold time.Duration

	// BatchSize is the number of run items claimed per execute batch.
	BatchSize int

	// MaxBatches bounds the batches processed by one execute call.
	MaxBatches int

	// LeaseTTL is the lifetime of a run lease between renewals.
	LeaseTTL time.Duration

	// RelayInterval is how often the outbox relay ticks.
	RelayInterval time.Duration

	// RelayBatchSize is the number of outbox events claimed per tick.
	RelayBatchSize int

	// RelayLockTTL is how long a claimed outbox event stays locked
	// before another relay may reclaim it.
	RelayLockTTL time.Duration

	// OutboxRetention is how long SENT outbox rows are kept before the
	// retention pass purges them. Zero disables purging.
	OutboxRetention time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:       10,
		Queues:            []string{"payrun.finalize.item"},
		PollInterval:      1 * time.Second,
		ShutdownTimeout:   30 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		StaleJobThreshold: 30 * time.Second,
		BatchSize:         25,
		MaxBatches:        10,
		LeaseTTL:          30 * time.Second,
		RelayInterval:     2 * time.Second,
		RelayBatchSize:    100,
		RelayLockTTL:      1 * time.Minute,
		OutboxRetention:   7 * 24 * time.Hour,
	}
}
