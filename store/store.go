package store

import (
	"context"

	"github.com/payflux/payrun/cluster"
	"github.com/payflux/payrun/dlq"
	"github.com/payflux/payrun/inbox"
	"github.com/payflux/payrun/job"
	"github.com/payflux/payrun/outbox"
	"github.com/payflux/payrun/run"
)

// Store is the aggregate persistence interface.
// A single backend (postgres, redis, memory) implements all of the
// subsystem stores, so that run state, jobs, and outbox rows share one
// transactional boundary where the backend supports it.
type Store interface {
	run.Store
	job.Store
	dlq.Store
	outbox.Store
	inbox.Store
	cluster.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
