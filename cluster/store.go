package cluster

import (
	"context"
	"time"

	"github.com/payflux/payrun/id"
)

// Store is the persistence contract for the worker registry and
// leader election. The leadership lease gates singleton background
// work: only the leader node ticks the outbox relay and runs the
// retention purge.
type Store interface {
	// RegisterWorker adds a node to the cluster registry on startup.
	RegisterWorker(ctx context.Context, w *Worker) error

	// DeregisterWorker removes a node from the registry on shutdown.
	DeregisterWorker(ctx context.Context, workerID id.WorkerID) error

	// HeartbeatWorker refreshes a node's last-seen timestamp.
	HeartbeatWorker(ctx context.Context, workerID id.WorkerID) error

	// ListWorkers returns all registered workers.
	ListWorkers(ctx context.Context) ([]*Worker, error)

	// ReapDeadWorkers returns workers whose last-seen timestamp is
	// older than the threshold. Their claimed jobs become eligible
	// for the pool's lost-job recovery.
	ReapDeadWorkers(ctx context.Context, threshold time.Duration) ([]*Worker, error)

	// AcquireLeadership attempts to take the leadership lease.
	// Returns true if this worker is now leader. The lease expires
	// after ttl unless renewed.
	AcquireLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error)

	// RenewLeadership extends the holder's lease. Must be called
	// before the TTL expires.
	RenewLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error)

	// GetLeader returns the current leader, or nil when the lease is
	// free or expired.
	GetLeader(ctx context.Context) (*Worker, error)
}
