// Package ext defines the extension system for Payrun.
// Extensions are notified of lifecycle events (job enqueued, run
// finalized, event published, etc.) and can react to them — logging,
// metrics, tracing, audit trails.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/payflux/payrun/job"
	"github.com/payflux/payrun/outbox"
	"github.com/payflux/payrun/run"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobEnqueued is called after a job is successfully enqueued.
type JobEnqueued interface {
	OnJobEnqueued(ctx context.Context, j *job.Job) error
}

// JobStarted is called when a worker begins executing a job.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobSucceeded is called after a job finishes successfully.
type JobSucceeded interface {
	OnJobSucceeded(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called when a job fails terminally (no more retries).
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobRetrying is called when a job fails but is scheduled for retry.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error
}

// JobDLQ is called when a job is moved to the dead letter queue.
type JobDLQ interface {
	OnJobDLQ(ctx context.Context, j *job.Job, err error) error
}

// ──────────────────────────────────────────────────
// Run lifecycle hooks
// ──────────────────────────────────────────────────

// RunStarted is called when a run is created and its items are fanned out.
type RunStarted interface {
	OnRunStarted(ctx context.Context, r *run.Run) error
}

// RunFinalized is called when a run reaches a terminal status.
type RunFinalized interface {
	OnRunFinalized(ctx context.Context, r *run.Run, counts run.Counts) error
}

// ItemSucceeded is called after a run item finalizes successfully.
type ItemSucceeded interface {
	OnItemSucceeded(ctx context.Context, item *run.Item) error
}

// ItemFailed is called when a run item fails terminally.
type ItemFailed interface {
	OnItemFailed(ctx context.Context, item *run.Item, err error) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// EventPublished is called after the outbox relay publishes an event.
type EventPublished interface {
	OnEventPublished(ctx context.Context, e *outbox.Event) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
