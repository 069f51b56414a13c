package run

import (
	"context"
	"time"

	"github.com/payflux/payrun/id"
	"github.com/payflux/payrun/outbox"
)

// NewRun carries the inputs for creating a run with its items.
type NewRun struct {
	TenantID       string
	PeriodID       string
	Type           Type
	Sequence       int
	MemberIDs      []string
	RequestedID    id.RunID
	IdempotencyKey string
}

// Store defines the persistence contract for runs and their items.
//
// Implementations must honor the lease discipline: item mutation
// happens only between a successful AcquireOrRenewLease and lease
// expiry, and FinalizeRun is the single transaction that ends a run.
type Store interface {
	// CreateOrGetRun atomically inserts a QUEUED run plus one QUEUED
	// item per member, or returns the existing run when the request
	// matches one already created. Lookup falls back in order: by
	// (tenant, idempotency key), by (tenant, period, type, sequence),
	// by requested ID. The bool result is false when an existing run
	// was returned.
	CreateOrGetRun(ctx context.Context, req NewRun) (*Run, bool, error)

	// GetRun retrieves a run by ID. Returns payrun.ErrRunNotFound when
	// no such run exists for the tenant.
	GetRun(ctx context.Context, tenantID string, runID id.RunID) (*Run, error)

	// ListRunsByStatus returns the tenant's runs in the given status,
	// oldest first.
	ListRunsByStatus(ctx context.Context, tenantID string, status Status, limit int) ([]*Run, error)

	// AcquireOrRenewLease attempts to take the run's lease for owner.
	// It succeeds when the lease is free, expired, or already held by
	// the same owner, setting expiry to now+ttl, and moves a QUEUED run
	// to RUNNING. The conditional update is a single atomic statement:
	// concurrent claims resolve to exactly one winner. Returns false
	// when another owner holds a live lease.
	AcquireOrRenewLease(ctx context.Context, tenantID string, runID id.RunID, owner string, ttl time.Duration) (bool, error)

	// RenewLeaseIfOwned extends the lease only when owner still holds
	// it. Returns false when the lease was lost.
	RenewLeaseIfOwned(ctx context.Context, tenantID string, runID id.RunID, owner string, ttl time.Duration) (bool, error)

	// ClaimQueuedItems atomically picks up to limit QUEUED items and
	// marks them RUNNING. Callers must hold the run's lease.
	ClaimQueuedItems(ctx context.Context, tenantID string, runID id.RunID, limit int) ([]*Item, error)

	// RequeueStaleRunningItems moves RUNNING items not touched within
	// olderThan back to QUEUED, returning how many were requeued.
	// Called after lease acquisition to recover items orphaned by a
	// crashed holder; the cutoff keeps it from stealing items another
	// batch under the same lease is still computing.
	RequeueStaleRunningItems(ctx context.Context, tenantID string, runID id.RunID, olderThan time.Duration) (int, error)

	// MarkItemSucceeded records a successful item with its result.
	MarkItemSucceeded(ctx context.Context, tenantID string, runID id.RunID, memberID string, resultID id.PaycheckID) error

	// MarkItemFailed records a failed item, incrementing AttemptCount
	// and storing the cause.
	MarkItemFailed(ctx context.Context, tenantID string, runID id.RunID, memberID string, cause error) error

	// ListItems returns the run's items, optionally filtered by status.
	ListItems(ctx context.Context, tenantID string, runID id.RunID, statuses ...ItemStatus) ([]*Item, error)

	// CountItems returns item counts grouped by status.
	CountItems(ctx context.Context, tenantID string, runID id.RunID) (Counts, error)

	// FinalizeRun writes the terminal status, clears the lease, and
	// inserts the given outbox events, all in one transaction. Events
	// whose EventID already exists are skipped silently.
	FinalizeRun(ctx context.Context, tenantID string, runID id.RunID, status Status, events []*outbox.Event) error
}
