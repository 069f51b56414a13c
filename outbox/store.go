package outbox

import (
	"context"
	"time"

	"github.com/payflux/payrun/id"
)

// Store defines the persistence contract for outbox events.
//
// Rows are append-only until delivered. Deduplication rides on the
// EventID unique constraint; the claim protocol (SENDING plus lock
// owner and timestamp) keeps replicated relays from double-publishing.
type Store interface {
	// EnqueueEvent persists a PENDING event. A duplicate EventID is a
	// silent no-op: the event was already recorded and the call
	// succeeds. Callers that mutate business state in the same
	// transaction should use their domain store's transactional
	// variant (run.Store.FinalizeRun); EnqueueEvent alone covers
	// standalone events.
	EnqueueEvent(ctx context.Context, e *Event) error

	// ClaimBatch atomically claims up to limit publishable events:
	// PENDING rows due by NextAttemptAt, plus SENDING rows whose lock
	// is older than lockTTL (crashed relay recovery). Claimed rows are
	// flipped to SENDING with the given owner and a fresh LockedAt,
	// and returned oldest first so per-PartitionKey order holds.
	ClaimBatch(ctx context.Context, owner string, limit int, lockTTL time.Duration) ([]*Event, error)

	// MarkSent records a broker acknowledgment. The owner and lockedAt
	// must match the claim; a stale claim returns payrun.ErrStaleLock
	// and the row is left for the current claimant.
	MarkSent(ctx context.Context, eventID id.OutboxID, owner string, lockedAt time.Time) error

	// MarkFailed returns a claimed event to PENDING with the failure
	// cause and the next eligible publish time. Guarded by owner and
	// lockedAt like MarkSent.
	MarkFailed(ctx context.Context, eventID id.OutboxID, owner string, lockedAt time.Time, cause error, nextAttemptAt time.Time) error

	// GetEventByEventID looks up an event by its deterministic EventID.
	GetEventByEventID(ctx context.Context, eventID string) (*Event, error)

	// CountEvents returns event counts grouped by delivery status.
	CountEvents(ctx context.Context) (map[Status]int64, error)

	// PurgeSentEvents deletes SENT rows published before the cutoff,
	// returning how many were removed.
	PurgeSentEvents(ctx context.Context, cutoff time.Time) (int64, error)
}
