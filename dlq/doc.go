// Package dlq provides the dead letter queue for jobs that have failed
// through the entire retry ladder. It supports inspection, replay, and
// purging.
//
// When a job fails and the ladder is exhausted, the executor calls
// [Service.Push] to move it into the DLQ. The original payload, error
// message, and attempt counts are preserved for debugging, along with
// the tenant/run/member identity so operators can tie an entry back to
// the run item it worked for.
//
// # Entry
//
// A [Entry] captures:
//   - JobID / JobName / Queue: original job identity
//   - TenantID / RunID / MemberID: the run item the job worked for
//   - Payload: the raw JSON payload at time of failure
//   - Error: the final error message
//   - Attempt / MaxAttempts: exhausted attempt budget
//   - FailedAt: when the terminal failure occurred
//   - ReplayedAt: set when the entry is replayed (nil if not yet replayed)
//
// # Service
//
// [Service] wraps the DLQ store with high-level operations:
//
//	svc := dlq.NewService(store, jobStore)
//
//	// Push is called automatically by the executor on ladder exhaustion.
//	svc.Push(ctx, failedJob, err)
//
//	// Access the underlying store for list/get/purge/count.
//	svc.DLQStore().ListDLQ(ctx, dlq.ListOpts{Limit: 50})
//
// # Replay
//
// Replaying an entry re-enqueues the original payload as a fresh job
// with attempt reset to 1, so it walks the full ladder again. Replay
// sets ReplayedAt on the entry; a second replay of the same entry
// fails with payrun.ErrAlreadyReplayed.
//
// # Admin API
//
// The DLQ is exposed via the HTTP admin API:
//   - GET  /v1/dlq                 — list entries
//   - GET  /v1/dlq/:entryId        — get a single entry
//   - POST /v1/dlq/:entryId/replay — replay one entry
//   - POST /v1/dlq/replay          — replay everything
//   - GET  /v1/dlq/count           — entry count
package dlq
