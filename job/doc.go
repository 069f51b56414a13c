// Package job defines the per-item job entity, its state machine,
// typed definitions, and the store interface.
//
// # Job Entity
//
// A [Job] represents one member item's work within a pay run. It
// embeds [payrun.Entity] for timestamps, carries a typed payload
// (JSON), and progresses through a state machine:
//
//	pending → running → succeeded
//	pending → running → retrying → running → ...
//	pending → running → retrying → ... → dead (DLQ)
//	pending → cancelled
//
// Fields of note:
//   - Queue: which queue the job belongs to
//   - TenantID / RunID / MemberID: which run item the job works for
//   - Attempt: 1-based execution counter driving the retry ladder
//   - RunAt: earliest time the job may be dequeued; the ladder's
//     staged delays are realized by pushing RunAt into the future
//   - Timeout: per-job execution deadline (zero = unlimited)
//
// # Defining a Job
//
// Use [Definition] with a typed handler. The payload is JSON-serialized
// at enqueue time and deserialized before the handler runs:
//
//	var FinalizeItem = job.NewDefinition("finalize-item",
//	    func(ctx context.Context, input ItemInput) error {
//	        return finalizer.Finalize(ctx, input)
//	    },
//	)
//
// # Registry
//
// [Registry] maps job names to type-erased [HandlerFunc] values.
// Register definitions at startup via [RegisterDefinition]:
//
//	job.RegisterDefinition(registry, FinalizeItem)
//
// The engine package provides higher-level engine.Register and
// engine.Enqueue wrappers.
package job
