// Package ext defines the extension system for Payrun.
//
// Extensions are notified of lifecycle events and can react to them —
// recording metrics, emitting webhooks, writing audit logs, etc.
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnJobSucceeded(ctx context.Context, j *job.Job, elapsed time.Duration) error {
//	    log.Printf("job %s succeeded in %s", j.ID, elapsed)
//	    return nil
//	}
//
// # Job Lifecycle Hooks
//
//   - [JobEnqueued] — job was accepted into the queue
//   - [JobStarted] — worker began executing the job
//   - [JobSucceeded] — job finished successfully
//   - [JobFailed] — job failed with no retries remaining
//   - [JobRetrying] — job failed but will be retried
//   - [JobDLQ] — job was moved to the dead letter queue
//
// # Run Lifecycle Hooks
//
//   - [RunStarted] — a pay run was created and its items fanned out
//   - [ItemSucceeded] — a run item finalized successfully
//   - [ItemFailed] — a run item failed terminally
//   - [RunFinalized] — the run reached a terminal status
//
// # Other Hooks
//
//   - [EventPublished] — the outbox relay published an event
//   - [Shutdown] — the node is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface.
package ext
