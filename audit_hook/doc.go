// Package audithook is a payrun extension that bridges lifecycle events
// to an immutable audit trail backend.
//
// Every job, run, item, and outbox lifecycle hook emits a structured
// audit event through the [Recorder] interface. The extension assigns
// appropriate severity levels (info for normal operations, warning for
// retries and partial finalization, critical for terminal failures) and
// rich metadata (job name, queue, run period, elapsed time, errors).
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionJobFailed,
//	        audithook.ActionJobDLQ,
//	        audithook.ActionRunFinalized,
//	    ),
//	)
package audithook
