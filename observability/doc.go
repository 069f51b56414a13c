// Package observability provides OpenTelemetry-based metrics extensions
// for Payrun. The MetricsExtension implements lifecycle hooks to record
// system-wide counters for job enqueue, success, failure, retry, DLQ,
// run finalization, and outbox publish events.
//
// For per-execution tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
