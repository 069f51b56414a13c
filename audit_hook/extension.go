package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/payflux/payrun/ext"
	"github.com/payflux/payrun/job"
	"github.com/payflux/payrun/outbox"
	"github.com/payflux/payrun/run"
)

// Compile-time interface checks.
var (
	_ ext.Extension      = (*Extension)(nil)
	_ ext.JobEnqueued    = (*Extension)(nil)
	_ ext.JobStarted     = (*Extension)(nil)
	_ ext.JobSucceeded   = (*Extension)(nil)
	_ ext.JobFailed      = (*Extension)(nil)
	_ ext.JobRetrying    = (*Extension)(nil)
	_ ext.JobDLQ         = (*Extension)(nil)
	_ ext.RunStarted     = (*Extension)(nil)
	_ ext.RunFinalized   = (*Extension)(nil)
	_ ext.ItemSucceeded  = (*Extension)(nil)
	_ ext.ItemFailed     = (*Extension)(nil)
	_ ext.EventPublished = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
// It is defined locally so this package carries no dependency on any
// particular audit store — callers inject the concrete backend at
// wiring time.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	TenantID   string         `json:"tenant_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges payrun lifecycle events to an audit trail backend.
// Each lifecycle hook emits a structured audit event through the [Recorder].
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// ── Job lifecycle hooks ─────────────────────────────

// OnJobEnqueued implements ext.JobEnqueued.
func (e *Extension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	return e.record(ctx, ActionJobEnqueued, SeverityInfo, OutcomeSuccess,
		ResourceJob, j.ID.String(), j.TenantID, CategoryJob, nil,
		"job_name", j.Name,
		"queue", j.Queue,
	)
}

// OnJobStarted implements ext.JobStarted.
func (e *Extension) OnJobStarted(ctx context.Context, j *job.Job) error {
	return e.record(ctx, ActionJobStarted, SeverityInfo, OutcomeSuccess,
		ResourceJob, j.ID.String(), j.TenantID, CategoryJob, nil,
		"job_name", j.Name,
		"queue", j.Queue,
		"worker_id", j.WorkerID.String(),
	)
}

// OnJobSucceeded implements ext.JobSucceeded.
func (e *Extension) OnJobSucceeded(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	return e.record(ctx, ActionJobSucceeded, SeverityInfo, OutcomeSuccess,
		ResourceJob, j.ID.String(), j.TenantID, CategoryJob, nil,
		"job_name", j.Name,
		"queue", j.Queue,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnJobFailed implements ext.JobFailed.
func (e *Extension) OnJobFailed(ctx context.Context, j *job.Job, jobErr error) error {
	return e.record(ctx, ActionJobFailed, SeverityCritical, OutcomeFailure,
		ResourceJob, j.ID.String(), j.TenantID, CategoryJob, jobErr,
		"job_name", j.Name,
		"queue", j.Queue,
		"attempt", j.Attempt,
		"max_attempts", j.MaxAttempts,
	)
}

// OnJobRetrying implements ext.JobRetrying.
func (e *Extension) OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error {
	return e.record(ctx, ActionJobRetrying, SeverityWarning, OutcomeFailure,
		ResourceJob, j.ID.String(), j.TenantID, CategoryJob, nil,
		"job_name", j.Name,
		"queue", j.Queue,
		"attempt", attempt,
		"next_run_at", nextRunAt.Format(time.RFC3339),
	)
}

// OnJobDLQ implements ext.JobDLQ.
func (e *Extension) OnJobDLQ(ctx context.Context, j *job.Job, jobErr error) error {
	return e.record(ctx, ActionJobDLQ, SeverityCritical, OutcomeFailure,
		ResourceJob, j.ID.String(), j.TenantID, CategoryJob, jobErr,
		"job_name", j.Name,
		"queue", j.Queue,
		"attempt", j.Attempt,
	)
}

// ── Run lifecycle hooks ─────────────────────────────

// OnRunStarted implements ext.RunStarted.
func (e *Extension) OnRunStarted(ctx context.Context, r *run.Run) error {
	return e.record(ctx, ActionRunStarted, SeverityInfo, OutcomeSuccess,
		ResourceRun, r.ID.String(), r.TenantID, CategoryRun, nil,
		"period_id", r.PeriodID,
		"run_type", string(r.Type),
		"sequence", r.Sequence,
	)
}

// OnRunFinalized implements ext.RunFinalized.
func (e *Extension) OnRunFinalized(ctx context.Context, r *run.Run, counts run.Counts) error {
	severity := SeverityInfo
	outcome := OutcomeSuccess
	if r.Status == run.StatusFailed {
		severity = SeverityCritical
		outcome = OutcomeFailure
	} else if r.Status == run.StatusPartiallyFinalized {
		severity = SeverityWarning
	}
	return e.record(ctx, ActionRunFinalized, severity, outcome,
		ResourceRun, r.ID.String(), r.TenantID, CategoryRun, nil,
		"period_id", r.PeriodID,
		"status", string(r.Status),
		"total", counts.Total,
		"succeeded", counts.Succeeded,
		"failed", counts.Failed,
	)
}

// OnItemSucceeded implements ext.ItemSucceeded.
func (e *Extension) OnItemSucceeded(ctx context.Context, item *run.Item) error {
	return e.record(ctx, ActionItemSucceeded, SeverityInfo, OutcomeSuccess,
		ResourceItem, item.MemberID, item.TenantID, CategoryRun, nil,
		"run_id", item.RunID.String(),
		"result_id", item.ResultID.String(),
	)
}

// OnItemFailed implements ext.ItemFailed.
func (e *Extension) OnItemFailed(ctx context.Context, item *run.Item, itemErr error) error {
	return e.record(ctx, ActionItemFailed, SeverityWarning, OutcomeFailure,
		ResourceItem, item.MemberID, item.TenantID, CategoryRun, itemErr,
		"run_id", item.RunID.String(),
		"attempt_count", item.AttemptCount,
	)
}

// ── Outbox lifecycle hooks ──────────────────────────

// OnEventPublished implements ext.EventPublished.
func (e *Extension) OnEventPublished(ctx context.Context, ev *outbox.Event) error {
	return e.record(ctx, ActionEventPublished, SeverityInfo, OutcomeSuccess,
		ResourceEvent, ev.EventID, ev.TenantID, CategoryOutbox, nil,
		"event_type", ev.Type,
		"destination", ev.Destination,
		"aggregate_id", ev.AggregateID,
	)
}

// ── Internal helpers ────────────────────────────────

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, tenantID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		TenantID:   tenantID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
