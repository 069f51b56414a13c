package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/payflux/payrun/job"
	"github.com/payflux/payrun/outbox"
	"github.com/payflux/payrun/run"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type jobEnqueuedEntry struct {
	name string
	hook JobEnqueued
}

type jobStartedEntry struct {
	name string
	hook JobStarted
}

type jobSucceededEntry struct {
	name string
	hook JobSucceeded
}

type jobFailedEntry struct {
	name string
	hook JobFailed
}

type jobRetryingEntry struct {
	name string
	hook JobRetrying
}

type jobDLQEntry struct {
	name string
	hook JobDLQ
}

type runStartedEntry struct {
	name string
	hook RunStarted
}

type runFinalizedEntry struct {
	name string
	hook RunFinalized
}

type itemSucceededEntry struct {
	name string
	hook ItemSucceeded
}

type itemFailedEntry struct {
	name string
	hook ItemFailed
}

type eventPublishedEntry struct {
	name string
	hook EventPublished
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	jobEnqueued    []jobEnqueuedEntry
	jobStarted     []jobStartedEntry
	jobSucceeded   []jobSucceededEntry
	jobFailed      []jobFailedEntry
	jobRetrying    []jobRetryingEntry
	jobDLQ         []jobDLQEntry
	runStarted     []runStartedEntry
	runFinalized   []runFinalizedEntry
	itemSucceeded  []itemSucceededEntry
	itemFailed     []itemFailedEntry
	eventPublished []eventPublishedEntry
	shutdown       []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(JobEnqueued); ok {
		r.jobEnqueued = append(r.jobEnqueued, jobEnqueuedEntry{name, h})
	}
	if h, ok := e.(JobStarted); ok {
		r.jobStarted = append(r.jobStarted, jobStartedEntry{name, h})
	}
	if h, ok := e.(JobSucceeded); ok {
		r.jobSucceeded = append(r.jobSucceeded, jobSucceededEntry{name, h})
	}
	if h, ok := e.(JobFailed); ok {
		r.jobFailed = append(r.jobFailed, jobFailedEntry{name, h})
	}
	if h, ok := e.(JobRetrying); ok {
		r.jobRetrying = append(r.jobRetrying, jobRetryingEntry{name, h})
	}
	if h, ok := e.(JobDLQ); ok {
		r.jobDLQ = append(r.jobDLQ, jobDLQEntry{name, h})
	}
	if h, ok := e.(RunStarted); ok {
		r.runStarted = append(r.runStarted, runStartedEntry{name, h})
	}
	if h, ok := e.(RunFinalized); ok {
		r.runFinalized = append(r.runFinalized, runFinalizedEntry{name, h})
	}
	if h, ok := e.(ItemSucceeded); ok {
		r.itemSucceeded = append(r.itemSucceeded, itemSucceededEntry{name, h})
	}
	if h, ok := e.(ItemFailed); ok {
		r.itemFailed = append(r.itemFailed, itemFailedEntry{name, h})
	}
	if h, ok := e.(EventPublished); ok {
		r.eventPublished = append(r.eventPublished, eventPublishedEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Job event emitters
// ──────────────────────────────────────────────────

// EmitJobEnqueued notifies all extensions that implement JobEnqueued.
func (r *Registry) EmitJobEnqueued(ctx context.Context, j *job.Job) {
	for _, e := range r.jobEnqueued {
		if err := e.hook.OnJobEnqueued(ctx, j); err != nil {
			r.logHookError("OnJobEnqueued", e.name, err)
		}
	}
}

// EmitJobStarted notifies all extensions that implement JobStarted.
func (r *Registry) EmitJobStarted(ctx context.Context, j *job.Job) {
	for _, e := range r.jobStarted {
		if err := e.hook.OnJobStarted(ctx, j); err != nil {
			r.logHookError("OnJobStarted", e.name, err)
		}
	}
}

// EmitJobSucceeded notifies all extensions that implement JobSucceeded.
func (r *Registry) EmitJobSucceeded(ctx context.Context, j *job.Job, elapsed time.Duration) {
	for _, e := range r.jobSucceeded {
		if err := e.hook.OnJobSucceeded(ctx, j, elapsed); err != nil {
			r.logHookError("OnJobSucceeded", e.name, err)
		}
	}
}

// EmitJobFailed notifies all extensions that implement JobFailed.
func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, jobErr error) {
	for _, e := range r.jobFailed {
		if err := e.hook.OnJobFailed(ctx, j, jobErr); err != nil {
			r.logHookError("OnJobFailed", e.name, err)
		}
	}
}

// EmitJobRetrying notifies all extensions that implement JobRetrying.
func (r *Registry) EmitJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) {
	for _, e := range r.jobRetrying {
		if err := e.hook.OnJobRetrying(ctx, j, attempt, nextRunAt); err != nil {
			r.logHookError("OnJobRetrying", e.name, err)
		}
	}
}

// EmitJobDLQ notifies all extensions that implement JobDLQ.
func (r *Registry) EmitJobDLQ(ctx context.Context, j *job.Job, jobErr error) {
	for _, e := range r.jobDLQ {
		if err := e.hook.OnJobDLQ(ctx, j, jobErr); err != nil {
			r.logHookError("OnJobDLQ", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Run event emitters
// ──────────────────────────────────────────────────

// EmitRunStarted notifies all extensions that implement RunStarted.
func (r *Registry) EmitRunStarted(ctx context.Context, rn *run.Run) {
	for _, e := range r.runStarted {
		if err := e.hook.OnRunStarted(ctx, rn); err != nil {
			r.logHookError("OnRunStarted", e.name, err)
		}
	}
}

// EmitRunFinalized notifies all extensions that implement RunFinalized.
func (r *Registry) EmitRunFinalized(ctx context.Context, rn *run.Run, counts run.Counts) {
	for _, e := range r.runFinalized {
		if err := e.hook.OnRunFinalized(ctx, rn, counts); err != nil {
			r.logHookError("OnRunFinalized", e.name, err)
		}
	}
}

// EmitItemSucceeded notifies all extensions that implement ItemSucceeded.
func (r *Registry) EmitItemSucceeded(ctx context.Context, item *run.Item) {
	for _, e := range r.itemSucceeded {
		if err := e.hook.OnItemSucceeded(ctx, item); err != nil {
			r.logHookError("OnItemSucceeded", e.name, err)
		}
	}
}

// EmitItemFailed notifies all extensions that implement ItemFailed.
func (r *Registry) EmitItemFailed(ctx context.Context, item *run.Item, itemErr error) {
	for _, e := range r.itemFailed {
		if err := e.hook.OnItemFailed(ctx, item, itemErr); err != nil {
			r.logHookError("OnItemFailed", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitEventPublished notifies all extensions that implement EventPublished.
func (r *Registry) EmitEventPublished(ctx context.Context, ev *outbox.Event) {
	for _, e := range r.eventPublished {
		if err := e.hook.OnEventPublished(ctx, ev); err != nil {
			r.logHookError("OnEventPublished", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated — they must not block the pipeline.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
