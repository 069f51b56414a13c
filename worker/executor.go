// Package worker provides the job execution engine — an Executor that
// invokes registered handlers through middleware and routes failures up
// the retry ladder, and a Pool that manages concurrent worker
// goroutines polling for jobs.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/payflux/payrun/backoff"
	"github.com/payflux/payrun/dlq"
	"github.com/payflux/payrun/ext"
	"github.com/payflux/payrun/job"
	"github.com/payflux/payrun/middleware"
)

// Executor runs a single job through middleware and the registered handler,
// then handles ladder routing, DLQ push, state updates, and lifecycle events.
type Executor struct {
	registry   *job.Registry
	extensions *ext.Registry
	store      job.Store
	dlqService *dlq.Service
	ladder     *backoff.Ladder
	mw         middleware.Middleware
	logger     *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	registry *job.Registry,
	extensions *ext.Registry,
	store job.Store,
	dlqService *dlq.Service,
	ladder *backoff.Ladder,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		registry:   registry,
		extensions: extensions,
		store:      store,
		dlqService: dlqService,
		ladder:     ladder,
		mw:         middleware.Chain(mws...),
		logger:     logger,
	}
}

// Execute runs a job through the middleware chain and handler.
// On success: marks succeeded, emits JobSucceeded.
// On failure with ladder stages remaining: marks retrying with the
// stage delay, emits JobRetrying.
// On failure past the last stage: marks dead, pushes to DLQ, emits
// JobFailed + JobDLQ.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	handler, ok := e.registry.Get(j.Name)
	if !ok {
		return fmt.Errorf("no handler registered for job %q", j.Name)
	}

	start := time.Now()

	// The terminal handler that calls the registered job handler.
	terminal := func(ctx context.Context) error {
		return handler(ctx, j.Payload)
	}

	// Run through middleware chain.
	err := e.mw(ctx, j, terminal)
	elapsed := time.Since(start)

	now := time.Now().UTC()
	j.UpdatedAt = now

	if err != nil {
		return e.handleFailure(ctx, j, err, now)
	}

	return e.handleSuccess(ctx, j, now, elapsed)
}

// handleSuccess marks the job as succeeded and emits the lifecycle event.
func (e *Executor) handleSuccess(ctx context.Context, j *job.Job, now time.Time, elapsed time.Duration) error {
	j.State = job.StateSucceeded
	j.CompletedAt = &now

	if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
		e.logger.Error("failed to update job after success",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	e.extensions.EmitJobSucceeded(ctx, j, elapsed)
	return nil
}

// handleFailure routes the failed attempt up the retry ladder or into
// the DLQ once the ladder is exhausted.
func (e *Executor) handleFailure(ctx context.Context, j *job.Job, handlerErr error, now time.Time) error {
	j.LastError = handlerErr.Error()

	if e.ladder.Exhausted(j.Attempt) {
		return e.sendToDLQ(ctx, j, handlerErr)
	}

	return e.scheduleRetry(ctx, j, now)
}

// scheduleRetry sets the job to StateRetrying with the ladder stage
// delay for the attempt that just failed, and bumps Attempt for the
// next execution.
func (e *Executor) scheduleRetry(ctx context.Context, j *job.Job, now time.Time) error {
	delay := e.ladder.Delay(j.Attempt)
	nextRunAt := now.Add(delay)
	failedAttempt := j.Attempt
	j.Attempt++
	j.RunAt = nextRunAt
	j.State = job.StateRetrying

	if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
		e.logger.Error("failed to update job for retry",
			slog.String("job_id", j.ID.String()),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	e.extensions.EmitJobRetrying(ctx, j, failedAttempt, nextRunAt)

	e.logger.Info("job scheduled for retry",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.Int("attempt", failedAttempt),
		slog.Int("max_attempts", j.MaxAttempts),
		slog.Duration("delay", delay),
	)

	return fmt.Errorf("job %s attempt %d/%d: %w", j.Name, failedAttempt, j.MaxAttempts, fmt.Errorf("%s", j.LastError))
}

// sendToDLQ marks the job as dead, pushes it to the DLQ, and emits events.
func (e *Executor) sendToDLQ(ctx context.Context, j *job.Job, handlerErr error) error {
	j.State = job.StateDead

	if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
		e.logger.Error("failed to update job as dead",
			slog.String("job_id", j.ID.String()),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	if e.dlqService != nil {
		if dlqErr := e.dlqService.Push(ctx, j, handlerErr); dlqErr != nil {
			e.logger.Error("failed to push job to DLQ",
				slog.String("job_id", j.ID.String()),
				slog.String("error", dlqErr.Error()),
			)
		}
	}

	e.extensions.EmitJobFailed(ctx, j, handlerErr)
	e.extensions.EmitJobDLQ(ctx, j, handlerErr)

	e.logger.Warn("job moved to DLQ after exhausting the retry ladder",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.String("tenant_id", j.TenantID),
		slog.Int("attempt", j.Attempt),
		slog.String("error", handlerErr.Error()),
	)

	return handlerErr
}
