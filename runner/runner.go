package runner

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/payflux/payrun"
	"github.com/payflux/payrun/coordinator"
	"github.com/payflux/payrun/id"
)

// Executor is what the runner drives. Both coordinator.Coordinator
// (in-process) and client.Client (over HTTP) satisfy it.
type Executor interface {
	Start(ctx context.Context, req coordinator.StartRequest) (*coordinator.StartResult, error)
	Execute(ctx context.Context, req coordinator.ExecuteRequest) (*coordinator.ExecuteResult, error)
	Status(ctx context.Context, tenantID string, runID id.RunID, maxFailures int) (*coordinator.StatusReport, error)
}

// Option configures a Runner.
type Option func(*Runner)

// WithOwner sets the stable lease owner identity. Defaults to a fresh
// worker ID per Runner.
func WithOwner(owner string) Option {
	return func(r *Runner) { r.owner = owner }
}

// WithPollInterval sets the backoff between lease-conflict retries.
func WithPollInterval(d time.Duration) Option {
	return func(r *Runner) { r.pollInterval = d }
}

// WithIterationPause sets the pause between Execute iterations while
// the run still has work. Zero or negative disables the pause.
func WithIterationPause(d time.Duration) Option {
	return func(r *Runner) { r.iterationPause = d }
}

// WithMaxIterations bounds the Execute loop. A run that is not
// terminal after this many calls is reported as-is.
func WithMaxIterations(n int) Option {
	return func(r *Runner) { r.maxIterations = n }
}

// WithMaxFailures bounds the failure list in the final status report.
func WithMaxFailures(n int) Option {
	return func(r *Runner) { r.maxFailures = n }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// Runner drives one run to completion: start it, loop Execute under a
// stable lease owner, and fetch the final status. Lease conflicts are
// not errors here, they mean someone else is working the run; the
// runner backs off and retries until the run turns terminal.
type Runner struct {
	executor Executor
	logger   *slog.Logger

	owner          string
	pollInterval   time.Duration
	iterationPause time.Duration
	maxIterations  int
	maxFailures    int
}

// DefaultMaxIterations bounds the Execute loop when not configured.
const DefaultMaxIterations = 1000

// DefaultIterationPause is the breather between Execute iterations,
// keeping a long run from hammering the store back-to-back.
const DefaultIterationPause = 100 * time.Millisecond

// New creates a Runner on the given executor.
func New(executor Executor, opts ...Option) *Runner {
	r := &Runner{
		executor:       executor,
		logger:         slog.Default(),
		owner:          "runner-" + id.NewWorkerID().String(),
		pollInterval:   payrun.DefaultConfig().PollInterval,
		iterationPause: DefaultIterationPause,
		maxIterations:  DefaultMaxIterations,
		maxFailures:    25,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunRequest carries the run to create plus per-call execute knobs.
type RunRequest struct {
	coordinator.StartRequest

	// BatchSize and MaxBatches are passed through to every Execute
	// call. Zero uses the executor's defaults.
	BatchSize  int `json:"batch_size,omitempty"`
	MaxBatches int `json:"max_batches,omitempty"`
}

// Run starts the run and drives it until a terminal status or the
// iteration budget runs out, then reports its final state. All waits
// respect ctx.
func (r *Runner) Run(ctx context.Context, req RunRequest) (*coordinator.StatusReport, error) {
	started, err := r.executor.Start(ctx, req.StartRequest)
	if err != nil {
		return nil, err
	}
	r.logger.Info("run started",
		"run_id", started.RunID,
		"tenant_id", req.TenantID,
		"created", started.Created,
		"items", started.TotalItems)

	execReq := coordinator.ExecuteRequest{
		TenantID:   req.TenantID,
		RunID:      started.RunID,
		BatchSize:  req.BatchSize,
		MaxBatches: req.MaxBatches,
		LeaseOwner: r.owner,
	}

	for i := 0; i < r.maxIterations; i++ {
		res, err := r.executor.Execute(ctx, execReq)
		if errors.Is(err, payrun.ErrLeaseConflict) {
			r.logger.Debug("lease held elsewhere, backing off",
				"run_id", started.RunID,
				"owner", r.owner)
			if err := sleep(ctx, r.pollInterval); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		if res.Finalized {
			break
		}
		if r.iterationPause > 0 {
			if err := sleep(ctx, r.iterationPause); err != nil {
				return nil, err
			}
		}
	}

	return r.executor.Status(ctx, req.TenantID, started.RunID, r.maxFailures)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
