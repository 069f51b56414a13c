package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/payflux/payrun/ext"
	"github.com/payflux/payrun/id"
	"github.com/payflux/payrun/job"
)

// errHeartbeatLost is the failure recorded against a job whose worker
// stopped heartbeating mid-execution.
var errHeartbeatLost = errors.New("worker heartbeat lost")

// QueueManager throttles execution per queue and tenant. The pool calls
// Acquire before running a dequeued job and Release once it finishes,
// so one tenant's fan-out cannot starve the others.
type QueueManager interface {
	// Acquire reports whether the queue/tenant pair has capacity.
	Acquire(queue, tenantID string) bool
	// Release returns the slot taken by Acquire.
	Release(queue, tenantID string)
}

// Pool runs the finalize-item consumers: a set of goroutines that drain
// batches of due jobs from the store and push each one through the
// Executor. It also owns the heartbeat and lost-worker recovery loops.
type Pool struct {
	store        job.Store
	executor     *Executor
	extensions   *ext.Registry
	concurrency  int
	queues       []string
	pollInterval time.Duration
	dequeueBatch int
	workerID     id.WorkerID
	logger       *slog.Logger

	heartbeatInterval time.Duration
	staleJobThreshold time.Duration

	queueManager QueueManager

	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
	activeJobs map[string]context.CancelFunc
	activeMu   sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of consumer goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPoolQueues sets the queues the pool drains.
func WithPoolQueues(queues []string) PoolOption {
	return func(p *Pool) { p.queues = queues }
}

// WithPollInterval sets how long an idle consumer waits before asking
// the store for work again.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithDequeueBatch sets how many jobs a consumer pulls per poll. A run
// fan-out enqueues one job per member, so draining a few at a time cuts
// store round-trips without holding claims for long.
func WithDequeueBatch(n int) PoolOption {
	return func(p *Pool) { p.dequeueBatch = n }
}

// WithHeartbeatInterval sets how often active jobs heartbeat. Zero
// disables heartbeats.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.heartbeatInterval = d }
}

// WithStaleJobThreshold sets how long a running job may go without a
// heartbeat before it is treated as lost and routed back through the
// retry ladder. Zero disables recovery.
func WithStaleJobThreshold(d time.Duration) PoolOption {
	return func(p *Pool) { p.staleJobThreshold = d }
}

// WithQueueManager sets the per-queue/tenant throttle.
func WithQueueManager(m QueueManager) PoolOption {
	return func(p *Pool) { p.queueManager = m }
}

// NewPool creates a worker pool.
func NewPool(
	store job.Store,
	executor *Executor,
	extensions *ext.Registry,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	p := &Pool{
		store:        store,
		executor:     executor,
		extensions:   extensions,
		concurrency:  10,
		queues:       []string{"payrun.finalize.item"},
		pollInterval: time.Second,
		dequeueBatch: 5,
		workerID:     id.NewWorkerID(),
		logger:       logger,
		stopCh:       make(chan struct{}),
		activeJobs:   make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the consumer goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
		slog.Any("queues", p.queues),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.consumeLoop()
	}

	if p.heartbeatInterval > 0 {
		p.wg.Add(1)
		go p.heartbeatLoop()
	}

	if p.staleJobThreshold > 0 {
		p.wg.Add(1)
		go p.recoveryLoop()
	}

	return nil
}

// Stop signals all consumers to stop and waits for in-flight jobs. If
// the context expires first, active jobs are cancelled.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs")
		p.cancelActiveJobs()
		p.wg.Wait()
	}

	return nil
}

// consumeLoop is run by each consumer goroutine: drain a batch, run
// each job, sleep when the queues are empty.
func (p *Pool) consumeLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		batch, err := p.store.DequeueJobs(context.Background(), p.queues, p.dequeueBatch)
		if err != nil {
			p.logger.Error("dequeue error", slog.String("error", err.Error()))
			p.idle()
			continue
		}

		if len(batch) == 0 {
			p.idle()
			continue
		}

		for _, j := range batch {
			select {
			case <-p.stopCh:
				// Shutting down mid-batch: the remaining claims age
				// out via the heartbeat threshold and get recovered.
				return
			default:
			}
			p.runJob(j)
		}
	}
}

// runJob executes one dequeued job, honoring the tenant throttle.
func (p *Pool) runJob(j *job.Job) {
	if p.queueManager != nil && !p.queueManager.Acquire(j.Queue, j.TenantID) {
		p.deferThrottled(j)
		return
	}

	p.extensions.EmitJobStarted(context.Background(), j)

	ctx, cancel := context.WithCancel(context.Background())
	p.trackJob(j.ID.String(), cancel)

	if execErr := p.executor.Execute(ctx, j); execErr != nil {
		p.logger.Debug("job execution failed",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("tenant_id", j.TenantID),
			slog.String("run_id", j.RunID.String()),
			slog.String("error", execErr.Error()),
		)
	}

	p.untrackJob(j.ID.String())
	cancel()

	if p.queueManager != nil {
		p.queueManager.Release(j.Queue, j.TenantID)
	}
}

// deferThrottled returns a throttled job to pending with a short delay
// so another consumer, or a later poll, picks it up after the tenant's
// slots free up.
func (p *Pool) deferThrottled(j *job.Job) {
	j.State = job.StatePending
	j.RunAt = time.Now().UTC().Add(p.pollInterval)
	j.WorkerID = id.WorkerID{}
	if err := p.store.UpdateJob(context.Background(), j); err != nil {
		p.logger.Error("failed to defer throttled job",
			slog.String("job_id", j.ID.String()),
			slog.String("tenant_id", j.TenantID),
			slog.String("error", err.Error()),
		)
	}
}

// heartbeatLoop periodically heartbeats every active job.
func (p *Pool) heartbeatLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sendHeartbeats()
		}
	}
}

func (p *Pool) sendHeartbeats() {
	p.activeMu.Lock()
	jobIDs := make([]string, 0, len(p.activeJobs))
	for jobID := range p.activeJobs {
		jobIDs = append(jobIDs, jobID)
	}
	p.activeMu.Unlock()

	for _, jobIDStr := range jobIDs {
		parsedID, parseErr := id.ParseJobID(jobIDStr)
		if parseErr != nil {
			p.logger.Warn("heartbeat: invalid job id", slog.String("job_id", jobIDStr))
			continue
		}
		if err := p.store.HeartbeatJob(context.Background(), parsedID, p.workerID); err != nil {
			p.logger.Warn("heartbeat failed",
				slog.String("job_id", jobIDStr),
				slog.String("error", err.Error()),
			)
		}
	}
}

// recoveryLoop periodically sweeps for jobs whose worker stopped
// heartbeating and routes them back through the retry ladder.
func (p *Pool) recoveryLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.staleJobThreshold)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.recoverLostJobs()
		}
	}
}

// recoverLostJobs treats a missed heartbeat as a failed attempt: the
// job re-enters the ladder at its next stage, and one that has already
// burned every stage killing workers is parked in the DLQ instead of
// looping forever.
func (p *Pool) recoverLostJobs() {
	lost, err := p.store.ReapStaleJobs(context.Background(), p.staleJobThreshold)
	if err != nil {
		p.logger.Error("lost-job sweep error", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	for _, j := range lost {
		j.WorkerID = id.WorkerID{}
		j.HeartbeatAt = nil
		j.StartedAt = nil
		j.UpdatedAt = now

		// handleFailure reports the attempt error even when the reroute
		// succeeds; store failures are logged inside the executor.
		_ = p.executor.handleFailure(context.Background(), j, errHeartbeatLost, now)

		p.logger.Info("recovered lost job",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("tenant_id", j.TenantID),
			slog.String("run_id", j.RunID.String()),
			slog.String("state", string(j.State)),
		)
	}
}

// idle waits one poll interval or until shutdown.
func (p *Pool) idle() {
	select {
	case <-time.After(p.pollInterval):
	case <-p.stopCh:
	}
}

func (p *Pool) trackJob(jobID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeJobs[jobID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackJob(jobID string) {
	p.activeMu.Lock()
	delete(p.activeJobs, jobID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, cancel := range p.activeJobs {
		p.logger.Warn("cancelling active job", slog.String("job_id", jobID))
		cancel()
	}
}
