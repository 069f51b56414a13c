package coordinator

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/payflux/payrun"
	"github.com/payflux/payrun/backoff"
	"github.com/payflux/payrun/ext"
	"github.com/payflux/payrun/id"
	"github.com/payflux/payrun/job"
	"github.com/payflux/payrun/run"
)

// Default destinations for the events the coordinator records at
// finalization. The log-topic event feeds the event stream; the
// queue-exchange event hands the finalized run to downstream payments.
const (
	DefaultEventTopic      = "payrun.events"
	DefaultPaymentExchange = "payrun.direct"
	DefaultPaymentRouting  = "run.finalized"
)

// EventTypeRunFinalized is the event type recorded when a run reaches a
// terminal status.
const EventTypeRunFinalized = "payrun.run.finalized"

// DefaultRequeueStaleAfter is how long a RUNNING item may go untouched
// before Execute treats it as orphaned and requeues it. Items claimed
// by live batches are touched on claim, so only a crashed or hung
// holder's items age past this.
const DefaultRequeueStaleAfter = 10 * time.Minute

// ItemInput is what the computation engine receives for one member.
type ItemInput struct {
	TenantID string   `json:"tenant_id"`
	RunID    id.RunID `json:"run_id"`
	MemberID string   `json:"member_id"`
	PeriodID string   `json:"period_id"`
	RunType  run.Type `json:"run_type"`
}

// ItemResult is what the computation engine produces for one member.
type ItemResult struct {
	ResultID id.PaycheckID `json:"result_id"`
}

// Engine computes one member's result. Implementations are supplied by
// the embedding application and must be side-effect free with respect
// to run state: the coordinator records the outcome.
type Engine interface {
	ComputeItem(ctx context.Context, in ItemInput) (ItemResult, error)
}

// EngineFunc adapts a function to the Engine interface.
type EngineFunc func(ctx context.Context, in ItemInput) (ItemResult, error)

// ComputeItem calls f.
func (f EngineFunc) ComputeItem(ctx context.Context, in ItemInput) (ItemResult, error) {
	return f(ctx, in)
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithJobStore enables per-item job fan-out at start: one finalize-item
// job per member is enqueued on the coordinator's queue.
func WithJobStore(js job.Store) Option {
	return func(c *Coordinator) { c.jobs = js }
}

// WithExtensions sets the extension registry for lifecycle hooks.
func WithExtensions(reg *ext.Registry) Option {
	return func(c *Coordinator) { c.extensions = reg }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// WithBatchSize sets the default number of items claimed per batch.
func WithBatchSize(n int) Option {
	return func(c *Coordinator) { c.batchSize = n }
}

// WithMaxBatches bounds the batches processed by one Execute call.
func WithMaxBatches(n int) Option {
	return func(c *Coordinator) { c.maxBatches = n }
}

// WithLeaseTTL sets the default run lease lifetime between renewals.
func WithLeaseTTL(d time.Duration) Option {
	return func(c *Coordinator) { c.leaseTTL = d }
}

// WithRequeueStaleAfter sets the staleness cutoff for requeuing
// orphaned RUNNING items on Execute.
func WithRequeueStaleAfter(d time.Duration) Option {
	return func(c *Coordinator) { c.requeueStaleAfter = d }
}

// WithQueue sets the queue finalize-item jobs are enqueued to.
func WithQueue(queue string) Option {
	return func(c *Coordinator) { c.queue = queue }
}

// WithEventTopic overrides the log topic for run lifecycle events.
func WithEventTopic(topic string) Option {
	return func(c *Coordinator) { c.eventTopic = topic }
}

// WithPaymentExchange overrides the exchange and routing key for the
// finalized-run handoff event.
func WithPaymentExchange(exchange, routingKey string) Option {
	return func(c *Coordinator) {
		c.paymentExchange = exchange
		c.paymentRouting = routingKey
	}
}

// Coordinator drives runs to a terminal status. It is safe to call
// from multiple goroutines and multiple processes: the run lease in
// the store arbitrates, and every caller that loses the lease gets
// payrun.ErrLeaseConflict instead of partial work.
type Coordinator struct {
	store      run.Store
	engine     Engine
	jobs       job.Store
	extensions *ext.Registry
	logger     *slog.Logger

	batchSize         int
	maxBatches        int
	leaseTTL          time.Duration
	requeueStaleAfter time.Duration
	queue             string

	eventTopic      string
	paymentExchange string
	paymentRouting  string
}

// New creates a Coordinator on the given run store and computation
// engine.
func New(store run.Store, engine Engine, opts ...Option) *Coordinator {
	defaults := payrun.DefaultConfig()
	c := &Coordinator{
		store:             store,
		engine:            engine,
		logger:            slog.Default(),
		batchSize:         defaults.BatchSize,
		maxBatches:        defaults.MaxBatches,
		leaseTTL:          defaults.LeaseTTL,
		requeueStaleAfter: DefaultRequeueStaleAfter,
		queue:             defaults.Queues[0],
		eventTopic:        DefaultEventTopic,
		paymentExchange:   DefaultPaymentExchange,
		paymentRouting:    DefaultPaymentRouting,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.extensions == nil {
		c.extensions = ext.NewRegistry(c.logger)
	}
	return c
}

// StartRequest carries the inputs for creating a run.
type StartRequest struct {
	TenantID       string   `json:"tenant_id"`
	PeriodID       string   `json:"period_id"`
	Type           run.Type `json:"type"`
	Sequence       int      `json:"sequence"`
	MemberIDs      []string `json:"member_ids"`
	RequestedID    id.RunID `json:"requested_id,omitempty"`
	IdempotencyKey string   `json:"idempotency_key,omitempty"`

	// EnqueueJobs controls per-item job fan-out. Ignored when the
	// coordinator has no job store.
	EnqueueJobs bool `json:"enqueue_jobs,omitempty"`
}

// StartResult reports the outcome of Start.
type StartResult struct {
	RunID      id.RunID   `json:"run_id"`
	Status     run.Status `json:"status"`
	TotalItems int        `json:"total_items"`
	Created    bool       `json:"created"`
}

// Start creates the run with one QUEUED item per member, or returns
// the existing run when the request matches one already created.
// Reusing an idempotency key with a different period returns
// payrun.ErrIdempotencyKeyMismatch. When the coordinator has a job
// store and the request asks for fan-out, one finalize-item job per
// member is enqueued so the worker pool picks the items up.
func (c *Coordinator) Start(ctx context.Context, req StartRequest) (*StartResult, error) {
	if req.TenantID == "" || req.PeriodID == "" {
		return nil, payrun.ErrInvalidState
	}
	if req.Type == "" {
		req.Type = run.TypeRegular
	}

	rn, created, err := c.store.CreateOrGetRun(ctx, run.NewRun{
		TenantID:       req.TenantID,
		PeriodID:       req.PeriodID,
		Type:           req.Type,
		Sequence:       req.Sequence,
		MemberIDs:      req.MemberIDs,
		RequestedID:    req.RequestedID,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return nil, err
	}
	if !created && req.IdempotencyKey != "" && rn.IdempotencyKey == req.IdempotencyKey {
		if rn.PeriodID != req.PeriodID || rn.Type != req.Type || rn.Sequence != req.Sequence {
			return nil, payrun.ErrIdempotencyKeyMismatch
		}
	}

	counts, err := c.store.CountItems(ctx, req.TenantID, rn.ID)
	if err != nil {
		return nil, err
	}

	if created {
		c.extensions.EmitRunStarted(ctx, rn)
		c.logger.Info("run created",
			"run_id", rn.ID,
			"tenant_id", rn.TenantID,
			"period_id", rn.PeriodID,
			"items", counts.Total)

		if c.jobs != nil && req.EnqueueJobs {
			if err := c.fanOut(ctx, rn, req.MemberIDs); err != nil {
				return nil, err
			}
		}
	}

	return &StartResult{
		RunID:      rn.ID,
		Status:     rn.Status,
		TotalItems: counts.Total,
		Created:    created,
	}, nil
}

// FinalizeItemPayload rides in fan-out jobs so the handler can locate
// the run without touching job metadata.
type FinalizeItemPayload struct {
	TenantID string   `json:"tenant_id"`
	RunID    id.RunID `json:"run_id"`
	MemberID string   `json:"member_id"`
}

// fanOut enqueues one finalize-item job per member.
func (c *Coordinator) fanOut(ctx context.Context, rn *run.Run, memberIDs []string) error {
	now := time.Now().UTC()
	for _, memberID := range memberIDs {
		payload, err := json.Marshal(FinalizeItemPayload{
			TenantID: rn.TenantID,
			RunID:    rn.ID,
			MemberID: memberID,
		})
		if err != nil {
			return err
		}
		j := &job.Job{
			Entity:      payrun.NewEntity(),
			ID:          id.NewJobID(),
			Name:        JobName,
			Queue:       c.queue,
			TenantID:    rn.TenantID,
			RunID:       rn.ID,
			MemberID:    memberID,
			Payload:     payload,
			State:       job.StatePending,
			Attempt:     1,
			MaxAttempts: backoff.DefaultLadder().MaxAttempts(),
			RunAt:       now,
		}
		if err := c.jobs.EnqueueJob(ctx, j); err != nil {
			return err
		}
		c.extensions.EmitJobEnqueued(ctx, j)
	}
	return nil
}

// JobName is the handler name for per-item finalize jobs.
const JobName = "payrun.finalize.item"
