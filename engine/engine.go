// Package engine wires all payrun subsystems together. It creates the
// extension registry, job registry, middleware chain, worker pool,
// outbox relay, and coordinator, and provides Register/Enqueue
// operations.
//
// This package exists to break the import cycle: the root payrun
// package defines Entity (imported by run, job, outbox, etc.) and so
// cannot import those packages back. The engine package sits above all
// subsystem packages and below the application layer.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/payflux/payrun"
	"github.com/payflux/payrun/backoff"
	"github.com/payflux/payrun/broker"
	"github.com/payflux/payrun/cluster"
	"github.com/payflux/payrun/coordinator"
	"github.com/payflux/payrun/dlq"
	"github.com/payflux/payrun/ext"
	"github.com/payflux/payrun/id"
	"github.com/payflux/payrun/inbox"
	"github.com/payflux/payrun/job"
	mw "github.com/payflux/payrun/middleware"
	"github.com/payflux/payrun/observability"
	"github.com/payflux/payrun/outbox"
	"github.com/payflux/payrun/queue"
	"github.com/payflux/payrun/run"
	"github.com/payflux/payrun/scope"
	"github.com/payflux/payrun/worker"
)

// Engine wraps a Node with typed subsystem access.
// Use Build() to create one from a Node.
type Engine struct {
	n          *payrun.Node
	extensions *ext.Registry
	registry   *job.Registry
	jobStore   job.Store
	dlqService *dlq.Service
	ladder     *backoff.Ladder
	pool       *worker.Pool
	mws        []mw.Middleware
	logger     *slog.Logger

	// Run subsystem.
	runStore    run.Store
	coordinator *coordinator.Coordinator
	compute     coordinator.Engine
	coordOpts   []coordinator.Option

	// Outbox subsystem.
	outboxStore outbox.Store
	inboxStore  inbox.Store
	relay       *outbox.Relay
	broker      *broker.Broker
	publishers  map[outbox.Kind]outbox.Publisher

	// Cluster subsystem.
	clusterStore cluster.Store

	// Queue subsystem.
	queueConfigs []queue.Config
	queueManager *queue.Manager

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware adds middleware to the engine's chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithLadder sets the retry ladder for failed item jobs.
// If not set, backoff.DefaultLadder() is used.
func WithLadder(l *backoff.Ladder) Option {
	return func(eng *Engine) {
		eng.ladder = l
	}
}

// WithComputeEngine sets the application's item computation.
// Without it, every claimed item fails with ErrNoComputeEngine.
func WithComputeEngine(c coordinator.Engine) Option {
	return func(eng *Engine) {
		eng.compute = c
	}
}

// WithCoordinatorOptions passes extra options through to the
// coordinator (event topic, payment exchange, ...).
func WithCoordinatorOptions(opts ...coordinator.Option) Option {
	return func(eng *Engine) {
		eng.coordOpts = append(eng.coordOpts, opts...)
	}
}

// WithPublisher overrides the publish adapter for one destination
// kind. Kinds without an override use the in-process broker.
func WithPublisher(kind outbox.Kind, p outbox.Publisher) Option {
	return func(eng *Engine) {
		eng.publishers[kind] = p
	}
}

// WithQueueConfig registers queue-level rate limiting and concurrency
// configurations. Queues not listed have no limits.
func WithQueueConfig(configs ...queue.Config) Option {
	return func(eng *Engine) {
		eng.queueConfigs = append(eng.queueConfigs, configs...)
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// When set, the tracing middleware uses this provider instead of the global one.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// When set, both the metrics middleware and the observability extension
// use this provider instead of the global one.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from an existing Node.
// The Node's store must implement every subsystem store.
func Build(n *payrun.Node, opts ...Option) (*Engine, error) {
	logger := n.Logger()
	store := n.Store()

	if store == nil {
		return nil, payrun.ErrNoStore
	}

	rs, ok := store.(run.Store)
	if !ok {
		return nil, fmt.Errorf("payrun: store does not implement run.Store")
	}
	js, ok := store.(job.Store)
	if !ok {
		return nil, fmt.Errorf("payrun: store does not implement job.Store")
	}
	ds, ok := store.(dlq.Store)
	if !ok {
		return nil, fmt.Errorf("payrun: store does not implement dlq.Store")
	}
	obs, ok := store.(outbox.Store)
	if !ok {
		return nil, fmt.Errorf("payrun: store does not implement outbox.Store")
	}
	is, ok := store.(inbox.Store)
	if !ok {
		return nil, fmt.Errorf("payrun: store does not implement inbox.Store")
	}
	cls, ok := store.(cluster.Store)
	if !ok {
		return nil, fmt.Errorf("payrun: store does not implement cluster.Store")
	}

	eng := &Engine{
		n:            n,
		extensions:   ext.NewRegistry(logger),
		registry:     job.NewRegistry(),
		jobStore:     js,
		runStore:     rs,
		outboxStore:  obs,
		inboxStore:   is,
		clusterStore: cls,
		publishers:   make(map[outbox.Kind]outbox.Publisher),
		logger:       logger,
	}

	for _, opt := range opts {
		opt(eng)
	}

	if eng.ladder == nil {
		eng.ladder = backoff.DefaultLadder()
	}

	eng.dlqService = dlq.NewService(ds, js)

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracer := eng.tracerProvider.Tracer("github.com/payflux/payrun")
		tracingMw = mw.TracingWithTracer(tracer)
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/payflux/payrun")
		metricsMw = mw.MetricsWithMeter(meter)
	} else {
		metricsMw = mw.Metrics()
	}

	// Register the observability metrics extension.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/payflux/payrun/observability")
		obsExt = observability.NewMetricsExtensionWithMeter(meter)
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	// Build default middleware stack: recover → tracing → metrics → logging → scope → timeout.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Scope(),
		mw.Timeout(logger),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	// Create executor and pool.
	config := n.Config()
	executor := worker.NewExecutor(eng.registry, eng.extensions, eng.jobStore, eng.dlqService, eng.ladder, logger, allMws...)

	poolOpts := []worker.PoolOption{
		worker.WithPoolConcurrency(config.Concurrency),
		worker.WithPoolQueues(config.Queues),
		worker.WithPollInterval(config.PollInterval),
		worker.WithHeartbeatInterval(config.HeartbeatInterval),
		worker.WithStaleJobThreshold(config.StaleJobThreshold),
	}

	if len(eng.queueConfigs) > 0 {
		eng.queueManager = queue.NewManager(eng.queueConfigs...)
		poolOpts = append(poolOpts, worker.WithQueueManager(eng.queueManager))
	}

	eng.pool = worker.NewPool(
		eng.jobStore,
		executor,
		eng.extensions,
		logger,
		poolOpts...,
	)

	// Create the coordinator.
	coordOpts := []coordinator.Option{
		coordinator.WithJobStore(js),
		coordinator.WithExtensions(eng.extensions),
		coordinator.WithLogger(logger),
		coordinator.WithBatchSize(config.BatchSize),
		coordinator.WithMaxBatches(config.MaxBatches),
		coordinator.WithLeaseTTL(config.LeaseTTL),
	}
	if len(config.Queues) > 0 {
		coordOpts = append(coordOpts, coordinator.WithQueue(config.Queues[0]))
	}
	coordOpts = append(coordOpts, eng.coordOpts...)
	eng.coordinator = coordinator.New(rs, eng.compute, coordOpts...)

	// Default publish adapters: the in-process broker for any kind
	// without an explicit override.
	eng.broker = broker.New(logger)
	if _, ok := eng.publishers[outbox.KindLogTopic]; !ok {
		eng.publishers[outbox.KindLogTopic] = eng.broker
	}
	if _, ok := eng.publishers[outbox.KindQueueExchange]; !ok {
		eng.publishers[outbox.KindQueueExchange] = eng.broker
	}

	// Create the outbox relay, leader-gated so one replica publishes.
	eng.relay = outbox.NewRelay(obs, eng.publishers, eng.extensions, logger,
		outbox.WithInterval(config.RelayInterval),
		outbox.WithBatchSize(config.RelayBatchSize),
		outbox.WithLockTTL(config.RelayLockTTL),
		outbox.WithRetention(config.OutboxRetention),
		outbox.WithLeaderElection(cls, eng.pool.WorkerID(), config.LeaseTTL),
	)

	// Register the finalize-item handler: each fan-out job drives one
	// lease-gated Execute slice for its run.
	Register(eng, job.NewDefinition(coordinator.JobName, eng.finalizeItem))

	// Wire back into the Node.
	n.SetPool(eng.pool)
	n.SetRelay(eng.relay)
	n.SetExtensions(eng.extensions)

	// Register this worker in the cluster store.
	hostname, hostnameErr := os.Hostname()
	if hostnameErr != nil {
		hostname = "unknown"
	}
	w := &cluster.Worker{
		ID:          eng.pool.WorkerID(),
		Hostname:    hostname,
		Queues:      config.Queues,
		Concurrency: config.Concurrency,
		State:       cluster.WorkerActive,
		LastSeen:    time.Now().UTC(),
		CreatedAt:   time.Now().UTC(),
	}
	if regErr := cls.RegisterWorker(context.Background(), w); regErr != nil {
		logger.Warn("failed to register worker in cluster store", slog.String("error", regErr.Error()))
	}

	return eng, nil
}

// finalizeItem handles one fan-out job by running an Execute slice for
// the job's run under this worker's lease identity. A lease conflict
// or an already-terminal run means another worker finished the work;
// both count as success so the job is not retried.
func (eng *Engine) finalizeItem(ctx context.Context, p coordinator.FinalizeItemPayload) error {
	_, err := eng.coordinator.Execute(ctx, coordinator.ExecuteRequest{
		TenantID:   p.TenantID,
		RunID:      p.RunID,
		LeaseOwner: "worker-" + eng.pool.WorkerID().String(),
	})
	if errors.Is(err, payrun.ErrLeaseConflict) || errors.Is(err, payrun.ErrRunAlreadyFinalized) {
		return nil
	}
	return err
}

// Register registers a typed job definition with the engine.
func Register[T any](eng *Engine, def *job.Definition[T]) {
	job.RegisterDefinition(eng.registry, def)
}

// Enqueue creates and enqueues a job.
func Enqueue[T any](ctx context.Context, eng *Engine, name string, payload T, opts ...job.Option) (*job.Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for job %q: %w", name, err)
	}

	return eng.EnqueueRaw(ctx, name, data, opts...)
}

// EnqueueRaw enqueues a job with a pre-serialized payload.
func (eng *Engine) EnqueueRaw(ctx context.Context, name string, payload []byte, opts ...job.Option) (*job.Job, error) {
	// Capture tenant scope from context.
	tenantID := scope.Capture(ctx)

	now := time.Now().UTC()
	j := &job.Job{
		Entity:      payrun.NewEntity(),
		ID:          id.NewJobID(),
		Name:        name,
		Payload:     payload,
		State:       job.StatePending,
		Attempt:     1,
		MaxAttempts: eng.ladder.MaxAttempts(),
		Queue:       "default",
		Priority:    0,
		RunAt:       now,
		TenantID:    tenantID,
	}

	// Apply functional options.
	jobOpts := job.DefaultOptions()
	for _, opt := range opts {
		opt(&jobOpts)
	}
	j.Queue = jobOpts.Queue
	j.Priority = jobOpts.Priority
	j.Timeout = jobOpts.Timeout
	if !jobOpts.RunAt.IsZero() {
		j.RunAt = jobOpts.RunAt
	}
	if jobOpts.TenantID != "" {
		j.TenantID = jobOpts.TenantID
	}
	if !jobOpts.RunID.IsNil() {
		j.RunID = jobOpts.RunID
	}
	if jobOpts.MemberID != "" {
		j.MemberID = jobOpts.MemberID
	}

	if err := eng.jobStore.EnqueueJob(ctx, j); err != nil {
		return nil, err
	}

	eng.extensions.EmitJobEnqueued(ctx, j)
	return j, nil
}

// Start begins job processing and outbox relaying.
func (eng *Engine) Start(ctx context.Context) error {
	return eng.n.Start(ctx)
}

// Stop gracefully shuts down the engine.
func (eng *Engine) Stop(ctx context.Context) error {
	// Deregister this worker from the cluster.
	if err := eng.clusterStore.DeregisterWorker(ctx, eng.pool.WorkerID()); err != nil {
		eng.logger.Warn("failed to deregister worker", slog.String("error", err.Error()))
	}

	err := eng.n.Stop(ctx)

	// The broker drains after the relay stops feeding it.
	if closeErr := eng.broker.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the job registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Node returns the underlying Node.
func (eng *Engine) Node() *payrun.Node { return eng.n }

// DLQService returns the engine's DLQ service for replay and inspection.
func (eng *Engine) DLQService() *dlq.Service { return eng.dlqService }

// Coordinator returns the run coordinator.
func (eng *Engine) Coordinator() *coordinator.Coordinator { return eng.coordinator }

// Relay returns the outbox relay.
func (eng *Engine) Relay() *outbox.Relay { return eng.relay }

// Broker returns the in-process broker used as the default publish
// destination. Subscribe consumers here in single-process setups.
func (eng *Engine) Broker() *broker.Broker { return eng.broker }

// OutboxStore returns the outbox store.
func (eng *Engine) OutboxStore() outbox.Store { return eng.outboxStore }

// InboxStore returns the inbox store for consumer-side deduplication.
func (eng *Engine) InboxStore() inbox.Store { return eng.inboxStore }

// QueueManager returns the queue manager, or nil if no queue configs
// were provided.
func (eng *Engine) QueueManager() *queue.Manager { return eng.queueManager }
