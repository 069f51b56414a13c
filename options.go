package payrun

import (
	"context"
	"log/slog"
	"time"
)

// Option configures a Node.
type Option func(*Node) error

// Storer is the minimal store interface held by the Node.
// It covers lifecycle operations only. The full composite interface
// (store.Store) is used in subsystem layers that don't create import
// cycles. Implementations satisfy store.Store which embeds all
// subsystem stores.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// runner is an internal interface for background loop lifecycle
// (worker pool, outbox relay).
type runner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// extensionEmitter is an internal interface for extension lifecycle events.
type extensionEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Node is one payrun process: it holds the store, the worker pool
// polling item jobs, and the outbox relay.
//
// Create one with New() and functional options. The Node holds
// references to subsystem components via internal interfaces to avoid
// import cycles. Use engine.Build to wire everything together.
type Node struct {
	config     Config
	logger     *slog.Logger
	store      Storer
	extensions extensionEmitter
	pool       runner
	relay      runner

	// started tracks whether Start has been called.
	started bool
}

// New creates a new Node with the given options.
func New(opts ...Option) (*Node, error) {
	n := &Node{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(n); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// Logger returns the node's logger.
func (n *Node) Logger() *slog.Logger { return n.logger }

// Store returns the node's store.
func (n *Node) Store() Storer { return n.store }

// Config returns a copy of the node's configuration.
func (n *Node) Config() Config { return n.config }

// SetPool sets the worker pool (called by the engine package).
func (n *Node) SetPool(p runner) { n.pool = p }

// SetRelay sets the outbox relay (called by the engine package).
func (n *Node) SetRelay(r runner) { n.relay = r }

// SetExtensions sets the extension emitter (called by the engine package).
func (n *Node) SetExtensions(e extensionEmitter) { n.extensions = e }

// Start begins job processing and outbox relaying.
func (n *Node) Start(ctx context.Context) error {
	if n.pool == nil {
		return ErrNoStore
	}
	if err := n.pool.Start(ctx); err != nil {
		return err
	}
	if n.relay != nil {
		if err := n.relay.Start(ctx); err != nil {
			return err
		}
	}
	n.started = true
	return nil
}

// Stop gracefully shuts down the node.
func (n *Node) Stop(ctx context.Context) error {
	if n.relay != nil && n.started {
		if err := n.relay.Stop(ctx); err != nil {
			n.logger.Error("relay stop error", "error", err)
		}
	}
	if n.pool != nil && n.started {
		if err := n.pool.Stop(ctx); err != nil {
			n.logger.Error("pool stop error", "error", err)
		}
	}
	if n.extensions != nil {
		n.extensions.EmitShutdown(ctx)
	}
	if n.store != nil {
		return n.store.Close()
	}
	return nil
}

// WithConcurrency sets the maximum number of concurrent job processors.
func WithConcurrency(c int) Option {
	return func(n *Node) error {
		n.config.Concurrency = c
		return nil
	}
}

// WithQueues sets the job queues the node will poll.
func WithQueues(queues []string) Option {
	return func(n *Node) error {
		n.config.Queues = queues
		return nil
	}
}

// WithBatchSize sets the number of run items claimed per execute batch.
func WithBatchSize(size int) Option {
	return func(n *Node) error {
		n.config.BatchSize = size
		return nil
	}
}

// WithPollInterval sets how often the worker pool polls for jobs.
func WithPollInterval(d time.Duration) Option {
	return func(n *Node) error {
		n.config.PollInterval = d
		return nil
	}
}

// WithLeaseTTL sets the lifetime of a run lease between renewals.
func WithLeaseTTL(ttl time.Duration) Option {
	return func(n *Node) error {
		n.config.LeaseTTL = ttl
		return nil
	}
}

// WithLogger sets the structured logger for the node.
func WithLogger(l *slog.Logger) Option {
	return func(n *Node) error {
		n.logger = l
		return nil
	}
}

// WithStore sets the persistence backend for the node.
// The store must implement Storer at minimum; typically it will be a
// store.Store which embeds all subsystem store interfaces.
func WithStore(s Storer) Option {
	return func(n *Node) error {
		n.store = s
		return nil
	}
}
