package outbox

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/payflux/payrun"
	"github.com/payflux/payrun/backoff"
	"github.com/payflux/payrun/cluster"
	"github.com/payflux/payrun/id"
)

// errOrderHeld marks events deferred because an earlier event for the
// same partition key failed in this batch.
var errOrderHeld = errors.New("outbox: held behind failed partition key event")

// Publisher delivers one event to a broker. Implementations exist per
// destination Kind: the in-process broker, Redis Streams for log
// topics, Redis list queues for queue exchanges.
type Publisher interface {
	Publish(ctx context.Context, e *Event) error
}

// Emitter emits relay lifecycle events.
// ext.Registry satisfies this interface via EmitEventPublished.
type Emitter interface {
	EmitEventPublished(ctx context.Context, e *Event)
}

// RelayOption configures a Relay.
type RelayOption func(*Relay)

// WithInterval sets how often the relay polls for publishable events.
func WithInterval(d time.Duration) RelayOption {
	return func(r *Relay) { r.interval = d }
}

// WithBatchSize sets how many events are claimed per tick.
func WithBatchSize(n int) RelayOption {
	return func(r *Relay) { r.batchSize = n }
}

// WithLockTTL sets how long a claim holds before another relay may
// reclaim the event.
func WithLockTTL(d time.Duration) RelayOption {
	return func(r *Relay) { r.lockTTL = d }
}

// WithRetention enables the retention pass: SENT rows older than d are
// purged. Zero disables purging.
func WithRetention(d time.Duration) RelayOption {
	return func(r *Relay) { r.retention = d }
}

// WithPublishBackoff sets the strategy for rescheduling failed
// publishes. Default is backoff.DefaultPublishBackoff.
func WithPublishBackoff(b backoff.Strategy) RelayOption {
	return func(r *Relay) { r.bo = b }
}

// WithLeaderElection gates the relay on cluster leadership so only one
// replica publishes at a time. Without it every relay instance ticks;
// the claim protocol still prevents double-publishing, leadership just
// avoids the contention.
func WithLeaderElection(cs cluster.Store, workerID id.WorkerID, leaderTTL time.Duration) RelayOption {
	return func(r *Relay) {
		r.clusterStore = cs
		r.workerID = workerID
		r.leaderTTL = leaderTTL
	}
}

// Relay asynchronously publishes recorded outbox events to the broker.
// It claims batches of due events, dispatches each through the adapter
// registered for its Kind, marks acknowledged events SENT, and returns
// failures to PENDING with a backoff delay. Delivery is at-least-once,
// ordered per PartitionKey, unordered across keys.
type Relay struct {
	store      Store
	publishers map[Kind]Publisher
	emitter    Emitter
	logger     *slog.Logger

	owner     string
	interval  time.Duration
	batchSize int
	lockTTL   time.Duration
	retention time.Duration
	bo        backoff.Strategy

	clusterStore cluster.Store
	workerID     id.WorkerID
	leaderTTL    time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewRelay creates a Relay. The publishers map is keyed by destination
// Kind; events whose Kind has no adapter fail with
// payrun.ErrNoPublisher and retry on the backoff schedule.
func NewRelay(store Store, publishers map[Kind]Publisher, emitter Emitter, logger *slog.Logger, opts ...RelayOption) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Relay{
		store:      store,
		publishers: publishers,
		emitter:    emitter,
		logger:     logger,
		owner:      id.NewWorkerID().String(),
		interval:   2 * time.Second,
		batchSize:  100,
		lockTTL:    1 * time.Minute,
		bo:         backoff.DefaultPublishBackoff(),
		stopCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Owner returns the relay's claim-owner token.
func (r *Relay) Owner() string { return r.owner }

// Start launches the relay loops.
func (r *Relay) Start(_ context.Context) error {
	loops := 1
	if r.clusterStore != nil {
		loops++
	}
	if r.retention > 0 {
		loops++
	}
	r.wg.Add(loops)

	go r.relayLoop()
	if r.clusterStore != nil {
		go r.leaderLoop()
	}
	if r.retention > 0 {
		go r.purgeLoop()
	}

	r.logger.Info("outbox relay started",
		slog.String("owner", r.owner),
		slog.Duration("interval", r.interval),
		slog.Int("batch_size", r.batchSize),
	)
	return nil
}

// Stop signals the relay to stop and waits for its loops to finish.
func (r *Relay) Stop(_ context.Context) error {
	close(r.stopCh)
	r.wg.Wait()
	r.logger.Info("outbox relay stopped")
	return nil
}

func (r *Relay) relayLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.tick()
		}
	}
}

// tick claims one batch and publishes it. An event whose publish fails
// poisons its PartitionKey for the rest of the batch, preserving
// per-key order; other keys continue.
func (r *Relay) tick() {
	ctx := context.Background()

	if !r.isLeader(ctx) {
		return
	}

	events, err := r.store.ClaimBatch(ctx, r.owner, r.batchSize, r.lockTTL)
	if err != nil {
		r.logger.Error("outbox claim error", slog.String("error", err.Error()))
		return
	}
	if len(events) == 0 {
		return
	}

	failedKeys := make(map[string]bool)
	for _, e := range events {
		if failedKeys[e.PartitionKey] {
			r.release(ctx, e, errOrderHeld)
			continue
		}
		if err := r.publish(ctx, e); err != nil {
			failedKeys[e.PartitionKey] = true
		}
	}
}

func (r *Relay) publish(ctx context.Context, e *Event) error {
	pub, ok := r.publishers[e.Kind]
	if !ok {
		r.logger.Error("no publisher for destination kind",
			slog.String("kind", string(e.Kind)),
			slog.String("event_id", e.EventID),
		)
		r.release(ctx, e, payrun.ErrNoPublisher)
		return payrun.ErrNoPublisher
	}

	if err := pub.Publish(ctx, e); err != nil {
		r.logger.Warn("outbox publish failed",
			slog.String("event_id", e.EventID),
			slog.String("destination", e.Destination),
			slog.Int("attempts", e.Attempts),
			slog.String("error", err.Error()),
		)
		r.release(ctx, e, err)
		return err
	}

	lockedAt := time.Time{}
	if e.LockedAt != nil {
		lockedAt = *e.LockedAt
	}
	if err := r.store.MarkSent(ctx, e.ID, r.owner, lockedAt); err != nil {
		r.logger.Error("outbox mark sent error",
			slog.String("event_id", e.EventID),
			slog.String("error", err.Error()),
		)
		return err
	}

	if r.emitter != nil {
		r.emitter.EmitEventPublished(ctx, e)
	}
	r.logger.Debug("outbox event published",
		slog.String("event_id", e.EventID),
		slog.String("type", e.Type),
		slog.String("destination", e.Destination),
	)
	return nil
}

// release returns a claimed event to PENDING with a backoff delay.
func (r *Relay) release(ctx context.Context, e *Event, cause error) {
	lockedAt := time.Time{}
	if e.LockedAt != nil {
		lockedAt = *e.LockedAt
	}
	next := time.Now().UTC().Add(r.bo.Delay(e.Attempts + 1))
	if err := r.store.MarkFailed(ctx, e.ID, r.owner, lockedAt, cause, next); err != nil {
		r.logger.Error("outbox mark failed error",
			slog.String("event_id", e.EventID),
			slog.String("error", err.Error()),
		)
	}
}

// isLeader reports whether this relay should publish on this tick.
// Without leader election every instance publishes.
func (r *Relay) isLeader(ctx context.Context) bool {
	if r.clusterStore == nil {
		return true
	}
	leader, err := r.clusterStore.GetLeader(ctx)
	if err != nil {
		r.logger.Warn("get leader error", slog.String("error", err.Error()))
		return false
	}
	return leader != nil && leader.ID.String() == r.workerID.String()
}

// leaderLoop continuously attempts to acquire or renew leadership.
func (r *Relay) leaderLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.leaderTTL / 2)
	defer ticker.Stop()

	r.tryLeadership()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.tryLeadership()
		}
	}
}

func (r *Relay) tryLeadership() {
	ctx := context.Background()

	// Renew first (cheap if already leader).
	renewed, err := r.clusterStore.RenewLeadership(ctx, r.workerID, r.leaderTTL)
	if err != nil {
		r.logger.Warn("leadership renew error", slog.String("error", err.Error()))
		return
	}
	if renewed {
		return
	}

	acquired, err := r.clusterStore.AcquireLeadership(ctx, r.workerID, r.leaderTTL)
	if err != nil {
		r.logger.Warn("leadership acquire error", slog.String("error", err.Error()))
		return
	}
	if acquired {
		r.logger.Info("acquired relay leadership", slog.String("worker_id", r.workerID.String()))
	}
}

// purgeLoop periodically removes SENT rows past retention.
func (r *Relay) purgeLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			ctx := context.Background()
			if !r.isLeader(ctx) {
				continue
			}
			cutoff := time.Now().UTC().Add(-r.retention)
			n, err := r.store.PurgeSentEvents(ctx, cutoff)
			if err != nil {
				r.logger.Error("outbox purge error", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				r.logger.Info("outbox retention purge", slog.Int64("purged", n))
			}
		}
	}
}
