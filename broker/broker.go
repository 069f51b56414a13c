package broker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/payflux/payrun/outbox"
)

// DefaultBufferSize is the default per-partition event buffer.
const DefaultBufferSize = 256

var (
	errClosed       = errors.New("broker: closed")
	errBackpressure = errors.New("broker: partition buffer full")
)

// Compile-time interface check: the broker is a relay publisher.
var _ outbox.Publisher = (*Broker)(nil)

// Broker is the in-process event broker. It accepts events from the
// outbox relay and fans them out to consumers subscribed to the event's
// Destination. Events sharing a PartitionKey are delivered in FIFO
// order by a dedicated partition goroutine; events on different keys
// are delivered concurrently.
//
// Acceptance (Publish returning nil) means the event is enqueued on its
// partition; the relay then marks the row SENT. Consumer failures are
// logged, counted, and do not surface back to the relay — consumers that
// need redelivery guard themselves with the inbox (see NewInboxConsumer).
type Broker struct {
	logger *slog.Logger

	mu         sync.RWMutex
	subs       map[string][]Consumer // destination → consumers
	partitions map[string]*partition // destination|key → partition

	bufferSize int

	totalPublished atomic.Int64
	totalFailed    atomic.Int64

	stopCh chan struct{}
	wg     sync.WaitGroup
	closed atomic.Bool
}

// partition is one FIFO delivery lane.
type partition struct {
	ch chan *outbox.Event
}

// Option configures a Broker.
type Option func(*Broker)

// WithBufferSize sets the per-partition event buffer size. When a
// partition's buffer is full, Publish returns an error and the relay
// retries the event on its backoff schedule.
func WithBufferSize(size int) Option {
	return func(b *Broker) { b.bufferSize = size }
}

// New creates an in-process broker.
func New(logger *slog.Logger, opts ...Option) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Broker{
		logger:     logger,
		subs:       make(map[string][]Consumer),
		partitions: make(map[string]*partition),
		bufferSize: DefaultBufferSize,
		stopCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a consumer for all events published to the given
// destination. Consumers are invoked in registration order.
func (b *Broker) Subscribe(destination string, c Consumer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[destination] = append(b.subs[destination], c)
}

// Unsubscribe removes the named consumer from a destination.
func (b *Broker) Unsubscribe(destination, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[destination]
	for i, c := range subs {
		if c.Name() == name {
			b.subs[destination] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[destination]) == 0 {
		delete(b.subs, destination)
	}
}

// Publish implements outbox.Publisher. The event is enqueued on the
// FIFO partition for its (Destination, PartitionKey) pair.
func (b *Broker) Publish(_ context.Context, e *outbox.Event) error {
	if b.closed.Load() {
		return errClosed
	}

	p := b.getPartition(partitionKey(e))
	select {
	case p.ch <- e:
		return nil
	default:
		return errBackpressure
	}
}

// partitionKey scopes FIFO order to a destination. An event without a
// PartitionKey shares its destination's default lane.
func partitionKey(e *outbox.Event) string {
	return e.Destination + "|" + e.PartitionKey
}

// getPartition returns the partition for a key, starting its delivery
// goroutine on first use.
func (b *Broker) getPartition(key string) *partition {
	b.mu.RLock()
	p, ok := b.partitions[key]
	b.mu.RUnlock()
	if ok {
		return p
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok = b.partitions[key]; ok {
		return p
	}

	p = &partition{ch: make(chan *outbox.Event, b.bufferSize)}
	b.partitions[key] = p

	b.wg.Add(1)
	go b.deliveryLoop(p)
	return p
}

// deliveryLoop drains one partition in order. In-flight buffered events
// are dropped on Close; the outbox retains the durable record.
func (b *Broker) deliveryLoop(p *partition) {
	defer b.wg.Done()
	for {
		select {
		case <-b.stopCh:
			return
		case e := <-p.ch:
			b.deliver(e)
		}
	}
}

// deliver fans one event out to the destination's consumers, in order.
func (b *Broker) deliver(e *outbox.Event) {
	b.mu.RLock()
	consumers := make([]Consumer, len(b.subs[e.Destination]))
	copy(consumers, b.subs[e.Destination])
	b.mu.RUnlock()

	ctx := context.Background()
	for _, c := range consumers {
		if err := c.Handle(ctx, e); err != nil {
			b.totalFailed.Add(1)
			b.logger.Error("broker consumer error",
				slog.String("consumer", c.Name()),
				slog.String("destination", e.Destination),
				slog.String("event_id", e.EventID),
				slog.String("error", err.Error()),
			)
		}
	}
	b.totalPublished.Add(1)
}

// Stats contains broker metrics.
type Stats struct {
	Destinations   int   `json:"destinations"`
	Partitions     int   `json:"partitions"`
	TotalPublished int64 `json:"total_published"`
	TotalFailed    int64 `json:"total_failed"`
}

// Stats returns a snapshot of broker metrics.
func (b *Broker) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Stats{
		Destinations:   len(b.subs),
		Partitions:     len(b.partitions),
		TotalPublished: b.totalPublished.Load(),
		TotalFailed:    b.totalFailed.Load(),
	}
}

// Close stops all partition goroutines. Safe to call multiple times.
func (b *Broker) Close() error {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
		b.wg.Wait()
	}
	return nil
}
