package broker_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/payflux/payrun/broker"
	"github.com/payflux/payrun/outbox"
	"github.com/payflux/payrun/store/memory"
)

func newTestEvent(destination, partitionKey, eventType, aggregateID string) *outbox.Event {
	return outbox.NewEvent(
		outbox.KindLogTopic, destination, "", partitionKey,
		eventType, aggregateID, "tenant_1", []byte(`{}`),
	)
}

// collector records delivered events in order.
type collector struct {
	mu     sync.Mutex
	events []*outbox.Event
}

func (c *collector) handle(_ context.Context, e *outbox.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func (c *collector) snapshot() []*outbox.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*outbox.Event, len(c.events))
	copy(out, c.events)
	return out
}

// waitFor polls until cond is true or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting: %s", msg)
}

func TestBroker_DeliversToSubscriber(t *testing.T) {
	b := broker.New(slog.Default())
	defer b.Close()

	c := &collector{}
	b.Subscribe("payrun.events", broker.NewConsumer("test", c.handle))

	e := newTestEvent("payrun.events", "run_1", "payrun.finalized", "run_1")
	if err := b.Publish(context.Background(), e); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	waitFor(t, func() bool { return c.len() == 1 }, "event delivered")
	if got := c.snapshot()[0].EventID; got != e.EventID {
		t.Errorf("delivered EventID = %q, want %q", got, e.EventID)
	}
}

func TestBroker_PartitionKeyOrder(t *testing.T) {
	b := broker.New(slog.Default())
	defer b.Close()

	c := &collector{}
	b.Subscribe("payrun.events", broker.NewConsumer("test", c.handle))

	const n = 50
	for i := range n {
		e := newTestEvent("payrun.events", "run_1", "payrun.item.finalized", fmt.Sprintf("item_%d", i))
		if err := b.Publish(context.Background(), e); err != nil {
			t.Fatalf("Publish %d: %v", i, err)
		}
	}

	waitFor(t, func() bool { return c.len() == n }, "all events delivered")

	events := c.snapshot()
	for i, e := range events {
		want := fmt.Sprintf("item_%d", i)
		if e.AggregateID != want {
			t.Fatalf("event[%d].AggregateID = %q, want %q (per-key order broken)", i, e.AggregateID, want)
		}
	}
}

func TestBroker_DestinationIsolation(t *testing.T) {
	b := broker.New(slog.Default())
	defer b.Close()

	events := &collector{}
	other := &collector{}
	b.Subscribe("payrun.events", broker.NewConsumer("a", events.handle))
	b.Subscribe("other.topic", broker.NewConsumer("b", other.handle))

	e := newTestEvent("payrun.events", "run_1", "payrun.finalized", "run_1")
	if err := b.Publish(context.Background(), e); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	waitFor(t, func() bool { return events.len() == 1 }, "event delivered")
	if other.len() != 0 {
		t.Errorf("other.topic consumer received %d events, want 0", other.len())
	}
}

func TestBroker_FanOut(t *testing.T) {
	b := broker.New(slog.Default())
	defer b.Close()

	c1 := &collector{}
	c2 := &collector{}
	b.Subscribe("payrun.events", broker.NewConsumer("first", c1.handle))
	b.Subscribe("payrun.events", broker.NewConsumer("second", c2.handle))

	e := newTestEvent("payrun.events", "run_1", "payrun.finalized", "run_1")
	if err := b.Publish(context.Background(), e); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	waitFor(t, func() bool { return c1.len() == 1 && c2.len() == 1 }, "both consumers delivered")
}

func TestBroker_Unsubscribe(t *testing.T) {
	b := broker.New(slog.Default())
	defer b.Close()

	c := &collector{}
	b.Subscribe("payrun.events", broker.NewConsumer("gone", c.handle))
	b.Unsubscribe("payrun.events", "gone")

	e := newTestEvent("payrun.events", "run_1", "payrun.finalized", "run_1")
	if err := b.Publish(context.Background(), e); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	// Give delivery a moment; nothing should arrive.
	time.Sleep(50 * time.Millisecond)
	if c.len() != 0 {
		t.Errorf("unsubscribed consumer received %d events, want 0", c.len())
	}
}

func TestBroker_ConsumerErrorDoesNotStopDelivery(t *testing.T) {
	b := broker.New(slog.Default())
	defer b.Close()

	c := &collector{}
	b.Subscribe("payrun.events", broker.NewConsumer("failing", func(_ context.Context, _ *outbox.Event) error {
		return errors.New("boom")
	}))
	b.Subscribe("payrun.events", broker.NewConsumer("ok", c.handle))

	e := newTestEvent("payrun.events", "run_1", "payrun.finalized", "run_1")
	if err := b.Publish(context.Background(), e); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	waitFor(t, func() bool { return c.len() == 1 }, "second consumer still delivered")
	waitFor(t, func() bool { return b.Stats().TotalFailed == 1 }, "failure counted")
}

func TestBroker_PublishAfterCloseFails(t *testing.T) {
	b := broker.New(slog.Default())
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	e := newTestEvent("payrun.events", "run_1", "payrun.finalized", "run_1")
	if err := b.Publish(context.Background(), e); err == nil {
		t.Fatal("expected error publishing to closed broker")
	}

	// Close is idempotent.
	if err := b.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestBroker_Backpressure(t *testing.T) {
	// Buffer of 1 with no consumer goroutine able to drain fast enough:
	// block the only consumer so the partition buffer fills.
	b := broker.New(slog.Default(), broker.WithBufferSize(1))
	defer b.Close()

	release := make(chan struct{})
	b.Subscribe("payrun.events", broker.NewConsumer("slow", func(_ context.Context, _ *outbox.Event) error {
		<-release
		return nil
	}))
	defer close(release)

	ctx := context.Background()
	// First publish is picked up by the delivery goroutine and blocks in
	// the consumer; the second fills the buffer. Publish until rejected.
	var rejected bool
	for i := range 10 {
		e := newTestEvent("payrun.events", "run_1", "payrun.finalized", fmt.Sprintf("agg_%d", i))
		if err := b.Publish(ctx, e); err != nil {
			rejected = true
			break
		}
	}
	if !rejected {
		t.Fatal("expected backpressure error when partition buffer is full")
	}
}

func TestBroker_Stats(t *testing.T) {
	b := broker.New(slog.Default())
	defer b.Close()

	c := &collector{}
	b.Subscribe("payrun.events", broker.NewConsumer("test", c.handle))

	for _, key := range []string{"run_1", "run_2"} {
		e := newTestEvent("payrun.events", key, "payrun.finalized", key)
		if err := b.Publish(context.Background(), e); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	waitFor(t, func() bool { return b.Stats().TotalPublished == 2 }, "both published")

	stats := b.Stats()
	if stats.Destinations != 1 {
		t.Errorf("Destinations = %d, want 1", stats.Destinations)
	}
	if stats.Partitions != 2 {
		t.Errorf("Partitions = %d, want 2", stats.Partitions)
	}
}

func TestInboxConsumer_Dedup(t *testing.T) {
	b := broker.New(slog.Default())
	defer b.Close()

	st := memory.New()
	c := &collector{}
	b.Subscribe("payrun.events", broker.NewInboxConsumer("ledger", st, c.handle))

	e := newTestEvent("payrun.events", "run_1", "payrun.finalized", "run_1")
	dup := newTestEvent("payrun.events", "run_1", "payrun.finalized", "run_1")
	if e.EventID != dup.EventID {
		t.Fatal("expected identical deterministic EventIDs")
	}

	ctx := context.Background()
	if err := b.Publish(ctx, e); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := b.Publish(ctx, dup); err != nil {
		t.Fatalf("Publish dup: %v", err)
	}

	waitFor(t, func() bool { return b.Stats().TotalPublished == 2 }, "both deliveries finished")
	if c.len() != 1 {
		t.Errorf("handler executed %d times, want 1 (inbox dedup)", c.len())
	}
}

func TestInboxConsumer_RedeliveryAfterFailure(t *testing.T) {
	b := broker.New(slog.Default())
	defer b.Close()

	st := memory.New()
	var mu sync.Mutex
	calls := 0
	fail := true
	b.Subscribe("payrun.events", broker.NewInboxConsumer("ledger", st, func(_ context.Context, _ *outbox.Event) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if fail {
			fail = false
			return errors.New("transient")
		}
		return nil
	}))

	ctx := context.Background()
	e := newTestEvent("payrun.events", "run_1", "payrun.finalized", "run_1")
	if err := b.Publish(ctx, e); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	waitFor(t, func() bool { return b.Stats().TotalPublished == 1 }, "first delivery finished")

	// Redelivery: the failed handler unmarked the inbox record, so the
	// second delivery runs the handler again.
	redelivery := newTestEvent("payrun.events", "run_1", "payrun.finalized", "run_1")
	if err := b.Publish(ctx, redelivery); err != nil {
		t.Fatalf("Publish redelivery: %v", err)
	}
	waitFor(t, func() bool { return b.Stats().TotalPublished == 2 }, "redelivery finished")

	mu.Lock()
	defer mu.Unlock()
	if calls != 2 {
		t.Errorf("handler calls = %d, want 2 (retry after failure)", calls)
	}
}
