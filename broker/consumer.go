package broker

import (
	"context"

	"github.com/payflux/payrun/inbox"
	"github.com/payflux/payrun/outbox"
)

// Consumer handles events delivered by the broker.
type Consumer interface {
	// Name identifies the consumer, and doubles as the inbox consumer
	// key when the consumer is inbox-guarded.
	Name() string

	// Handle processes one event. Errors are logged by the broker and
	// do not trigger broker-side redelivery.
	Handle(ctx context.Context, e *outbox.Event) error
}

// Handler is the event-processing function a consumer runs.
type Handler func(ctx context.Context, e *outbox.Event) error

type funcConsumer struct {
	name string
	fn   Handler
}

// NewConsumer wraps a function as a named Consumer.
func NewConsumer(name string, fn Handler) Consumer {
	return &funcConsumer{name: name, fn: fn}
}

func (c *funcConsumer) Name() string { return c.name }

func (c *funcConsumer) Handle(ctx context.Context, e *outbox.Event) error {
	return c.fn(ctx, e)
}

type inboxConsumer struct {
	name  string
	store inbox.Store
	fn    Handler
}

// NewInboxConsumer wraps a handler with inbox deduplication: each
// EventID is processed at most once per consumer name, and a handler
// failure releases the claim so a redelivered event can run again.
func NewInboxConsumer(name string, store inbox.Store, fn Handler) Consumer {
	return &inboxConsumer{name: name, store: store, fn: fn}
}

func (c *inboxConsumer) Name() string { return c.name }

func (c *inboxConsumer) Handle(ctx context.Context, e *outbox.Event) error {
	return inbox.RunIfFirst(ctx, c.store, c.name, e.EventID, func(ctx context.Context) error {
		return c.fn(ctx, e)
	})
}
