// Package inbox implements consumer-side event deduplication: a
// marker table keyed by (consumer, event ID) consulted before any
// handler runs. A marker means "claimed", not "succeeded" — RunIfFirst
// deletes it when the handler fails so broker redelivery retries the
// handler instead of silently dropping the event.
package inbox

import (
	"context"
	"time"
)

// Record marks that a consumer has claimed an event.
type Record struct {
	Consumer   string    `json:"consumer"`
	EventID    string    `json:"event_id"`
	ReceivedAt time.Time `json:"received_at"`
}

// Store defines the persistence contract for inbox records.
type Store interface {
	// TryMarkProcessed inserts the (consumer, eventID) marker.
	// Returns true when this call created it, false when the event was
	// already claimed (unique-constraint collision).
	TryMarkProcessed(ctx context.Context, consumer, eventID string) (bool, error)

	// Unmark removes the marker so a redelivery can claim it again.
	// Removing a missing marker is a no-op.
	Unmark(ctx context.Context, consumer, eventID string) error
}

// Handler processes one delivered event.
type Handler func(ctx context.Context) error

// RunIfFirst runs handler only if this consumer has not already
// claimed the event. When the handler fails, the marker is removed
// before the error propagates, so an at-least-once broker's redelivery
// will retry the handler. When the handler succeeds the marker is kept
// permanently and later deliveries of the same event are no-ops.
func RunIfFirst(ctx context.Context, store Store, consumer, eventID string, handler Handler) error {
	first, err := store.TryMarkProcessed(ctx, consumer, eventID)
	if err != nil {
		return err
	}
	if !first {
		return nil
	}

	if err := handler(ctx); err != nil {
		// Best effort: if the unmark itself fails the marker stays and
		// the event is lost to this consumer; surfaced to the caller
		// via the handler error either way.
		_ = store.Unmark(ctx, consumer, eventID)
		return err
	}
	return nil
}
