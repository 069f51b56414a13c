// Package outbox implements the transactional outbox pattern: domain
// events are recorded in the same transaction as the state change they
// advertise, then published asynchronously by the [Relay].
//
// Deduplication is structural. Event IDs are deterministic functions
// of the event type and business identifiers, so a repeated enqueue
// collides on the unique constraint and becomes a no-op, and consumers
// can dedup redeliveries by the same ID through the inbox.
package outbox
