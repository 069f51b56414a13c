package outbox

import (
	"time"

	"github.com/payflux/payrun"
	"github.com/payflux/payrun/id"
)

// Kind selects the broker-specific publish adapter for an event.
type Kind string

const (
	// KindLogTopic publishes to a log-based broker: Destination is the
	// topic, PartitionKey selects the partition.
	KindLogTopic Kind = "LOG_TOPIC"
	// KindQueueExchange publishes to a queue-based broker: Destination
	// is the exchange, RoutingKey selects the queue.
	KindQueueExchange Kind = "QUEUE_EXCHANGE"
)

// Status represents the delivery state of an outbox event.
type Status string

const (
	// StatusPending means the event is durably recorded and awaiting
	// publication.
	StatusPending Status = "PENDING"
	// StatusSending means a relay has claimed the event. Claims expire
	// with the relay lock so a crashed relay's events return to the
	// pool.
	StatusSending Status = "SENDING"
	// StatusSent means the broker acknowledged the publish.
	StatusSent Status = "SENT"
)

// Event is one outbound domain event recorded in the same transaction
// as the state change it advertises. EventID is deterministic, derived
// from the event type and business identifiers, so re-enqueueing the
// same logical event collides on the unique constraint and is a no-op.
type Event struct {
	payrun.Entity

	ID           id.OutboxID       `json:"id"`
	EventID      string            `json:"event_id"`
	Kind         Kind              `json:"kind"`
	Destination  string            `json:"destination"`
	RoutingKey   string            `json:"routing_key,omitempty"`
	PartitionKey string            `json:"partition_key"`
	Type         string            `json:"type"`
	AggregateID  string            `json:"aggregate_id"`
	TenantID     string            `json:"tenant_id"`
	Payload      []byte            `json:"payload"`
	Headers      map[string]string `json:"headers,omitempty"`
	Status       Status            `json:"status"`
	// Seq is assigned by the store on insert and increases
	// monotonically, breaking CreatedAt ties between events written in
	// the same transaction so they publish in insert order.
	Seq           int64      `json:"seq,omitempty"`
	Attempts      int        `json:"attempts"`
	NextAttemptAt time.Time  `json:"next_attempt_at"`
	LockOwner     string     `json:"lock_owner,omitempty"`
	LockedAt      *time.Time `json:"locked_at,omitempty"`
	PublishedAt   *time.Time `json:"published_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
}

// NewEvent constructs a PENDING event ready for enqueueing. EventID is
// derived from eventType and the parts, so two calls with the same
// inputs build the same event.
func NewEvent(kind Kind, destination, routingKey, partitionKey, eventType, aggregateID, tenantID string, payload []byte) *Event {
	eventID := id.Deterministic(eventType, tenantID, aggregateID)
	return &Event{
		Entity:        payrun.NewEntity(),
		ID:            id.NewOutboxID(),
		EventID:       eventID,
		Kind:          kind,
		Destination:   destination,
		RoutingKey:    routingKey,
		PartitionKey:  partitionKey,
		Type:          eventType,
		AggregateID:   aggregateID,
		TenantID:      tenantID,
		Payload:       payload,
		Status:        StatusPending,
		NextAttemptAt: time.Now().UTC(),
		Headers: map[string]string{
			HeaderEventID:   eventID,
			HeaderEventType: eventType,
			HeaderTenantID:  tenantID,
		},
	}
}

// Standard header names carried to the broker with every event.
const (
	HeaderEventID   = "x-event-id"
	HeaderEventType = "x-event-type"
	HeaderTenantID  = "x-tenant-id"
)
