// Package stream provides a real-time event broker for payrun lifecycle
// events. It bridges the ext.Extension system to connected clients via
// topic-based pub/sub.
package stream

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	// Job events.
	EventJobEnqueued  EventType = "job.enqueued"
	EventJobStarted   EventType = "job.started"
	EventJobSucceeded EventType = "job.succeeded"
	EventJobFailed    EventType = "job.failed"
	EventJobRetrying  EventType = "job.retrying"
	EventJobDLQ       EventType = "job.dlq"

	// Run events.
	EventRunStarted    EventType = "run.started"
	EventRunFinalized  EventType = "run.finalized"
	EventItemSucceeded EventType = "run.item_succeeded"
	EventItemFailed    EventType = "run.item_failed"

	// Outbox events.
	EventOutboxPublished EventType = "outbox.published"
)

// Event is the envelope sent to subscribers on a topic channel.
type Event struct {
	// Type identifies the lifecycle event.
	Type EventType `json:"type"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"ts"`

	// Topic is the channel this event was published on.
	Topic string `json:"topic"`

	// Data is the event-specific payload.
	Data json.RawMessage `json:"data"`
}

// JobEventData is the payload for job lifecycle events.
type JobEventData struct {
	JobID     string `json:"job_id"`
	JobName   string `json:"job_name"`
	Queue     string `json:"queue"`
	TenantID  string `json:"tenant_id,omitempty"`
	RunID     string `json:"run_id,omitempty"`
	MemberID  string `json:"member_id,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms,omitempty"`
	Error     string `json:"error,omitempty"`
	Attempt   int    `json:"attempt,omitempty"`
	NextRunAt string `json:"next_run_at,omitempty"`
}

// RunEventData is the payload for run lifecycle events.
type RunEventData struct {
	RunID     string `json:"run_id"`
	TenantID  string `json:"tenant_id"`
	PeriodID  string `json:"period_id,omitempty"`
	RunType   string `json:"run_type,omitempty"`
	Status    string `json:"status,omitempty"`
	MemberID  string `json:"member_id,omitempty"`
	ResultID  string `json:"result_id,omitempty"`
	Total     int    `json:"total,omitempty"`
	Succeeded int    `json:"succeeded,omitempty"`
	Failed    int    `json:"failed,omitempty"`
	Error     string `json:"error,omitempty"`
}

// OutboxEventData is the payload for outbox publish events.
type OutboxEventData struct {
	EventID     string `json:"event_id"`
	EventType   string `json:"event_type"`
	Destination string `json:"destination"`
	TenantID    string `json:"tenant_id,omitempty"`
	AggregateID string `json:"aggregate_id,omitempty"`
}
