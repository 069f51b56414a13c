package job

import (
	"time"

	"github.com/payflux/payrun"
	"github.com/payflux/payrun/id"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StatePending means the job is waiting to be picked up by a worker.
	StatePending State = "pending"
	// StateRunning means a worker is currently executing the job.
	StateRunning State = "running"
	// StateSucceeded means the job finished successfully.
	StateSucceeded State = "succeeded"
	// StateRetrying means the job failed and is waiting out its ladder
	// delay before the next attempt.
	StateRetrying State = "retrying"
	// StateDead means the job exhausted the retry ladder and was parked
	// in the DLQ.
	StateDead State = "dead"
	// StateCancelled means the job was explicitly cancelled.
	StateCancelled State = "cancelled"
)

// Job is one unit of per-item work: finalizing a single member's item
// within a run. Attempt is 1-based; the first execution is attempt 1.
// On failure the retry ladder picks the delay from Attempt and the job
// returns to the queue with RunAt pushed into the future; once the
// ladder is exhausted the job goes to the DLQ instead.
type Job struct {
	payrun.Entity

	ID          id.JobID      `json:"id"`
	Name        string        `json:"name"`
	Queue       string        `json:"queue"`
	TenantID    string        `json:"tenant_id"`
	RunID       id.RunID      `json:"run_id,omitempty"`
	MemberID    string        `json:"member_id,omitempty"`
	Payload     []byte        `json:"payload"`
	State       State         `json:"state"`
	Priority    int           `json:"priority"`
	Attempt     int           `json:"attempt"`
	MaxAttempts int           `json:"max_attempts"`
	LastError   string        `json:"last_error,omitempty"`
	WorkerID    id.WorkerID   `json:"worker_id,omitempty"`
	RunAt       time.Time     `json:"run_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	HeartbeatAt *time.Time    `json:"heartbeat_at,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
}
