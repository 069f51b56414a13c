package dlq

import (
	"time"

	"github.com/payflux/payrun/id"
)

// Entry represents a job that failed through the entire retry ladder
// and was parked in the dead letter queue for operator action.
type Entry struct {
	ID          id.DLQID   `json:"id"`
	JobID       id.JobID   `json:"job_id"`
	JobName     string     `json:"job_name"`
	Queue       string     `json:"queue"`
	TenantID    string     `json:"tenant_id"`
	RunID       id.RunID   `json:"run_id,omitempty"`
	MemberID    string     `json:"member_id,omitempty"`
	Payload     []byte     `json:"payload"`
	Error       string     `json:"error"`
	Attempt     int        `json:"attempt"`
	MaxAttempts int        `json:"max_attempts"`
	FailedAt    time.Time  `json:"failed_at"`
	ReplayedAt  *time.Time `json:"replayed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
