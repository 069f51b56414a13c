package run

import (
	"time"

	"github.com/payflux/payrun"
	"github.com/payflux/payrun/id"
)

// Status represents the lifecycle state of a pay run.
// QUEUED and RUNNING are transient; the remaining states are terminal
// and never transition further.
type Status string

const (
	// StatusQueued means the run has been created but no coordinator
	// has started processing it.
	StatusQueued Status = "QUEUED"
	// StatusRunning means a coordinator holds (or held) the lease and
	// items are being processed.
	StatusRunning Status = "RUNNING"
	// StatusFinalized means every item succeeded.
	StatusFinalized Status = "FINALIZED"
	// StatusPartiallyFinalized means some items succeeded and some
	// exhausted their attempts.
	StatusPartiallyFinalized Status = "PARTIALLY_FINALIZED"
	// StatusFailed means every item failed.
	StatusFailed Status = "FAILED"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusFinalized, StatusPartiallyFinalized, StatusFailed:
		return true
	default:
		return false
	}
}

// ApprovalStatus tracks the run's approval workflow, carried for
// reporting; this engine never mutates it past creation.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
)

// PaymentStatus tracks downstream payment disbursement, carried for
// reporting; it is advanced by the payments consumer, not this engine.
type PaymentStatus string

const (
	PaymentUnpaid PaymentStatus = "UNPAID"
	PaymentPaid   PaymentStatus = "PAID"
)

// Type distinguishes regular scheduled runs from off-cycle ones.
type Type string

const (
	TypeRegular  Type = "REGULAR"
	TypeOffCycle Type = "OFF_CYCLE"
)

// Run is one pay-run: a batch of member items finalized together.
// Exactly one row exists per (TenantID, ID). The lease columns gate
// all item mutation: only the current lease holder may touch items.
type Run struct {
	payrun.Entity

	TenantID       string         `json:"tenant_id"`
	ID             id.RunID       `json:"id"`
	PeriodID       string         `json:"period_id"`
	Type           Type           `json:"type"`
	Sequence       int            `json:"sequence"`
	Status         Status         `json:"status"`
	ApprovalStatus ApprovalStatus `json:"approval_status"`
	PaymentStatus  PaymentStatus  `json:"payment_status"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	LeaseOwner     string         `json:"lease_owner,omitempty"`
	LeaseExpiresAt *time.Time     `json:"lease_expires_at,omitempty"`
	FinalizedAt    *time.Time     `json:"finalized_at,omitempty"`
}

// ItemStatus represents the lifecycle state of one run item.
type ItemStatus string

const (
	ItemQueued    ItemStatus = "QUEUED"
	ItemRunning   ItemStatus = "RUNNING"
	ItemSucceeded ItemStatus = "SUCCEEDED"
	ItemFailed    ItemStatus = "FAILED"
)

// Item is one member's unit of work within a run. Items are created
// when the run starts and mutated only by the coordinator holding the
// run's lease.
type Item struct {
	payrun.Entity

	TenantID     string        `json:"tenant_id"`
	RunID        id.RunID      `json:"run_id"`
	MemberID     string        `json:"member_id"`
	Status       ItemStatus    `json:"status"`
	ResultID     id.PaycheckID `json:"result_id,omitempty"`
	AttemptCount int           `json:"attempt_count"`
	LastError    string        `json:"last_error,omitempty"`
}

// Counts summarizes item statuses for a run.
type Counts struct {
	Total     int `json:"total"`
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Remaining reports how many items are still in flight.
func (c Counts) Remaining() int {
	return c.Queued + c.Running
}

// FinalStatus computes the terminal status once no items remain in
// flight: FINALIZED when every item succeeded, FAILED when every item
// failed or the run is empty, PARTIALLY_FINALIZED otherwise. It returns
// StatusRunning when items are still queued or running.
func (c Counts) FinalStatus() Status {
	if c.Remaining() > 0 {
		return StatusRunning
	}
	switch {
	case c.Total == 0:
		return StatusFailed
	case c.Succeeded == c.Total:
		return StatusFinalized
	case c.Failed == c.Total:
		return StatusFailed
	default:
		return StatusPartiallyFinalized
	}
}
