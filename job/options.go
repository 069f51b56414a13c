package job

import (
	"time"

	"github.com/payflux/payrun/id"
)

// Options configures per-job behavior such as queue, priority, and the
// run/member identity the job carries.
type Options struct {
	// Queue is the queue name this job should be enqueued to.
	Queue string

	// Priority determines dequeue ordering. Higher values are processed first.
	Priority int

	// Timeout is the maximum duration a job may run before being cancelled.
	Timeout time.Duration

	// RunAt schedules the job for future execution. Zero means immediate.
	RunAt time.Time

	// TenantID scopes the job to a tenant.
	TenantID string

	// RunID ties the job to the pay run it works for.
	RunID id.RunID

	// MemberID identifies the item within the run.
	MemberID string
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		Queue:    "default",
		Priority: 0,
		Timeout:  5 * time.Minute,
	}
}

// Option is a functional option for configuring a job at enqueue time.
type Option func(*Options)

// WithQueue sets the queue name for the job.
func WithQueue(q string) Option {
	return func(o *Options) {
		o.Queue = q
	}
}

// WithPriority sets the job priority. Higher values are processed first.
func WithPriority(p int) Option {
	return func(o *Options) {
		o.Priority = p
	}
}

// WithTimeout sets the maximum execution duration for the job.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// WithRunAt schedules the job for execution at a specific time.
func WithRunAt(t time.Time) Option {
	return func(o *Options) {
		o.RunAt = t
	}
}

// WithTenant scopes the job to a tenant.
func WithTenant(tenantID string) Option {
	return func(o *Options) {
		o.TenantID = tenantID
	}
}

// WithRunItem ties the job to one run item.
func WithRunItem(runID id.RunID, memberID string) Option {
	return func(o *Options) {
		o.RunID = runID
		o.MemberID = memberID
	}
}
