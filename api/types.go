package api

import (
	"errors"

	"github.com/xraph/forge"

	"github.com/payflux/payrun"
)

// maxPageSize caps list page sizes; defaultPageSize applies when the
// request does not set a limit.
const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// ──────────────────────────────────────────────────
// Run DTOs
// ──────────────────────────────────────────────────

// StartRunRequest is the body of POST /v1/payruns.
type StartRunRequest struct {
	TenantID       string   `json:"tenant_id"`
	PeriodID       string   `json:"period_id"`
	Type           string   `json:"type,omitempty"`
	Sequence       int      `json:"sequence,omitempty"`
	MemberIDs      []string `json:"member_ids"`
	RunID          string   `json:"run_id,omitempty"`
	IdempotencyKey string   `json:"idempotency_key,omitempty"`
	EnqueueJobs    bool     `json:"enqueue_jobs,omitempty"`
}

// ExecuteRunRequest is the body of POST /internal/v1/payruns/{runId}/execute.
type ExecuteRunRequest struct {
	TenantID   string `json:"tenant_id"`
	BatchSize  int    `json:"batch_size,omitempty"`
	MaxBatches int    `json:"max_batches,omitempty"`
	Owner      string `json:"owner,omitempty"`
	// RequeueStaleAfterMS overrides the cutoff for reclaiming RUNNING
	// items orphaned by a crashed holder, in milliseconds.
	RequeueStaleAfterMS int64 `json:"requeue_stale_after_ms,omitempty"`
}

// GetRunRequest carries query parameters of GET /v1/payruns/{runId}.
type GetRunRequest struct {
	TenantID    string `json:"tenant_id" query:"tenant_id"`
	MaxFailures int    `json:"max_failures,omitempty" query:"max_failures"`
}

// ListRunsRequest carries query parameters of GET /v1/payruns.
type ListRunsRequest struct {
	TenantID string `json:"tenant_id" query:"tenant_id"`
	Status   string `json:"status" query:"status"`
	Limit    int    `json:"limit,omitempty" query:"limit"`
}

// ──────────────────────────────────────────────────
// Job DTOs
// ──────────────────────────────────────────────────

// ListJobsRequest carries query parameters of GET /v1/jobs.
type ListJobsRequest struct {
	State  string `json:"state" query:"state"`
	Queue  string `json:"queue,omitempty" query:"queue"`
	Tenant string `json:"tenant_id,omitempty" query:"tenant_id"`
	RunID  string `json:"run_id,omitempty" query:"run_id"`
	Limit  int    `json:"limit,omitempty" query:"limit"`
	Offset int    `json:"offset,omitempty" query:"offset"`
}

// GetJobRequest is the (empty) request of GET /v1/jobs/{jobId}.
type GetJobRequest struct{}

// JobCountsResponse reports job counts grouped by state.
type JobCountsResponse struct {
	Pending   int64 `json:"pending"`
	Running   int64 `json:"running"`
	Succeeded int64 `json:"succeeded"`
	Retrying  int64 `json:"retrying"`
	Dead      int64 `json:"dead"`
}

// ──────────────────────────────────────────────────
// DLQ DTOs
// ──────────────────────────────────────────────────

// ListDLQRequest carries query parameters of GET /v1/dlq.
type ListDLQRequest struct {
	Queue  string `json:"queue,omitempty" query:"queue"`
	Tenant string `json:"tenant_id,omitempty" query:"tenant_id"`
	RunID  string `json:"run_id,omitempty" query:"run_id"`
	Limit  int    `json:"limit,omitempty" query:"limit"`
	Offset int    `json:"offset,omitempty" query:"offset"`
}

// GetDLQRequest is the (empty) request of GET /v1/dlq/{entryId}.
type GetDLQRequest struct{}

// ReplayDLQRequest is the (empty) request of POST /v1/dlq/{entryId}/replay.
type ReplayDLQRequest struct{}

// ReplayAllDLQRequest is the body of POST /v1/dlq/replay.
type ReplayAllDLQRequest struct {
	Queue  string `json:"queue,omitempty"`
	Tenant string `json:"tenant_id,omitempty"`
	RunID  string `json:"run_id,omitempty"`
}

// ReplayAllDLQResponse reports the jobs created by a bulk replay.
type ReplayAllDLQResponse struct {
	Replayed int      `json:"replayed"`
	JobIDs   []string `json:"job_ids"`
}

// PurgeDLQResponse reports how many DLQ entries were removed.
type PurgeDLQResponse struct {
	Purged int64 `json:"purged"`
}

// DLQCountResponse reports the DLQ size.
type DLQCountResponse struct {
	Count int64 `json:"count"`
}

// ──────────────────────────────────────────────────
// Outbox DTOs
// ──────────────────────────────────────────────────

// OutboxStatsResponse reports outbox event counts by delivery status
// plus in-process broker totals.
type OutboxStatsResponse struct {
	Pending   int64 `json:"pending"`
	Sending   int64 `json:"sending"`
	Sent      int64 `json:"sent"`
	Published int64 `json:"broker_published"`
	Failed    int64 `json:"broker_failed"`
}

// PurgeOutboxRequest is the body of POST /v1/outbox/purge.
type PurgeOutboxRequest struct {
	// OlderThanHours overrides the configured retention window.
	OlderThanHours int `json:"older_than_hours,omitempty"`
}

// PurgeOutboxResponse reports how many sent events were removed.
type PurgeOutboxResponse struct {
	Purged int64 `json:"purged"`
}

// ErrorResponse is the body returned for conflict and auth failures.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func defaultLimit(limit int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	if limit > maxPageSize {
		return maxPageSize
	}
	return limit
}

// mapStoreError converts payrun sentinel errors to forge HTTP errors.
func mapStoreError(err error) error {
	if err == nil {
		return nil
	}
	if isNotFound(err) {
		return forge.NotFound(err.Error())
	}
	return err
}

func isNotFound(err error) bool {
	return errors.Is(err, payrun.ErrRunNotFound) ||
		errors.Is(err, payrun.ErrItemNotFound) ||
		errors.Is(err, payrun.ErrJobNotFound) ||
		errors.Is(err, payrun.ErrEntryNotFound) ||
		errors.Is(err, payrun.ErrEventNotFound) ||
		errors.Is(err, payrun.ErrWorkerNotFound)
}

// isConflict reports whether the error maps to HTTP 409.
func isConflict(err error) bool {
	return errors.Is(err, payrun.ErrLeaseConflict) ||
		errors.Is(err, payrun.ErrIdempotencyKeyMismatch) ||
		errors.Is(err, payrun.ErrRunAlreadyFinalized) ||
		errors.Is(err, payrun.ErrAlreadyReplayed)
}
