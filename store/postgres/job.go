package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/payflux/payrun"
	"github.com/payflux/payrun/id"
	"github.com/payflux/payrun/job"
)

const jobColumns = `
	id, name, queue, tenant_id, run_id, member_id, payload, state,
	priority, attempt, max_attempts, last_error, worker_id,
	run_at, started_at, completed_at, heartbeat_at, timeout,
	created_at, updated_at`

// EnqueueJob persists a new job in pending state.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO payrun_jobs (
			id, name, queue, tenant_id, run_id, member_id, payload, state,
			priority, attempt, max_attempts, last_error, worker_id,
			run_at, started_at, completed_at, heartbeat_at, timeout,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18,
			$19, $20
		)`,
		j.ID.String(), j.Name, j.Queue, j.TenantID, j.RunID.String(), j.MemberID,
		j.Payload, string(j.State),
		j.Priority, j.Attempt, j.MaxAttempts, j.LastError, j.WorkerID.String(),
		j.RunAt, j.StartedAt, j.CompletedAt, j.HeartbeatAt, j.Timeout.Nanoseconds(),
		j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return payrun.ErrJobAlreadyExists
		}
		return fmt.Errorf("payrun/postgres: enqueue job: %w", err)
	}
	return nil
}

// DequeueJobs atomically claims up to limit due jobs from the given
// queues, sets them to running, and returns them. Uses SELECT FOR
// UPDATE SKIP LOCKED for concurrent-safe dequeue.
func (s *Store) DequeueJobs(ctx context.Context, queues []string, limit int) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		WITH dequeued AS (
			UPDATE payrun_jobs
			SET state = 'running', started_at = NOW(), updated_at = NOW()
			WHERE id IN (
				SELECT id FROM payrun_jobs
				WHERE state IN ('pending', 'retrying')
				  AND queue = ANY($1)
				  AND run_at <= NOW()
				ORDER BY priority DESC, run_at ASC
				FOR UPDATE SKIP LOCKED
				LIMIT $2
			)
			RETURNING`+jobColumns+`
		)
		SELECT * FROM dequeued ORDER BY priority DESC, run_at ASC`,
		queues, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("payrun/postgres: dequeue jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT`+jobColumns+`
		FROM payrun_jobs
		WHERE id = $1`,
		jobID.String(),
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, payrun.ErrJobNotFound
		}
		return nil, fmt.Errorf("payrun/postgres: get job: %w", err)
	}
	return j, nil
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE payrun_jobs SET
			name = $2, queue = $3, tenant_id = $4, run_id = $5,
			member_id = $6, payload = $7, state = $8,
			priority = $9, attempt = $10, max_attempts = $11,
			last_error = $12, worker_id = $13, run_at = $14,
			started_at = $15, completed_at = $16, heartbeat_at = $17,
			timeout = $18, updated_at = NOW()
		WHERE id = $1`,
		j.ID.String(), j.Name, j.Queue, j.TenantID, j.RunID.String(),
		j.MemberID, j.Payload, string(j.State),
		j.Priority, j.Attempt, j.MaxAttempts,
		j.LastError, j.WorkerID.String(), j.RunAt,
		j.StartedAt, j.CompletedAt, j.HeartbeatAt,
		j.Timeout.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("payrun/postgres: update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return payrun.ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM payrun_jobs WHERE id = $1`, jobID.String())
	if err != nil {
		return fmt.Errorf("payrun/postgres: delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return payrun.ErrJobNotFound
	}
	return nil
}

// ListJobsByState returns jobs matching the given state.
// An empty state matches all states.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	query := `
		SELECT` + jobColumns + `
		FROM payrun_jobs
		WHERE 1=1`
	args := []any{}
	argIdx := 1

	if state != "" {
		query += fmt.Sprintf(" AND state = $%d", argIdx)
		args = append(args, string(state))
		argIdx++
	}
	if opts.Queue != "" {
		query += fmt.Sprintf(" AND queue = $%d", argIdx)
		args = append(args, opts.Queue)
		argIdx++
	}
	if opts.TenantID != "" {
		query += fmt.Sprintf(" AND tenant_id = $%d", argIdx)
		args = append(args, opts.TenantID)
		argIdx++
	}
	if !opts.RunID.IsNil() {
		query += fmt.Sprintf(" AND run_id = $%d", argIdx)
		args = append(args, opts.RunID.String())
		argIdx++
	}

	query += " ORDER BY created_at ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("payrun/postgres: list jobs by state: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// HeartbeatJob updates the heartbeat timestamp for a running job.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, _ id.WorkerID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE payrun_jobs SET heartbeat_at = NOW(), updated_at = NOW() WHERE id = $1`,
		jobID.String(),
	)
	if err != nil {
		return fmt.Errorf("payrun/postgres: heartbeat job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return payrun.ErrJobNotFound
	}
	return nil
}

// ReapStaleJobs returns running jobs whose last heartbeat is older than
// the given threshold.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	cutoff := time.Now().UTC().Add(-threshold)

	rows, err := s.pool.Query(ctx, `
		SELECT`+jobColumns+`
		FROM payrun_jobs
		WHERE state = 'running'
		  AND heartbeat_at IS NOT NULL
		  AND heartbeat_at < $1`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("payrun/postgres: reap stale jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM payrun_jobs WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Queue != "" {
		query += fmt.Sprintf(" AND queue = $%d", argIdx)
		args = append(args, opts.Queue)
		argIdx++
	}
	if opts.State != "" {
		query += fmt.Sprintf(" AND state = $%d", argIdx)
		args = append(args, string(opts.State))
		argIdx++
	}
	if opts.TenantID != "" {
		query += fmt.Sprintf(" AND tenant_id = $%d", argIdx)
		args = append(args, opts.TenantID)
	}

	var count int64
	err := s.pool.QueryRow(ctx, query, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("payrun/postgres: count jobs: %w", err)
	}
	return count, nil
}

// scanJob scans a single job row.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j         job.Job
		idStr     string
		runIDStr  string
		stateStr  string
		workerStr string
		timeoutNs int64
	)
	err := row.Scan(
		&idStr, &j.Name, &j.Queue, &j.TenantID, &runIDStr, &j.MemberID,
		&j.Payload, &stateStr,
		&j.Priority, &j.Attempt, &j.MaxAttempts, &j.LastError, &workerStr,
		&j.RunAt, &j.StartedAt, &j.CompletedAt, &j.HeartbeatAt, &timeoutNs,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.State = job.State(stateStr)
	j.Timeout = time.Duration(timeoutNs)

	parsedID, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("payrun/postgres: parse job id %q: %w", idStr, parseErr)
	}
	j.ID = parsedID

	if runIDStr != "" {
		parsedRunID, runErr := id.ParseRunID(runIDStr)
		if runErr != nil {
			return nil, fmt.Errorf("payrun/postgres: parse run id %q: %w", runIDStr, runErr)
		}
		j.RunID = parsedRunID
	}

	if workerStr != "" {
		parsedWorker, workerErr := id.ParseWorkerID(workerStr)
		if workerErr == nil {
			j.WorkerID = parsedWorker
		}
	}

	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("payrun/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("payrun/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}
