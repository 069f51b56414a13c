package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/payflux/payrun"
	"github.com/payflux/payrun/id"
	"github.com/payflux/payrun/outbox"
	"github.com/payflux/payrun/run"
)

const runColumns = `
	tenant_id, id, period_id, type, sequence, status,
	approval_status, payment_status, idempotency_key,
	lease_owner, lease_expires_at, finalized_at,
	created_at, updated_at`

const itemColumns = `
	tenant_id, run_id, member_id, status, result_id,
	attempt_count, last_error, created_at, updated_at`

// CreateOrGetRun atomically inserts a QUEUED run plus one QUEUED item
// per member, or returns the existing run when the request matches one
// already created. Lookup falls back in order: by (tenant, idempotency
// key), by (tenant, period, type, sequence), by requested ID.
func (s *Store) CreateOrGetRun(ctx context.Context, req run.NewRun) (*run.Run, bool, error) {
	if existing, err := s.findRun(ctx, req); err != nil {
		return nil, false, err
	} else if existing != nil {
		return existing, false, nil
	}

	runID := req.RequestedID
	if runID.IsNil() {
		runID = id.NewRunID()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("payrun/postgres: begin create run: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		INSERT INTO payrun_runs (
			tenant_id, id, period_id, type, sequence, idempotency_key
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING`+runColumns,
		req.TenantID, runID.String(), req.PeriodID,
		string(req.Type), req.Sequence, req.IdempotencyKey,
	)

	rn, err := scanRun(row)
	if err != nil {
		// A concurrent creator won the unique race; fetch theirs.
		if isDuplicateKey(err) {
			existing, findErr := s.findRun(ctx, req)
			if findErr != nil {
				return nil, false, findErr
			}
			if existing != nil {
				return existing, false, nil
			}
		}
		return nil, false, fmt.Errorf("payrun/postgres: create run: %w", err)
	}

	for _, memberID := range req.MemberIDs {
		_, err = tx.Exec(ctx, `
			INSERT INTO payrun_run_items (tenant_id, run_id, member_id)
			VALUES ($1, $2, $3)`,
			req.TenantID, runID.String(), memberID,
		)
		if err != nil {
			return nil, false, fmt.Errorf("payrun/postgres: create run item: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("payrun/postgres: commit create run: %w", err)
	}
	return rn, true, nil
}

// findRun resolves an existing run for the request, or nil.
func (s *Store) findRun(ctx context.Context, req run.NewRun) (*run.Run, error) {
	if req.IdempotencyKey != "" {
		rn, err := s.queryRun(ctx, `
			SELECT`+runColumns+`
			FROM payrun_runs
			WHERE tenant_id = $1 AND idempotency_key = $2`,
			req.TenantID, req.IdempotencyKey,
		)
		if err != nil || rn != nil {
			return rn, err
		}
	}

	rn, err := s.queryRun(ctx, `
		SELECT`+runColumns+`
		FROM payrun_runs
		WHERE tenant_id = $1 AND period_id = $2 AND type = $3 AND sequence = $4`,
		req.TenantID, req.PeriodID, string(req.Type), req.Sequence,
	)
	if err != nil || rn != nil {
		return rn, err
	}

	if !req.RequestedID.IsNil() {
		return s.queryRun(ctx, `
			SELECT`+runColumns+`
			FROM payrun_runs
			WHERE tenant_id = $1 AND id = $2`,
			req.TenantID, req.RequestedID.String(),
		)
	}
	return nil, nil
}

// queryRun runs a single-row run query, mapping no-rows to nil.
func (s *Store) queryRun(ctx context.Context, query string, args ...any) (*run.Run, error) {
	rn, err := scanRun(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("payrun/postgres: lookup run: %w", err)
	}
	return rn, nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, tenantID string, runID id.RunID) (*run.Run, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT`+runColumns+`
		FROM payrun_runs
		WHERE tenant_id = $1 AND id = $2`,
		tenantID, runID.String(),
	)

	rn, err := scanRun(row)
	if err != nil {
		if isNoRows(err) {
			return nil, payrun.ErrRunNotFound
		}
		return nil, fmt.Errorf("payrun/postgres: get run: %w", err)
	}
	return rn, nil
}

// ListRunsByStatus returns the tenant's runs in the given status,
// oldest first.
func (s *Store) ListRunsByStatus(ctx context.Context, tenantID string, status run.Status, limit int) ([]*run.Run, error) {
	query := `
		SELECT` + runColumns + `
		FROM payrun_runs
		WHERE tenant_id = $1 AND status = $2
		ORDER BY created_at ASC`
	args := []any{tenantID, string(status)}

	if limit > 0 {
		query += " LIMIT $3"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("payrun/postgres: list runs: %w", err)
	}
	defer rows.Close()

	var runs []*run.Run
	for rows.Next() {
		rn, scanErr := scanRun(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("payrun/postgres: scan run row: %w", scanErr)
		}
		runs = append(runs, rn)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("payrun/postgres: iterate run rows: %w", err)
	}
	return runs, nil
}

// AcquireOrRenewLease attempts to take the run's lease for owner.
// The conditional UPDATE is a single atomic statement, so concurrent
// claimants resolve to exactly one winner.
func (s *Store) AcquireOrRenewLease(ctx context.Context, tenantID string, runID id.RunID, owner string, ttl time.Duration) (bool, error) {
	until := time.Now().UTC().Add(ttl)

	tag, err := s.pool.Exec(ctx, `
		UPDATE payrun_runs SET
			lease_owner = $3,
			lease_expires_at = $4,
			status = CASE WHEN status = 'QUEUED' THEN 'RUNNING' ELSE status END,
			updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2
		  AND status IN ('QUEUED', 'RUNNING')
		  AND (lease_owner = '' OR lease_owner = $3
		       OR lease_expires_at IS NULL OR lease_expires_at <= NOW())`,
		tenantID, runID.String(), owner, until,
	)
	if err != nil {
		return false, fmt.Errorf("payrun/postgres: acquire lease: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	// Lost the claim. Distinguish missing, terminal, and held.
	rn, err := s.GetRun(ctx, tenantID, runID)
	if err != nil {
		return false, err
	}
	if rn.Status.Terminal() {
		return false, payrun.ErrRunAlreadyFinalized
	}
	return false, nil
}

// RenewLeaseIfOwned extends the lease only when owner still holds it.
func (s *Store) RenewLeaseIfOwned(ctx context.Context, tenantID string, runID id.RunID, owner string, ttl time.Duration) (bool, error) {
	until := time.Now().UTC().Add(ttl)

	tag, err := s.pool.Exec(ctx, `
		UPDATE payrun_runs SET
			lease_expires_at = $4, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2
		  AND lease_owner = $3 AND lease_expires_at > NOW()`,
		tenantID, runID.String(), owner, until,
	)
	if err != nil {
		return false, fmt.Errorf("payrun/postgres: renew lease: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	if _, err = s.GetRun(ctx, tenantID, runID); err != nil {
		return false, err
	}
	return false, nil
}

// ClaimQueuedItems atomically picks up to limit QUEUED items and marks
// them RUNNING. SKIP LOCKED keeps concurrent claimants from blocking
// each other; member order keeps claims deterministic.
func (s *Store) ClaimQueuedItems(ctx context.Context, tenantID string, runID id.RunID, limit int) ([]*run.Item, error) {
	rows, err := s.pool.Query(ctx, `
		WITH claimed AS (
			UPDATE payrun_run_items
			SET status = 'RUNNING', updated_at = NOW()
			WHERE (tenant_id, run_id, member_id) IN (
				SELECT tenant_id, run_id, member_id FROM payrun_run_items
				WHERE tenant_id = $1 AND run_id = $2 AND status = 'QUEUED'
				ORDER BY member_id ASC
				FOR UPDATE SKIP LOCKED
				LIMIT $3
			)
			RETURNING`+itemColumns+`
		)
		SELECT * FROM claimed ORDER BY member_id ASC`,
		tenantID, runID.String(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("payrun/postgres: claim items: %w", err)
	}
	defer rows.Close()

	items, err := collectItems(rows)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		if err = s.runExists(ctx, tenantID, runID); err != nil {
			return nil, err
		}
	}
	return items, nil
}

// RequeueStaleRunningItems moves RUNNING items last touched before the
// cutoff back to QUEUED, returning how many were requeued.
func (s *Store) RequeueStaleRunningItems(ctx context.Context, tenantID string, runID id.RunID, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	tag, err := s.pool.Exec(ctx, `
		UPDATE payrun_run_items
		SET status = 'QUEUED', updated_at = NOW()
		WHERE tenant_id = $1 AND run_id = $2 AND status = 'RUNNING'
		  AND updated_at < $3`,
		tenantID, runID.String(), cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("payrun/postgres: requeue items: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if err = s.runExists(ctx, tenantID, runID); err != nil {
			return 0, err
		}
	}
	return int(tag.RowsAffected()), nil
}

// MarkItemSucceeded records a successful item with its result.
func (s *Store) MarkItemSucceeded(ctx context.Context, tenantID string, runID id.RunID, memberID string, resultID id.PaycheckID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE payrun_run_items SET
			status = 'SUCCEEDED', result_id = $4, last_error = '', updated_at = NOW()
		WHERE tenant_id = $1 AND run_id = $2 AND member_id = $3`,
		tenantID, runID.String(), memberID, resultID.String(),
	)
	if err != nil {
		return fmt.Errorf("payrun/postgres: mark item succeeded: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.itemMissing(ctx, tenantID, runID)
	}
	return nil
}

// MarkItemFailed records a failed item, incrementing AttemptCount and
// storing the cause.
func (s *Store) MarkItemFailed(ctx context.Context, tenantID string, runID id.RunID, memberID string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE payrun_run_items SET
			status = 'FAILED', attempt_count = attempt_count + 1,
			last_error = $4, updated_at = NOW()
		WHERE tenant_id = $1 AND run_id = $2 AND member_id = $3`,
		tenantID, runID.String(), memberID, msg,
	)
	if err != nil {
		return fmt.Errorf("payrun/postgres: mark item failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.itemMissing(ctx, tenantID, runID)
	}
	return nil
}

// ListItems returns the run's items, optionally filtered by status.
func (s *Store) ListItems(ctx context.Context, tenantID string, runID id.RunID, statuses ...run.ItemStatus) ([]*run.Item, error) {
	if err := s.runExists(ctx, tenantID, runID); err != nil {
		return nil, err
	}

	query := `
		SELECT` + itemColumns + `
		FROM payrun_run_items
		WHERE tenant_id = $1 AND run_id = $2`
	args := []any{tenantID, runID.String()}

	if len(statuses) > 0 {
		strs := make([]string, len(statuses))
		for i, st := range statuses {
			strs[i] = string(st)
		}
		query += " AND status = ANY($3)"
		args = append(args, strs)
	}

	query += " ORDER BY member_id ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("payrun/postgres: list items: %w", err)
	}
	defer rows.Close()

	return collectItems(rows)
}

// CountItems returns item counts grouped by status.
func (s *Store) CountItems(ctx context.Context, tenantID string, runID id.RunID) (run.Counts, error) {
	if err := s.runExists(ctx, tenantID, runID); err != nil {
		return run.Counts{}, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT status, COUNT(*) FROM payrun_run_items
		WHERE tenant_id = $1 AND run_id = $2
		GROUP BY status`,
		tenantID, runID.String(),
	)
	if err != nil {
		return run.Counts{}, fmt.Errorf("payrun/postgres: count items: %w", err)
	}
	defer rows.Close()

	var c run.Counts
	for rows.Next() {
		var status string
		var n int
		if err = rows.Scan(&status, &n); err != nil {
			return run.Counts{}, fmt.Errorf("payrun/postgres: scan item count: %w", err)
		}
		c.Total += n
		switch run.ItemStatus(status) {
		case run.ItemQueued:
			c.Queued = n
		case run.ItemRunning:
			c.Running = n
		case run.ItemSucceeded:
			c.Succeeded = n
		case run.ItemFailed:
			c.Failed = n
		}
	}
	if err = rows.Err(); err != nil {
		return run.Counts{}, fmt.Errorf("payrun/postgres: iterate item counts: %w", err)
	}
	return c, nil
}

// FinalizeRun writes the terminal status, clears the lease, and inserts
// the given outbox events, all in one transaction. Events whose EventID
// already exists are skipped silently.
func (s *Store) FinalizeRun(ctx context.Context, tenantID string, runID id.RunID, status run.Status, events []*outbox.Event) error {
	if !status.Terminal() {
		return payrun.ErrInvalidState
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("payrun/postgres: begin finalize: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE payrun_runs SET
			status = $3, lease_owner = '', lease_expires_at = NULL,
			finalized_at = NOW(), updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2
		  AND status IN ('QUEUED', 'RUNNING')`,
		tenantID, runID.String(), string(status),
	)
	if err != nil {
		return fmt.Errorf("payrun/postgres: finalize run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		rn, getErr := s.GetRun(ctx, tenantID, runID)
		if getErr != nil {
			return getErr
		}
		if rn.Status.Terminal() {
			return payrun.ErrRunAlreadyFinalized
		}
		return payrun.ErrRunNotFound
	}

	for _, e := range events {
		if err = insertEvent(ctx, tx, e); err != nil {
			return err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("payrun/postgres: commit finalize: %w", err)
	}
	return nil
}

// runExists maps a missing run to payrun.ErrRunNotFound.
func (s *Store) runExists(ctx context.Context, tenantID string, runID id.RunID) error {
	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM payrun_runs WHERE tenant_id = $1 AND id = $2`,
		tenantID, runID.String(),
	).Scan(&one)
	if err != nil {
		if isNoRows(err) {
			return payrun.ErrRunNotFound
		}
		return fmt.Errorf("payrun/postgres: check run: %w", err)
	}
	return nil
}

// itemMissing reports why an item update touched no rows.
func (s *Store) itemMissing(ctx context.Context, tenantID string, runID id.RunID) error {
	if err := s.runExists(ctx, tenantID, runID); err != nil {
		return err
	}
	return payrun.ErrItemNotFound
}

// scanRun scans a single run row.
func scanRun(row pgx.Row) (*run.Run, error) {
	var (
		rn          run.Run
		idStr       string
		typeStr     string
		statusStr   string
		approvalStr string
		paymentStr  string
	)
	err := row.Scan(
		&rn.TenantID, &idStr, &rn.PeriodID, &typeStr, &rn.Sequence, &statusStr,
		&approvalStr, &paymentStr, &rn.IdempotencyKey,
		&rn.LeaseOwner, &rn.LeaseExpiresAt, &rn.FinalizedAt,
		&rn.CreatedAt, &rn.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rn.Type = run.Type(typeStr)
	rn.Status = run.Status(statusStr)
	rn.ApprovalStatus = run.ApprovalStatus(approvalStr)
	rn.PaymentStatus = run.PaymentStatus(paymentStr)

	parsedID, parseErr := id.ParseRunID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("payrun/postgres: parse run id %q: %w", idStr, parseErr)
	}
	rn.ID = parsedID

	return &rn, nil
}

// scanItem scans a single run item row.
func scanItem(row pgx.Row) (*run.Item, error) {
	var (
		item      run.Item
		runIDStr  string
		statusStr string
		resultStr string
	)
	err := row.Scan(
		&item.TenantID, &runIDStr, &item.MemberID, &statusStr, &resultStr,
		&item.AttemptCount, &item.LastError, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	item.Status = run.ItemStatus(statusStr)

	parsedRunID, parseErr := id.ParseRunID(runIDStr)
	if parseErr != nil {
		return nil, fmt.Errorf("payrun/postgres: parse run id %q: %w", runIDStr, parseErr)
	}
	item.RunID = parsedRunID

	if resultStr != "" {
		parsedResult, resultErr := id.ParsePaycheckID(resultStr)
		if resultErr != nil {
			return nil, fmt.Errorf("payrun/postgres: parse result id %q: %w", resultStr, resultErr)
		}
		item.ResultID = parsedResult
	}

	return &item, nil
}

// collectItems collects all items from query rows.
func collectItems(rows pgx.Rows) ([]*run.Item, error) {
	var items []*run.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("payrun/postgres: scan item row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("payrun/postgres: iterate item rows: %w", err)
	}
	return items, nil
}
