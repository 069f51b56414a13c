package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/payflux/payrun"
	"github.com/payflux/payrun/id"
	"github.com/payflux/payrun/outbox"
)

const outboxColumns = `
	id, seq, event_id, kind, destination, routing_key, partition_key,
	type, aggregate_id, tenant_id, payload, headers, status,
	attempts, next_attempt_at, lock_owner, locked_at, published_at,
	last_error, created_at, updated_at`

// execer abstracts pool and transaction for event inserts, so
// FinalizeRun can write events inside its transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// insertEvent records an event, deduplicating on EventID.
func insertEvent(ctx context.Context, db execer, e *outbox.Event) error {
	_, err := db.Exec(ctx, `
		INSERT INTO payrun_outbox (
			id, event_id, kind, destination, routing_key, partition_key,
			type, aggregate_id, tenant_id, payload, headers, status,
			attempts, next_attempt_at, lock_owner, locked_at, published_at,
			last_error, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17,
			$18, $19, $20
		)
		ON CONFLICT (event_id) DO NOTHING`,
		e.ID.String(), e.EventID, string(e.Kind), e.Destination,
		e.RoutingKey, e.PartitionKey,
		e.Type, e.AggregateID, e.TenantID, e.Payload, e.Headers, string(e.Status),
		e.Attempts, e.NextAttemptAt, e.LockOwner, e.LockedAt, e.PublishedAt,
		e.LastError, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("payrun/postgres: enqueue event: %w", err)
	}
	return nil
}

// EnqueueEvent persists a PENDING event. A duplicate EventID is a
// silent no-op.
func (s *Store) EnqueueEvent(ctx context.Context, e *outbox.Event) error {
	return insertEvent(ctx, s.pool, e)
}

// ClaimBatch atomically claims up to limit publishable events: PENDING
// rows due by NextAttemptAt, plus SENDING rows whose lock is older than
// lockTTL. Claimed rows are returned oldest first, with the insert
// sequence breaking CreatedAt ties, so per-PartitionKey order holds
// even for events written in the same transaction.
func (s *Store) ClaimBatch(ctx context.Context, owner string, limit int, lockTTL time.Duration) ([]*outbox.Event, error) {
	lockCutoff := time.Now().UTC().Add(-lockTTL)

	rows, err := s.pool.Query(ctx, `
		WITH claimed AS (
			UPDATE payrun_outbox
			SET status = 'SENDING', lock_owner = $1, locked_at = NOW(), updated_at = NOW()
			WHERE id IN (
				SELECT id FROM payrun_outbox
				WHERE (status = 'PENDING' AND next_attempt_at <= NOW())
				   OR (status = 'SENDING' AND locked_at < $2)
				ORDER BY created_at ASC, seq ASC
				FOR UPDATE SKIP LOCKED
				LIMIT $3
			)
			RETURNING`+outboxColumns+`
		)
		SELECT * FROM claimed ORDER BY created_at ASC, seq ASC`,
		owner, lockCutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("payrun/postgres: claim events: %w", err)
	}
	defer rows.Close()

	var events []*outbox.Event
	for rows.Next() {
		e, scanErr := scanEvent(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("payrun/postgres: scan event row: %w", scanErr)
		}
		events = append(events, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("payrun/postgres: iterate event rows: %w", err)
	}
	return events, nil
}

// MarkSent records a broker acknowledgment. The owner and lockedAt must
// match the claim.
func (s *Store) MarkSent(ctx context.Context, eventID id.OutboxID, owner string, lockedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE payrun_outbox SET
			status = 'SENT', published_at = NOW(),
			lock_owner = '', locked_at = NULL, last_error = '',
			updated_at = NOW()
		WHERE id = $1 AND status = 'SENDING'
		  AND lock_owner = $2 AND locked_at = $3`,
		eventID.String(), owner, lockedAt,
	)
	if err != nil {
		return fmt.Errorf("payrun/postgres: mark event sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.staleOrMissing(ctx, eventID)
	}
	return nil
}

// MarkFailed returns a claimed event to PENDING with the failure cause
// and the next eligible publish time.
func (s *Store) MarkFailed(ctx context.Context, eventID id.OutboxID, owner string, lockedAt time.Time, cause error, nextAttemptAt time.Time) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE payrun_outbox SET
			status = 'PENDING', attempts = attempts + 1,
			last_error = $4, next_attempt_at = $5,
			lock_owner = '', locked_at = NULL,
			updated_at = NOW()
		WHERE id = $1 AND status = 'SENDING'
		  AND lock_owner = $2 AND locked_at = $3`,
		eventID.String(), owner, lockedAt, msg, nextAttemptAt,
	)
	if err != nil {
		return fmt.Errorf("payrun/postgres: mark event failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.staleOrMissing(ctx, eventID)
	}
	return nil
}

// staleOrMissing reports why a claim-guarded update touched no rows.
func (s *Store) staleOrMissing(ctx context.Context, eventID id.OutboxID) error {
	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM payrun_outbox WHERE id = $1`, eventID.String(),
	).Scan(&one)
	if err != nil {
		if isNoRows(err) {
			return payrun.ErrEventNotFound
		}
		return fmt.Errorf("payrun/postgres: check event: %w", err)
	}
	return payrun.ErrStaleLock
}

// GetEventByEventID looks up an event by its deterministic EventID.
func (s *Store) GetEventByEventID(ctx context.Context, eventID string) (*outbox.Event, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT`+outboxColumns+`
		FROM payrun_outbox
		WHERE event_id = $1`,
		eventID,
	)

	e, err := scanEvent(row)
	if err != nil {
		if isNoRows(err) {
			return nil, payrun.ErrEventNotFound
		}
		return nil, fmt.Errorf("payrun/postgres: get event: %w", err)
	}
	return e, nil
}

// CountEvents returns event counts grouped by delivery status.
func (s *Store) CountEvents(ctx context.Context) (map[outbox.Status]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM payrun_outbox GROUP BY status`,
	)
	if err != nil {
		return nil, fmt.Errorf("payrun/postgres: count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[outbox.Status]int64)
	for rows.Next() {
		var status string
		var n int64
		if err = rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("payrun/postgres: scan event count: %w", err)
		}
		counts[outbox.Status(status)] = n
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("payrun/postgres: iterate event counts: %w", err)
	}
	return counts, nil
}

// PurgeSentEvents deletes SENT rows published before the cutoff.
func (s *Store) PurgeSentEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM payrun_outbox WHERE status = 'SENT' AND published_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("payrun/postgres: purge events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// scanEvent scans a single outbox event row.
func scanEvent(row pgx.Row) (*outbox.Event, error) {
	var (
		e         outbox.Event
		idStr     string
		kindStr   string
		statusStr string
	)
	err := row.Scan(
		&idStr, &e.Seq, &e.EventID, &kindStr, &e.Destination, &e.RoutingKey, &e.PartitionKey,
		&e.Type, &e.AggregateID, &e.TenantID, &e.Payload, &e.Headers, &statusStr,
		&e.Attempts, &e.NextAttemptAt, &e.LockOwner, &e.LockedAt, &e.PublishedAt,
		&e.LastError, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Kind = outbox.Kind(kindStr)
	e.Status = outbox.Status(statusStr)

	parsedID, parseErr := id.ParseOutboxID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("payrun/postgres: parse outbox id %q: %w", idStr, parseErr)
	}
	e.ID = parsedID

	return &e, nil
}

// ──────────────────────────────────────────────────
// Inbox Store
// ──────────────────────────────────────────────────

// TryMarkProcessed inserts the (consumer, eventID) marker. Returns true
// when this call created it.
func (s *Store) TryMarkProcessed(ctx context.Context, consumer, eventID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO payrun_inbox (consumer, event_id)
		VALUES ($1, $2)
		ON CONFLICT (consumer, event_id) DO NOTHING`,
		consumer, eventID,
	)
	if err != nil {
		return false, fmt.Errorf("payrun/postgres: mark processed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Unmark removes the marker so a redelivery can claim it again.
func (s *Store) Unmark(ctx context.Context, consumer, eventID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM payrun_inbox WHERE consumer = $1 AND event_id = $2`,
		consumer, eventID,
	)
	if err != nil {
		return fmt.Errorf("payrun/postgres: unmark: %w", err)
	}
	return nil
}
