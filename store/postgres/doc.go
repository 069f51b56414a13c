// Package postgres implements the store using pgx/v5 with raw SQL.
// Features: SKIP LOCKED item claims and job dequeue, single-statement
// conditional updates for the run lease, ON CONFLICT dedup for the
// outbox and inbox, and tracked inline schema migrations.
package postgres
