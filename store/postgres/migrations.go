package postgres

// migrations is the ordered schema history. Each entry runs once and
// is recorded in payrun_migrations by name.
var migrations = []struct {
	name  string
	stmts []string
}{
	{
		name: "001_create_runs",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS payrun_runs (
				tenant_id        TEXT NOT NULL,
				id               TEXT NOT NULL,
				period_id        TEXT NOT NULL,
				type             TEXT NOT NULL DEFAULT 'REGULAR',
				sequence         INTEGER NOT NULL DEFAULT 0,
				status           TEXT NOT NULL DEFAULT 'QUEUED',
				approval_status  TEXT NOT NULL DEFAULT 'PENDING',
				payment_status   TEXT NOT NULL DEFAULT 'UNPAID',
				idempotency_key  TEXT NOT NULL DEFAULT '',
				lease_owner      TEXT NOT NULL DEFAULT '',
				lease_expires_at TIMESTAMPTZ,
				finalized_at     TIMESTAMPTZ,
				created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				PRIMARY KEY (tenant_id, id)
			)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_payrun_runs_idem
				ON payrun_runs (tenant_id, idempotency_key)
				WHERE idempotency_key <> ''`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_payrun_runs_period
				ON payrun_runs (tenant_id, period_id, type, sequence)`,
			`CREATE INDEX IF NOT EXISTS idx_payrun_runs_status
				ON payrun_runs (tenant_id, status, created_at)`,
		},
	},
	{
		name: "002_create_run_items",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS payrun_run_items (
				tenant_id     TEXT NOT NULL,
				run_id        TEXT NOT NULL,
				member_id     TEXT NOT NULL,
				status        TEXT NOT NULL DEFAULT 'QUEUED',
				result_id     TEXT NOT NULL DEFAULT '',
				attempt_count INTEGER NOT NULL DEFAULT 0,
				last_error    TEXT NOT NULL DEFAULT '',
				created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				PRIMARY KEY (tenant_id, run_id, member_id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_payrun_run_items_claim
				ON payrun_run_items (tenant_id, run_id, member_id)
				WHERE status = 'QUEUED'`,
		},
	},
	{
		name: "003_create_jobs",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS payrun_jobs (
				id           TEXT PRIMARY KEY,
				name         TEXT NOT NULL,
				queue        TEXT NOT NULL DEFAULT 'default',
				tenant_id    TEXT NOT NULL DEFAULT '',
				run_id       TEXT NOT NULL DEFAULT '',
				member_id    TEXT NOT NULL DEFAULT '',
				payload      BYTEA NOT NULL,
				state        TEXT NOT NULL DEFAULT 'pending',
				priority     INTEGER NOT NULL DEFAULT 0,
				attempt      INTEGER NOT NULL DEFAULT 1,
				max_attempts INTEGER NOT NULL DEFAULT 8,
				last_error   TEXT NOT NULL DEFAULT '',
				worker_id    TEXT NOT NULL DEFAULT '',
				run_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				started_at   TIMESTAMPTZ,
				completed_at TIMESTAMPTZ,
				heartbeat_at TIMESTAMPTZ,
				timeout      BIGINT NOT NULL DEFAULT 0,
				created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
			`CREATE INDEX IF NOT EXISTS idx_payrun_jobs_dequeue
				ON payrun_jobs (queue, priority DESC, run_at ASC)
				WHERE state IN ('pending', 'retrying')`,
			`CREATE INDEX IF NOT EXISTS idx_payrun_jobs_state
				ON payrun_jobs (state)`,
			`CREATE INDEX IF NOT EXISTS idx_payrun_jobs_run
				ON payrun_jobs (tenant_id, run_id)`,
			`CREATE INDEX IF NOT EXISTS idx_payrun_jobs_heartbeat
				ON payrun_jobs (heartbeat_at)
				WHERE state = 'running'`,
		},
	},
	{
		name: "004_create_dlq",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS payrun_dlq (
				id           TEXT PRIMARY KEY,
				job_id       TEXT NOT NULL,
				job_name     TEXT NOT NULL,
				queue        TEXT NOT NULL,
				tenant_id    TEXT NOT NULL DEFAULT '',
				run_id       TEXT NOT NULL DEFAULT '',
				member_id    TEXT NOT NULL DEFAULT '',
				payload      BYTEA NOT NULL,
				error        TEXT NOT NULL,
				attempt      INTEGER NOT NULL,
				max_attempts INTEGER NOT NULL,
				failed_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				replayed_at  TIMESTAMPTZ,
				created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
			`CREATE INDEX IF NOT EXISTS idx_payrun_dlq_queue
				ON payrun_dlq (queue, failed_at DESC)`,
			`CREATE INDEX IF NOT EXISTS idx_payrun_dlq_run
				ON payrun_dlq (tenant_id, run_id)`,
		},
	},
	{
		name: "005_create_outbox",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS payrun_outbox (
				id              TEXT PRIMARY KEY,
				seq             BIGINT GENERATED ALWAYS AS IDENTITY,
				event_id        TEXT NOT NULL UNIQUE,
				kind            TEXT NOT NULL,
				destination     TEXT NOT NULL,
				routing_key     TEXT NOT NULL DEFAULT '',
				partition_key   TEXT NOT NULL DEFAULT '',
				type            TEXT NOT NULL,
				aggregate_id    TEXT NOT NULL DEFAULT '',
				tenant_id       TEXT NOT NULL DEFAULT '',
				payload         BYTEA,
				headers         JSONB DEFAULT '{}',
				status          TEXT NOT NULL DEFAULT 'PENDING',
				attempts        INTEGER NOT NULL DEFAULT 0,
				next_attempt_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				lock_owner      TEXT NOT NULL DEFAULT '',
				locked_at       TIMESTAMPTZ,
				published_at    TIMESTAMPTZ,
				last_error      TEXT NOT NULL DEFAULT '',
				created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
			`CREATE INDEX IF NOT EXISTS idx_payrun_outbox_claim
				ON payrun_outbox (created_at, seq)
				WHERE status IN ('PENDING', 'SENDING')`,
			`CREATE INDEX IF NOT EXISTS idx_payrun_outbox_purge
				ON payrun_outbox (published_at)
				WHERE status = 'SENT'`,
		},
	},
	{
		name: "006_create_inbox",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS payrun_inbox (
				consumer    TEXT NOT NULL,
				event_id    TEXT NOT NULL,
				received_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				PRIMARY KEY (consumer, event_id)
			)`,
		},
	},
	{
		name: "007_create_workers",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS payrun_workers (
				id           TEXT PRIMARY KEY,
				hostname     TEXT NOT NULL,
				queues       TEXT[] DEFAULT '{}',
				concurrency  INTEGER NOT NULL DEFAULT 10,
				state        TEXT NOT NULL DEFAULT 'active',
				is_leader    BOOLEAN NOT NULL DEFAULT FALSE,
				leader_until TIMESTAMPTZ,
				last_seen    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
				metadata     JSONB DEFAULT '{}',
				created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
			`CREATE INDEX IF NOT EXISTS idx_payrun_workers_leader
				ON payrun_workers (is_leader)
				WHERE is_leader = TRUE`,
			`CREATE INDEX IF NOT EXISTS idx_payrun_workers_stale
				ON payrun_workers (last_seen)
				WHERE state = 'active'`,
		},
	},
}
