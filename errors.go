package payrun

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("payrun: no store configured")
	ErrStoreClosed     = errors.New("payrun: store closed")
	ErrMigrationFailed = errors.New("payrun: migration failed")

	// Not found errors.
	ErrRunNotFound    = errors.New("payrun: run not found")
	ErrItemNotFound   = errors.New("payrun: run item not found")
	ErrJobNotFound    = errors.New("payrun: job not found")
	ErrEventNotFound  = errors.New("payrun: outbox event not found")
	ErrEntryNotFound  = errors.New("payrun: dlq entry not found")
	ErrWorkerNotFound = errors.New("payrun: worker not found")

	// Conflict errors.
	ErrJobAlreadyExists       = errors.New("payrun: job already exists")
	ErrLeaseConflict          = errors.New("payrun: lease held by another owner")
	ErrIdempotencyKeyMismatch = errors.New("payrun: idempotency key reused with different parameters")
	ErrDuplicateEvent         = errors.New("payrun: duplicate outbox event")
	ErrDuplicateInboxRecord   = errors.New("payrun: event already claimed by consumer")
	ErrAlreadyReplayed        = errors.New("payrun: dlq entry already replayed")
	ErrStaleLock              = errors.New("payrun: outbox claim lock no longer held")
	ErrRunAlreadyFinalized    = errors.New("payrun: run already in a terminal status")
	ErrConcurrentItemMutation = errors.New("payrun: item mutated outside the lease")

	// State errors.
	ErrInvalidState       = errors.New("payrun: invalid state transition")
	ErrMaxRetriesExceeded = errors.New("payrun: max retries exceeded")
	ErrHandlerNotFound    = errors.New("payrun: no handler registered for job kind")
	ErrNoPublisher        = errors.New("payrun: no publisher for destination kind")
	ErrNoComputeEngine    = errors.New("payrun: no computation engine configured")
	ErrEngineStopped      = errors.New("payrun: engine stopped")

	// Cluster errors.
	ErrLeadershipLost = errors.New("payrun: leadership lost")
	ErrNotLeader      = errors.New("payrun: not the leader")
)
