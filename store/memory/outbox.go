package memory

import (
	"context"
	"sort"
	"time"

	"github.com/payflux/payrun"
	"github.com/payflux/payrun/id"
	"github.com/payflux/payrun/inbox"
	"github.com/payflux/payrun/outbox"
)

// ──────────────────────────────────────────────────
// Outbox Store
// ──────────────────────────────────────────────────

// insertEvent records an event, deduplicating on EventID.
// Caller holds the lock.
func (m *Store) insertEvent(e *outbox.Event) {
	if _, dup := m.eventIx[e.EventID]; dup {
		return
	}
	m.eventSeq++
	cp := *e
	cp.Seq = m.eventSeq
	m.events[e.ID.String()] = &cp
	m.eventIx[e.EventID] = e.ID.String()
}

// EnqueueEvent persists a PENDING event. A duplicate EventID is a
// silent no-op.
func (m *Store) EnqueueEvent(_ context.Context, e *outbox.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.insertEvent(e)
	return nil
}

// ClaimBatch atomically claims up to limit publishable events: PENDING
// rows due by NextAttemptAt, plus SENDING rows whose lock is older than
// lockTTL.
func (m *Store) ClaimBatch(_ context.Context, owner string, limit int, lockTTL time.Duration) ([]*outbox.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	lockCutoff := now.Add(-lockTTL)

	var candidates []*outbox.Event
	for _, e := range m.events {
		switch e.Status {
		case outbox.StatusPending:
			if e.NextAttemptAt.After(now) {
				continue
			}
		case outbox.StatusSending:
			if e.LockedAt == nil || e.LockedAt.After(lockCutoff) {
				continue
			}
		default:
			continue
		}
		candidates = append(candidates, e)
	}

	// Oldest first so per-PartitionKey order holds; Seq breaks ties
	// between events created in the same transaction.
	sort.Slice(candidates, func(i, k int) bool {
		if !candidates[i].CreatedAt.Equal(candidates[k].CreatedAt) {
			return candidates[i].CreatedAt.Before(candidates[k].CreatedAt)
		}
		return candidates[i].Seq < candidates[k].Seq
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	result := make([]*outbox.Event, len(candidates))
	for i, e := range candidates {
		e.Status = outbox.StatusSending
		e.LockOwner = owner
		n := now
		e.LockedAt = &n
		e.Touch()
		cp := *e
		result[i] = &cp
	}
	return result, nil
}

// claimed resolves a locked event, verifying the claim. Caller holds
// the lock.
func (m *Store) claimed(eventID id.OutboxID, owner string, lockedAt time.Time) (*outbox.Event, error) {
	e, ok := m.events[eventID.String()]
	if !ok {
		return nil, payrun.ErrEventNotFound
	}
	if e.Status != outbox.StatusSending || e.LockOwner != owner ||
		e.LockedAt == nil || !e.LockedAt.Equal(lockedAt) {
		return nil, payrun.ErrStaleLock
	}
	return e, nil
}

// MarkSent records a broker acknowledgment.
func (m *Store) MarkSent(_ context.Context, eventID id.OutboxID, owner string, lockedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.claimed(eventID, owner, lockedAt)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	e.Status = outbox.StatusSent
	e.PublishedAt = &now
	e.LockOwner = ""
	e.LockedAt = nil
	e.LastError = ""
	e.Touch()
	return nil
}

// MarkFailed returns a claimed event to PENDING with the failure cause
// and the next eligible publish time.
func (m *Store) MarkFailed(_ context.Context, eventID id.OutboxID, owner string, lockedAt time.Time, cause error, nextAttemptAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.claimed(eventID, owner, lockedAt)
	if err != nil {
		return err
	}

	e.Status = outbox.StatusPending
	e.Attempts++
	if cause != nil {
		e.LastError = cause.Error()
	}
	e.NextAttemptAt = nextAttemptAt
	e.LockOwner = ""
	e.LockedAt = nil
	e.Touch()
	return nil
}

// GetEventByEventID looks up an event by its deterministic EventID.
func (m *Store) GetEventByEventID(_ context.Context, eventID string) (*outbox.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key, ok := m.eventIx[eventID]
	if !ok {
		return nil, payrun.ErrEventNotFound
	}
	cp := *m.events[key]
	return &cp, nil
}

// CountEvents returns event counts grouped by delivery status.
func (m *Store) CountEvents(_ context.Context) (map[outbox.Status]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[outbox.Status]int64)
	for _, e := range m.events {
		counts[e.Status]++
	}
	return counts, nil
}

// PurgeSentEvents deletes SENT rows published before the cutoff.
func (m *Store) PurgeSentEvents(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for key, e := range m.events {
		if e.Status != outbox.StatusSent {
			continue
		}
		if e.PublishedAt != nil && e.PublishedAt.Before(cutoff) {
			delete(m.events, key)
			delete(m.eventIx, e.EventID)
			count++
		}
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// Inbox Store
// ──────────────────────────────────────────────────

// inboxKey builds a composite map key for an inbox record.
func inboxKey(consumer, eventID string) string {
	return consumer + "|" + eventID
}

// TryMarkProcessed inserts the (consumer, eventID) marker.
func (m *Store) TryMarkProcessed(_ context.Context, consumer, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := inboxKey(consumer, eventID)
	if _, exists := m.inboxes[key]; exists {
		return false, nil
	}
	m.inboxes[key] = inbox.Record{
		Consumer:   consumer,
		EventID:    eventID,
		ReceivedAt: time.Now().UTC(),
	}
	return true, nil
}

// Unmark removes the marker so a redelivery can claim it again.
func (m *Store) Unmark(_ context.Context, consumer, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.inboxes, inboxKey(consumer, eventID))
	return nil
}
