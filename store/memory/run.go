package memory

import (
	"context"
	"sort"
	"time"

	"github.com/payflux/payrun"
	"github.com/payflux/payrun/id"
	"github.com/payflux/payrun/outbox"
	"github.com/payflux/payrun/run"
)

// runKey builds a composite map key for a run.
func runKey(tenantID string, runID id.RunID) string {
	return tenantID + "/" + runID.String()
}

// ──────────────────────────────────────────────────
// Run Store
// ──────────────────────────────────────────────────

// CreateOrGetRun atomically inserts a QUEUED run plus one QUEUED item
// per member, or returns the existing run when the request matches one
// already created.
func (m *Store) CreateOrGetRun(_ context.Context, req run.NewRun) (*run.Run, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Lookup fallback: idempotency key, then (period, type, sequence),
	// then requested ID.
	if existing := m.findRun(req); existing != nil {
		cp := *existing
		return &cp, false, nil
	}

	runID := req.RequestedID
	if runID.IsNil() {
		runID = id.NewRunID()
	}

	rn := &run.Run{
		Entity:         payrun.NewEntity(),
		TenantID:       req.TenantID,
		ID:             runID,
		PeriodID:       req.PeriodID,
		Type:           req.Type,
		Sequence:       req.Sequence,
		Status:         run.StatusQueued,
		ApprovalStatus: run.ApprovalPending,
		PaymentStatus:  run.PaymentUnpaid,
		IdempotencyKey: req.IdempotencyKey,
	}

	key := runKey(req.TenantID, runID)
	m.runs[key] = rn
	m.items[key] = make(map[string]*run.Item, len(req.MemberIDs))
	for _, memberID := range req.MemberIDs {
		m.items[key][memberID] = &run.Item{
			Entity:   payrun.NewEntity(),
			TenantID: req.TenantID,
			RunID:    runID,
			MemberID: memberID,
			Status:   run.ItemQueued,
		}
	}

	cp := *rn
	return &cp, true, nil
}

// findRun resolves an existing run for the request, or nil.
// Caller holds the lock.
func (m *Store) findRun(req run.NewRun) *run.Run {
	if req.IdempotencyKey != "" {
		for _, rn := range m.runs {
			if rn.TenantID == req.TenantID && rn.IdempotencyKey == req.IdempotencyKey {
				return rn
			}
		}
	}
	for _, rn := range m.runs {
		if rn.TenantID == req.TenantID && rn.PeriodID == req.PeriodID &&
			rn.Type == req.Type && rn.Sequence == req.Sequence {
			return rn
		}
	}
	if !req.RequestedID.IsNil() {
		if rn, ok := m.runs[runKey(req.TenantID, req.RequestedID)]; ok {
			return rn
		}
	}
	return nil
}

// GetRun retrieves a run by ID.
func (m *Store) GetRun(_ context.Context, tenantID string, runID id.RunID) (*run.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rn, ok := m.runs[runKey(tenantID, runID)]
	if !ok {
		return nil, payrun.ErrRunNotFound
	}
	cp := *rn
	return &cp, nil
}

// ListRunsByStatus returns the tenant's runs in the given status,
// oldest first.
func (m *Store) ListRunsByStatus(_ context.Context, tenantID string, status run.Status, limit int) ([]*run.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*run.Run
	for _, rn := range m.runs {
		if rn.TenantID != tenantID || rn.Status != status {
			continue
		}
		cp := *rn
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// AcquireOrRenewLease attempts to take the run's lease for owner.
func (m *Store) AcquireOrRenewLease(_ context.Context, tenantID string, runID id.RunID, owner string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rn, ok := m.runs[runKey(tenantID, runID)]
	if !ok {
		return false, payrun.ErrRunNotFound
	}
	if rn.Status.Terminal() {
		return false, payrun.ErrRunAlreadyFinalized
	}

	now := time.Now().UTC()
	held := rn.LeaseOwner != "" && rn.LeaseExpiresAt != nil && rn.LeaseExpiresAt.After(now)
	if held && rn.LeaseOwner != owner {
		return false, nil
	}

	rn.LeaseOwner = owner
	until := now.Add(ttl)
	rn.LeaseExpiresAt = &until
	if rn.Status == run.StatusQueued {
		rn.Status = run.StatusRunning
	}
	rn.Touch()
	return true, nil
}

// RenewLeaseIfOwned extends the lease only when owner still holds it.
func (m *Store) RenewLeaseIfOwned(_ context.Context, tenantID string, runID id.RunID, owner string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rn, ok := m.runs[runKey(tenantID, runID)]
	if !ok {
		return false, payrun.ErrRunNotFound
	}

	now := time.Now().UTC()
	if rn.LeaseOwner != owner || rn.LeaseExpiresAt == nil || !rn.LeaseExpiresAt.After(now) {
		return false, nil
	}
	until := now.Add(ttl)
	rn.LeaseExpiresAt = &until
	rn.Touch()
	return true, nil
}

// ClaimQueuedItems atomically picks up to limit QUEUED items and marks
// them RUNNING.
func (m *Store) ClaimQueuedItems(_ context.Context, tenantID string, runID id.RunID, limit int) ([]*run.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	items, ok := m.items[runKey(tenantID, runID)]
	if !ok {
		return nil, payrun.ErrRunNotFound
	}

	var queued []*run.Item
	for _, item := range items {
		if item.Status == run.ItemQueued {
			queued = append(queued, item)
		}
	}

	// Member order keeps claims deterministic.
	sort.Slice(queued, func(i, k int) bool {
		return queued[i].MemberID < queued[k].MemberID
	})

	if limit > 0 && len(queued) > limit {
		queued = queued[:limit]
	}

	result := make([]*run.Item, len(queued))
	for i, item := range queued {
		item.Status = run.ItemRunning
		item.Touch()
		cp := *item
		result[i] = &cp
	}
	return result, nil
}

// RequeueStaleRunningItems moves RUNNING items last touched before the
// cutoff back to QUEUED.
func (m *Store) RequeueStaleRunningItems(_ context.Context, tenantID string, runID id.RunID, olderThan time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	items, ok := m.items[runKey(tenantID, runID)]
	if !ok {
		return 0, payrun.ErrRunNotFound
	}

	cutoff := time.Now().UTC().Add(-olderThan)
	count := 0
	for _, item := range items {
		if item.Status == run.ItemRunning && item.UpdatedAt.Before(cutoff) {
			item.Status = run.ItemQueued
			item.Touch()
			count++
		}
	}
	return count, nil
}

// MarkItemSucceeded records a successful item with its result.
func (m *Store) MarkItemSucceeded(_ context.Context, tenantID string, runID id.RunID, memberID string, resultID id.PaycheckID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, err := m.findItem(tenantID, runID, memberID)
	if err != nil {
		return err
	}
	item.Status = run.ItemSucceeded
	item.ResultID = resultID
	item.LastError = ""
	item.Touch()
	return nil
}

// MarkItemFailed records a failed item, incrementing AttemptCount and
// storing the cause.
func (m *Store) MarkItemFailed(_ context.Context, tenantID string, runID id.RunID, memberID string, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, err := m.findItem(tenantID, runID, memberID)
	if err != nil {
		return err
	}
	item.Status = run.ItemFailed
	item.AttemptCount++
	if cause != nil {
		item.LastError = cause.Error()
	}
	item.Touch()
	return nil
}

// findItem resolves one item. Caller holds the lock.
func (m *Store) findItem(tenantID string, runID id.RunID, memberID string) (*run.Item, error) {
	items, ok := m.items[runKey(tenantID, runID)]
	if !ok {
		return nil, payrun.ErrRunNotFound
	}
	item, ok := items[memberID]
	if !ok {
		return nil, payrun.ErrItemNotFound
	}
	return item, nil
}

// ListItems returns the run's items, optionally filtered by status.
func (m *Store) ListItems(_ context.Context, tenantID string, runID id.RunID, statuses ...run.ItemStatus) ([]*run.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	items, ok := m.items[runKey(tenantID, runID)]
	if !ok {
		return nil, payrun.ErrRunNotFound
	}

	statusSet := make(map[run.ItemStatus]struct{}, len(statuses))
	for _, s := range statuses {
		statusSet[s] = struct{}{}
	}

	var result []*run.Item
	for _, item := range items {
		if len(statusSet) > 0 {
			if _, ok := statusSet[item.Status]; !ok {
				continue
			}
		}
		cp := *item
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].MemberID < result[k].MemberID
	})
	return result, nil
}

// CountItems returns item counts grouped by status.
func (m *Store) CountItems(_ context.Context, tenantID string, runID id.RunID) (run.Counts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	items, ok := m.items[runKey(tenantID, runID)]
	if !ok {
		return run.Counts{}, payrun.ErrRunNotFound
	}

	var c run.Counts
	for _, item := range items {
		c.Total++
		switch item.Status {
		case run.ItemQueued:
			c.Queued++
		case run.ItemRunning:
			c.Running++
		case run.ItemSucceeded:
			c.Succeeded++
		case run.ItemFailed:
			c.Failed++
		}
	}
	return c, nil
}

// FinalizeRun writes the terminal status, clears the lease, and
// inserts the given outbox events, all in one critical section.
func (m *Store) FinalizeRun(_ context.Context, tenantID string, runID id.RunID, status run.Status, events []*outbox.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rn, ok := m.runs[runKey(tenantID, runID)]
	if !ok {
		return payrun.ErrRunNotFound
	}
	if rn.Status.Terminal() {
		return payrun.ErrRunAlreadyFinalized
	}
	if !status.Terminal() {
		return payrun.ErrInvalidState
	}

	now := time.Now().UTC()
	rn.Status = status
	rn.LeaseOwner = ""
	rn.LeaseExpiresAt = nil
	rn.FinalizedAt = &now
	rn.Touch()

	for _, e := range events {
		m.insertEvent(e)
	}
	return nil
}
