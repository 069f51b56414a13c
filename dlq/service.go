package dlq

import (
	"context"
	"time"

	"github.com/payflux/payrun/id"
	"github.com/payflux/payrun/job"
)

// Service provides high-level DLQ operations over a Store.
type Service struct {
	store    Store
	jobStore job.Store
}

// NewService creates a DLQ service.
func NewService(store Store, jobStore job.Store) *Service {
	return &Service{store: store, jobStore: jobStore}
}

// Push builds a DLQ Entry from a job that exhausted the retry ladder
// and persists it. The error string is captured from the final handler
// error.
func (s *Service) Push(ctx context.Context, j *job.Job, jobErr error) error {
	now := time.Now().UTC()
	entry := &Entry{
		ID:          id.NewDLQID(),
		JobID:       j.ID,
		JobName:     j.Name,
		Queue:       j.Queue,
		TenantID:    j.TenantID,
		RunID:       j.RunID,
		MemberID:    j.MemberID,
		Payload:     j.Payload,
		Error:       jobErr.Error(),
		Attempt:     j.Attempt,
		MaxAttempts: j.MaxAttempts,
		FailedAt:    now,
		CreatedAt:   now,
	}
	return s.store.PushDLQ(ctx, entry)
}

// DLQStore returns the underlying DLQ store for direct access
// to List, Get, Purge, and Count operations.
func (s *Service) DLQStore() Store {
	return s.store
}
