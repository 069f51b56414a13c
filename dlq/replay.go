package dlq

import (
	"context"
	"time"

	"github.com/payflux/payrun"
	"github.com/payflux/payrun/id"
	"github.com/payflux/payrun/job"
)

// Replay re-enqueues a DLQ entry as a new pending job and marks the
// entry as replayed. The new job gets a fresh ID, attempt reset to 1,
// and runs immediately. An entry that was already replayed returns
// payrun.ErrAlreadyReplayed.
func (s *Service) Replay(ctx context.Context, entryID id.DLQID) (*job.Job, error) {
	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.ReplayedAt != nil {
		return nil, payrun.ErrAlreadyReplayed
	}

	now := time.Now().UTC()
	j := &job.Job{
		Entity:      payrun.NewEntity(),
		ID:          id.NewJobID(),
		Name:        entry.JobName,
		Queue:       entry.Queue,
		TenantID:    entry.TenantID,
		RunID:       entry.RunID,
		MemberID:    entry.MemberID,
		Payload:     entry.Payload,
		State:       job.StatePending,
		Attempt:     1,
		MaxAttempts: entry.MaxAttempts,
		RunAt:       now,
	}

	if err := s.jobStore.EnqueueJob(ctx, j); err != nil {
		return nil, err
	}

	if err := s.store.ReplayDLQ(ctx, entryID); err != nil {
		// The job is already enqueued. Surface but keep the job.
		return j, err
	}

	return j, nil
}

// ReplayAll replays every un-replayed entry matching the options,
// returning the jobs that were re-enqueued. The first error stops the
// sweep; entries replayed before it stay replayed.
func (s *Service) ReplayAll(ctx context.Context, opts ListOpts) ([]*job.Job, error) {
	entries, err := s.store.ListDLQ(ctx, opts)
	if err != nil {
		return nil, err
	}

	jobs := make([]*job.Job, 0, len(entries))
	for _, entry := range entries {
		if entry.ReplayedAt != nil {
			continue
		}
		j, err := s.Replay(ctx, entry.ID)
		if err != nil {
			return jobs, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}
