package dlq_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/payflux/payrun"
	payrunDLQ "github.com/payflux/payrun/dlq"
	"github.com/payflux/payrun/id"
	"github.com/payflux/payrun/job"
	"github.com/payflux/payrun/store/memory"
)

func newDeadJob(name string, payload []byte) *job.Job {
	now := time.Now().UTC()
	j := &job.Job{
		Entity:      payrun.NewEntity(),
		ID:          id.NewJobID(),
		Name:        name,
		Queue:       "payrun.finalize.item",
		TenantID:    "t1",
		RunID:       id.NewRunID(),
		MemberID:    "emp-1",
		Payload:     payload,
		State:       job.StateDead,
		Attempt:     8,
		MaxAttempts: 8,
		LastError:   "test error",
		RunAt:       now,
	}
	return j
}

func TestService_Push_BuildsEntryFromJob(t *testing.T) {
	s := memory.New()
	svc := payrunDLQ.NewService(s, s)
	ctx := context.Background()

	j := newDeadJob("finalize-item", []byte(`{"member_id":"emp-1"}`))
	jobErr := errors.New("calc engine timeout")

	if err := svc.Push(ctx, j, jobErr); err != nil {
		t.Fatalf("Push: %v", err)
	}

	// Verify entry in store.
	entries, err := s.ListDLQ(ctx, payrunDLQ.ListOpts{Limit: 10})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 DLQ entry, got %d", len(entries))
	}

	entry := entries[0]
	if entry.JobID != j.ID {
		t.Errorf("JobID = %v, want %v", entry.JobID, j.ID)
	}
	if entry.JobName != "finalize-item" {
		t.Errorf("JobName = %q, want %q", entry.JobName, "finalize-item")
	}
	if entry.TenantID != "t1" {
		t.Errorf("TenantID = %q, want %q", entry.TenantID, "t1")
	}
	if entry.RunID != j.RunID {
		t.Errorf("RunID = %v, want %v", entry.RunID, j.RunID)
	}
	if entry.MemberID != "emp-1" {
		t.Errorf("MemberID = %q, want %q", entry.MemberID, "emp-1")
	}
	if string(entry.Payload) != `{"member_id":"emp-1"}` {
		t.Errorf("Payload = %q, want %q", entry.Payload, `{"member_id":"emp-1"}`)
	}
	if entry.Error != "calc engine timeout" {
		t.Errorf("Error = %q, want %q", entry.Error, "calc engine timeout")
	}
	if entry.Attempt != 8 {
		t.Errorf("Attempt = %d, want 8", entry.Attempt)
	}
	if entry.FailedAt.IsZero() {
		t.Error("expected FailedAt to be set")
	}
	if entry.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
}

func TestService_Push_CountIncreases(t *testing.T) {
	s := memory.New()
	svc := payrunDLQ.NewService(s, s)
	ctx := context.Background()

	for i := range 3 {
		j := newDeadJob("job-"+string(rune('a'+i)), nil)
		if err := svc.Push(ctx, j, errors.New("fail")); err != nil {
			t.Fatalf("Push %d: %v", i, err)
		}
	}

	count, err := s.CountDLQ(ctx)
	if err != nil {
		t.Fatalf("CountDLQ: %v", err)
	}
	if count != 3 {
		t.Errorf("CountDLQ = %d, want 3", count)
	}
}

func TestService_Replay_ResetsAttemptToOne(t *testing.T) {
	s := memory.New()
	svc := payrunDLQ.NewService(s, s)
	ctx := context.Background()

	// Push a dead job to the DLQ.
	original := newDeadJob("replay-me", []byte(`{"member_id":"emp-9"}`))
	if err := svc.Push(ctx, original, errors.New("original error")); err != nil {
		t.Fatalf("Push: %v", err)
	}

	entries, err := s.ListDLQ(ctx, payrunDLQ.ListOpts{Limit: 1})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 DLQ entry, got %d", len(entries))
	}
	entryID := entries[0].ID

	replayed, err := svc.Replay(ctx, entryID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}

	if replayed.ID == original.ID {
		t.Error("replayed job should have a new ID")
	}
	if replayed.State != job.StatePending {
		t.Errorf("State = %q, want %q", replayed.State, job.StatePending)
	}
	if replayed.Attempt != 1 {
		t.Errorf("Attempt = %d, want 1", replayed.Attempt)
	}
	if replayed.Name != "replay-me" {
		t.Errorf("Name = %q, want %q", replayed.Name, "replay-me")
	}
	if string(replayed.Payload) != `{"member_id":"emp-9"}` {
		t.Errorf("Payload = %q, want %q", replayed.Payload, `{"member_id":"emp-9"}`)
	}
	if replayed.TenantID != "t1" {
		t.Errorf("TenantID = %q, want %q", replayed.TenantID, "t1")
	}

	// Verify the job exists in the job store.
	got, err := s.GetJob(ctx, replayed.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StatePending {
		t.Errorf("stored job State = %q, want %q", got.State, job.StatePending)
	}
}

func TestService_Replay_MarksDLQEntryAsReplayed(t *testing.T) {
	s := memory.New()
	svc := payrunDLQ.NewService(s, s)
	ctx := context.Background()

	j := newDeadJob("replay-mark", nil)
	if err := svc.Push(ctx, j, errors.New("fail")); err != nil {
		t.Fatalf("Push: %v", err)
	}

	entries, err := s.ListDLQ(ctx, payrunDLQ.ListOpts{Limit: 1})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	entryID := entries[0].ID

	if _, replayErr := svc.Replay(ctx, entryID); replayErr != nil {
		t.Fatalf("Replay: %v", replayErr)
	}

	// Check that ReplayedAt is set.
	entry, err := s.GetDLQ(ctx, entryID)
	if err != nil {
		t.Fatalf("GetDLQ: %v", err)
	}
	if entry.ReplayedAt == nil {
		t.Error("expected ReplayedAt to be set after replay")
	}

	// A second replay must be rejected.
	if _, err := svc.Replay(ctx, entryID); !errors.Is(err, payrun.ErrAlreadyReplayed) {
		t.Errorf("second Replay error = %v, want ErrAlreadyReplayed", err)
	}
}

func TestService_Replay_NotFoundReturnsError(t *testing.T) {
	s := memory.New()
	svc := payrunDLQ.NewService(s, s)
	ctx := context.Background()

	fakeID := id.NewDLQID()
	_, err := svc.Replay(ctx, fakeID)
	if err == nil {
		t.Fatal("expected error for non-existent DLQ entry")
	}
}

func TestService_ReplayAll_SkipsReplayed(t *testing.T) {
	s := memory.New()
	svc := payrunDLQ.NewService(s, s)
	ctx := context.Background()

	for range 3 {
		if err := svc.Push(ctx, newDeadJob("bulk", nil), errors.New("fail")); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}

	// Replay one entry individually.
	entries, err := s.ListDLQ(ctx, payrunDLQ.ListOpts{})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	if _, err := svc.Replay(ctx, entries[0].ID); err != nil {
		t.Fatalf("Replay: %v", err)
	}

	// ReplayAll should only touch the remaining two.
	jobs, err := svc.ReplayAll(ctx, payrunDLQ.ListOpts{})
	if err != nil {
		t.Fatalf("ReplayAll: %v", err)
	}
	if len(jobs) != 2 {
		t.Errorf("ReplayAll returned %d jobs, want 2", len(jobs))
	}
}
