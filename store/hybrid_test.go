package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/payflux/payrun"
	"github.com/payflux/payrun/id"
	"github.com/payflux/payrun/job"
	"github.com/payflux/payrun/run"
	"github.com/payflux/payrun/store"
	"github.com/payflux/payrun/store/memory"
)

func TestHybridRoutesJobsToQueueBackend(t *testing.T) {
	t.Parallel()
	rel := memory.New()
	fast := memory.New()
	h := store.NewHybrid(rel, fast)
	ctx := context.Background()

	j := &job.Job{
		Entity:      payrun.NewEntity(),
		ID:          id.NewJobID(),
		Name:        "finalize-item",
		Queue:       "payrun.finalize.item",
		State:       job.StatePending,
		Attempt:     1,
		MaxAttempts: 8,
		RunAt:       time.Now().UTC(),
	}
	if err := h.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	if _, err := fast.GetJob(ctx, j.ID); err != nil {
		t.Fatalf("job not in queue backend: %v", err)
	}
	if _, err := rel.GetJob(ctx, j.ID); err == nil {
		t.Fatal("job unexpectedly present in relational backend")
	}
}

func TestHybridRoutesRunsToRelationalBackend(t *testing.T) {
	t.Parallel()
	rel := memory.New()
	fast := memory.New()
	h := store.NewHybrid(rel, fast)
	ctx := context.Background()

	r, created, err := h.CreateOrGetRun(ctx, run.NewRun{
		TenantID:       "tnt_1",
		PeriodID:       "2026-08",
		Type:           run.TypeRegular,
		MemberIDs:      []string{"emp_1", "emp_2"},
		IdempotencyKey: "finalize-2026-08",
	})
	if err != nil {
		t.Fatalf("CreateOrGetRun: %v", err)
	}
	if !created {
		t.Fatal("expected run to be created")
	}

	if _, err := rel.GetRun(ctx, "tnt_1", r.ID); err != nil {
		t.Fatalf("run not in relational backend: %v", err)
	}
	if _, err := fast.GetRun(ctx, "tnt_1", r.ID); err == nil {
		t.Fatal("run unexpectedly present in queue backend")
	}
}

func TestHybridLifecycle(t *testing.T) {
	t.Parallel()
	h := store.NewHybrid(memory.New(), memory.New())
	ctx := context.Background()

	if err := h.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := h.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
