package coordinator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/payflux/payrun"
	"github.com/payflux/payrun/id"
	"github.com/payflux/payrun/outbox"
	"github.com/payflux/payrun/run"
	"github.com/payflux/payrun/store/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// succeedAll computes every item successfully.
func succeedAll() Engine {
	return EngineFunc(func(_ context.Context, _ ItemInput) (ItemResult, error) {
		return ItemResult{ResultID: id.NewPaycheckID()}, nil
	})
}

// failMembers fails the named members and succeeds the rest.
func failMembers(members ...string) Engine {
	bad := make(map[string]struct{}, len(members))
	for _, m := range members {
		bad[m] = struct{}{}
	}
	return EngineFunc(func(_ context.Context, in ItemInput) (ItemResult, error) {
		if _, ok := bad[in.MemberID]; ok {
			return ItemResult{}, errors.New("compute failed")
		}
		return ItemResult{ResultID: id.NewPaycheckID()}, nil
	})
}

func startRun(t *testing.T, c *Coordinator, members ...string) id.RunID {
	t.Helper()
	res, err := c.Start(context.Background(), StartRequest{
		TenantID:       "t1",
		PeriodID:       "2026-08",
		Type:           run.TypeRegular,
		Sequence:       1,
		MemberIDs:      members,
		IdempotencyKey: "key-1",
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !res.Created {
		t.Fatal("start reported created=false for a new run")
	}
	return res.RunID
}

func TestStartIsIdempotent(t *testing.T) {
	t.Parallel()
	s := memory.New()
	c := New(s, succeedAll(), WithLogger(discardLogger()))
	ctx := context.Background()

	runID := startRun(t, c, "e1", "e2")

	again, err := c.Start(ctx, StartRequest{
		TenantID:       "t1",
		PeriodID:       "2026-08",
		Type:           run.TypeRegular,
		Sequence:       1,
		MemberIDs:      []string{"e1", "e2"},
		IdempotencyKey: "key-1",
	})
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if again.Created {
		t.Fatal("second start reported created=true")
	}
	if again.RunID != runID {
		t.Fatalf("second start returned run %s, want %s", again.RunID, runID)
	}
	if again.TotalItems != 2 {
		t.Fatalf("total items %d, want 2", again.TotalItems)
	}
}

func TestStartIdempotencyKeyMismatch(t *testing.T) {
	t.Parallel()
	s := memory.New()
	c := New(s, succeedAll(), WithLogger(discardLogger()))
	ctx := context.Background()

	startRun(t, c, "e1")

	_, err := c.Start(ctx, StartRequest{
		TenantID:       "t1",
		PeriodID:       "2026-09", // different period, same key
		Type:           run.TypeRegular,
		Sequence:       1,
		MemberIDs:      []string{"e1"},
		IdempotencyKey: "key-1",
	})
	if !errors.Is(err, payrun.ErrIdempotencyKeyMismatch) {
		t.Fatalf("got %v, want ErrIdempotencyKeyMismatch", err)
	}
}

func TestExecuteFinalizesRun(t *testing.T) {
	t.Parallel()
	s := memory.New()
	c := New(s, succeedAll(), WithLogger(discardLogger()))
	ctx := context.Background()

	runID := startRun(t, c, "e1", "e2", "e3")

	res, err := c.Execute(ctx, ExecuteRequest{
		TenantID:   "t1",
		RunID:      runID,
		LeaseOwner: "worker-a",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Finalized || res.MoreWork {
		t.Fatalf("result %+v, want finalized without more work", res)
	}
	if res.Status != run.StatusFinalized {
		t.Fatalf("status %s, want FINALIZED", res.Status)
	}
	if res.Processed != 3 || res.Succeeded != 3 {
		t.Fatalf("processed=%d succeeded=%d, want 3/3", res.Processed, res.Succeeded)
	}

	rn, err := s.GetRun(ctx, "t1", runID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if rn.Status != run.StatusFinalized || rn.FinalizedAt == nil {
		t.Fatalf("stored run %+v, want FINALIZED with timestamp", rn)
	}
	if rn.LeaseOwner != "" {
		t.Fatal("finalize did not clear the lease")
	}

	// Finalization recorded outbox events in the same transaction.
	counts, err := s.CountEvents(ctx)
	if err != nil {
		t.Fatalf("count events: %v", err)
	}
	if counts[outbox.StatusPending] != 2 {
		t.Fatalf("pending events %d, want 2 (stream + handoff)", counts[outbox.StatusPending])
	}
}

func TestExecuteTerminalStatuses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		engine  Engine
		members []string
		want    run.Status
	}{
		{"all succeed", succeedAll(), []string{"e1", "e2"}, run.StatusFinalized},
		{"all fail", failMembers("e1", "e2"), []string{"e1", "e2"}, run.StatusFailed},
		{"mixed", failMembers("e2"), []string{"e1", "e2"}, run.StatusPartiallyFinalized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := memory.New()
			c := New(s, tt.engine, WithLogger(discardLogger()))
			runID := startRun(t, c, tt.members...)

			res, err := c.Execute(context.Background(), ExecuteRequest{
				TenantID:   "t1",
				RunID:      runID,
				LeaseOwner: "worker-a",
			})
			if err != nil {
				t.Fatalf("execute: %v", err)
			}
			if res.Status != tt.want {
				t.Fatalf("status %s, want %s", res.Status, tt.want)
			}
			if !res.Finalized {
				t.Fatal("run not finalized")
			}
		})
	}
}

func TestExecuteItemFailureDoesNotAbortBatch(t *testing.T) {
	t.Parallel()
	s := memory.New()
	c := New(s, failMembers("e2"), WithLogger(discardLogger()))
	ctx := context.Background()

	runID := startRun(t, c, "e1", "e2", "e3")

	res, err := c.Execute(ctx, ExecuteRequest{
		TenantID:   "t1",
		RunID:      runID,
		LeaseOwner: "worker-a",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Succeeded != 2 || res.Failed != 1 {
		t.Fatalf("succeeded=%d failed=%d, want 2/1", res.Succeeded, res.Failed)
	}

	failed, err := s.ListItems(ctx, "t1", runID, run.ItemFailed)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(failed) != 1 || failed[0].MemberID != "e2" {
		t.Fatalf("failed items %+v, want only e2", failed)
	}
	if failed[0].LastError == "" {
		t.Fatal("failed item has no recorded cause")
	}
}

func TestExecuteLeaseConflict(t *testing.T) {
	t.Parallel()
	s := memory.New()
	c := New(s, succeedAll(), WithLogger(discardLogger()))
	ctx := context.Background()

	runID := startRun(t, c, "e1")

	// Another owner takes the lease first.
	ok, err := s.AcquireOrRenewLease(ctx, "t1", runID, "other-worker", time.Minute)
	if err != nil || !ok {
		t.Fatalf("pre-acquire: ok=%v err=%v", ok, err)
	}

	_, err = c.Execute(ctx, ExecuteRequest{
		TenantID:   "t1",
		RunID:      runID,
		LeaseOwner: "worker-a",
	})
	if !errors.Is(err, payrun.ErrLeaseConflict) {
		t.Fatalf("got %v, want ErrLeaseConflict", err)
	}

	// The refused caller mutated nothing.
	counts, err := s.CountItems(ctx, "t1", runID)
	if err != nil {
		t.Fatalf("count items: %v", err)
	}
	if counts.Queued != 1 {
		t.Fatalf("counts %+v, want the item still QUEUED", counts)
	}
}

func TestExecuteTerminalShortCircuit(t *testing.T) {
	t.Parallel()
	s := memory.New()
	c := New(s, succeedAll(), WithLogger(discardLogger()))
	ctx := context.Background()

	runID := startRun(t, c, "e1")
	req := ExecuteRequest{TenantID: "t1", RunID: runID, LeaseOwner: "worker-a"}

	if _, err := c.Execute(ctx, req); err != nil {
		t.Fatalf("first execute: %v", err)
	}

	// Re-invocation returns the terminal status without erroring, even
	// for a different owner.
	req.LeaseOwner = "worker-b"
	res, err := c.Execute(ctx, req)
	if err != nil {
		t.Fatalf("second execute: %v", err)
	}
	if res.Status != run.StatusFinalized || !res.Finalized || res.MoreWork {
		t.Fatalf("result %+v, want FINALIZED short-circuit", res)
	}
	if res.Processed != 0 {
		t.Fatalf("short-circuit processed %d items", res.Processed)
	}
}

func TestExecuteBatchBudgetLeavesMoreWork(t *testing.T) {
	t.Parallel()
	s := memory.New()
	c := New(s, succeedAll(), WithLogger(discardLogger()))
	ctx := context.Background()

	runID := startRun(t, c, "e1", "e2", "e3", "e4")

	// One batch of two: two items remain.
	res, err := c.Execute(ctx, ExecuteRequest{
		TenantID:   "t1",
		RunID:      runID,
		BatchSize:  2,
		MaxBatches: 1,
		LeaseOwner: "worker-a",
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Finalized || !res.MoreWork {
		t.Fatalf("result %+v, want MoreWork", res)
	}
	if res.Processed != 2 {
		t.Fatalf("processed %d, want 2", res.Processed)
	}

	// The next invocation drains the rest and finalizes.
	res, err = c.Execute(ctx, ExecuteRequest{
		TenantID:   "t1",
		RunID:      runID,
		BatchSize:  2,
		MaxBatches: 5,
		LeaseOwner: "worker-a",
	})
	if err != nil {
		t.Fatalf("second execute: %v", err)
	}
	if !res.Finalized || res.Status != run.StatusFinalized {
		t.Fatalf("result %+v, want FINALIZED", res)
	}
}

func TestExecuteRequeuesOrphanedItems(t *testing.T) {
	t.Parallel()
	s := memory.New()
	c := New(s, succeedAll(), WithLogger(discardLogger()))
	ctx := context.Background()

	runID := startRun(t, c, "e1", "e2")

	// Simulate a crashed holder: items claimed, lease expired.
	ok, err := s.AcquireOrRenewLease(ctx, "t1", runID, "crashed", time.Millisecond)
	if err != nil || !ok {
		t.Fatalf("pre-acquire: ok=%v err=%v", ok, err)
	}
	if _, err := s.ClaimQueuedItems(ctx, "t1", runID, 10); err != nil {
		t.Fatalf("pre-claim: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	res, err := c.Execute(ctx, ExecuteRequest{
		TenantID:          "t1",
		RunID:             runID,
		LeaseOwner:        "worker-a",
		RequeueStaleAfter: 2 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Finalized || res.Processed != 2 {
		t.Fatalf("result %+v, want both orphaned items recovered and processed", res)
	}
}

func TestExecuteLeavesFreshRunningItemsAlone(t *testing.T) {
	t.Parallel()
	s := memory.New()
	c := New(s, succeedAll(), WithLogger(discardLogger()))
	ctx := context.Background()

	runID := startRun(t, c, "e1", "e2", "e3")

	// A sibling invocation under the same lease owner has two items
	// mid-compute. Its claims are fresh, so they must not be stolen.
	ok, err := s.AcquireOrRenewLease(ctx, "t1", runID, "worker-a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("pre-acquire: ok=%v err=%v", ok, err)
	}
	claimed, err := s.ClaimQueuedItems(ctx, "t1", runID, 2)
	if err != nil || len(claimed) != 2 {
		t.Fatalf("pre-claim: n=%d err=%v", len(claimed), err)
	}

	res, err := c.Execute(ctx, ExecuteRequest{
		TenantID:   "t1",
		RunID:      runID,
		LeaseOwner: "worker-a",
		BatchSize:  10,
		MaxBatches: 1,
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Processed != 1 {
		t.Fatalf("processed %d, want only the remaining queued item", res.Processed)
	}
	if !res.MoreWork {
		t.Fatal("want MoreWork while sibling items are still in flight")
	}

	counts, err := s.CountItems(ctx, "t1", runID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts.Running != 2 {
		t.Fatalf("running %d, want the in-flight items untouched", counts.Running)
	}
}

func TestStatusReport(t *testing.T) {
	t.Parallel()
	s := memory.New()
	c := New(s, failMembers("e2", "e3"), WithLogger(discardLogger()))
	ctx := context.Background()

	runID := startRun(t, c, "e1", "e2", "e3")
	if _, err := c.Execute(ctx, ExecuteRequest{TenantID: "t1", RunID: runID, LeaseOwner: "w"}); err != nil {
		t.Fatalf("execute: %v", err)
	}

	report, err := c.Status(ctx, "t1", runID, 1)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if report.Status != run.StatusPartiallyFinalized {
		t.Fatalf("status %s, want PARTIALLY_FINALIZED", report.Status)
	}
	if report.Counts.Succeeded != 1 || report.Counts.Failed != 2 {
		t.Fatalf("counts %+v, want succeeded=1 failed=2", report.Counts)
	}
	// Failure list is bounded by maxFailures.
	if len(report.Failures) != 1 {
		t.Fatalf("failures %d, want 1 (bounded)", len(report.Failures))
	}

	// maxFailures <= 0 omits the list.
	report, err = c.Status(ctx, "t1", runID, 0)
	if err != nil {
		t.Fatalf("status without failures: %v", err)
	}
	if report.Failures != nil {
		t.Fatalf("failures %+v, want none", report.Failures)
	}

	if _, err := c.Status(ctx, "t1", id.NewRunID(), 0); !errors.Is(err, payrun.ErrRunNotFound) {
		t.Fatalf("missing run: got %v, want ErrRunNotFound", err)
	}
}

func TestStartFanOutEnqueuesJobs(t *testing.T) {
	t.Parallel()
	s := memory.New()
	c := New(s, succeedAll(),
		WithLogger(discardLogger()),
		WithJobStore(s),
		WithQueue("payrun.finalize.item"))
	ctx := context.Background()

	res, err := c.Start(ctx, StartRequest{
		TenantID:    "t1",
		PeriodID:    "2026-08",
		MemberIDs:   []string{"e1", "e2"},
		EnqueueJobs: true,
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	jobs, err := s.DequeueJobs(ctx, []string{"payrun.finalize.item"}, 10)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("fanned out %d jobs, want 2", len(jobs))
	}
	for _, j := range jobs {
		if j.RunID != res.RunID || j.TenantID != "t1" {
			t.Fatalf("job %+v not tied to the run", j)
		}
		if j.Name != JobName {
			t.Fatalf("job name %q, want %q", j.Name, JobName)
		}
	}
}
