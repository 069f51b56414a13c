package audithook_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	ah "github.com/payflux/payrun/audit_hook"
	"github.com/payflux/payrun/ext"
	"github.com/payflux/payrun/id"
	"github.com/payflux/payrun/job"
	"github.com/payflux/payrun/outbox"
	"github.com/payflux/payrun/run"
)

// ── Mock recorder ────────────────────────────────────

// mockRecorder captures audit events for verification.
type mockRecorder struct {
	mu     sync.Mutex
	events []*ah.AuditEvent
}

func (m *mockRecorder) Record(_ context.Context, evt *ah.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return nil
}

func (m *mockRecorder) last() *ah.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return nil
	}
	return m.events[len(m.events)-1]
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func (m *mockRecorder) findByAction(action string) *ah.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, evt := range m.events {
		if evt.Action == action {
			return evt
		}
	}
	return nil
}

// ── Test helpers ─────────────────────────────────────

func newTestJob() *job.Job {
	return &job.Job{
		ID:          id.NewJobID(),
		Name:        "finalize-item",
		Queue:       "payrun.finalize.item",
		TenantID:    "tnt_1",
		MemberID:    "emp_7",
		Attempt:     2,
		MaxAttempts: 8,
	}
}

func newTestRun() *run.Run {
	return &run.Run{
		ID:       id.NewRunID(),
		TenantID: "tnt_1",
		PeriodID: "2026-08",
		Type:     run.TypeRegular,
		Sequence: 1,
		Status:   run.StatusRunning,
	}
}

// ── Tests ────────────────────────────────────────────

func TestExtension_Name(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	if e.Name() != "audit-hook" {
		t.Errorf("expected name %q, got %q", "audit-hook", e.Name())
	}
}

// ── Job lifecycle tests ──────────────────────────────

func TestExtension_JobEnqueued(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	ctx := context.Background()
	j := newTestJob()

	if err := e.OnJobEnqueued(ctx, j); err != nil {
		t.Fatalf("OnJobEnqueued: %v", err)
	}

	evt := rec.last()
	if evt == nil {
		t.Fatal("no event recorded")
	}
	if evt.Action != ah.ActionJobEnqueued {
		t.Errorf("Action: want %q, got %q", ah.ActionJobEnqueued, evt.Action)
	}
	if evt.Resource != ah.ResourceJob {
		t.Errorf("Resource: want %q, got %q", ah.ResourceJob, evt.Resource)
	}
	if evt.Category != ah.CategoryJob {
		t.Errorf("Category: want %q, got %q", ah.CategoryJob, evt.Category)
	}
	if evt.ResourceID != j.ID.String() {
		t.Errorf("ResourceID: want %q, got %q", j.ID.String(), evt.ResourceID)
	}
	if evt.TenantID != "tnt_1" {
		t.Errorf("TenantID: want %q, got %q", "tnt_1", evt.TenantID)
	}
	if evt.Severity != ah.SeverityInfo {
		t.Errorf("Severity: want %q, got %q", ah.SeverityInfo, evt.Severity)
	}
	if evt.Outcome != ah.OutcomeSuccess {
		t.Errorf("Outcome: want %q, got %q", ah.OutcomeSuccess, evt.Outcome)
	}
	if evt.Metadata["job_name"] != "finalize-item" {
		t.Errorf("Metadata[job_name]: want %q, got %v", "finalize-item", evt.Metadata["job_name"])
	}
	if evt.Metadata["queue"] != "payrun.finalize.item" {
		t.Errorf("Metadata[queue]: want %q, got %v", "payrun.finalize.item", evt.Metadata["queue"])
	}
}

func TestExtension_JobStarted(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	j := newTestJob()
	j.WorkerID = id.NewWorkerID()

	if err := e.OnJobStarted(context.Background(), j); err != nil {
		t.Fatalf("OnJobStarted: %v", err)
	}

	evt := rec.last()
	if evt.Action != ah.ActionJobStarted {
		t.Errorf("Action: want %q, got %q", ah.ActionJobStarted, evt.Action)
	}
	if evt.Metadata["worker_id"] != j.WorkerID.String() {
		t.Errorf("Metadata[worker_id]: want %q, got %v", j.WorkerID.String(), evt.Metadata["worker_id"])
	}
}

func TestExtension_JobSucceeded(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	j := newTestJob()
	elapsed := 150 * time.Millisecond

	if err := e.OnJobSucceeded(context.Background(), j, elapsed); err != nil {
		t.Fatalf("OnJobSucceeded: %v", err)
	}

	evt := rec.last()
	if evt.Action != ah.ActionJobSucceeded {
		t.Errorf("Action: want %q, got %q", ah.ActionJobSucceeded, evt.Action)
	}
	if evt.Severity != ah.SeverityInfo {
		t.Errorf("Severity: want %q, got %q", ah.SeverityInfo, evt.Severity)
	}
	if evt.Metadata["elapsed_ms"] != elapsed.Milliseconds() {
		t.Errorf("Metadata[elapsed_ms]: want %d, got %v", elapsed.Milliseconds(), evt.Metadata["elapsed_ms"])
	}
}

func TestExtension_JobFailed(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	j := newTestJob()
	jobErr := errors.New("connection timeout")

	if err := e.OnJobFailed(context.Background(), j, jobErr); err != nil {
		t.Fatalf("OnJobFailed: %v", err)
	}

	evt := rec.last()
	if evt.Action != ah.ActionJobFailed {
		t.Errorf("Action: want %q, got %q", ah.ActionJobFailed, evt.Action)
	}
	if evt.Severity != ah.SeverityCritical {
		t.Errorf("Severity: want %q, got %q", ah.SeverityCritical, evt.Severity)
	}
	if evt.Outcome != ah.OutcomeFailure {
		t.Errorf("Outcome: want %q, got %q", ah.OutcomeFailure, evt.Outcome)
	}
	if evt.Reason != "connection timeout" {
		t.Errorf("Reason: want %q, got %q", "connection timeout", evt.Reason)
	}
	if evt.Metadata["error"] != "connection timeout" {
		t.Errorf("Metadata[error]: want %q, got %v", "connection timeout", evt.Metadata["error"])
	}
	if evt.Metadata["attempt"] != 2 {
		t.Errorf("Metadata[attempt]: want %d, got %v", 2, evt.Metadata["attempt"])
	}
}

func TestExtension_JobRetrying(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	j := newTestJob()
	nextRun := time.Now().Add(30 * time.Second)

	if err := e.OnJobRetrying(context.Background(), j, 2, nextRun); err != nil {
		t.Fatalf("OnJobRetrying: %v", err)
	}

	evt := rec.last()
	if evt.Action != ah.ActionJobRetrying {
		t.Errorf("Action: want %q, got %q", ah.ActionJobRetrying, evt.Action)
	}
	if evt.Severity != ah.SeverityWarning {
		t.Errorf("Severity: want %q, got %q", ah.SeverityWarning, evt.Severity)
	}
	if evt.Outcome != ah.OutcomeFailure {
		t.Errorf("Outcome: want %q, got %q", ah.OutcomeFailure, evt.Outcome)
	}
	if evt.Metadata["attempt"] != 2 {
		t.Errorf("Metadata[attempt]: want %d, got %v", 2, evt.Metadata["attempt"])
	}
}

func TestExtension_JobDLQ(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	j := newTestJob()
	jobErr := errors.New("retry ladder exhausted")

	if err := e.OnJobDLQ(context.Background(), j, jobErr); err != nil {
		t.Fatalf("OnJobDLQ: %v", err)
	}

	evt := rec.last()
	if evt.Action != ah.ActionJobDLQ {
		t.Errorf("Action: want %q, got %q", ah.ActionJobDLQ, evt.Action)
	}
	if evt.Severity != ah.SeverityCritical {
		t.Errorf("Severity: want %q, got %q", ah.SeverityCritical, evt.Severity)
	}
	if evt.Metadata["error"] != "retry ladder exhausted" {
		t.Errorf("Metadata[error]: want %q, got %v", "retry ladder exhausted", evt.Metadata["error"])
	}
}

// ── Run lifecycle tests ──────────────────────────────

func TestExtension_RunStarted(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	r := newTestRun()

	if err := e.OnRunStarted(context.Background(), r); err != nil {
		t.Fatalf("OnRunStarted: %v", err)
	}

	evt := rec.last()
	if evt.Action != ah.ActionRunStarted {
		t.Errorf("Action: want %q, got %q", ah.ActionRunStarted, evt.Action)
	}
	if evt.Resource != ah.ResourceRun {
		t.Errorf("Resource: want %q, got %q", ah.ResourceRun, evt.Resource)
	}
	if evt.Category != ah.CategoryRun {
		t.Errorf("Category: want %q, got %q", ah.CategoryRun, evt.Category)
	}
	if evt.Metadata["period_id"] != "2026-08" {
		t.Errorf("Metadata[period_id]: want %q, got %v", "2026-08", evt.Metadata["period_id"])
	}
}

func TestExtension_RunFinalized(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	r := newTestRun()
	r.Status = run.StatusFinalized
	counts := run.Counts{Total: 10, Succeeded: 10}

	if err := e.OnRunFinalized(context.Background(), r, counts); err != nil {
		t.Fatalf("OnRunFinalized: %v", err)
	}

	evt := rec.last()
	if evt.Action != ah.ActionRunFinalized {
		t.Errorf("Action: want %q, got %q", ah.ActionRunFinalized, evt.Action)
	}
	if evt.Severity != ah.SeverityInfo {
		t.Errorf("Severity: want %q, got %q", ah.SeverityInfo, evt.Severity)
	}
	if evt.Metadata["succeeded"] != 10 {
		t.Errorf("Metadata[succeeded]: want %d, got %v", 10, evt.Metadata["succeeded"])
	}
}

func TestExtension_RunFinalizedPartial(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	r := newTestRun()
	r.Status = run.StatusPartiallyFinalized
	counts := run.Counts{Total: 10, Succeeded: 8, Failed: 2}

	if err := e.OnRunFinalized(context.Background(), r, counts); err != nil {
		t.Fatalf("OnRunFinalized: %v", err)
	}

	evt := rec.last()
	if evt.Severity != ah.SeverityWarning {
		t.Errorf("Severity: want %q, got %q", ah.SeverityWarning, evt.Severity)
	}
	if evt.Outcome != ah.OutcomeSuccess {
		t.Errorf("Outcome: want %q, got %q", ah.OutcomeSuccess, evt.Outcome)
	}
}

func TestExtension_RunFinalizedFailed(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	r := newTestRun()
	r.Status = run.StatusFailed
	counts := run.Counts{Total: 10, Failed: 10}

	if err := e.OnRunFinalized(context.Background(), r, counts); err != nil {
		t.Fatalf("OnRunFinalized: %v", err)
	}

	evt := rec.last()
	if evt.Severity != ah.SeverityCritical {
		t.Errorf("Severity: want %q, got %q", ah.SeverityCritical, evt.Severity)
	}
	if evt.Outcome != ah.OutcomeFailure {
		t.Errorf("Outcome: want %q, got %q", ah.OutcomeFailure, evt.Outcome)
	}
}

func TestExtension_ItemSucceeded(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	item := &run.Item{
		TenantID: "tnt_1",
		RunID:    id.NewRunID(),
		MemberID: "emp_7",
		Status:   run.ItemSucceeded,
		ResultID: id.NewPaycheckID(),
	}

	if err := e.OnItemSucceeded(context.Background(), item); err != nil {
		t.Fatalf("OnItemSucceeded: %v", err)
	}

	evt := rec.last()
	if evt.Action != ah.ActionItemSucceeded {
		t.Errorf("Action: want %q, got %q", ah.ActionItemSucceeded, evt.Action)
	}
	if evt.ResourceID != "emp_7" {
		t.Errorf("ResourceID: want %q, got %q", "emp_7", evt.ResourceID)
	}
	if evt.Metadata["result_id"] != item.ResultID.String() {
		t.Errorf("Metadata[result_id]: want %q, got %v", item.ResultID.String(), evt.Metadata["result_id"])
	}
}

func TestExtension_ItemFailed(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	item := &run.Item{
		TenantID:     "tnt_1",
		RunID:        id.NewRunID(),
		MemberID:     "emp_9",
		Status:       run.ItemFailed,
		AttemptCount: 3,
	}
	itemErr := errors.New("tax calc failed")

	if err := e.OnItemFailed(context.Background(), item, itemErr); err != nil {
		t.Fatalf("OnItemFailed: %v", err)
	}

	evt := rec.last()
	if evt.Action != ah.ActionItemFailed {
		t.Errorf("Action: want %q, got %q", ah.ActionItemFailed, evt.Action)
	}
	if evt.Severity != ah.SeverityWarning {
		t.Errorf("Severity: want %q, got %q", ah.SeverityWarning, evt.Severity)
	}
	if evt.Reason != "tax calc failed" {
		t.Errorf("Reason: want %q, got %q", "tax calc failed", evt.Reason)
	}
	if evt.Metadata["attempt_count"] != 3 {
		t.Errorf("Metadata[attempt_count]: want %d, got %v", 3, evt.Metadata["attempt_count"])
	}
}

// ── Outbox lifecycle tests ───────────────────────────

func TestExtension_EventPublished(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)

	ev := outbox.NewEvent(outbox.KindLogTopic, "payroll.run.finalized", "",
		"tnt_1", "run.finalized", "payrun_123", "tnt_1", nil)

	if err := e.OnEventPublished(context.Background(), ev); err != nil {
		t.Fatalf("OnEventPublished: %v", err)
	}

	evt := rec.last()
	if evt.Action != ah.ActionEventPublished {
		t.Errorf("Action: want %q, got %q", ah.ActionEventPublished, evt.Action)
	}
	if evt.Resource != ah.ResourceEvent {
		t.Errorf("Resource: want %q, got %q", ah.ResourceEvent, evt.Resource)
	}
	if evt.Category != ah.CategoryOutbox {
		t.Errorf("Category: want %q, got %q", ah.CategoryOutbox, evt.Category)
	}
	if evt.ResourceID != ev.EventID {
		t.Errorf("ResourceID: want %q, got %q", ev.EventID, evt.ResourceID)
	}
}

// ── WithActions filter tests ─────────────────────────

func TestExtension_WithActions_FiltersDisabled(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec, ah.WithActions(ah.ActionJobSucceeded, ah.ActionJobFailed))

	ctx := context.Background()
	j := newTestJob()

	// Enqueued is NOT enabled — should be silently skipped.
	if err := e.OnJobEnqueued(ctx, j); err != nil {
		t.Fatalf("OnJobEnqueued: %v", err)
	}
	if rec.count() != 0 {
		t.Errorf("expected 0 events (enqueued disabled), got %d", rec.count())
	}

	// Succeeded IS enabled — should be recorded.
	if err := e.OnJobSucceeded(ctx, j, 50*time.Millisecond); err != nil {
		t.Fatalf("OnJobSucceeded: %v", err)
	}
	if rec.count() != 1 {
		t.Errorf("expected 1 event (succeeded enabled), got %d", rec.count())
	}

	// Failed IS enabled — should be recorded.
	if err := e.OnJobFailed(ctx, j, errors.New("boom")); err != nil {
		t.Fatalf("OnJobFailed: %v", err)
	}
	if rec.count() != 2 {
		t.Errorf("expected 2 events, got %d", rec.count())
	}
}

// ── RecorderFunc adapter test ────────────────────────

func TestRecorderFunc(t *testing.T) {
	var captured *ah.AuditEvent
	fn := ah.RecorderFunc(func(_ context.Context, evt *ah.AuditEvent) error {
		captured = evt
		return nil
	})

	e := ah.New(fn)
	j := newTestJob()

	if err := e.OnJobEnqueued(context.Background(), j); err != nil {
		t.Fatalf("OnJobEnqueued: %v", err)
	}
	if captured == nil {
		t.Fatal("RecorderFunc was not called")
	}
	if captured.Action != ah.ActionJobEnqueued {
		t.Errorf("Action: want %q, got %q", ah.ActionJobEnqueued, captured.Action)
	}
}

// ── Recorder error handling test ─────────────────────

func TestExtension_RecorderError_DoesNotPropagate(t *testing.T) {
	failingRecorder := ah.RecorderFunc(func(_ context.Context, _ *ah.AuditEvent) error {
		return errors.New("audit backend down")
	})

	e := ah.New(failingRecorder)
	j := newTestJob()

	// Hook should NOT return an error — audit failures must not block
	// the job pipeline.
	if err := e.OnJobEnqueued(context.Background(), j); err != nil {
		t.Fatalf("expected no error (audit failure swallowed), got: %v", err)
	}
}

// ── Registry integration test ────────────────────────

func TestExtension_ViaRegistry(t *testing.T) {
	rec := &mockRecorder{}
	e := ah.New(rec)
	logger := slog.Default()

	reg := ext.NewRegistry(logger)
	reg.Register(e)

	ctx := context.Background()
	j := newTestJob()
	r := newTestRun()
	item := &run.Item{TenantID: "tnt_1", RunID: r.ID, MemberID: "emp_7"}
	ev := outbox.NewEvent(outbox.KindLogTopic, "payroll.run.finalized", "",
		"tnt_1", "run.finalized", r.ID.String(), "tnt_1", nil)

	reg.EmitJobEnqueued(ctx, j)
	reg.EmitJobStarted(ctx, j)
	reg.EmitJobSucceeded(ctx, j, 50*time.Millisecond)
	reg.EmitJobFailed(ctx, j, errors.New("fail"))
	reg.EmitJobRetrying(ctx, j, 1, time.Now())
	reg.EmitJobDLQ(ctx, j, errors.New("dead"))
	reg.EmitRunStarted(ctx, r)
	reg.EmitRunFinalized(ctx, r, run.Counts{Total: 1, Succeeded: 1})
	reg.EmitItemSucceeded(ctx, item)
	reg.EmitItemFailed(ctx, item, errors.New("bad"))
	reg.EmitEventPublished(ctx, ev)

	// Verify every event type was recorded.
	allActions := ah.AllActions()
	if rec.count() != len(allActions) {
		t.Fatalf("expected %d events, got %d", len(allActions), rec.count())
	}

	for _, action := range allActions {
		evt := rec.findByAction(action)
		if evt == nil {
			t.Errorf("missing event for action %q", action)
		}
	}
}

// ── AllActions test ──────────────────────────────────

func TestAllActions(t *testing.T) {
	actions := ah.AllActions()
	if len(actions) != 11 {
		t.Errorf("expected 11 actions, got %d", len(actions))
	}
}
