package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/payflux/payrun"
	"github.com/payflux/payrun/client"
	"github.com/payflux/payrun/coordinator"
	"github.com/payflux/payrun/id"
	"github.com/payflux/payrun/run"
	"github.com/payflux/payrun/runner"
)

// The client is a drop-in executor for the runner.
var _ runner.Executor = (*client.Client)(nil)

// ── Test Helpers ──────────────────────────────────────

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeJSON(t *testing.T, w http.ResponseWriter, code int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("encode response: %v", err)
	}
}

// ── Start ─────────────────────────────────────────────

func TestStart(t *testing.T) {
	runID := id.NewRunID()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/payruns" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
			return
		}

		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		if body["tenant_id"] != "t1" {
			t.Errorf("tenant_id = %v, want t1", body["tenant_id"])
		}
		if body["period_id"] != "2026-08" {
			t.Errorf("period_id = %v, want 2026-08", body["period_id"])
		}
		if body["idempotency_key"] != "key-1" {
			t.Errorf("idempotency_key = %v, want key-1", body["idempotency_key"])
		}

		writeJSON(t, w, http.StatusCreated, coordinator.StartResult{
			RunID:      runID,
			Status:     run.StatusQueued,
			TotalItems: 2,
			Created:    true,
		})
	}))
	defer srv.Close()

	c := client.New(srv.URL, client.WithLogger(testLogger()))
	res, err := c.Start(context.Background(), coordinator.StartRequest{
		TenantID:       "t1",
		PeriodID:       "2026-08",
		MemberIDs:      []string{"emp-1", "emp-2"},
		IdempotencyKey: "key-1",
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if res.RunID != runID {
		t.Errorf("RunID = %v, want %v", res.RunID, runID)
	}
	if !res.Created {
		t.Error("expected Created = true")
	}
	if res.TotalItems != 2 {
		t.Errorf("TotalItems = %d, want 2", res.TotalItems)
	}
}

func TestStartIdempotencyConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusConflict, map[string]string{
			"error": payrun.ErrIdempotencyKeyMismatch.Error(),
		})
	}))
	defer srv.Close()

	c := client.New(srv.URL, client.WithLogger(testLogger()))
	_, err := c.Start(context.Background(), coordinator.StartRequest{
		TenantID:       "t1",
		PeriodID:       "2026-09",
		MemberIDs:      []string{"emp-1"},
		IdempotencyKey: "key-1",
	})
	if !errors.Is(err, payrun.ErrIdempotencyKeyMismatch) {
		t.Fatalf("expected ErrIdempotencyKeyMismatch, got: %v", err)
	}
}

// ── Execute ───────────────────────────────────────────

func TestExecuteSendsInternalToken(t *testing.T) {
	runID := id.NewRunID()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wantPath := "/internal/v1/payruns/" + runID.String() + "/execute"
		if r.URL.Path != wantPath {
			t.Errorf("path = %q, want %q", r.URL.Path, wantPath)
		}
		if got := r.Header.Get("X-Internal-Auth"); got != "pk_secret" {
			t.Errorf("X-Internal-Auth = %q, want %q", got, "pk_secret")
		}

		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		if body["owner"] != "runner-az1" {
			t.Errorf("owner = %v, want runner-az1", body["owner"])
		}

		writeJSON(t, w, http.StatusOK, coordinator.ExecuteResult{
			Status:    run.StatusFinalized,
			Finalized: true,
			Processed: 2,
			Succeeded: 2,
		})
	}))
	defer srv.Close()

	c := client.New(srv.URL,
		client.WithInternalToken("pk_secret"),
		client.WithLogger(testLogger()),
	)
	res, err := c.Execute(context.Background(), coordinator.ExecuteRequest{
		TenantID:   "t1",
		RunID:      runID,
		LeaseOwner: "runner-az1",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Finalized {
		t.Error("expected Finalized = true")
	}
	if res.Succeeded != 2 {
		t.Errorf("Succeeded = %d, want 2", res.Succeeded)
	}
}

func TestExecuteLeaseConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusConflict, map[string]string{
			"error": payrun.ErrLeaseConflict.Error(),
		})
	}))
	defer srv.Close()

	c := client.New(srv.URL, client.WithLogger(testLogger()))
	_, err := c.Execute(context.Background(), coordinator.ExecuteRequest{
		TenantID:   "t1",
		RunID:      id.NewRunID(),
		LeaseOwner: "runner-az1",
	})
	if !errors.Is(err, payrun.ErrLeaseConflict) {
		t.Fatalf("expected ErrLeaseConflict, got: %v", err)
	}
}

// ── Status ────────────────────────────────────────────

func TestStatusQueryParameters(t *testing.T) {
	runID := id.NewRunID()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, runID.String()) {
			t.Errorf("path = %q, want suffix %q", r.URL.Path, runID.String())
		}
		if got := r.URL.Query().Get("tenant_id"); got != "t1" {
			t.Errorf("tenant_id = %q, want t1", got)
		}
		if got := r.URL.Query().Get("max_failures"); got != "5" {
			t.Errorf("max_failures = %q, want 5", got)
		}

		writeJSON(t, w, http.StatusOK, coordinator.StatusReport{
			RunID:    runID.String(),
			TenantID: "t1",
			Status:   run.StatusRunning,
			Counts:   run.Counts{Total: 3, Succeeded: 1, Queued: 2},
		})
	}))
	defer srv.Close()

	c := client.New(srv.URL, client.WithLogger(testLogger()))
	report, err := c.Status(context.Background(), "t1", runID, 5)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if report.Status != run.StatusRunning {
		t.Errorf("Status = %q, want %q", report.Status, run.StatusRunning)
	}
	if report.Counts.Total != 3 {
		t.Errorf("Counts.Total = %d, want 3", report.Counts.Total)
	}
}

func TestNotFoundMapsToSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusNotFound, map[string]string{
			"error": payrun.ErrRunNotFound.Error(),
		})
	}))
	defer srv.Close()

	c := client.New(srv.URL, client.WithLogger(testLogger()))
	_, err := c.Status(context.Background(), "t1", id.NewRunID(), 0)
	if !errors.Is(err, payrun.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got: %v", err)
	}
}

// ── Runner Integration ────────────────────────────────

// TestRunnerDrivesRemoteRun wires the HTTP client into a runner and
// drives a stubbed remote coordinator to completion: one lease
// conflict, then a finalizing execute, then the status report.
func TestRunnerDrivesRemoteRun(t *testing.T) {
	runID := id.NewRunID()
	var executeCalls int

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/payruns", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusCreated, coordinator.StartResult{
			RunID:      runID,
			Status:     run.StatusQueued,
			TotalItems: 2,
			Created:    true,
		})
	})
	mux.HandleFunc("POST /internal/v1/payruns/{runID}/execute", func(w http.ResponseWriter, _ *http.Request) {
		executeCalls++
		if executeCalls == 1 {
			writeJSON(t, w, http.StatusConflict, map[string]string{
				"error": payrun.ErrLeaseConflict.Error(),
			})
			return
		}
		writeJSON(t, w, http.StatusOK, coordinator.ExecuteResult{
			Status:    run.StatusFinalized,
			Finalized: true,
			Processed: 2,
			Succeeded: 2,
		})
	})
	mux.HandleFunc("GET /v1/payruns/{runID}", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, http.StatusOK, coordinator.StatusReport{
			RunID:    runID.String(),
			TenantID: "t1",
			Status:   run.StatusFinalized,
			Counts:   run.Counts{Total: 2, Succeeded: 2},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := client.New(srv.URL,
		client.WithInternalToken("pk_secret"),
		client.WithLogger(testLogger()),
	)
	r := runner.New(c,
		runner.WithOwner("runner-az1"),
		runner.WithPollInterval(10*time.Millisecond),
		runner.WithLogger(testLogger()),
	)

	report, err := r.Run(context.Background(), runner.RunRequest{
		StartRequest: coordinator.StartRequest{
			TenantID:       "t1",
			PeriodID:       "2026-08",
			MemberIDs:      []string{"emp-1", "emp-2"},
			IdempotencyKey: "key-1",
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if report.Status != run.StatusFinalized {
		t.Errorf("final status = %q, want %q", report.Status, run.StatusFinalized)
	}
	if executeCalls != 2 {
		t.Errorf("execute calls = %d, want 2 (one conflict, one success)", executeCalls)
	}
}
