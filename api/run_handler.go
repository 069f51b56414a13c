package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/xraph/forge"

	"github.com/payflux/payrun/coordinator"
	"github.com/payflux/payrun/id"
	"github.com/payflux/payrun/run"
	"github.com/payflux/payrun/scope"
)

// tenantFrom resolves the tenant: an explicit request field wins,
// otherwise the request scope is used.
func tenantFrom(ctx forge.Context, explicit string) string {
	if explicit != "" {
		return explicit
	}
	return scope.Capture(ctx.Context())
}

func (a *API) startRun(ctx forge.Context, req *StartRunRequest) (*coordinator.StartResult, error) {
	tenantID := tenantFrom(ctx, req.TenantID)
	if tenantID == "" {
		return nil, forge.BadRequest("tenant_id is required")
	}

	var requestedID id.RunID
	if req.RunID != "" {
		parsed, err := id.ParseRunID(req.RunID)
		if err != nil {
			return nil, forge.BadRequest(fmt.Sprintf("invalid run ID: %v", err))
		}
		requestedID = parsed
	}

	res, err := a.eng.Coordinator().Start(ctx.Context(), coordinator.StartRequest{
		TenantID:       tenantID,
		PeriodID:       req.PeriodID,
		Type:           run.Type(req.Type),
		Sequence:       req.Sequence,
		MemberIDs:      req.MemberIDs,
		RequestedID:    requestedID,
		IdempotencyKey: req.IdempotencyKey,
		EnqueueJobs:    req.EnqueueJobs,
	})
	if err != nil {
		if isConflict(err) {
			return nil, ctx.Status(http.StatusConflict).JSON(ErrorResponse{Error: err.Error()})
		}
		if isNotFound(err) {
			return nil, forge.NotFound(err.Error())
		}
		return nil, forge.BadRequest(err.Error())
	}

	code := http.StatusOK
	if res.Created {
		code = http.StatusCreated
	}
	return res, ctx.JSON(code, res)
}

func (a *API) executeRun(ctx forge.Context, req *ExecuteRunRequest) (*coordinator.ExecuteResult, error) {
	if a.internalToken == "" || ctx.Header("X-Internal-Auth") != a.internalToken {
		return nil, ctx.Status(http.StatusUnauthorized).JSON(ErrorResponse{Error: "invalid internal auth token"})
	}

	runID, err := id.ParseRunID(ctx.Param("runId"))
	if err != nil {
		return nil, forge.BadRequest(fmt.Sprintf("invalid run ID: %v", err))
	}

	tenantID := tenantFrom(ctx, req.TenantID)
	if tenantID == "" {
		return nil, forge.BadRequest("tenant_id is required")
	}

	owner := req.Owner
	if owner == "" {
		owner = "api-" + id.NewWorkerID().String()
	}

	res, err := a.eng.Coordinator().Execute(ctx.Context(), coordinator.ExecuteRequest{
		TenantID:          tenantID,
		RunID:             runID,
		BatchSize:         req.BatchSize,
		MaxBatches:        req.MaxBatches,
		LeaseOwner:        owner,
		RequeueStaleAfter: time.Duration(req.RequeueStaleAfterMS) * time.Millisecond,
	})
	if err != nil {
		if isConflict(err) {
			return nil, ctx.Status(http.StatusConflict).JSON(ErrorResponse{Error: err.Error()})
		}
		return nil, mapStoreError(err)
	}

	return res, ctx.JSON(http.StatusOK, res)
}

func (a *API) getRun(ctx forge.Context, req *GetRunRequest) (*coordinator.StatusReport, error) {
	runID, err := id.ParseRunID(ctx.Param("runId"))
	if err != nil {
		return nil, forge.BadRequest(fmt.Sprintf("invalid run ID: %v", err))
	}

	tenantID := tenantFrom(ctx, req.TenantID)
	if tenantID == "" {
		return nil, forge.BadRequest("tenant_id is required")
	}

	maxFailures := req.MaxFailures
	if maxFailures <= 0 {
		maxFailures = 25
	}

	report, err := a.eng.Coordinator().Status(ctx.Context(), tenantID, runID, maxFailures)
	if err != nil {
		return nil, mapStoreError(err)
	}

	return report, ctx.JSON(http.StatusOK, report)
}

func (a *API) listRuns(ctx forge.Context, req *ListRunsRequest) ([]*run.Run, error) {
	tenantID := tenantFrom(ctx, req.TenantID)
	if tenantID == "" {
		return nil, forge.BadRequest("tenant_id is required")
	}

	status := run.Status(req.Status)
	switch status {
	case run.StatusQueued, run.StatusRunning, run.StatusFinalized,
		run.StatusPartiallyFinalized, run.StatusFailed:
	default:
		return nil, forge.BadRequest(fmt.Sprintf("invalid status: %q", req.Status))
	}

	rs, ok := a.eng.Node().Store().(run.Store)
	if !ok {
		return nil, fmt.Errorf("store does not implement run.Store")
	}

	runs, err := rs.ListRunsByStatus(ctx.Context(), tenantID, status, defaultLimit(req.Limit))
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	return runs, ctx.JSON(http.StatusOK, runs)
}
