package api

import (
	"fmt"
	"net/http"

	"github.com/xraph/forge"

	"github.com/payflux/payrun/id"
	"github.com/payflux/payrun/job"
)

func (a *API) listJobs(ctx forge.Context, req *ListJobsRequest) ([]*job.Job, error) {
	state, err := jobStateFromString(req.State)
	if err != nil {
		return nil, forge.BadRequest(err.Error())
	}

	var runID id.RunID
	if req.RunID != "" {
		parsed, parseErr := id.ParseRunID(req.RunID)
		if parseErr != nil {
			return nil, forge.BadRequest(fmt.Sprintf("invalid run ID: %v", parseErr))
		}
		runID = parsed
	}

	js, ok := a.eng.Node().Store().(job.Store)
	if !ok {
		return nil, fmt.Errorf("store does not implement job.Store")
	}

	jobs, err := js.ListJobsByState(ctx.Context(), state, job.ListOpts{
		Limit:    defaultLimit(req.Limit),
		Offset:   req.Offset,
		Queue:    req.Queue,
		TenantID: req.Tenant,
		RunID:    runID,
	})
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	return jobs, ctx.JSON(http.StatusOK, jobs)
}

func (a *API) getJob(ctx forge.Context, _ *GetJobRequest) (*job.Job, error) {
	jobID, err := id.ParseJobID(ctx.Param("jobId"))
	if err != nil {
		return nil, forge.BadRequest(fmt.Sprintf("invalid job ID: %v", err))
	}

	js, ok := a.eng.Node().Store().(job.Store)
	if !ok {
		return nil, fmt.Errorf("store does not implement job.Store")
	}

	j, err := js.GetJob(ctx.Context(), jobID)
	if err != nil {
		return nil, mapStoreError(err)
	}

	return j, ctx.JSON(http.StatusOK, j)
}

func (a *API) jobCounts(ctx forge.Context) error {
	js, ok := a.eng.Node().Store().(job.Store)
	if !ok {
		return fmt.Errorf("store does not implement job.Store")
	}

	c := ctx.Context()

	resp := JobCountsResponse{}
	for _, state := range []job.State{
		job.StatePending,
		job.StateRunning,
		job.StateSucceeded,
		job.StateRetrying,
		job.StateDead,
	} {
		count, err := js.CountJobs(c, job.CountOpts{State: state})
		if err != nil {
			return fmt.Errorf("count jobs (%s): %w", state, err)
		}
		switch state {
		case job.StatePending:
			resp.Pending = count
		case job.StateRunning:
			resp.Running = count
		case job.StateSucceeded:
			resp.Succeeded = count
		case job.StateRetrying:
			resp.Retrying = count
		case job.StateDead:
			resp.Dead = count
		}
	}

	return ctx.JSON(http.StatusOK, resp)
}

func jobStateFromString(s string) (job.State, error) {
	switch state := job.State(s); state {
	case job.StatePending, job.StateRunning, job.StateSucceeded,
		job.StateRetrying, job.StateDead:
		return state, nil
	case "":
		return "", nil
	default:
		return "", fmt.Errorf("invalid job state: %q", s)
	}
}
