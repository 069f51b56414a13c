package coordinator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/payflux/payrun"
	"github.com/payflux/payrun/id"
	"github.com/payflux/payrun/outbox"
	"github.com/payflux/payrun/run"
)

// ExecuteRequest drives one lease-scoped slice of a run's work.
// Zero-valued knobs fall back to the coordinator's defaults.
type ExecuteRequest struct {
	TenantID   string        `json:"tenant_id"`
	RunID      id.RunID      `json:"run_id"`
	BatchSize  int           `json:"batch_size,omitempty"`
	MaxBatches int           `json:"max_batches,omitempty"`
	LeaseOwner string        `json:"lease_owner"`
	LeaseTTL   time.Duration `json:"lease_ttl,omitempty"`

	// RequeueStaleAfter overrides the coordinator's staleness cutoff
	// for recovering orphaned RUNNING items.
	RequeueStaleAfter time.Duration `json:"requeue_stale_after,omitempty"`
}

// ExecuteResult reports the outcome of one Execute call.
type ExecuteResult struct {
	Status    run.Status `json:"status"`
	Finalized bool       `json:"finalized"`
	MoreWork  bool       `json:"more_work"`
	Processed int        `json:"processed"`
	Succeeded int        `json:"succeeded"`
	Failed    int        `json:"failed"`
}

// Execute claims the run's lease and works through queued items in
// batches until the batch budget is spent, the items run out, or the
// lease is lost. When no items remain in flight it finalizes the run,
// recording the run-finalized events in the same transaction. Safe to
// call repeatedly: a terminal run short-circuits, a held lease returns
// payrun.ErrLeaseConflict without touching anything.
func (c *Coordinator) Execute(ctx context.Context, req ExecuteRequest) (*ExecuteResult, error) {
	if req.RunID.IsNil() || req.LeaseOwner == "" {
		return nil, payrun.ErrInvalidState
	}
	runID := req.RunID
	batchSize := req.BatchSize
	if batchSize <= 0 {
		batchSize = c.batchSize
	}
	maxBatches := req.MaxBatches
	if maxBatches <= 0 {
		maxBatches = c.maxBatches
	}
	ttl := req.LeaseTTL
	if ttl <= 0 {
		ttl = c.leaseTTL
	}
	staleAfter := req.RequeueStaleAfter
	if staleAfter <= 0 {
		staleAfter = c.requeueStaleAfter
	}

	rn, err := c.store.GetRun(ctx, req.TenantID, runID)
	if err != nil {
		return nil, err
	}
	if rn.Status.Terminal() {
		return &ExecuteResult{Status: rn.Status, Finalized: true}, nil
	}

	acquired, err := c.store.AcquireOrRenewLease(ctx, req.TenantID, runID, req.LeaseOwner, ttl)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, payrun.ErrLeaseConflict
	}

	requeued, err := c.store.RequeueStaleRunningItems(ctx, req.TenantID, runID, staleAfter)
	if err != nil {
		return nil, err
	}
	if requeued > 0 {
		c.logger.Warn("requeued orphaned items",
			"run_id", runID,
			"tenant_id", req.TenantID,
			"count", requeued)
	}

	res := &ExecuteResult{Status: run.StatusRunning}
	leaseHeld := true
	for batch := 0; batch < maxBatches; batch++ {
		if batch > 0 {
			held, err := c.store.RenewLeaseIfOwned(ctx, req.TenantID, runID, req.LeaseOwner, ttl)
			if err != nil {
				return nil, err
			}
			if !held {
				c.logger.Warn("lease lost mid-execute",
					"run_id", runID,
					"owner", req.LeaseOwner)
				leaseHeld = false
				break
			}
		}

		items, err := c.store.ClaimQueuedItems(ctx, req.TenantID, runID, batchSize)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			break
		}

		for _, item := range items {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if c.computeOne(ctx, rn, item) {
				res.Succeeded++
			} else {
				res.Failed++
			}
			res.Processed++
		}
	}

	if !leaseHeld {
		res.MoreWork = true
		return res, nil
	}

	counts, err := c.store.CountItems(ctx, req.TenantID, runID)
	if err != nil {
		return nil, err
	}
	if counts.Remaining() > 0 {
		res.MoreWork = true
		return res, nil
	}

	final := counts.FinalStatus()
	events := c.finalizeEvents(rn, final, counts)
	if err := c.store.FinalizeRun(ctx, req.TenantID, runID, final, events); err != nil {
		return nil, err
	}

	rn.Status = final
	c.extensions.EmitRunFinalized(ctx, rn, counts)
	c.logger.Info("run finalized",
		"run_id", runID,
		"tenant_id", req.TenantID,
		"status", final,
		"succeeded", counts.Succeeded,
		"failed", counts.Failed)

	res.Status = final
	res.Finalized = true
	return res, nil
}

// computeOne runs the engine for one item and records the outcome.
// Returns true on success. A failed item never fails the batch.
func (c *Coordinator) computeOne(ctx context.Context, rn *run.Run, item *run.Item) bool {
	if c.engine == nil {
		c.markFailed(ctx, item, payrun.ErrNoComputeEngine)
		return false
	}

	result, err := c.engine.ComputeItem(ctx, ItemInput{
		TenantID: item.TenantID,
		RunID:    item.RunID,
		MemberID: item.MemberID,
		PeriodID: rn.PeriodID,
		RunType:  rn.Type,
	})
	if err != nil {
		c.markFailed(ctx, item, err)
		return false
	}

	if err := c.store.MarkItemSucceeded(ctx, item.TenantID, item.RunID, item.MemberID, result.ResultID); err != nil {
		c.logger.Error("mark item succeeded failed",
			"run_id", item.RunID,
			"member_id", item.MemberID,
			"error", err)
		return false
	}
	item.Status = run.ItemSucceeded
	item.ResultID = result.ResultID
	c.extensions.EmitItemSucceeded(ctx, item)
	return true
}

func (c *Coordinator) markFailed(ctx context.Context, item *run.Item, cause error) {
	if err := c.store.MarkItemFailed(ctx, item.TenantID, item.RunID, item.MemberID, cause); err != nil {
		c.logger.Error("mark item failed failed",
			"run_id", item.RunID,
			"member_id", item.MemberID,
			"error", err)
		return
	}
	item.Status = run.ItemFailed
	item.LastError = cause.Error()
	c.extensions.EmitItemFailed(ctx, item, cause)
}

// runFinalizedPayload is the wire body of the run-finalized event.
type runFinalizedPayload struct {
	RunID      string     `json:"run_id"`
	TenantID   string     `json:"tenant_id"`
	PeriodID   string     `json:"period_id"`
	Type       run.Type   `json:"type"`
	Status     run.Status `json:"status"`
	Counts     run.Counts `json:"counts"`
	OccurredAt time.Time  `json:"occurred_at"`
}

// finalizeEvents builds the events recorded in the finalize
// transaction: the stream event for the tenant's event log and the
// queue event that hands the run to the payments consumer. Both derive
// the same deterministic EventID inputs, so replaying finalization
// cannot duplicate either.
func (c *Coordinator) finalizeEvents(rn *run.Run, final run.Status, counts run.Counts) []*outbox.Event {
	payload, _ := json.Marshal(runFinalizedPayload{
		RunID:      rn.ID.String(),
		TenantID:   rn.TenantID,
		PeriodID:   rn.PeriodID,
		Type:       rn.Type,
		Status:     final,
		Counts:     counts,
		OccurredAt: time.Now().UTC(),
	})

	stream := outbox.NewEvent(
		outbox.KindLogTopic,
		c.eventTopic,
		"",
		rn.ID.String(),
		EventTypeRunFinalized,
		rn.ID.String(),
		rn.TenantID,
		payload,
	)
	handoff := outbox.NewEvent(
		outbox.KindQueueExchange,
		c.paymentExchange,
		c.paymentRouting,
		rn.ID.String(),
		EventTypeRunFinalized+".handoff",
		rn.ID.String(),
		rn.TenantID,
		payload,
	)
	return []*outbox.Event{stream, handoff}
}
