package coordinator

import (
	"context"

	"github.com/payflux/payrun/id"
	"github.com/payflux/payrun/run"
)

// ItemFailure is one failed item in a status report.
type ItemFailure struct {
	MemberID     string `json:"member_id"`
	AttemptCount int    `json:"attempt_count"`
	LastError    string `json:"last_error"`
}

// StatusReport is the operator-facing view of a run.
type StatusReport struct {
	RunID          string             `json:"run_id"`
	TenantID       string             `json:"tenant_id"`
	PeriodID       string             `json:"period_id"`
	Type           run.Type           `json:"type"`
	Sequence       int                `json:"sequence"`
	Status         run.Status         `json:"status"`
	ApprovalStatus run.ApprovalStatus `json:"approval_status"`
	PaymentStatus  run.PaymentStatus  `json:"payment_status"`
	Counts         run.Counts         `json:"counts"`
	Failures       []ItemFailure      `json:"failures,omitempty"`
}

// Status reports the run's current state, item counts, and up to
// maxFailures failed items. maxFailures <= 0 omits the failure list.
func (c *Coordinator) Status(ctx context.Context, tenantID string, runID id.RunID, maxFailures int) (*StatusReport, error) {
	rn, err := c.store.GetRun(ctx, tenantID, runID)
	if err != nil {
		return nil, err
	}

	counts, err := c.store.CountItems(ctx, tenantID, runID)
	if err != nil {
		return nil, err
	}

	report := &StatusReport{
		RunID:          rn.ID.String(),
		TenantID:       rn.TenantID,
		PeriodID:       rn.PeriodID,
		Type:           rn.Type,
		Sequence:       rn.Sequence,
		Status:         rn.Status,
		ApprovalStatus: rn.ApprovalStatus,
		PaymentStatus:  rn.PaymentStatus,
		Counts:         counts,
	}

	if maxFailures > 0 && counts.Failed > 0 {
		items, err := c.store.ListItems(ctx, tenantID, runID, run.ItemFailed)
		if err != nil {
			return nil, err
		}
		if len(items) > maxFailures {
			items = items[:maxFailures]
		}
		for _, item := range items {
			report.Failures = append(report.Failures, ItemFailure{
				MemberID:     item.MemberID,
				AttemptCount: item.AttemptCount,
				LastError:    item.LastError,
			})
		}
	}

	return report, nil
}
