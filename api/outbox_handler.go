// Package api provides HTTP handlers for the payrun API.
package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/xraph/forge"

	"github.com/payflux/payrun/outbox"
)

func (a *API) outboxStats(ctx forge.Context) error {
	counts, err := a.eng.OutboxStore().CountEvents(ctx.Context())
	if err != nil {
		return fmt.Errorf("count outbox events: %w", err)
	}

	brokerStats := a.eng.Broker().Stats()

	return ctx.JSON(http.StatusOK, OutboxStatsResponse{
		Pending:   counts[outbox.StatusPending],
		Sending:   counts[outbox.StatusSending],
		Sent:      counts[outbox.StatusSent],
		Published: brokerStats.TotalPublished,
		Failed:    brokerStats.TotalFailed,
	})
}

func (a *API) purgeOutbox(ctx forge.Context, req *PurgeOutboxRequest) (*PurgeOutboxResponse, error) {
	retention := a.eng.Node().Config().OutboxRetention
	if req.OlderThanHours > 0 {
		retention = time.Duration(req.OlderThanHours) * time.Hour
	}
	if retention <= 0 {
		return nil, forge.BadRequest("no retention window configured; pass older_than_hours")
	}

	cutoff := time.Now().UTC().Add(-retention)
	purged, err := a.eng.OutboxStore().PurgeSentEvents(ctx.Context(), cutoff)
	if err != nil {
		return nil, fmt.Errorf("purge outbox: %w", err)
	}

	resp := &PurgeOutboxResponse{Purged: purged}
	return resp, ctx.JSON(http.StatusOK, resp)
}
