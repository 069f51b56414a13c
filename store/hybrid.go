package store

import (
	"context"
	"errors"

	"github.com/payflux/payrun/cluster"
	"github.com/payflux/payrun/dlq"
	"github.com/payflux/payrun/inbox"
	"github.com/payflux/payrun/job"
	"github.com/payflux/payrun/outbox"
	"github.com/payflux/payrun/run"
)

// RelationalBackend is the store half holding run state and outbox
// rows. Finalization and outbox appends need multi-row transactions,
// so this half stays on a relational backend.
type RelationalBackend interface {
	run.Store
	outbox.Store

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// QueueBackend is the store half holding jobs, dead letters, inbox
// markers, and cluster membership. These are queue-shaped and fit a
// Redis backend.
type QueueBackend interface {
	job.Store
	dlq.Store
	inbox.Store
	cluster.Store

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

type relationalStores interface {
	run.Store
	outbox.Store
}

type queueStores interface {
	job.Store
	dlq.Store
	inbox.Store
	cluster.Store
}

// hybrid composes a relational backend with a queue backend into a
// single Store.
type hybrid struct {
	relationalStores
	queueStores

	rel  RelationalBackend
	fast QueueBackend
}

var _ Store = (*hybrid)(nil)

// NewHybrid composes two backends into one Store: run state and outbox
// rows go to rel, jobs and the other queue-shaped stores go to fast.
// Typical pairing is postgres + redis.
func NewHybrid(rel RelationalBackend, fast QueueBackend) Store {
	return &hybrid{
		relationalStores: rel,
		queueStores:      fast,
		rel:              rel,
		fast:             fast,
	}
}

// Migrate runs migrations on both halves.
func (h *hybrid) Migrate(ctx context.Context) error {
	if err := h.rel.Migrate(ctx); err != nil {
		return err
	}
	return h.fast.Migrate(ctx)
}

// Ping checks connectivity of both halves.
func (h *hybrid) Ping(ctx context.Context) error {
	if err := h.rel.Ping(ctx); err != nil {
		return err
	}
	return h.fast.Ping(ctx)
}

// Close closes both halves, joining any errors.
func (h *hybrid) Close() error {
	return errors.Join(h.rel.Close(), h.fast.Close())
}
