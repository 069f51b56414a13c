// Package coordinator drives pay runs from creation to a terminal
// status.
//
// Start creates a run with one item per member, idempotently: the same
// request returns the same run. Execute does one lease-scoped slice of
// work: acquire the run lease, claim queued items in batches, compute
// each through the application-supplied Engine, and record the
// outcome. When no items remain in flight, Execute finalizes the run
// and records the run-finalized outbox events in the same transaction.
//
// Any number of coordinators may call Execute on the same run; the
// store's lease arbitrates and losers get payrun.ErrLeaseConflict.
// Callers are expected to loop Execute until the run is finalized;
// the runner package packages that loop.
package coordinator
