// Package payrun provides a distributed pay-run finalization engine
// for Go. It coordinates long-running, multi-item batch runs across a
// stateless pool of workers and a stateful orchestrator, with reliable
// cross-service event delivery.
//
// Payrun is designed as a library, not a service. Import it, configure
// a store, register a computation engine, and drive runs either through
// the HTTP surface or directly through the coordinator.
//
// # Quick Start
//
//	n, err := payrun.New(payrun.WithStore(pgStore))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	eng, err := engine.Build(n, engine.WithComputeEngine(calc))
//
// # Architecture
//
// Payrun follows a composable store pattern where each subsystem (run,
// outbox, inbox, job, dlq, cluster) defines its own store interface.
// A single backend implements all of them.
//
// The core pieces are a run/item state machine guarded by a database
// lease, a transactional outbox with an asynchronous relay, a
// consumer-side inbox for event deduplication, and a per-item job
// queue whose staged retry ladder parks exhausted jobs in a DLQ.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package payrun
