// Package queue defines the queue abstraction with priority ordering
// and per-queue / per-tenant rate limiting.
//
// Queues are named channels that group related jobs. Jobs carry a Queue field
// that determines which queue they belong to. The worker pool polls the queues
// listed in [payrun.Config.Queues] (default: ["payrun.finalize.item"]).
//
// # Per-Queue Configuration
//
// Use [Config] to set per-queue rate limits and concurrency caps:
//
//	queue.Config{
//	    Name:           "payrun.finalize.item",
//	    MaxConcurrency: 5,      // max 5 concurrent finalize jobs
//	    RateLimit:      10,     // max 10 jobs/s dequeued from this queue
//	    RateBurst:      20,     // allow bursts up to 20
//	}
//
// Pass configs when building the engine:
//
//	engine.Build(n,
//	    engine.WithQueueConfig(
//	        queue.Config{Name: "payrun.finalize.item", MaxConcurrency: 20},
//	        queue.Config{Name: "payrun.offcycle.item", RateLimit: 5, RateBurst: 10},
//	    ),
//	)
//
// # Manager
//
// [Manager] enforces per-queue and per-tenant limits at dequeue time,
// so one tenant's run fan-out cannot monopolize the pool. It uses a
// token-bucket rate limiter (golang.org/x/time/rate) and an
// active-count gate for concurrency limits.
//
//	m := queue.NewManager(configs...)
//	if m.Acquire(queueName, tenantID) {
//	    defer m.Release(queueName, tenantID)
//	    // process the job
//	}
//
// Queues without a [Config] have no limits beyond the pool-wide concurrency.
package queue
