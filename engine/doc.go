// Package engine wires all payrun subsystems together and provides
// the primary application-level API for running pay-run finalization.
//
// The engine package exists to break a fundamental import cycle: the root
// payrun package defines Entity (imported by run, job, outbox, etc.)
// and therefore cannot import those packages back. Engine sits above all
// subsystem packages and below the application layer.
//
// # Building an Engine
//
//	n, err := payrun.New(
//	    payrun.WithStore(pgStore),
//	    payrun.WithConcurrency(20),
//	)
//
//	eng, err := engine.Build(n,
//	    engine.WithExtension(myExtension),
//	    engine.WithMiddleware(middleware.Logging(logger)),
//	    engine.WithLadder(backoff.DefaultLadder()),
//	    engine.WithQueueConfig(queue.Config{
//	        Name:      "payrun.finalize.item",
//	        RateLimit: 100,
//	    }),
//	)
//
// # Registering Work
//
//	engine.Register(eng, FinalizeItem)
//
// # Enqueuing Jobs
//
//	engine.Enqueue(ctx, eng, "finalize-item", input)
//
//	// With options
//	engine.Enqueue(ctx, eng, "finalize-item", input, job.WithRunAt(time.Now().Add(5*time.Minute)))
//
// # Options
//
//   - [WithExtension] — register a lifecycle extension
//   - [WithMiddleware] — add a middleware to the execution chain
//   - [WithLadder] — set the retry ladder for failed item jobs
//   - [WithComputeEngine] — set the per-member paycheck computation
//   - [WithCoordinatorOptions] — tune run execution batching and leases
//   - [WithPublisher] — register an outbox publisher for a destination kind
//   - [WithQueueConfig] — configure per-queue rate limits and concurrency
//   - [WithTracerProvider] — set the OpenTelemetry tracer provider
//   - [WithMeterProvider] — set the OpenTelemetry meter provider
package engine
