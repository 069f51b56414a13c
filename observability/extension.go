package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/payflux/payrun/ext"
	"github.com/payflux/payrun/job"
	"github.com/payflux/payrun/outbox"
	"github.com/payflux/payrun/run"
)

// meterName is the instrumentation scope name for lifecycle metrics.
const meterName = "github.com/payflux/payrun/observability"

// Compile-time interface checks.
var (
	_ ext.Extension      = (*MetricsExtension)(nil)
	_ ext.JobEnqueued    = (*MetricsExtension)(nil)
	_ ext.JobSucceeded   = (*MetricsExtension)(nil)
	_ ext.JobFailed      = (*MetricsExtension)(nil)
	_ ext.JobRetrying    = (*MetricsExtension)(nil)
	_ ext.JobDLQ         = (*MetricsExtension)(nil)
	_ ext.RunStarted     = (*MetricsExtension)(nil)
	_ ext.RunFinalized   = (*MetricsExtension)(nil)
	_ ext.ItemSucceeded  = (*MetricsExtension)(nil)
	_ ext.ItemFailed     = (*MetricsExtension)(nil)
	_ ext.EventPublished = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle counters via OpenTelemetry.
// Register it as an extension to automatically track enqueue rates, success
// and failure counts, retries, DLQ entries, run finalizations, and outbox
// publishes. If no global MeterProvider is configured, the instruments are
// noop and the extension has zero overhead.
type MetricsExtension struct {
	jobEnqueued    metric.Int64Counter
	jobSucceeded   metric.Int64Counter
	jobFailed      metric.Int64Counter
	jobRetried     metric.Int64Counter
	jobDLQ         metric.Int64Counter
	runStarted     metric.Int64Counter
	runFinalized   metric.Int64Counter
	itemSucceeded  metric.Int64Counter
	itemFailed     metric.Int64Counter
	eventPublished metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension using the global OTel
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the provided
// meter. This variant allows injecting a specific MeterProvider for testing.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	m := &MetricsExtension{}
	// The OTel API guarantees noop instruments on error, so construction
	// never fails.
	m.jobEnqueued, _ = meter.Int64Counter("payrun.job.enqueued")
	m.jobSucceeded, _ = meter.Int64Counter("payrun.job.succeeded")
	m.jobFailed, _ = meter.Int64Counter("payrun.job.failed")
	m.jobRetried, _ = meter.Int64Counter("payrun.job.retried")
	m.jobDLQ, _ = meter.Int64Counter("payrun.job.dlq")
	m.runStarted, _ = meter.Int64Counter("payrun.run.started")
	m.runFinalized, _ = meter.Int64Counter("payrun.run.finalized")
	m.itemSucceeded, _ = meter.Int64Counter("payrun.item.succeeded")
	m.itemFailed, _ = meter.Int64Counter("payrun.item.failed")
	m.eventPublished, _ = meter.Int64Counter("payrun.outbox.published")
	return m
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── Job lifecycle hooks ─────────────────────────────

// OnJobEnqueued implements ext.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(ctx context.Context, _ *job.Job) error {
	m.jobEnqueued.Add(ctx, 1)
	return nil
}

// OnJobSucceeded implements ext.JobSucceeded.
func (m *MetricsExtension) OnJobSucceeded(ctx context.Context, _ *job.Job, _ time.Duration) error {
	m.jobSucceeded.Add(ctx, 1)
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, _ *job.Job, _ error) error {
	m.jobFailed.Add(ctx, 1)
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, _ *job.Job, _ int, _ time.Time) error {
	m.jobRetried.Add(ctx, 1)
	return nil
}

// OnJobDLQ implements ext.JobDLQ.
func (m *MetricsExtension) OnJobDLQ(ctx context.Context, _ *job.Job, _ error) error {
	m.jobDLQ.Add(ctx, 1)
	return nil
}

// ── Run lifecycle hooks ─────────────────────────────

// OnRunStarted implements ext.RunStarted.
func (m *MetricsExtension) OnRunStarted(ctx context.Context, _ *run.Run) error {
	m.runStarted.Add(ctx, 1)
	return nil
}

// OnRunFinalized implements ext.RunFinalized.
func (m *MetricsExtension) OnRunFinalized(ctx context.Context, _ *run.Run, _ run.Counts) error {
	m.runFinalized.Add(ctx, 1)
	return nil
}

// OnItemSucceeded implements ext.ItemSucceeded.
func (m *MetricsExtension) OnItemSucceeded(ctx context.Context, _ *run.Item) error {
	m.itemSucceeded.Add(ctx, 1)
	return nil
}

// OnItemFailed implements ext.ItemFailed.
func (m *MetricsExtension) OnItemFailed(ctx context.Context, _ *run.Item, _ error) error {
	m.itemFailed.Add(ctx, 1)
	return nil
}

// ── Outbox lifecycle hooks ──────────────────────────

// OnEventPublished implements ext.EventPublished.
func (m *MetricsExtension) OnEventPublished(ctx context.Context, _ *outbox.Event) error {
	m.eventPublished.Add(ctx, 1)
	return nil
}
