package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/framehaus/jobd/ext"
	"github.com/framehaus/jobd/job"
)

// meterName is the instrumentation scope name for jobd metrics.
const meterName = "github.com/framehaus/jobd/observability"

// Compile-time interface checks.
var (
	_ ext.Extension    = (*MetricsExtension)(nil)
	_ ext.JobEnqueued  = (*MetricsExtension)(nil)
	_ ext.JobCompleted = (*MetricsExtension)(nil)
	_ ext.JobFailed    = (*MetricsExtension)(nil)
	_ ext.JobRetrying  = (*MetricsExtension)(nil)
	_ ext.JobCancelled = (*MetricsExtension)(nil)
)

// MetricsExtension records scheduler-wide lifecycle metrics via OTel.
// Register it as a jobd extension to automatically track enqueue rates,
// completion counts, failure rates, retries, and cancellations, each
// partitioned by job type.
type MetricsExtension struct {
	enqueued  metric.Int64Counter
	completed metric.Int64Counter
	failed    metric.Int64Counter
	retried   metric.Int64Counter
	cancelled metric.Int64Counter
	duration  metric.Float64Histogram
}

// NewMetricsExtension creates a MetricsExtension using the global OTel
// MeterProvider. If none is configured, noop instruments are used and
// the extension becomes a pass-through.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter. This variant allows injecting a specific MeterProvider
// for testing.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	m := &MetricsExtension{}

	// On error the OTel API returns noop instruments, so the extension
	// degrades gracefully.
	m.enqueued, _ = meter.Int64Counter("jobd.job.enqueued",
		metric.WithDescription("Total number of jobs enqueued"),
		metric.WithUnit("{job}"))
	m.completed, _ = meter.Int64Counter("jobd.job.completed",
		metric.WithDescription("Total number of jobs completed"),
		metric.WithUnit("{job}"))
	m.failed, _ = meter.Int64Counter("jobd.job.failed",
		metric.WithDescription("Total number of jobs failed after exhausting retries"),
		metric.WithUnit("{job}"))
	m.retried, _ = meter.Int64Counter("jobd.job.retried",
		metric.WithDescription("Total number of retry attempts scheduled"),
		metric.WithUnit("{retry}"))
	m.cancelled, _ = meter.Int64Counter("jobd.job.cancelled",
		metric.WithDescription("Total number of jobs cancelled"),
		metric.WithUnit("{job}"))
	m.duration, _ = meter.Float64Histogram("jobd.job.completed.duration",
		metric.WithDescription("Duration of completed jobs in seconds"),
		metric.WithUnit("s"))

	return m
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func typeAttrs(j *job.Job) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("job_type", j.Type),
		attribute.String("priority", string(j.Priority)),
	)
}

// OnJobEnqueued implements ext.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	m.enqueued.Add(ctx, 1, typeAttrs(j))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	m.completed.Add(ctx, 1, typeAttrs(j))
	m.duration.Record(ctx, elapsed.Seconds(), typeAttrs(j))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.failed.Add(ctx, 1, typeAttrs(j))
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, j *job.Job, _ int, _ time.Time) error {
	m.retried.Add(ctx, 1, typeAttrs(j))
	return nil
}

// OnJobCancelled implements ext.JobCancelled.
func (m *MetricsExtension) OnJobCancelled(ctx context.Context, j *job.Job) error {
	m.cancelled.Add(ctx, 1, typeAttrs(j))
	return nil
}
