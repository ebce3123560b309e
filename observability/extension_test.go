package observability_test

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/framehaus/jobd/id"
	"github.com/framehaus/jobd/job"
	"github.com/framehaus/jobd/observability"
)

func newTestExtension() (*observability.MetricsExtension, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	return observability.NewMetricsExtensionWithMeter(mp.Meter("test")), reader
}

func newTestJob() *job.Job {
	return &job.Job{
		ID:       id.NewJobID(),
		Type:     "photos.scan",
		Priority: job.PriorityMedium,
	}
}

func counterValue(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name != name {
				continue
			}
			sum, ok := sm.Metrics[i].Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %s has unexpected data type %T", name, sm.Metrics[i].Data)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestMetricsExtension_Name(t *testing.T) {
	e, _ := newTestExtension()
	if e.Name() != "observability-metrics" {
		t.Errorf("expected name %q, got %q", "observability-metrics", e.Name())
	}
}

func TestMetricsExtension_JobEnqueued(t *testing.T) {
	e, reader := newTestExtension()
	if err := e.OnJobEnqueued(context.Background(), newTestJob()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := counterValue(t, reader, "jobd.job.enqueued"); got != 1 {
		t.Errorf("jobd.job.enqueued: want 1, got %d", got)
	}
}

func TestMetricsExtension_JobCompleted(t *testing.T) {
	e, reader := newTestExtension()
	if err := e.OnJobCompleted(context.Background(), newTestJob(), 100*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := counterValue(t, reader, "jobd.job.completed"); got != 1 {
		t.Errorf("jobd.job.completed: want 1, got %d", got)
	}
}

func TestMetricsExtension_JobFailed(t *testing.T) {
	e, reader := newTestExtension()
	if err := e.OnJobFailed(context.Background(), newTestJob(), errors.New("boom")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := counterValue(t, reader, "jobd.job.failed"); got != 1 {
		t.Errorf("jobd.job.failed: want 1, got %d", got)
	}
}

func TestMetricsExtension_JobRetrying(t *testing.T) {
	e, reader := newTestExtension()
	if err := e.OnJobRetrying(context.Background(), newTestJob(), 1, time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := counterValue(t, reader, "jobd.job.retried"); got != 1 {
		t.Errorf("jobd.job.retried: want 1, got %d", got)
	}
}

func TestMetricsExtension_JobCancelled(t *testing.T) {
	e, reader := newTestExtension()
	if err := e.OnJobCancelled(context.Background(), newTestJob()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := counterValue(t, reader, "jobd.job.cancelled"); got != 1 {
		t.Errorf("jobd.job.cancelled: want 1, got %d", got)
	}
}

func TestMetricsExtension_NoopWithoutProvider(t *testing.T) {
	// Global provider defaults to noop; hooks must still be safe.
	e := observability.NewMetricsExtension()
	if err := e.OnJobEnqueued(context.Background(), newTestJob()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
