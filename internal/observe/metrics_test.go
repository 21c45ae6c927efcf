package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance wired to a manual reader so tests
// can collect and inspect recorded data.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) (metricdata.Metrics, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m, true
			}
		}
	}
	return metricdata.Metrics{}, false
}

func TestTurnInstruments(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.TurnReleases.Add(ctx, 1, metric.WithAttributes(attribute.String("origin", "voice")))
	m.TurnReleases.Add(ctx, 1, metric.WithAttributes(attribute.String("origin", "chat")))
	m.ForcedReleases.Add(ctx, 1)
	m.TurnDuration.Record(ctx, 3.2, metric.WithAttributes(attribute.String("origin", "voice")))
	m.QueueDepth.Add(ctx, 2, metric.WithAttributes(attribute.String("origin", "chat")))
	m.QueueDepth.Add(ctx, -1, metric.WithAttributes(attribute.String("origin", "chat")))

	rm := collect(t, reader)

	releases, ok := findMetric(rm, "ember.turn.releases")
	if !ok {
		t.Fatal("ember.turn.releases not collected")
	}
	sum := releases.Data.(metricdata.Sum[int64])
	if len(sum.DataPoints) != 2 {
		t.Fatalf("turn releases: want 2 origin series, got %d", len(sum.DataPoints))
	}

	depth, ok := findMetric(rm, "ember.turn.queue_depth")
	if !ok {
		t.Fatal("ember.turn.queue_depth not collected")
	}
	depthSum := depth.Data.(metricdata.Sum[int64])
	if len(depthSum.DataPoints) != 1 || depthSum.DataPoints[0].Value != 1 {
		t.Fatalf("queue depth: want single series at 1, got %+v", depthSum.DataPoints)
	}

	if _, ok := findMetric(rm, "ember.turn.duration"); !ok {
		t.Fatal("ember.turn.duration not collected")
	}
}

func TestSuppressionHelpers(t *testing.T) {
	t.Parallel()

	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordChatSuppressed(ctx, "cooldown")
	m.RecordChatSuppressed(ctx, "duplicate")
	m.RecordDroppedFrame(ctx, "output_active")
	m.RecordProviderError(ctx, "elevenlabs", "tts")

	rm := collect(t, reader)

	suppressed, ok := findMetric(rm, "ember.chat.suppressed")
	if !ok {
		t.Fatal("ember.chat.suppressed not collected")
	}
	if sum := suppressed.Data.(metricdata.Sum[int64]); len(sum.DataPoints) != 2 {
		t.Fatalf("chat suppressed: want 2 reason series, got %d", len(sum.DataPoints))
	}

	dropped, ok := findMetric(rm, "ember.audio.dropped_frames")
	if !ok {
		t.Fatal("ember.audio.dropped_frames not collected")
	}
	if sum := dropped.Data.(metricdata.Sum[int64]); sum.DataPoints[0].Value != 1 {
		t.Fatalf("dropped frames: want 1, got %d", sum.DataPoints[0].Value)
	}

	if _, ok := findMetric(rm, "ember.provider.errors"); !ok {
		t.Fatal("ember.provider.errors not collected")
	}
}

func TestDefaultMetricsSingleton(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Fatal("DefaultMetrics must return the same instance")
	}
}
