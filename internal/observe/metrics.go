// Package observe provides application-wide observability primitives for
// Ember: OpenTelemetry metrics, distributed tracing, structured logging, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Ember metrics.
const meterName = "github.com/emberworks/ember"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// TurnDuration tracks time from turn release to completion. Use with
	// attribute.String("origin", ...).
	TurnDuration metric.Float64Histogram

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks LLM inference latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// --- Counters ---

	// TurnReleases counts turns released into the pipeline. Use with
	// attribute.String("origin", ...).
	TurnReleases metric.Int64Counter

	// ForcedReleases counts turns force-released by the watchdog.
	ForcedReleases metric.Int64Counter

	// ChatSuppressed counts chat messages dropped before queueing. Use with
	// attribute.String("reason", ...) — "no_trigger", "cooldown", "duplicate".
	ChatSuppressed metric.Int64Counter

	// DroppedFrames counts audio frames rejected by the gate. Use with
	// attribute.String("reason", ...) — "not_listening", "output_active".
	DroppedFrames metric.Int64Counter

	// MutedTranscripts counts final transcripts discarded while output was
	// active.
	MutedTranscripts metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// QueueDepth tracks pending requests per origin queue. Use with
	// attribute.String("origin", ...).
	QueueDepth metric.Int64UpDownCounter

	// OverlayClients tracks connected overlay websocket clients.
	OverlayClients metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// turnBuckets covers full turn lifetimes up to the watchdog timeout.
var turnBuckets = []float64{
	0.5, 1, 2.5, 5, 10, 20, 30, 45, 60, 90,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TurnDuration, err = m.Float64Histogram("ember.turn.duration",
		metric.WithDescription("Time from turn release to completion, by origin."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(turnBuckets...),
	); err != nil {
		return nil, err
	}
	if met.STTDuration, err = m.Float64Histogram("ember.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("ember.llm.duration",
		metric.WithDescription("Latency of LLM inference."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("ember.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.TurnReleases, err = m.Int64Counter("ember.turn.releases",
		metric.WithDescription("Total turns released into the response pipeline, by origin."),
	); err != nil {
		return nil, err
	}
	if met.ForcedReleases, err = m.Int64Counter("ember.turn.forced_releases",
		metric.WithDescription("Total turns force-completed by the watchdog timeout."),
	); err != nil {
		return nil, err
	}
	if met.ChatSuppressed, err = m.Int64Counter("ember.chat.suppressed",
		metric.WithDescription("Chat messages dropped before queueing, by reason."),
	); err != nil {
		return nil, err
	}
	if met.DroppedFrames, err = m.Int64Counter("ember.audio.dropped_frames",
		metric.WithDescription("Audio frames rejected by the gate, by reason."),
	); err != nil {
		return nil, err
	}
	if met.MutedTranscripts, err = m.Int64Counter("ember.stt.muted_transcripts",
		metric.WithDescription("Final transcripts discarded while co-host output was active."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("ember.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.QueueDepth, err = m.Int64UpDownCounter("ember.turn.queue_depth",
		metric.WithDescription("Pending turn requests per origin queue."),
	); err != nil {
		return nil, err
	}
	if met.OverlayClients, err = m.Int64UpDownCounter("ember.overlay.clients",
		metric.WithDescription("Connected overlay websocket clients."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("ember.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordChatSuppressed records a suppressed chat message with its reason.
func (m *Metrics) RecordChatSuppressed(ctx context.Context, reason string) {
	m.ChatSuppressed.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordDroppedFrame records an audio frame rejected by the gate.
func (m *Metrics) RecordDroppedFrame(ctx context.Context, reason string) {
	m.DroppedFrames.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
