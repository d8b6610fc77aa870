// Package observe provides application-wide observability primitives for the
// voice session controller: OpenTelemetry metrics, distributed tracing,
// structured logging, and HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all controller metrics.
const meterName = "github.com/KpmgFuture-Academy/fa06-fin-aicc-sub001"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// VADDuration tracks per-frame VAD pipeline latency (both engines plus
	// fusion). Use with attribute: attribute.String("engine", ...)
	VADDuration metric.Float64Histogram

	// TurnDuration tracks the wall-clock length of a finalized turn, from
	// segment open to utterance_final.
	TurnDuration metric.Float64Histogram

	// --- Counters ---

	// Segments counts closed segments. Use with attribute:
	//   attribute.String("session_id", ...)
	Segments metric.Int64Counter

	// BargeIns counts barge-in interrupts fired during playback.
	BargeIns metric.Int64Counter

	// HandoverTransitions counts handover state transitions. Use with
	// attribute: attribute.String("status", ...)
	HandoverTransitions metric.Int64Counter

	// DegradedFrames counts frames classified without the confirm engine
	// (fast-filter-only fallback).
	DegradedFrames metric.Int64Counter

	// DroppedChunks counts audio chunks dropped on frame-queue overflow.
	DroppedChunks metric.Int64Counter

	// EmptyUtterances counts finalized utterances with zero voiced frames.
	EmptyUtterances metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// SuspendedSessions tracks sessions currently in suspended listening
	// after hitting the empty-input limit.
	SuspendedSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", <route pattern>)
	HTTPRequestDuration metric.Float64Histogram
}

// vadLatencyBuckets defines histogram bucket boundaries (in seconds) for
// per-frame VAD latency. Frames are tens of milliseconds long, so the
// interesting range is well under 100 ms.
var vadLatencyBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25,
}

// turnDurationBuckets defines histogram bucket boundaries (in seconds) for
// finalized turn lengths.
var turnDurationBuckets = []float64{
	0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.VADDuration, err = m.Float64Histogram("aicc.vad.duration",
		metric.WithDescription("Per-frame VAD classification latency by engine."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(vadLatencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = m.Float64Histogram("aicc.turn.duration",
		metric.WithDescription("Wall-clock length of a finalized turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(turnDurationBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Segments, err = m.Int64Counter("aicc.segments",
		metric.WithDescription("Total closed speech segments by session."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("aicc.barge_ins",
		metric.WithDescription("Total barge-in interrupts fired during playback."),
	); err != nil {
		return nil, err
	}
	if met.HandoverTransitions, err = m.Int64Counter("aicc.handover.transitions",
		metric.WithDescription("Total handover state transitions by resulting status."),
	); err != nil {
		return nil, err
	}
	if met.DegradedFrames, err = m.Int64Counter("aicc.vad.degraded_frames",
		metric.WithDescription("Frames classified by the fast filter alone because the confirm engine was unavailable."),
	); err != nil {
		return nil, err
	}
	if met.DroppedChunks, err = m.Int64Counter("aicc.audio.dropped_chunks",
		metric.WithDescription("Audio chunks dropped because the session frame queue was full."),
	); err != nil {
		return nil, err
	}
	if met.EmptyUtterances, err = m.Int64Counter("aicc.turn.empty_utterances",
		metric.WithDescription("Finalized utterances containing zero voiced frames."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("aicc.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}
	if met.SuspendedSessions, err = m.Int64UpDownCounter("aicc.suspended_sessions",
		metric.WithDescription("Sessions in suspended listening after consecutive empty inputs."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("aicc.http.request.duration",
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

// RecordVADLatency records one frame's classification latency for an engine.
func (m *Metrics) RecordVADLatency(ctx context.Context, engine string, seconds float64) {
	m.VADDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("engine", engine)),
	)
}

// RecordSegment records a closed segment for a session.
func (m *Metrics) RecordSegment(ctx context.Context, sessionID string) {
	m.Segments.Add(ctx, 1,
		metric.WithAttributes(attribute.String("session_id", sessionID)),
	)
}

// RecordHandoverTransition records a handover transition by resulting status.
func (m *Metrics) RecordHandoverTransition(ctx context.Context, status string) {
	m.HandoverTransitions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}
