// Package observe provides application-wide observability primitives for
// spacelive: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all spacelive metrics.
const meterName = "github.com/eggyy1224/space-live-project-sub000"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// TurnDuration tracks a full dialogue-graph run. Use with attributes:
	//   attribute.String("template", ...), attribute.Bool("murmur", ...)
	TurnDuration metric.Float64Histogram

	// LLMDuration tracks chat LLM latency. Use with attribute:
	//   attribute.String("purpose", ...) (reply, keyframe, intent, params, summary)
	LLMDuration metric.Float64Histogram

	// RetrievalDuration tracks the concurrent memory retrieval fan-out.
	RetrievalDuration metric.Float64Histogram

	// STTDuration tracks speech-to-text latency.
	STTDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech latency.
	TTSDuration metric.Float64Histogram

	// --- Counters ---

	// LLMErrors counts failed LLM calls by purpose.
	LLMErrors metric.Int64Counter

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// MemoryWrites counts records written. Use with attribute:
	//   attribute.String("collection", ...)
	MemoryWrites metric.Int64Counter

	// Murmurs counts idle-monologue attempts by outcome
	// (emitted, duplicate, skipped, empty).
	Murmurs metric.Int64Counter

	// KeyframeRepairs counts keyframe tracks that needed repair. Use with
	// attribute: attribute.String("track", "emotion"|"body").
	KeyframeRepairs metric.Int64Counter

	// ProviderFailovers counts calls a backend could not serve and handed
	// down its fallback group. Use with attributes:
	//   attribute.String("stage", ...), attribute.String("provider", ...)
	ProviderFailovers metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live chat sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...), attribute.String("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// LLM round trips.
var latencyBuckets = []float64{
	0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histogram := func(name, desc string) (metric.Float64Histogram, error) {
		return m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
	}

	// Histograms.
	if met.TurnDuration, err = histogram("spacelive.turn.duration", "Latency of one dialogue-graph run."); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = histogram("spacelive.llm.duration", "Latency of LLM completions."); err != nil {
		return nil, err
	}
	if met.RetrievalDuration, err = histogram("spacelive.memory.retrieval.duration", "Latency of layered memory retrieval."); err != nil {
		return nil, err
	}
	if met.STTDuration, err = histogram("spacelive.stt.duration", "Latency of speech-to-text transcription."); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = histogram("spacelive.tts.duration", "Latency of text-to-speech synthesis."); err != nil {
		return nil, err
	}

	// Counters.
	if met.LLMErrors, err = m.Int64Counter("spacelive.llm.errors",
		metric.WithDescription("Total failed LLM completions by purpose."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("spacelive.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.MemoryWrites, err = m.Int64Counter("spacelive.memory.writes",
		metric.WithDescription("Total memory records written by collection."),
	); err != nil {
		return nil, err
	}
	if met.Murmurs, err = m.Int64Counter("spacelive.murmurs",
		metric.WithDescription("Idle monologue attempts by outcome."),
	); err != nil {
		return nil, err
	}
	if met.KeyframeRepairs, err = m.Int64Counter("spacelive.keyframe.repairs",
		metric.WithDescription("Keyframe tracks repaired after validation."),
	); err != nil {
		return nil, err
	}

	if met.ProviderFailovers, err = m.Int64Counter("spacelive.provider.failovers",
		metric.WithDescription("Backend calls passed to the next provider of a fallback group."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("spacelive.sessions.active",
		metric.WithDescription("Number of live chat sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("spacelive.http.request.duration",
		metric.WithDescription("HTTP request latency by method, path and status."),
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

// RecordTurn records one graph run.
func (m *Metrics) RecordTurn(ctx context.Context, seconds float64, template string, murmur bool) {
	m.TurnDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("template", template),
			attribute.Bool("murmur", murmur),
		),
	)
}

// RecordLLM records an LLM call latency and, when failed, an error.
func (m *Metrics) RecordLLM(ctx context.Context, purpose string, seconds float64, failed bool) {
	attrs := metric.WithAttributes(attribute.String("purpose", purpose))
	m.LLMDuration.Record(ctx, seconds, attrs)
	if failed {
		m.LLMErrors.Add(ctx, 1, attrs)
	}
}

// RecordToolCall is a convenience method that records a tool call counter
// increment with the standard attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordMemoryWrite records n records written to collection.
func (m *Metrics) RecordMemoryWrite(ctx context.Context, collection string, n int) {
	m.MemoryWrites.Add(ctx, int64(n),
		metric.WithAttributes(attribute.String("collection", collection)),
	)
}

// RecordMurmur records one idle-monologue attempt outcome.
func (m *Metrics) RecordMurmur(ctx context.Context, outcome string) {
	m.Murmurs.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordKeyframeRepair records a repaired keyframe track.
func (m *Metrics) RecordKeyframeRepair(ctx context.Context, track string) {
	m.KeyframeRepairs.Add(ctx, 1, metric.WithAttributes(attribute.String("track", track)))
}

// RecordFailover records that provider could not serve a stage call.
func (m *Metrics) RecordFailover(ctx context.Context, stage, provider string) {
	m.ProviderFailovers.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("provider", provider),
	))
}

func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}
