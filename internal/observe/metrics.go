// Package observe provides application-wide observability primitives for
// voxjournal: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so that metrics can be
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

// meterName is the instrumentation scope name used for all voxjournal metrics.
const meterName = "github.com/MrWong99/voxjournal"

// Commit causes for [Metrics.RecordCommit].
const (
	CommitSilence = "silence"
	CommitFinal   = "final"
)

// Chunk outcomes for [Metrics.RecordChunk].
const (
	ChunkOK       = "ok"
	ChunkDegraded = "degraded"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// LLMDuration tracks text-generation latency. Attributes: provider, kind.
	LLMDuration metric.Float64Histogram

	// STTRestarts counts recognizer restarts after an error.
	STTRestarts metric.Int64Counter

	// TurnCommits counts committed utterances. Attribute: cause.
	TurnCommits metric.Int64Counter

	// BargeIns counts confirmed user interruptions of playback.
	BargeIns metric.Int64Counter

	// RepliesDiscarded counts replies that arrived after their session or
	// turn had moved on.
	RepliesDiscarded metric.Int64Counter

	// SummaryChunks counts chunk extractions. Attribute: status.
	SummaryChunks metric.Int64Counter

	// SummaryDuration tracks end-to-end summarisation latency.
	SummaryDuration metric.Float64Histogram

	// CacheLookups counts insight cache lookups. Attributes: kind, result.
	CacheLookups metric.Int64Counter

	// ProviderRequests counts provider API calls. Attributes: provider,
	// kind, status.
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Attributes: provider, kind.
	ProviderErrors metric.Int64Counter

	// ActiveSessions tracks the number of live journaling sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	// method, path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// provider round trips.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.LLMDuration, err = m.Float64Histogram("voxjournal.llm.duration",
		metric.WithDescription("Latency of text generation requests."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SummaryDuration, err = m.Float64Histogram("voxjournal.summary.duration",
		metric.WithDescription("Latency of the full summary pipeline."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxjournal.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.STTRestarts, "voxjournal.stt.restarts", "Recognizer restarts after a recognition error."},
		{&met.TurnCommits, "voxjournal.turn.commits", "Committed user utterances by cause."},
		{&met.BargeIns, "voxjournal.turn.barge_ins", "Confirmed barge-ins during assistant playback."},
		{&met.RepliesDiscarded, "voxjournal.reply.discarded", "Replies dropped because they arrived too late."},
		{&met.SummaryChunks, "voxjournal.summary.chunks", "Chunk extractions by status."},
		{&met.CacheLookups, "voxjournal.cache.lookups", "Insight cache lookups by kind and result."},
		{&met.ProviderRequests, "voxjournal.provider.requests", "Total provider API requests by provider, kind, and status."},
		{&met.ProviderErrors, "voxjournal.provider.errors", "Total provider errors by provider and kind."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("voxjournal.active_sessions",
		metric.WithDescription("Number of live journaling sessions."),
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
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails, which does not happen with the global provider.
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

// RecordProviderRequest records a provider request counter increment with
// the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
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

// RecordCommit records one committed utterance. cause is [CommitSilence] or
// [CommitFinal].
func (m *Metrics) RecordCommit(ctx context.Context, cause string) {
	m.TurnCommits.Add(ctx, 1, metric.WithAttributes(attribute.String("cause", cause)))
}

// RecordChunk records one chunk extraction. status is [ChunkOK] or
// [ChunkDegraded].
func (m *Metrics) RecordChunk(ctx context.Context, status string) {
	m.SummaryChunks.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordCacheLookup records an insight cache lookup for kind.
func (m *Metrics) RecordCacheLookup(ctx context.Context, kind string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("result", result),
		),
	)
}
