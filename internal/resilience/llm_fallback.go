package resilience

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/voxjournal/internal/observe"
	"github.com/MrWong99/voxjournal/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] with automatic failover across multiple
// text-generation backends. Each backend has its own circuit breaker; when the
// primary fails or its breaker is open, the next healthy fallback is tried.
//
// Every attempt is recorded on the request, error and latency instruments of
// [observe.Metrics].
type LLMFallback struct {
	group   *FallbackGroup[llm.Provider]
	metrics *observe.Metrics
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
// A nil metrics uses [observe.DefaultMetrics].
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig, metrics *observe.Metrics) *LLMFallback {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &LLMFallback{
		group:   NewFallbackGroup(primary, primaryName, cfg),
		metrics: metrics,
	}
}

// AddFallback registers an additional LLM provider as a fallback.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Complete sends the request to the first healthy provider and returns its
// response.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(ctx, f.group, func(name string, p llm.Provider) (*llm.CompletionResponse, error) {
		start := time.Now()
		resp, err := p.Complete(ctx, req)
		f.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(observe.Attr("provider", name), observe.Attr("kind", "llm")))
		if err != nil {
			f.metrics.RecordProviderRequest(ctx, name, "llm", "error")
			f.metrics.RecordProviderError(ctx, name, "llm")
			return nil, err
		}
		f.metrics.RecordProviderRequest(ctx, name, "llm", "ok")
		return resp, nil
	})
}

// Healthy reports whether the primary backend's breaker is not open. It
// backs the readiness probe.
func (f *LLMFallback) Healthy() bool {
	return f.group.PrimaryState() != StateOpen
}

// Backends returns the backend names in failover order.
func (f *LLMFallback) Backends() []string {
	return f.group.Names()
}
