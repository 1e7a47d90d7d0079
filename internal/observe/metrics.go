// Package observe provides application-wide observability primitives:
// OpenTelemetry metric instruments and the Prometheus exporter bridge that
// makes them scrapable via /metrics.
//
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/parlancehq/parlance"

// Metrics holds all OpenTelemetry metric instruments for the engine. The
// underlying OTel types handle their own synchronisation.
type Metrics struct {
	// STTDuration tracks speech-to-text attempt latency.
	STTDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech attempt latency.
	TTSDuration metric.Float64Histogram

	// ProviderRequests counts provider attempts. Attributes:
	//   provider, operation ("stt"|"tts"), status ("ok"|"error").
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider failures by error kind. Attributes:
	//   provider, kind ("transient"|"auth"|"validation"|"quota").
	ProviderErrors metric.Int64Counter

	// ProviderSkips counts candidates skipped without an attempt.
	// Attributes: provider, reason ("breaker_open"|"rate_limited").
	ProviderSkips metric.Int64Counter

	// CacheLookups counts cache reads. Attributes:
	//   operation, result ("hit"|"miss").
	CacheLookups metric.Int64Counter

	// InFlight tracks currently executing orchestrator requests.
	InFlight metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// speech-vendor round trips.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.STTDuration, err = m.Float64Histogram("parlance.stt.duration",
		metric.WithDescription("Latency of speech-to-text provider attempts."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("parlance.tts.duration",
		metric.WithDescription("Latency of text-to-speech provider attempts."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("parlance.provider.requests",
		metric.WithDescription("Total provider attempts by provider, operation, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("parlance.provider.errors",
		metric.WithDescription("Total provider failures by provider and error kind."),
	); err != nil {
		return nil, err
	}
	if met.ProviderSkips, err = m.Int64Counter("parlance.provider.skips",
		metric.WithDescription("Candidates skipped without an attempt, by reason."),
	); err != nil {
		return nil, err
	}
	if met.CacheLookups, err = m.Int64Counter("parlance.cache.lookups",
		metric.WithDescription("Cache reads by operation and result."),
	); err != nil {
		return nil, err
	}
	if met.InFlight, err = m.Int64UpDownCounter("parlance.requests.in_flight",
		metric.WithDescription("Currently executing orchestrator requests."),
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

// DefaultMetrics returns the package-level [Metrics] instance, creating it
// on first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
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

// RecordAttempt records one provider attempt: the request counter, the
// per-operation latency histogram, and — on failure — the error counter.
func (m *Metrics) RecordAttempt(ctx context.Context, provider, operation string, seconds float64, ok bool, errKind string) {
	status := "ok"
	if !ok {
		status = "error"
	}
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("operation", operation),
		attribute.String("status", status),
	))

	hist := m.STTDuration
	if operation == "tts" {
		hist = m.TTSDuration
	}
	hist.Record(ctx, seconds, metric.WithAttributes(
		attribute.String("provider", provider),
	))

	if !ok {
		m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", errKind),
		))
	}
}

// RecordSkip records a candidate skipped without an attempt.
func (m *Metrics) RecordSkip(ctx context.Context, provider, reason string) {
	m.ProviderSkips.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("reason", reason),
	))
}

// RecordCacheLookup records one cache read outcome.
func (m *Metrics) RecordCacheLookup(ctx context.Context, operation string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("result", result),
	))
}
