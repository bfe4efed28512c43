package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/itsneelabh/agentcore/core"
)

// OTelProvider implements core.Telemetry on top of the OpenTelemetry SDK's
// own in-process trace and metric providers. Unlike a collector-exporting
// setup, spans and metric instruments are created and sampled but never
// shipped over OTLP: no network exporter dependency is wired, only the
// core otel/metric/sdk/trace packages, so RecordMetric/StartSpan are cheap
// no-risk instrumentation points a caller may later attach a real exporter
// to without touching call sites.
type OTelProvider struct {
	tracer trace.Tracer
	meter  metric.Meter

	traceProvider  *sdktrace.TracerProvider
	metricProvider *sdkmetric.MeterProvider

	mu         sync.RWMutex
	counters   map[string]metric.Float64Counter
	histograms map[string]metric.Float64Histogram
}

// NewOTelProvider builds a provider scoped to serviceName using the SDK's
// default (always-on sampler, batch-free) trace and meter providers.
func NewOTelProvider(serviceName string) *OTelProvider {
	tp := sdktrace.NewTracerProvider()
	mp := sdkmetric.NewMeterProvider()

	return &OTelProvider{
		tracer:         tp.Tracer(serviceName),
		meter:          mp.Meter(serviceName),
		traceProvider:  tp,
		metricProvider: mp,
		counters:       make(map[string]metric.Float64Counter),
		histograms:     make(map[string]metric.Float64Histogram),
	}
}

// StartSpan begins a new span named name, returning the span-bearing context.
func (o *OTelProvider) StartSpan(ctx context.Context, name string) (context.Context, core.Span) {
	ctx, span := o.tracer.Start(ctx, name)
	return ctx, &otelSpan{span: span}
}

// RecordMetric records value under name, routing to a counter or histogram
// instrument by a simple name-suffix heuristic: names ending in "duration",
// "latency" or "ms" go to a histogram, every other name to a counter.
func (o *OTelProvider) RecordMetric(name string, value float64, labels map[string]string) {
	ctx := context.Background()
	attrs := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}

	if hasAnySuffix(name, "duration", "latency", "ms") {
		o.histogramFor(name).Record(ctx, value, metric.WithAttributes(attrs...))
		return
	}
	o.counterFor(name).Add(ctx, value, metric.WithAttributes(attrs...))
}

func (o *OTelProvider) counterFor(name string) metric.Float64Counter {
	o.mu.RLock()
	c, ok := o.counters[name]
	o.mu.RUnlock()
	if ok {
		return c
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if c, ok = o.counters[name]; ok {
		return c
	}
	c, _ = o.meter.Float64Counter(name)
	o.counters[name] = c
	return c
}

func (o *OTelProvider) histogramFor(name string) metric.Float64Histogram {
	o.mu.RLock()
	h, ok := o.histograms[name]
	o.mu.RUnlock()
	if ok {
		return h
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if h, ok = o.histograms[name]; ok {
		return h
	}
	h, _ = o.meter.Float64Histogram(name)
	o.histograms[name] = h
	return h
}

// Shutdown flushes and releases the underlying trace/metric providers.
func (o *OTelProvider) Shutdown(ctx context.Context) error {
	if err := o.traceProvider.Shutdown(ctx); err != nil {
		return err
	}
	return o.metricProvider.Shutdown(ctx)
}

func hasAnySuffix(name string, suffixes ...string) bool {
	for _, s := range suffixes {
		if len(name) >= len(s) && name[len(name)-len(s):] == s {
			return true
		}
	}
	return false
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End() { s.span.End() }

func (s *otelSpan) SetAttribute(key string, value interface{}) {
	switch v := value.(type) {
	case string:
		s.span.SetAttributes(attribute.String(key, v))
	case bool:
		s.span.SetAttributes(attribute.Bool(key, v))
	case int:
		s.span.SetAttributes(attribute.Int(key, v))
	case int64:
		s.span.SetAttributes(attribute.Int64(key, v))
	case float64:
		s.span.SetAttributes(attribute.Float64(key, v))
	default:
		s.span.SetAttributes(attribute.String(key, toAttrString(v)))
	}
}

func (s *otelSpan) RecordError(err error) {
	if err == nil {
		return
	}
	s.span.RecordError(err)
}

func toAttrString(v interface{}) string {
	if v == nil {
		return ""
	}
	if stringer, ok := v.(interface{ String() string }); ok {
		return stringer.String()
	}
	return ""
}
