// Package telemetry exposes synthesis metrics through an OpenTelemetry meter
// backed by a Prometheus exporter.
package telemetry

import (
	"context"
	"errors"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/example/go-supertonic/internal/tts"
)

const meterName = "github.com/example/go-supertonic"

// Metrics records synthesis observations. It implements tts.Recorder.
type Metrics struct {
	provider *sdkmetric.MeterProvider
	handler  http.Handler

	requests     metric.Int64Counter
	failures     metric.Int64Counter
	cacheHits    metric.Int64Counter
	chunks       metric.Int64Counter
	audioSeconds metric.Float64Counter
	latency      metric.Float64Histogram
}

// New builds a meter provider with its own Prometheus registry, so several
// instances can coexist in one process.
func New(serviceName string) (*Metrics, error) {
	reg := promclient.NewRegistry()

	exporter, err := prometheus.New(prometheus.WithRegisterer(reg))
	if err != nil {
		return nil, err
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(resource.NewSchemaless(attribute.String("service.name", serviceName))),
	)
	meter := provider.Meter(meterName)

	m := &Metrics{
		provider: provider,
		handler:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}

	var errs []error
	m.requests, err = meter.Int64Counter("supertonic.synthesis.requests",
		metric.WithDescription("Synthesis calls, including cache hits"))
	errs = append(errs, err)
	m.failures, err = meter.Int64Counter("supertonic.synthesis.failures",
		metric.WithDescription("Synthesis calls that returned an error"))
	errs = append(errs, err)
	m.cacheHits, err = meter.Int64Counter("supertonic.cache.hits",
		metric.WithDescription("Requests served from the audio cache"))
	errs = append(errs, err)
	m.chunks, err = meter.Int64Counter("supertonic.synthesis.chunks",
		metric.WithDescription("Text chunks synthesized"))
	errs = append(errs, err)
	m.audioSeconds, err = meter.Float64Counter("supertonic.audio.generated",
		metric.WithDescription("Seconds of audio generated"), metric.WithUnit("s"))
	errs = append(errs, err)
	m.latency, err = meter.Float64Histogram("supertonic.synthesis.duration",
		metric.WithDescription("Wall-clock synthesis latency"), metric.WithUnit("s"))
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		_ = provider.Shutdown(context.Background())
		return nil, err
	}

	return m, nil
}

// Handler serves the Prometheus text exposition.
func (m *Metrics) Handler() http.Handler {
	return m.handler
}

// RecordSynthesis implements tts.Recorder.
func (m *Metrics) RecordSynthesis(ctx context.Context, o tts.Observation) {
	attrs := metric.WithAttributes(attribute.String("voice", o.Voice))

	m.requests.Add(ctx, 1, attrs)
	if o.CacheHit {
		m.cacheHits.Add(ctx, 1, attrs)
		return
	}
	if o.Err != nil {
		m.failures.Add(ctx, 1, attrs)
		return
	}

	m.chunks.Add(ctx, int64(o.Chunks), attrs)
	m.audioSeconds.Add(ctx, o.Seconds, attrs)
	m.latency.Record(ctx, o.Elapsed.Seconds(), attrs)
}

func (m *Metrics) Shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}

var _ tts.Recorder = (*Metrics)(nil)
