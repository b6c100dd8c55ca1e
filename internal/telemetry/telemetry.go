// Package telemetry provides OpenTelemetry instrumentation for nimbus.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/nimbus/internal/config"
)

// Provider wraps OTEL tracer and meter providers.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	registry       *promclient.Registry

	// Metrics
	operations    metric.Int64Counter
	opDuration    metric.Float64Histogram
	waitAttempts  metric.Int64Histogram
	batchFailures metric.Int64Counter
}

// NewProvider creates a new telemetry provider. When withPrometheus is set the
// meter provider also feeds a private Prometheus registry served by Handler.
func NewProvider(ctx context.Context, cfg config.OTELConfig, withPrometheus bool) (*Provider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	p := &Provider{}

	if err := p.setupTracing(ctx, cfg, res); err != nil {
		return nil, err
	}

	if err := p.setupMetrics(ctx, cfg, res, withPrometheus); err != nil {
		if p.tracerProvider != nil {
			_ = p.tracerProvider.Shutdown(ctx)
		}
		return nil, err
	}

	if err := p.initMetrics(); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *Provider) setupTracing(ctx context.Context, cfg config.OTELConfig, res *resource.Resource) error {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
	}

	if cfg.Traces.Enabled && cfg.Endpoint != "" {
		exp, err := createTraceExporter(ctx, cfg)
		if err != nil {
			return fmt.Errorf("create trace exporter: %w", err)
		}
		sampler := sdktrace.TraceIDRatioBased(cfg.Traces.SampleRate)
		opts = append(opts, sdktrace.WithBatcher(exp), sdktrace.WithSampler(sampler))
	}

	p.tracerProvider = sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(p.tracerProvider)
	p.tracer = p.tracerProvider.Tracer("nimbus")

	return nil
}

func (p *Provider) setupMetrics(ctx context.Context, cfg config.OTELConfig, res *resource.Resource, withPrometheus bool) error {
	opts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
	}

	if withPrometheus {
		p.registry = promclient.NewRegistry()
		exp, err := prometheus.New(prometheus.WithRegisterer(p.registry))
		if err != nil {
			return fmt.Errorf("create prometheus exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(exp))
	}

	if cfg.Metrics.Enabled && cfg.Endpoint != "" {
		exp, err := createMetricExporter(ctx, cfg)
		if err != nil {
			return fmt.Errorf("create metric exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)))
	}

	p.meterProvider = sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(p.meterProvider)
	p.meter = p.meterProvider.Meter("nimbus")

	return nil
}

func createTraceExporter(ctx context.Context, cfg config.OTELConfig) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return otlptracegrpc.New(ctx, opts...)
}

func createMetricExporter(ctx context.Context, cfg config.OTELConfig) (sdkmetric.Exporter, error) {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	return otlpmetricgrpc.New(ctx, opts...)
}

func (p *Provider) initMetrics() error {
	var err error

	p.operations, err = p.meter.Int64Counter(
		"nimbus.operations",
		metric.WithDescription("Orchestrated operations by outcome"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return fmt.Errorf("create operations: %w", err)
	}

	p.opDuration, err = p.meter.Float64Histogram(
		"nimbus.operation.duration",
		metric.WithDescription("Duration of orchestrated operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("create operation_duration: %w", err)
	}

	p.waitAttempts, err = p.meter.Int64Histogram(
		"nimbus.wait.attempts",
		metric.WithDescription("State observations per bounded wait"),
		metric.WithUnit("{attempt}"),
		metric.WithExplicitBucketBoundaries(1, 2, 5, 10, 20, 40, 80),
	)
	if err != nil {
		return fmt.Errorf("create wait_attempts: %w", err)
	}

	p.batchFailures, err = p.meter.Int64Counter(
		"nimbus.batch.failures",
		metric.WithDescription("Batch items that failed"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		return fmt.Errorf("create batch_failures: %w", err)
	}

	return nil
}

// Tracer returns the tracer operations are spanned with.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Handler serves the Prometheus registry. It is nil when Prometheus is disabled.
func (p *Provider) Handler() http.Handler {
	if p.registry == nil {
		return nil
	}
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// RecordOperation records one finished operation.
func (p *Provider) RecordOperation(ctx context.Context, op, status string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("status", status),
	)
	p.operations.Add(ctx, 1, attrs)
	p.opDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordWaitAttempts records how many observations a wait took.
func (p *Provider) RecordWaitAttempts(ctx context.Context, op, target string, attempts int) {
	p.waitAttempts.Record(ctx, int64(attempts), metric.WithAttributes(
		attribute.String("operation", op),
		attribute.String("target", target),
	))
}

// RecordBatchFailures records failed batch items.
func (p *Provider) RecordBatchFailures(ctx context.Context, op string, n int) {
	if n <= 0 {
		return
	}
	p.batchFailures.Add(ctx, int64(n), metric.WithAttributes(
		attribute.String("operation", op),
	))
}

// Shutdown flushes and shuts down the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown tracer: %w", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown meter: %w", err)
		}
	}
	return nil
}
