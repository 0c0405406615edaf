// Package telemetry wires OpenTelemetry tracing and metrics for benchmark
// runs. With no endpoint configured every instrument is a no-op.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const scope = "catan-bench"

type Shutdown func(ctx context.Context) error

// Init installs global tracer and meter providers exporting over OTLP/HTTP.
// The returned shutdown flushes both and must run before exit.
func Init(ctx context.Context, endpoint, serviceName, version string, insecure bool) (Shutdown, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create resource: %w", err)
	}

	traceOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
	metricOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(endpoint)}
	if insecure {
		traceOpts = append(traceOpts, otlptracehttp.WithInsecure())
		metricOpts = append(metricOpts, otlpmetrichttp.WithInsecure())
	}

	traceExp, err := otlptracehttp.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	metricExp, err := otlpmetrichttp.New(ctx, metricOpts...)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("telemetry: create metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(15*time.Second))),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

func Tracer() trace.Tracer { return otel.Tracer(scope) }

// Metrics holds the benchmark's instruments. A nil *Metrics records nothing.
type Metrics struct {
	decisions metric.Int64Counter
	fallbacks metric.Int64Counter
	attempts  metric.Int64Histogram
	latency   metric.Float64Histogram
	games     metric.Int64Counter
}

// NewMetrics registers instruments on mp; nil means the global provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(scope)
	var m Metrics
	var err error
	if m.decisions, err = meter.Int64Counter("bench.decisions",
		metric.WithDescription("Decisions taken, by player and outcome")); err != nil {
		return nil, fmt.Errorf("telemetry: decisions counter: %w", err)
	}
	if m.fallbacks, err = meter.Int64Counter("bench.decision.fallbacks",
		metric.WithDescription("Decisions that ended on the fallback action")); err != nil {
		return nil, fmt.Errorf("telemetry: fallback counter: %w", err)
	}
	if m.attempts, err = meter.Int64Histogram("bench.decision.attempts",
		metric.WithDescription("Model queries per decision")); err != nil {
		return nil, fmt.Errorf("telemetry: attempts histogram: %w", err)
	}
	if m.latency, err = meter.Float64Histogram("bench.decision.latency",
		metric.WithDescription("Wall time per decision"), metric.WithUnit("ms")); err != nil {
		return nil, fmt.Errorf("telemetry: latency histogram: %w", err)
	}
	if m.games, err = meter.Int64Counter("bench.games",
		metric.WithDescription("Finished games, by termination reason")); err != nil {
		return nil, fmt.Errorf("telemetry: games counter: %w", err)
	}
	return &m, nil
}

func (m *Metrics) RecordDecision(ctx context.Context, player string, fallback bool, attempts int, latency time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("player", player),
		attribute.Bool("fallback", fallback),
	)
	m.decisions.Add(ctx, 1, attrs)
	if fallback {
		m.fallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("player", player)))
	}
	m.attempts.Record(ctx, int64(attempts), attrs)
	m.latency.Record(ctx, float64(latency.Microseconds())/1000, attrs)
}

func (m *Metrics) RecordGame(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.games.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
