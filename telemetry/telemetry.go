// Package telemetry wires up the daemon's OpenTelemetry tracing and
// metrics. Traces are exported over OTLP/HTTP only when an endpoint is
// configured; without one no trace exporter is installed. Metrics are
// always aggregated in memory by the SDK meter provider and are never
// exported. Neither changes any reply — this is purely additive to
// correctness.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Config controls whether telemetry export is enabled.
type Config struct {
	ServiceName  string
	OTLPEndpoint string // host:port; empty disables export
}

// Provider bundles the tracer/meter and the request-scoped instruments
// the server records against.
type Provider struct {
	Tracer          trace.Tracer
	Meter           metric.Meter
	RequestCounter  metric.Int64Counter
	RequestDuration metric.Float64Histogram
	RescanCounter   metric.Int64Counter
}

// Shutdown flushes and releases any exporter resources. It is always
// safe to call, even when telemetry export was never enabled.
type Shutdown func(context.Context) error

// Setup installs the tracer/meter providers described by cfg and returns
// instruments the server and sampler record against.
func Setup(ctx context.Context, cfg Config) (*Provider, Shutdown, error) {
	name := cfg.ServiceName
	if name == "" {
		name = "qnx-rpm-server"
	}

	var shutdown Shutdown = func(context.Context) error { return nil }

	if cfg.OTLPEndpoint != "" {
		exp, err := otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
			otlptracehttp.WithInsecure(),
		)
		if err != nil {
			return nil, nil, err
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
		otel.SetTracerProvider(tp)
		shutdown = tp.Shutdown
	}

	// The metric SDK aggregates in-memory regardless of whether a
	// remote exporter is configured; a periodic reader can be attached
	// later without touching call sites that already record against
	// these instruments.
	mp := sdkmetric.NewMeterProvider()
	otel.SetMeterProvider(mp)

	tracer := otel.Tracer(name)
	meter := otel.Meter(name)

	reqCounter, err := meter.Int64Counter("rpm_server_requests_total")
	if err != nil {
		return nil, nil, err
	}
	reqDuration, err := meter.Float64Histogram("rpm_server_request_duration_ms")
	if err != nil {
		return nil, nil, err
	}
	rescanCounter, err := meter.Int64Counter("rpm_server_rescans_total")
	if err != nil {
		return nil, nil, err
	}

	prevShutdown := shutdown
	shutdown = func(ctx context.Context) error {
		if err := prevShutdown(ctx); err != nil {
			return err
		}
		return mp.Shutdown(ctx)
	}

	return &Provider{
		Tracer:          tracer,
		Meter:           meter,
		RequestCounter:  reqCounter,
		RequestDuration: reqDuration,
		RescanCounter:   rescanCounter,
	}, shutdown, nil
}
