// Package telemetry builds the OpenTelemetry providers behind the otel
// metrics provider and request tracing. Metrics always stay readable through
// the prometheus registry; an OTLP endpoint adds a push pipeline on top.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func newResource(service string) *resource.Resource {
	return resource.NewSchemaless(attribute.String("service.name", service))
}

// NewMeterProvider builds the SDK meter provider: a prometheus reader on the
// default registry, plus a periodic OTLP push reader when an endpoint is
// configured.
func NewMeterProvider(ctx context.Context, service, otlpEndpoint string) (*sdkmetric.MeterProvider, error) {
	promReader, err := otelprom.New()
	if err != nil {
		return nil, fmt.Errorf("cannot create prometheus exporter: %w", err)
	}

	opts := []sdkmetric.Option{
		sdkmetric.WithResource(newResource(service)),
		sdkmetric.WithReader(promReader),
	}

	if otlpEndpoint != "" {
		exporter, err := otlpmetrichttp.New(ctx,
			otlpmetrichttp.WithEndpoint(otlpEndpoint),
			otlpmetrichttp.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("cannot create otlp metric exporter: %w", err)
		}

		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)))
	}

	return sdkmetric.NewMeterProvider(opts...), nil
}

// NewTracerProvider builds the SDK tracer provider with a batching OTLP span
// exporter.
func NewTracerProvider(ctx context.Context, service, otlpEndpoint string) (*sdktrace.TracerProvider, error) {
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(otlpEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("cannot create otlp trace exporter: %w", err)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(newResource(service)),
	), nil
}
