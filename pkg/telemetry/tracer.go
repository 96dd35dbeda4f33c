// Package telemetry wires OpenTelemetry tracing and Prometheus metrics
// across skillforge's components. Grounded on kadirpekel-hector's
// pkg/observability (tracer provider setup) and pkg/transport (HTTP
// metrics middleware), since tracing/metrics show up independently in
// tarsy, hector and goclaw and are treated here as ambient infrastructure.
package telemetry

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracerConfig controls whether a real stdout-exporting tracer provider is
// installed or a no-op stand-in is used (test default).
type TracerConfig struct {
	Enabled     bool
	ServiceName string
	Writer      io.Writer // destination for span output; nil defaults to io.Discard in production wiring
}

// InitGlobalTracer installs otel's global TracerProvider and returns it so
// the caller can Shutdown it on process exit.
func InitGlobalTracer(ctx context.Context, cfg TracerConfig) (trace.TracerProvider, error) {
	if !cfg.Enabled {
		tp := noop.NewTracerProvider()
		otel.SetTracerProvider(tp)
		return tp, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(cfg.Writer), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("creating stdout trace exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("building otel resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp, nil
}

// Tracer returns a named tracer from the global provider.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
