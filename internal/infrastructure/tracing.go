package infrastructure

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const (
	// ServiceName identifies this fabric's authority process in trace output.
	ServiceName = "license-authority"
	// TracerName is the tracer used for every authority HTTP span.
	TracerName = "license-authority"
)

// InitializeTracing wires a minimal stdout trace exporter, matching the
// teacher's own opportunistic use of stdouttrace rather than a full
// collector pipeline — this fabric emits spans for local debugging, not for
// shipping to an APM backend.
func InitializeTracing(ctx context.Context) (*sdktrace.TracerProvider, trace.Tracer, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, nil, fmt.Errorf("create stdout trace exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", ServiceName),
	))
	if err != nil {
		return nil, nil, fmt.Errorf("build trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp, tp.Tracer(TracerName), nil
}

// ShutdownTracing flushes and stops the tracer provider; safe to call with a nil provider.
func ShutdownTracing(ctx context.Context, tp *sdktrace.TracerProvider) error {
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}
