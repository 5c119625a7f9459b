package tracing

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// InitTracing installs a global tracer provider exporting to an OTLP/HTTP
// endpoint (host:port). An empty endpoint leaves the no-op provider in place.
func InitTracing(ctx context.Context, endpoint, serviceVersion string) (func(), error) {
	if endpoint == "" {
		slog.Debug("tracing disabled: no OTLP endpoint configured")
		return func() {}, nil
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		slog.Warn("failed to create OTLP exporter, tracing disabled", slog.Any("error", err))
		return func() {}, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName("transit-planner"),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			slog.Error("error shutting down tracer provider", slog.Any("error", err))
		}
	}, nil
}

// RecordError records err on span and marks the span as failed.
func RecordError(span trace.Span, err error, errorType string) {
	span.RecordError(err, trace.WithAttributes(
		attribute.String("error.type", errorType),
	))
	span.SetStatus(codes.Error, err.Error())
}
