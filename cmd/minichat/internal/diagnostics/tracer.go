// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package diagnostics

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// DefaultServiceName is the service.name resource attribute.
const DefaultServiceName = "minichat"

// -----------------------------------------------------------------------------
// Tracer Interface
// -----------------------------------------------------------------------------

// Tracer wraps span creation for readiness steps.
type Tracer interface {
	// StartSpan starts a span and returns a finish function. Passing a
	// non-nil error to finish marks the span failed.
	//
	// # Examples
	//
	//	ctx, finish := tracer.StartSpan(ctx, "readiness.connect", map[string]string{"db": name})
	//	err := verify(ctx)
	//	finish(err)
	StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, func(error))

	// TraceID returns the active trace ID, or "" when there is none.
	TraceID(ctx context.Context) string

	// Shutdown flushes pending spans.
	Shutdown(ctx context.Context) error
}

// -----------------------------------------------------------------------------
// NoOpTracer
// -----------------------------------------------------------------------------

// NoOpTracer records nothing.
type NoOpTracer struct{}

// NewNoOpTracer creates a tracer that discards spans.
func NewNoOpTracer() *NoOpTracer { return &NoOpTracer{} }

func (t *NoOpTracer) StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, func(error)) {
	return ctx, func(error) {}
}

func (t *NoOpTracer) TraceID(ctx context.Context) string { return "" }

func (t *NoOpTracer) Shutdown(ctx context.Context) error { return nil }

// -----------------------------------------------------------------------------
// OTelTracer
// -----------------------------------------------------------------------------

// OTelTracerConfig configures the OTLP exporter.
type OTelTracerConfig struct {
	// ServiceName defaults to "minichat".
	ServiceName string

	// Endpoint is the collector's gRPC address. Default "localhost:4317".
	Endpoint string

	// Insecure disables TLS on the collector connection.
	Insecure bool
}

// OTelTracer creates spans through an OpenTelemetry SDK provider.
type OTelTracer struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
}

// NewOTelTracer exports spans over OTLP/gRPC.
//
// # Description
//
// Spans are batched. The provider is installed as the otel global together
// with the W3C trace-context propagator. Shutdown must be called before exit
// or the final batch is lost.
func NewOTelTracer(ctx context.Context, config OTelTracerConfig) (*OTelTracer, error) {
	if config.ServiceName == "" {
		config.ServiceName = DefaultServiceName
	}
	if config.Endpoint == "" {
		config.Endpoint = "localhost:4317"
	}

	var dialOpts []grpc.DialOption
	if config.Insecure {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	conn, err := grpc.NewClient(config.Endpoint, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := newResource(ctx, config.ServiceName)
	if err != nil {
		return nil, err
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return NewOTelTracerFromProvider(provider, config.ServiceName), nil
}

// NewStdoutTracer writes finished spans as JSON to w. Spans are exported
// synchronously, which suits a one-shot startup check.
func NewStdoutTracer(ctx context.Context, w io.Writer) (*OTelTracer, error) {
	if w == nil {
		w = os.Stderr
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
	}
	res, err := newResource(ctx, DefaultServiceName)
	if err != nil {
		return nil, err
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSyncer(exporter),
	)
	return NewOTelTracerFromProvider(provider, DefaultServiceName), nil
}

// NewOTelTracerFromProvider wraps an existing provider.
func NewOTelTracerFromProvider(provider *sdktrace.TracerProvider, serviceName string) *OTelTracer {
	if serviceName == "" {
		serviceName = DefaultServiceName
	}
	return &OTelTracer{
		tracer:   provider.Tracer(serviceName),
		provider: provider,
	}
}

func newResource(ctx context.Context, serviceName string) (*resource.Resource, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			attribute.String("deployment.environment", environment()),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

func (t *OTelTracer) StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, func(error)) {
	otelAttrs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		otelAttrs = append(otelAttrs, attribute.String(k, v))
	}

	ctx, span := t.tracer.Start(ctx, name,
		trace.WithAttributes(otelAttrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)

	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

func (t *OTelTracer) TraceID(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// Shutdown flushes spans and releases the exporter.
func (t *OTelTracer) Shutdown(ctx context.Context) error {
	if t.provider != nil {
		return t.provider.Shutdown(ctx)
	}
	return nil
}

func environment() string {
	if env := os.Getenv("MINICHAT_ENV"); env != "" {
		return env
	}
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		return env
	}
	return "development"
}

// -----------------------------------------------------------------------------
// Factory Function
// -----------------------------------------------------------------------------

// TracingConfig selects a tracer.
type TracingConfig struct {
	// Endpoint is an OTLP collector address. Falls back to OTEL_EXPORTER_OTLP_ENDPOINT.
	Endpoint string

	// Stdout writes spans to Writer instead of a collector.
	Stdout bool
	Writer io.Writer
}

// NewDefaultTracer returns the stdout tracer when requested, the OTLP tracer
// when an endpoint is configured, and the no-op tracer otherwise.
func NewDefaultTracer(ctx context.Context, cfg TracingConfig) (Tracer, error) {
	if cfg.Stdout {
		return NewStdoutTracer(ctx, cfg.Writer)
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if endpoint == "" {
		return NewNoOpTracer(), nil
	}
	return NewOTelTracer(ctx, OTelTracerConfig{
		ServiceName: DefaultServiceName,
		Endpoint:    endpoint,
		Insecure:    os.Getenv("OTEL_INSECURE") != "false",
	})
}

var (
	_ Tracer = (*NoOpTracer)(nil)
	_ Tracer = (*OTelTracer)(nil)
)
