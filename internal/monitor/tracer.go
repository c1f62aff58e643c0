package monitor

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	oteltrace "go.opentelemetry.io/otel/trace"

	"storefront/internal/config"
)

// Tracer wraps the OpenTelemetry tracer used by the pipeline
type Tracer struct {
	enabled  bool
	provider *sdktrace.TracerProvider
	tracer   oteltrace.Tracer
}

// NewTracer creates a tracer. When tracing is disabled spans come from the
// global no-op provider.
func NewTracer(cfg config.TracingConfig, version string) (*Tracer, error) {
	name := cfg.ServiceName
	if name == "" {
		name = "storefront"
	}
	if !cfg.Enabled {
		return &Tracer{tracer: otel.Tracer(name)}, nil
	}

	exporter, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.Endpoint)))
	if err != nil {
		return nil, fmt.Errorf("failed to create jaeger exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(name),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	rate := cfg.SampleRate
	if rate <= 0 {
		rate = 1.0
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Tracer{
		enabled:  true,
		provider: provider,
		tracer:   provider.Tracer(name),
	}, nil
}

// StartSpan starts a span; a nil tracer returns the span already in ctx
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	if t == nil || t.tracer == nil {
		return ctx, oteltrace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, name, oteltrace.WithAttributes(attrs...))
}

// StartCheckoutSpan starts the span covering one checkout request
func (t *Tracer) StartCheckoutSpan(ctx context.Context, userID uint64) (context.Context, oteltrace.Span) {
	return t.StartSpan(ctx, "checkout", attribute.Int64("storefront.user_id", int64(userID)))
}

// StartFinalizeSpan starts the span covering one Finalize run
func (t *Tracer) StartFinalizeSpan(ctx context.Context, orderID string, receiveCount int) (context.Context, oteltrace.Span) {
	return t.StartSpan(ctx, "order.finalize",
		attribute.String("storefront.order_id", orderID),
		attribute.Int("messaging.receive_count", receiveCount),
	)
}

// StartQueueSpan starts a span for a queue operation
func (t *Tracer) StartQueueSpan(ctx context.Context, operation, queueName string) (context.Context, oteltrace.Span) {
	return t.StartSpan(ctx, fmt.Sprintf("queue.%s", operation),
		attribute.String("messaging.operation", operation),
		attribute.String("messaging.destination", queueName),
	)
}

// RecordError marks span as failed
func RecordError(span oteltrace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// TraceID returns the trace id of the span in ctx, empty when there is none
func TraceID(ctx context.Context) string {
	sc := oteltrace.SpanFromContext(ctx).SpanContext()
	if sc.IsValid() {
		return sc.TraceID().String()
	}
	return ""
}

// Shutdown flushes pending spans
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t == nil || !t.enabled || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}
