package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// TraceConfig configures the tracer provider.
type TraceConfig struct {
	ServiceName string
	Environment string
	// SamplingRate is the fraction of traces recorded (0.0–1.0).
	// Defaults to 1.0.
	SamplingRate float64
	// Exporter receives finished spans. Nil leaves spans unexported
	// (spans are still recorded, which is what tests rely on).
	Exporter sdktrace.SpanExporter
}

// Tracer wraps an OpenTelemetry tracer scoped to this service.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracer builds and globally registers a tracer provider. The
// returned shutdown func flushes and stops the provider.
func NewTracer(cfg TraceConfig) (*Tracer, func(context.Context) error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "agentcore"
	}
	if cfg.SamplingRate <= 0 || cfg.SamplingRate > 1 {
		cfg.SamplingRate = 1.0
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("deployment.environment", cfg.Environment),
	)

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRate))),
	}
	if cfg.Exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(cfg.Exporter))
	}

	provider := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)

	t := &Tracer{
		provider: provider,
		tracer:   provider.Tracer(cfg.ServiceName),
	}
	return t, provider.Shutdown
}

// StartTurn opens a span for one conversation turn.
func (t *Tracer) StartTurn(ctx context.Context, ownerScope, stimulusKind string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "agent.turn",
		trace.WithAttributes(
			attribute.String("agent.owner_scope", ownerScope),
			attribute.String("agent.stimulus", stimulusKind),
		))
}

// StartToolCall opens a span for one tool execution nested under the
// turn span already in ctx.
func (t *Tracer) StartToolCall(ctx context.Context, toolName, effectClass string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "agent.tool_call",
		trace.WithAttributes(
			attribute.String("tool.name", toolName),
			attribute.String("tool.effect_class", effectClass),
		))
}

// StartProviderStream opens a span for one provider stream attempt.
func (t *Tracer) StartProviderStream(ctx context.Context, provider, model string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "provider.stream",
		trace.WithAttributes(
			attribute.String("llm.provider", provider),
			attribute.String("llm.model", model),
		))
}

// EndWithError records err on span (when non-nil) and ends it.
func EndWithError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
