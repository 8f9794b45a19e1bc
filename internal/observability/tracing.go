package observability

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Tracer emits OTLP spans for the request path: one span per prompt run,
// nested spans per agent step, LLM stream, and tool execution.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	config   TraceConfig
}

// TraceConfig configures the distributed tracing behavior.
type TraceConfig struct {
	// ServiceName identifies this service in traces
	ServiceName string

	// ServiceVersion identifies the service version
	ServiceVersion string

	// Environment specifies the deployment environment (production, staging, dev)
	Environment string

	// Endpoint is the OTLP collector endpoint (e.g., "localhost:4317")
	// If empty, tracing is disabled
	Endpoint string

	// SamplingRate controls what fraction of traces are recorded (0.0 to 1.0)
	// Defaults to 1.0 if not specified
	SamplingRate float64

	// EnableInsecure disables TLS for the OTLP connection (dev/testing only)
	EnableInsecure bool
}

// NewTracer creates a tracer and a shutdown function that must be called on
// exit. An empty Endpoint yields a tracer on the global provider, which is
// a no-op unless a test or embedding process installed one.
func NewTracer(config TraceConfig) (*Tracer, func(context.Context) error) {
	if config.Endpoint == "" {
		return &Tracer{
			tracer: otel.Tracer(config.ServiceName),
			config: config,
		}, func(context.Context) error { return nil }
	}

	if config.SamplingRate == 0 {
		config.SamplingRate = 1.0
	}
	if config.ServiceName == "" {
		config.ServiceName = "relay"
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(config.Endpoint),
	}
	if config.EnableInsecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptrace.New(
		context.Background(),
		otlptracegrpc.NewClient(opts...),
	)
	if err != nil {
		// A broken collector must not take the server down with it.
		return &Tracer{
			tracer: otel.Tracer(config.ServiceName),
			config: config,
		}, func(context.Context) error { return nil }
	}

	attrs := []attribute.KeyValue{
		semconv.ServiceName(config.ServiceName),
		semconv.ServiceVersion(config.ServiceVersion),
	}
	if config.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(config.Environment))
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(attrs...),
	)
	if err != nil {
		res = resource.Default()
	}

	var sampler sdktrace.Sampler
	switch {
	case config.SamplingRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case config.SamplingRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(config.SamplingRate)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	tracer := &Tracer{
		provider: provider,
		tracer:   provider.Tracer(config.ServiceName),
		config:   config,
	}
	return tracer, provider.Shutdown
}

var (
	nopOnce   sync.Once
	nopTracer *Tracer
)

// NopTracer returns a shared tracer that records nothing. Call sites take it
// when no tracer was wired so they never have to nil-check.
func NopTracer() *Tracer {
	nopOnce.Do(func() {
		nopTracer = &Tracer{tracer: noop.NewTracerProvider().Tracer("relay")}
	})
	return nopTracer
}

func (t *Tracer) start(ctx context.Context, name string, kind trace.SpanKind, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name,
		trace.WithSpanKind(kind),
		trace.WithAttributes(attrs...),
	)
}

// TracePromptRun covers one full prompt, from gating through the final
// finish chunk. Step, LLM, and tool spans nest under it.
func (t *Tracer) TracePromptRun(ctx context.Context, agentType, promptID string) (context.Context, trace.Span) {
	return t.start(ctx, "prompt_run", trace.SpanKindServer,
		attribute.String("agent.type", agentType),
		attribute.String("prompt.id", promptID),
	)
}

// TraceAgentStep covers one LLM step of an agent.
func (t *Tracer) TraceAgentStep(ctx context.Context, agentType string, stepsRemaining int) (context.Context, trace.Span) {
	return t.start(ctx, "agent_step", trace.SpanKindInternal,
		attribute.String("agent.type", agentType),
		attribute.Int("agent.steps_remaining", stepsRemaining),
	)
}

// TraceLLMRequest covers one provider stream attempt.
func (t *Tracer) TraceLLMRequest(ctx context.Context, provider, model string) (context.Context, trace.Span) {
	return t.start(ctx, "llm."+provider, trace.SpanKindClient,
		attribute.String("llm.provider", provider),
		attribute.String("llm.model", model),
	)
}

// TraceToolExecution covers one tool dispatch.
func (t *Tracer) TraceToolExecution(ctx context.Context, toolName string) (context.Context, trace.Span) {
	return t.start(ctx, "tool."+toolName, trace.SpanKindInternal,
		attribute.String("tool.name", toolName),
	)
}

// RecordError marks the span failed and attaches the error.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
