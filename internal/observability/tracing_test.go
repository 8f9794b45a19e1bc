package observability

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// recordingTracer routes spans into an in-memory recorder through the global
// provider, which a tracer without an endpoint falls back to.
func recordingTracer(t *testing.T) (*Tracer, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	tracer, shutdown := NewTracer(TraceConfig{ServiceName: "relay-test"})
	t.Cleanup(func() { _ = shutdown(context.Background()) })
	return tracer, recorder
}

func TestStepSpansNestUnderPromptRun(t *testing.T) {
	tracer, recorder := recordingTracer(t)

	ctx, runSpan := tracer.TracePromptRun(context.Background(), "coder", "p1")
	_, stepSpan := tracer.TraceAgentStep(ctx, "coder", 7)
	stepSpan.End()
	runSpan.End()

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}
	if got := spans[0].Name(); got != "agent_step" {
		t.Errorf("inner span = %q", got)
	}
	if got := spans[1].Name(); got != "prompt_run" {
		t.Errorf("outer span = %q", got)
	}
	if spans[0].Parent().SpanID() != spans[1].SpanContext().SpanID() {
		t.Error("agent_step is not a child of prompt_run")
	}
}

func TestToolAndLLMSpanNames(t *testing.T) {
	tracer, recorder := recordingTracer(t)

	_, toolSpan := tracer.TraceToolExecution(context.Background(), "web_search")
	toolSpan.End()
	_, llmSpan := tracer.TraceLLMRequest(context.Background(), "anthropic", "claude-test")
	llmSpan.End()

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}
	if got := spans[0].Name(); got != "tool.web_search" {
		t.Errorf("tool span = %q", got)
	}
	if got := spans[1].Name(); got != "llm.anthropic" {
		t.Errorf("llm span = %q", got)
	}
}

func TestRecordErrorMarksSpanFailed(t *testing.T) {
	tracer, recorder := recordingTracer(t)

	_, span := tracer.TracePromptRun(context.Background(), "coder", "p2")
	tracer.RecordError(span, errors.New("provider down"))
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("status = %v, want error", spans[0].Status().Code)
	}
}

func TestNopTracerIsSafeWithoutProvider(t *testing.T) {
	tracer := NopTracer()

	_, span := tracer.TraceAgentStep(context.Background(), "coder", 1)
	tracer.RecordError(span, errors.New("ignored"))
	span.End()

	if span.SpanContext().IsValid() {
		t.Error("nop tracer produced a recording span")
	}
}
