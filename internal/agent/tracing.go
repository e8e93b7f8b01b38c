package agent

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sageagent/sage/internal/providers"
	"github.com/sageagent/sage/internal/tools"
)

// tracer is Sage's one instrumentation point for the step loop, grounded in
// the teacher's per-call span shape (internal/agent/loop_tracing.go's
// emitLLMSpan/emitToolSpan) but emitted through the standard OTel SDK
// instead of a bespoke trace/span store table: a process with no configured
// OTLP endpoint runs with the SDK's no-op exporter and pays for the span
// bookkeeping only, never for a network call.
var tracer = otel.Tracer("github.com/sageagent/sage/internal/agent")

// startLLMSpan opens a span around one LLM chat call within a step.
func startLLMSpan(ctx context.Context, model string, step int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "llm.chat",
		trace.WithAttributes(
			attribute.String("sage.model", model),
			attribute.Int("sage.step", step),
		),
	)
}

// endLLMSpan closes span with the call's outcome.
func endLLMSpan(span trace.Span, usage providers.Usage, err error) {
	span.SetAttributes(
		attribute.Int("sage.prompt_tokens", usage.PromptTokens),
		attribute.Int("sage.completion_tokens", usage.CompletionTokens),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// startToolSpan opens a span around one tool execution within a step.
func startToolSpan(ctx context.Context, toolName string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "tool.call",
		trace.WithAttributes(attribute.String("sage.tool", toolName)),
	)
}

// endToolSpan closes span with the tool's result.
func endToolSpan(span trace.Span, result *tools.Result, start time.Time) {
	span.SetAttributes(
		attribute.Bool("sage.tool_error", result != nil && result.IsError),
		attribute.Int64("sage.duration_ms", time.Since(start).Milliseconds()),
	)
	if result != nil && result.IsError {
		span.SetStatus(codes.Error, result.ForLLM)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// startStepSpan opens the parent span for one full step-loop iteration,
// the root that LLM/tool spans within the step nest under via ctx
// propagation (tracer.Start reads the parent span out of ctx itself).
func startStepSpan(ctx context.Context, sessionKey string, step int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "agent.step",
		trace.WithAttributes(
			attribute.String("sage.session_key", sessionKey),
			attribute.Int("sage.step", step),
		),
	)
}
