package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "iris/runtime"

// Tracer returns the runtime tracer from the global provider. With no SDK
// installed this is a no-op tracer, so call sites stay unconditional.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartDispatchSpan opens a span around one event dispatch.
func StartDispatchSpan(ctx context.Context, entityID, kind string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "dispatch",
		trace.WithAttributes(
			attribute.String("entity.id", entityID),
			attribute.String("event.kind", kind),
		))
}

// StartToolSpan opens a span around one tool execution.
func StartToolSpan(ctx context.Context, entityID, tool, invocationID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "tool.execute",
		trace.WithAttributes(
			attribute.String("entity.id", entityID),
			attribute.String("tool.name", tool),
			attribute.String("invocation.id", invocationID),
		))
}
