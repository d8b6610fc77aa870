package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope for every span the controller
// emits, both the HTTP server spans and the pipeline spans such as
// session.transcribe.
const tracerName = "github.com/KpmgFuture-Academy/fa06-fin-aicc-sub001"

// StartSpan opens a span on the globally registered tracer provider. The
// caller owns the returned span and must End it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// CorrelationID returns the trace id of the span in ctx, or "" outside a
// recorded trace. The trace id is what support quotes when chasing a call:
// it is echoed to the client as X-Correlation-ID and stamped on every log
// line, so one identifier links the caller's stream, the dialog backend
// call, and the handover record.
func CorrelationID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger enriched with the trace_id and span_id
// of the span in ctx. Outside a trace it is just [slog.Default], so call
// sites in the frame loop can use it unconditionally.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	return slog.Default().With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
