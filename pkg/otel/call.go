package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartCallSpan opens the span covering one live call. Agent dial and
// profile reads made with the returned context nest under it.
func StartCallSpan(ctx context.Context, sessionID, callSid, streamSid string) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, "call.session",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("call.session_id", sessionID),
			attribute.String("call.sid", callSid),
			attribute.String("call.stream_sid", streamSid),
		),
	)
}

// EndCallSpan records why the call ended and closes span. A nil span is a no-op.
func EndCallSpan(span trace.Span, reason string, err error) {
	if span == nil {
		return
	}
	span.SetAttributes(attribute.String("call.end_reason", reason))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
