package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// DB operation names recorded on datastore spans.
const (
	OpFind   = "find"
	OpInsert = "insert"
	OpUpdate = "update"
)

// WithDBSpan runs fn inside a client span describing one datastore operation.
// fn returns the number of documents it touched.
func WithDBSpan(ctx context.Context, collection, operation string, fn func(ctx context.Context) (int64, error)) error {
	tracer := otel.Tracer(instrumentationName)

	spanCtx, span := tracer.Start(ctx, "db."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.DBSystemKey.String("mongodb"),
			semconv.DBOperationKey.String(operation),
			attribute.String("db.collection", collection),
		),
	)
	defer span.End()

	count, err := fn(spanCtx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetAttributes(attribute.Int64("db.result.count", count))
	return nil
}

// WithClientSpan wraps an outbound call to a remote service in a client span.
func WithClientSpan(ctx context.Context, service, operation string, fn func(ctx context.Context) error) error {
	tracer := otel.Tracer(instrumentationName)

	spanCtx, span := tracer.Start(ctx, service+"."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("peer.service", service)),
	)
	defer span.End()

	if err := fn(spanCtx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}
