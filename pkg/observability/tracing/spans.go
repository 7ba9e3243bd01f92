// Package tracing provides OpenTelemetry spans for document store operations.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SpanOperation represents a traced operation type.
type SpanOperation string

const (
	SpanOperationInsert    SpanOperation = "db.insert"
	SpanOperationQuery     SpanOperation = "db.query"
	SpanOperationUpdate    SpanOperation = "db.update"
	SpanOperationDelete    SpanOperation = "db.delete"
	SpanOperationAggregate SpanOperation = "db.aggregate"
	SpanOperationTx        SpanOperation = "db.transaction"
)

// StartDatabaseSpan creates a new client span for a database operation,
// tagged with the operation type and target collection.
func StartDatabaseSpan(ctx context.Context, operation SpanOperation, collection string) (context.Context, trace.Span) {
	tracer := otel.Tracer("docstore")

	spanName := fmt.Sprintf("DB %s", operation)
	if collection != "" {
		spanName = fmt.Sprintf("DB %s %s", operation, collection)
	}

	ctx, span := tracer.Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("db.system", "mongodb"),
		attribute.String("db.operation", string(operation)),
		attribute.String("db.collection", collection),
	)
	return ctx, span
}

// EndSpan finishes the span, recording the error outcome when non-nil.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
