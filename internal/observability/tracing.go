package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartBatchSpan starts the span wrapping one batch fetch.
func StartBatchSpan(ctx context.Context, relationType string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer("relload/loader")
	ctx, span := tracer.Start(ctx, "relload.batch."+relationType)
	span.SetAttributes(attribute.String("relload.relation.type", relationType))
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

// FinishBatchSpan records the outcome and ends span.
func FinishBatchSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("relload.batch.outcome", outcome))
	span.End()
}
