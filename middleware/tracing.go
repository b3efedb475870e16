package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Papyszoo/Modelibr-sub004/job"
)

const instrumentationName = "github.com/Papyszoo/Modelibr-sub004/middleware"

// Tracing wraps each render in an OpenTelemetry span using the global
// tracer provider.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(instrumentationName))
}

// TracingWithTracer is Tracing with an explicit tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx, span := tracer.Start(ctx, "thumbq.render",
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(
				attribute.String("thumbq.job_id", j.ID.String()),
				attribute.Int64("thumbq.asset_id", j.AssetID),
				attribute.Int("thumbq.attempt", j.AttemptCount),
			))
		defer span.End()

		err := next(ctx, j)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		span.SetStatus(codes.Ok, "")
		return nil
	}
}
