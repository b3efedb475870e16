package middleware

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Papyszoo/Modelibr-sub004/job"
)

// Metrics records render counts and durations on the global meter
// provider.
func Metrics() (Middleware, error) {
	return MetricsWithMeter(otel.Meter(instrumentationName))
}

// MetricsWithMeter is Metrics with an explicit meter.
func MetricsWithMeter(meter metric.Meter) (Middleware, error) {
	renders, err := meter.Int64Counter("thumbq.renders",
		metric.WithDescription("Completed render attempts, by outcome"))
	if err != nil {
		return nil, fmt.Errorf("thumbq/middleware: create render counter: %w", err)
	}
	duration, err := meter.Float64Histogram("thumbq.render.duration",
		metric.WithDescription("Render duration in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("thumbq/middleware: create duration histogram: %w", err)
	}

	return func(ctx context.Context, j *job.Job, next Handler) error {
		start := time.Now()
		err := next(ctx, j)

		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		attrs := metric.WithAttributes(attribute.String("outcome", outcome))
		renders.Add(ctx, 1, attrs)
		duration.Record(ctx, time.Since(start).Seconds(), attrs)
		return err
	}, nil
}
