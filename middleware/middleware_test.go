package middleware

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Papyszoo/Modelibr-sub004/job"
)

func testJob() *job.Job {
	return job.New(42, "fp")
}

func TestChainOrder(t *testing.T) {
	t.Parallel()

	var order []string
	mw := func(name string) Middleware {
		return func(ctx context.Context, j *job.Job, next Handler) error {
			order = append(order, name+":before")
			err := next(ctx, j)
			order = append(order, name+":after")
			return err
		}
	}

	h := Chain(func(context.Context, *job.Job) error {
		order = append(order, "handler")
		return nil
	}, mw("outer"), mw("inner"))

	if err := h(context.Background(), testJob()); err != nil {
		t.Fatalf("handler: %v", err)
	}

	want := []string{"outer:before", "inner:before", "handler", "inner:after", "outer:after"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestRecover(t *testing.T) {
	t.Parallel()

	h := Chain(func(context.Context, *job.Job) error {
		panic("render exploded")
	}, Recover())

	err := h(context.Background(), testJob())
	if err == nil {
		t.Fatal("panic not converted to error")
	}
}

func TestTimeout(t *testing.T) {
	t.Parallel()

	h := Chain(func(ctx context.Context, _ *job.Job) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return nil
		}
	}, Timeout(20*time.Millisecond))

	err := h(context.Background(), testJob())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want DeadlineExceeded", err)
	}
}

func TestLoggingPassesThroughError(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
	sentinel := errors.New("render failed")

	h := Chain(func(context.Context, *job.Job) error {
		return sentinel
	}, Logging(logger))

	if err := h(context.Background(), testJob()); !errors.Is(err, sentinel) {
		t.Fatalf("error = %v, want sentinel", err)
	}
}

func TestTracingRecordsSpan(t *testing.T) {
	t.Parallel()

	exporter := tracetest.NewInMemoryExporter()
	tp := trace.NewTracerProvider(trace.WithSyncer(exporter))
	defer tp.Shutdown(context.Background())

	h := Chain(func(context.Context, *job.Job) error {
		return errors.New("boom")
	}, TracingWithTracer(tp.Tracer("test")))

	_ = h(context.Background(), testJob())

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Name != "thumbq.render" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	if len(spans[0].Events) == 0 {
		t.Error("error not recorded on span")
	}
}

func TestMetricsCountsOutcomes(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	mw, err := MetricsWithMeter(mp.Meter("test"))
	if err != nil {
		t.Fatalf("MetricsWithMeter: %v", err)
	}

	ok := Chain(func(context.Context, *job.Job) error { return nil }, mw)
	bad := Chain(func(context.Context, *job.Job) error { return errors.New("boom") }, mw)

	_ = ok(context.Background(), testJob())
	_ = bad(context.Background(), testJob())

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(rm.ScopeMetrics) == 0 {
		t.Fatal("no metrics recorded")
	}
}
