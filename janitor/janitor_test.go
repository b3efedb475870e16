package janitor

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	thumbq "github.com/Papyszoo/Modelibr-sub004"
	"github.com/Papyszoo/Modelibr-sub004/engine"
	"github.com/Papyszoo/Modelibr-sub004/job"
	"github.com/Papyszoo/Modelibr-sub004/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestParseSchedule(t *testing.T) {
	t.Parallel()

	for _, expr := range []string{"@every 1m", "@hourly", "*/5 * * * *", "0 3 * * *"} {
		if _, err := ParseSchedule(expr); err != nil {
			t.Errorf("ParseSchedule(%q) = %v", expr, err)
		}
	}
	for _, expr := range []string{"", "not a schedule", "61 * * * *"} {
		if _, err := ParseSchedule(expr); err == nil {
			t.Errorf("ParseSchedule(%q) succeeded, want error", expr)
		}
	}
}

func TestNewRejectsBadSchedules(t *testing.T) {
	t.Parallel()

	cfg := thumbq.DefaultConfig()
	cfg.SweepSchedule = "bogus"
	e, err := engine.New(memory.New(), engine.WithConfig(cfg), engine.WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	if _, err := New(e); err == nil {
		t.Error("New accepted an invalid sweep schedule")
	}
}

func TestSweepLoopRescuesStaleClaims(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	cfg := thumbq.DefaultConfig()
	cfg.LeaseTimeout = 20 * time.Millisecond
	cfg.SweepSchedule = "@every 1s"
	e, err := engine.New(memory.New(), engine.WithConfig(cfg), engine.WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	j, err := e.Enqueue(ctx, 1, "fp")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := e.Dequeue(ctx, "dead-worker"); err != nil {
		t.Fatalf("Dequeue: %v", err)
	}

	jn, err := New(e, WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	jn.Start()
	jn.Start() // idempotent
	defer jn.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := e.Get(ctx, j.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Status == job.StatusPending {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("sweep loop never requeued the stale claim")
}

func TestStopBeforeStart(t *testing.T) {
	t.Parallel()

	e, err := engine.New(memory.New(), engine.WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	jn, err := New(e)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	jn.Stop() // no-op, must not panic
}
