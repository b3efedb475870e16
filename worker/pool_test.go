package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	thumbq "github.com/Papyszoo/Modelibr-sub004"
	"github.com/Papyszoo/Modelibr-sub004/backoff"
	"github.com/Papyszoo/Modelibr-sub004/engine"
	"github.com/Papyszoo/Modelibr-sub004/id"
	"github.com/Papyszoo/Modelibr-sub004/job"
	"github.com/Papyszoo/Modelibr-sub004/middleware"
	"github.com/Papyszoo/Modelibr-sub004/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// engineQueue adapts an engine to the pool's queue contract.
type engineQueue struct {
	eng *engine.Engine
}

func (q *engineQueue) Dequeue(ctx context.Context, workerID string) (*job.Job, error) {
	return q.eng.Dequeue(ctx, workerID)
}

func (q *engineQueue) Complete(ctx context.Context, jobID id.JobID, thumb job.Thumbnail) error {
	_, err := q.eng.Complete(ctx, jobID, thumb)
	return err
}

func (q *engineQueue) Fail(ctx context.Context, jobID id.JobID, errMsg string) error {
	_, err := q.eng.Fail(ctx, jobID, errMsg)
	return err
}

func testEngine(t *testing.T) (*engine.Engine, *engineQueue) {
	t.Helper()

	eng, err := engine.New(memory.New(),
		engine.WithConfig(thumbq.DefaultConfig()),
		engine.WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	return eng, &engineQueue{eng: eng}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// ── construction ──

func TestNewRejectsNilArguments(t *testing.T) {
	t.Parallel()

	render := func(context.Context, *job.Job) (job.Thumbnail, error) {
		return job.Thumbnail{}, nil
	}
	if _, err := New(nil, render); err == nil {
		t.Fatal("expected error for nil queue")
	}
	if _, err := New(&engineQueue{}, nil); err == nil {
		t.Fatal("expected error for nil render func")
	}
}

// ── rendering ──

func TestPoolRendersEnqueuedJobs(t *testing.T) {
	t.Parallel()

	eng, q := testEngine(t)
	ctx := context.Background()

	const n = 5
	ids := make([]id.JobID, 0, n)
	for i := range n {
		j, err := eng.Enqueue(ctx, int64(100+i), fmt.Sprintf("sha-%d", i))
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		ids = append(ids, j.ID)
	}

	pool, err := New(q, func(_ context.Context, j *job.Job) (job.Thumbnail, error) {
		return job.Thumbnail{
			Path:      fmt.Sprintf("/thumbs/%d.png", j.AssetID),
			SizeBytes: 1024,
			Width:     256,
			Height:    256,
		}, nil
	},
		WithConcurrency(3),
		WithWorkerID("render-test"),
		WithIdleBackoff(backoff.NewConstant(5*time.Millisecond)),
		WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	pool.Start()
	defer pool.Stop()

	waitFor(t, func() bool {
		for _, jobID := range ids {
			j, err := eng.Get(ctx, jobID)
			if err != nil || j.Status != job.StatusReady {
				return false
			}
		}
		return true
	})

	j, err := eng.Get(ctx, ids[0])
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if j.ThumbnailPath != "/thumbs/100.png" {
		t.Fatalf("ThumbnailPath = %q, want %q", j.ThumbnailPath, "/thumbs/100.png")
	}
	if j.Width != 256 || j.Height != 256 {
		t.Fatalf("dimensions = %dx%d, want 256x256", j.Width, j.Height)
	}
}

func TestPoolReportsRenderFailures(t *testing.T) {
	t.Parallel()

	eng, q := testEngine(t)
	ctx := context.Background()

	enq, err := eng.Enqueue(ctx, 200, "sha-broken")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	pool, err := New(q, func(context.Context, *job.Job) (job.Thumbnail, error) {
		return job.Thumbnail{}, errors.New("decoder crashed")
	},
		WithIdleBackoff(backoff.NewConstant(5*time.Millisecond)),
		WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	pool.Start()
	defer pool.Stop()

	// Attempts exhaust at the configured maximum; the job lands failed.
	waitFor(t, func() bool {
		j, err := eng.Get(ctx, enq.ID)
		return err == nil && j.Status == job.StatusFailed
	})

	j, err := eng.Get(ctx, enq.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if j.AttemptCount != eng.Config().MaxAttempts {
		t.Fatalf("AttemptCount = %d, want %d", j.AttemptCount, eng.Config().MaxAttempts)
	}
	if j.ErrorMessage != "decoder crashed" {
		t.Fatalf("ErrorMessage = %q, want %q", j.ErrorMessage, "decoder crashed")
	}
}

func TestPoolRetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	eng, q := testEngine(t)
	ctx := context.Background()

	enq, err := eng.Enqueue(ctx, 300, "sha-flaky")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	var calls atomic.Int64
	pool, err := New(q, func(context.Context, *job.Job) (job.Thumbnail, error) {
		if calls.Add(1) == 1 {
			return job.Thumbnail{}, errors.New("transient")
		}
		return job.Thumbnail{Path: "/thumbs/300.png"}, nil
	},
		WithIdleBackoff(backoff.NewConstant(5*time.Millisecond)),
		WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	pool.Start()
	defer pool.Stop()

	waitFor(t, func() bool {
		j, err := eng.Get(ctx, enq.ID)
		return err == nil && j.Status == job.StatusReady
	})

	j, err := eng.Get(ctx, enq.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if j.AttemptCount != 2 {
		t.Fatalf("AttemptCount = %d, want 2", j.AttemptCount)
	}
}

// ── middleware ──

func TestPoolAppliesMiddleware(t *testing.T) {
	t.Parallel()

	eng, q := testEngine(t)
	ctx := context.Background()

	if _, err := eng.Enqueue(ctx, 400, "sha-mw"); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	var mu sync.Mutex
	var seen []int64
	record := func(ctx context.Context, j *job.Job, next middleware.Handler) error {
		mu.Lock()
		seen = append(seen, j.AssetID)
		mu.Unlock()
		return next(ctx, j)
	}

	pool, err := New(q, func(_ context.Context, j *job.Job) (job.Thumbnail, error) {
		return job.Thumbnail{Path: "/thumbs/400.png"}, nil
	},
		WithIdleBackoff(backoff.NewConstant(5*time.Millisecond)),
		WithMiddleware(middleware.Recover(), record),
		WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	pool.Start()
	defer pool.Stop()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0
	})

	mu.Lock()
	got := seen[0]
	mu.Unlock()
	if got != 400 {
		t.Fatalf("middleware saw asset %d, want 400", got)
	}
}

func TestPoolRecoversFromPanickingRender(t *testing.T) {
	t.Parallel()

	eng, q := testEngine(t)
	ctx := context.Background()

	enq, err := eng.Enqueue(ctx, 500, "sha-panic")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	pool, err := New(q, func(context.Context, *job.Job) (job.Thumbnail, error) {
		panic("mesh loader blew up")
	},
		WithIdleBackoff(backoff.NewConstant(5*time.Millisecond)),
		WithMiddleware(middleware.Recover()),
		WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	pool.Start()
	defer pool.Stop()

	// The panic converts to a failure report instead of killing the loop.
	waitFor(t, func() bool {
		j, err := eng.Get(ctx, enq.ID)
		return err == nil && j.Status == job.StatusFailed
	})
}

// ── lifecycle ──

func TestStartStopIdempotent(t *testing.T) {
	t.Parallel()

	_, q := testEngine(t)
	pool, err := New(q, func(context.Context, *job.Job) (job.Thumbnail, error) {
		return job.Thumbnail{}, nil
	},
		WithIdleBackoff(backoff.NewConstant(5*time.Millisecond)),
		WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	pool.Stop() // stop before start is a no-op
	pool.Start()
	pool.Start() // second start is a no-op
	pool.Stop()
	pool.Stop()
}

func TestStopWaitsForInFlightJob(t *testing.T) {
	t.Parallel()

	eng, q := testEngine(t)
	ctx := context.Background()

	enq, err := eng.Enqueue(ctx, 600, "sha-slow")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	rendering := make(chan struct{})
	release := make(chan struct{})
	pool, err := New(q, func(context.Context, *job.Job) (job.Thumbnail, error) {
		close(rendering)
		<-release
		return job.Thumbnail{Path: "/thumbs/600.png"}, nil
	},
		WithIdleBackoff(backoff.NewConstant(5*time.Millisecond)),
		WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	pool.Start()
	<-rendering

	stopped := make(chan struct{})
	go func() {
		pool.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a render was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-stopped

	j, err := eng.Get(ctx, enq.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if j.Status != job.StatusReady {
		t.Fatalf("Status = %q, want %q", j.Status, job.StatusReady)
	}
}
