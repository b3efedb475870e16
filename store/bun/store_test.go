//go:build integration

package bun

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	thumbq "github.com/Papyszoo/Modelibr-sub004"
	"github.com/Papyszoo/Modelibr-sub004/event"
	"github.com/Papyszoo/Modelibr-sub004/job"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("thumbq"),
		tcpostgres.WithUsername("thumbq"),
		tcpostgres.WithPassword("thumbq"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute)))
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() { _ = ctr.Terminate(ctx) })

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}

	s, err := New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestJobLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	j := job.New(42, "sha256:abc")
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	claimed, err := s.ClaimJob(ctx, j.ID, j.Version, "worker-1")
	if err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}
	if claimed.Status != job.StatusProcessing || claimed.AttemptCount != 1 || claimed.Version != 2 {
		t.Fatalf("claim result: status=%q attempts=%d version=%d", claimed.Status, claimed.AttemptCount, claimed.Version)
	}
	if _, err := s.ClaimJob(ctx, j.ID, j.Version, "worker-2"); !errors.Is(err, thumbq.ErrClaimConflict) {
		t.Errorf("stale claim error = %v, want ErrClaimConflict", err)
	}

	if err := s.AppendEvent(ctx, event.New(j.ID, event.TypeClaimed, "claimed by worker-1")); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	done, err := s.CompleteJob(ctx, j.ID, job.Thumbnail{Path: "/thumbs/42.png", SizeBytes: 2048, Width: 256, Height: 256})
	if err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	if done.Status != job.StatusReady || done.ThumbnailPath != "/thumbs/42.png" {
		t.Fatalf("complete result: %+v", done)
	}
	if _, err := s.CompleteJob(ctx, j.ID, job.Thumbnail{}); !errors.Is(err, thumbq.ErrInvalidTransition) {
		t.Errorf("double complete error = %v, want ErrInvalidTransition", err)
	}

	ready, err := s.LatestReadyJobForAsset(ctx, 42)
	if err != nil {
		t.Fatalf("LatestReadyJobForAsset: %v", err)
	}
	if ready.ID != j.ID {
		t.Errorf("ready job = %v, want %v", ready.ID, j.ID)
	}

	evts, err := s.ListEventsByJob(ctx, j.ID, event.ListOpts{})
	if err != nil {
		t.Fatalf("ListEventsByJob: %v", err)
	}
	if len(evts) != 1 || evts[0].Type != event.TypeClaimed {
		t.Fatalf("events = %v", evts)
	}
}

func TestFailJobRetryThenExhaust(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	j := job.New(7, "fp")
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	cur := j
	for attempt := 1; attempt <= 2; attempt++ {
		if _, err := s.ClaimJob(ctx, cur.ID, cur.Version, "w"); err != nil {
			t.Fatalf("claim %d: %v", attempt, err)
		}
		var err error
		cur, err = s.FailJob(ctx, cur.ID, "boom", 2)
		if err != nil {
			t.Fatalf("fail %d: %v", attempt, err)
		}
	}
	if cur.Status != job.StatusFailed || cur.ErrorMessage != "boom" {
		t.Errorf("got %q/%q, want failed/boom", cur.Status, cur.ErrorMessage)
	}
}
