package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	thumbq "github.com/Papyszoo/Modelibr-sub004"
	"github.com/Papyszoo/Modelibr-sub004/event"
	"github.com/Papyszoo/Modelibr-sub004/job"
)

func enqueue(t *testing.T, s *Store, assetID int64) *job.Job {
	t.Helper()
	j := job.New(assetID, "fp")
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	return j
}

func claim(t *testing.T, s *Store, j *job.Job, owner string) *job.Job {
	t.Helper()
	claimed, err := s.ClaimJob(context.Background(), j.ID, j.Version, owner)
	if err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}
	return claimed
}

func TestEnqueueAndGet(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := enqueue(t, s, 42)

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != job.StatusPending {
		t.Errorf("Status = %q, want %q", got.Status, job.StatusPending)
	}
	if got.Version != 1 {
		t.Errorf("Version = %d, want 1", got.Version)
	}
	if got.AttemptCount != 0 {
		t.Errorf("AttemptCount = %d, want 0", got.AttemptCount)
	}

	// The returned struct is a copy.
	got.Status = job.StatusFailed
	again, _ := s.GetJob(ctx, j.ID)
	if again.Status != job.StatusPending {
		t.Error("mutating a returned job leaked into the store")
	}

	if err := s.EnqueueJob(ctx, j); !errors.Is(err, thumbq.ErrJobAlreadyExists) {
		t.Errorf("duplicate enqueue error = %v, want ErrJobAlreadyExists", err)
	}
}

func TestGetJobNotFound(t *testing.T) {
	t.Parallel()
	s := New()

	_, err := s.GetJob(context.Background(), job.New(1, "fp").ID)
	if !errors.Is(err, thumbq.ErrJobNotFound) {
		t.Errorf("error = %v, want ErrJobNotFound", err)
	}
}

func TestClaimJob(t *testing.T) {
	t.Parallel()
	s := New()
	j := enqueue(t, s, 1)

	claimed := claim(t, s, j, "worker-1")
	if claimed.Status != job.StatusProcessing {
		t.Errorf("Status = %q, want %q", claimed.Status, job.StatusProcessing)
	}
	if claimed.AttemptCount != 1 {
		t.Errorf("AttemptCount = %d, want 1", claimed.AttemptCount)
	}
	if claimed.Version != 2 {
		t.Errorf("Version = %d, want 2", claimed.Version)
	}
	if claimed.ClaimOwner != "worker-1" || claimed.ClaimedAt == nil {
		t.Errorf("claim fields not set: owner=%q claimedAt=%v", claimed.ClaimOwner, claimed.ClaimedAt)
	}

	// Second claim against the stale version loses the race.
	_, err := s.ClaimJob(context.Background(), j.ID, j.Version, "worker-2")
	if !errors.Is(err, thumbq.ErrClaimConflict) {
		t.Errorf("stale-version claim error = %v, want ErrClaimConflict", err)
	}
}

func TestClaimTerminalJob(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	j := enqueue(t, s, 1)
	claimed := claim(t, s, j, "w")

	done, err := s.CompleteJob(ctx, j.ID, job.Thumbnail{Path: "t.png"})
	if err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}

	_, err = s.ClaimJob(ctx, j.ID, done.Version, "w2")
	if !errors.Is(err, thumbq.ErrInvalidTransition) {
		t.Errorf("claim of ready job error = %v, want ErrInvalidTransition", err)
	}
	_ = claimed
}

func TestCompleteJob(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	j := enqueue(t, s, 42)
	claim(t, s, j, "worker-1")

	thumb := job.Thumbnail{Path: "/thumbs/42.png", SizeBytes: 2048, Width: 256, Height: 256}
	done, err := s.CompleteJob(ctx, j.ID, thumb)
	if err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	if done.Status != job.StatusReady {
		t.Errorf("Status = %q, want %q", done.Status, job.StatusReady)
	}
	if done.ThumbnailPath != thumb.Path || done.SizeBytes != thumb.SizeBytes ||
		done.Width != thumb.Width || done.Height != thumb.Height {
		t.Errorf("thumbnail metadata not recorded: %+v", done)
	}
	if done.ClaimOwner != "" || done.ClaimedAt != nil {
		t.Error("claim fields not cleared on completion")
	}

	// Completing twice is an invalid transition.
	_, err = s.CompleteJob(ctx, j.ID, thumb)
	if !errors.Is(err, thumbq.ErrInvalidTransition) {
		t.Errorf("double complete error = %v, want ErrInvalidTransition", err)
	}
}

func TestCompletePendingJob(t *testing.T) {
	t.Parallel()
	s := New()
	j := enqueue(t, s, 1)

	_, err := s.CompleteJob(context.Background(), j.ID, job.Thumbnail{Path: "t.png"})
	if !errors.Is(err, thumbq.ErrInvalidTransition) {
		t.Errorf("complete of pending job error = %v, want ErrInvalidTransition", err)
	}
}

func TestFailJobRetries(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	j := enqueue(t, s, 1)
	claim(t, s, j, "w")

	// First failure with budget left goes back to pending.
	failed, err := s.FailJob(ctx, j.ID, "render crashed", 3)
	if err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	if failed.Status != job.StatusPending {
		t.Errorf("Status = %q, want %q", failed.Status, job.StatusPending)
	}
	if failed.AttemptCount != 1 {
		t.Errorf("AttemptCount = %d, want 1 (counted at claim, kept on retry)", failed.AttemptCount)
	}
	if failed.ErrorMessage != "" || failed.ClaimOwner != "" || failed.ClaimedAt != nil {
		t.Errorf("retryable failure must clear error and claim fields: %+v", failed)
	}
}

func TestFailJobExhaustsBudget(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	j := enqueue(t, s, 1)
	cur := j

	const maxAttempts = 3
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		claimed, err := s.ClaimJob(ctx, cur.ID, cur.Version, "w")
		if err != nil {
			t.Fatalf("claim %d: %v", attempt, err)
		}
		if claimed.AttemptCount != attempt {
			t.Fatalf("AttemptCount = %d, want %d", claimed.AttemptCount, attempt)
		}
		cur, err = s.FailJob(ctx, cur.ID, "boom", maxAttempts)
		if err != nil {
			t.Fatalf("fail %d: %v", attempt, err)
		}
	}

	if cur.Status != job.StatusFailed {
		t.Errorf("Status = %q, want %q after %d attempts", cur.Status, job.StatusFailed, maxAttempts)
	}
	if cur.ErrorMessage != "boom" {
		t.Errorf("ErrorMessage = %q, want %q", cur.ErrorMessage, "boom")
	}
}

func TestFailNonProcessingJob(t *testing.T) {
	t.Parallel()
	s := New()
	j := enqueue(t, s, 1)

	_, err := s.FailJob(context.Background(), j.ID, "boom", 3)
	if !errors.Is(err, thumbq.ErrInvalidTransition) {
		t.Errorf("fail of pending job error = %v, want ErrInvalidTransition", err)
	}
}

func TestMarkJobFailed(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	j := enqueue(t, s, 1)

	failed, err := s.MarkJobFailed(ctx, j.ID, j.Version, "poison")
	if err != nil {
		t.Fatalf("MarkJobFailed: %v", err)
	}
	if failed.Status != job.StatusFailed || failed.ErrorMessage != "poison" {
		t.Errorf("got %q/%q, want failed/poison", failed.Status, failed.ErrorMessage)
	}

	_, err = s.MarkJobFailed(ctx, j.ID, j.Version, "again")
	if !errors.Is(err, thumbq.ErrClaimConflict) {
		t.Errorf("stale-version mark error = %v, want ErrClaimConflict", err)
	}
}

func TestRequeueJob(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	j := enqueue(t, s, 1)
	claimed := claim(t, s, j, "w")

	requeued, err := s.RequeueJob(ctx, j.ID, claimed.Version)
	if err != nil {
		t.Fatalf("RequeueJob: %v", err)
	}
	if requeued.Status != job.StatusPending {
		t.Errorf("Status = %q, want %q", requeued.Status, job.StatusPending)
	}
	if requeued.AttemptCount != 1 {
		t.Errorf("AttemptCount = %d, want 1", requeued.AttemptCount)
	}
	if requeued.ClaimOwner != "" || requeued.ClaimedAt != nil {
		t.Error("claim fields not cleared on requeue")
	}

	// Requeue keyed on a stale version loses.
	_, err = s.RequeueJob(ctx, j.ID, claimed.Version)
	if !errors.Is(err, thumbq.ErrClaimConflict) {
		t.Errorf("stale requeue error = %v, want ErrClaimConflict", err)
	}
}

func TestNextEligibleJobsOrderAndLeases(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	oldest := enqueue(t, s, 1)
	middle := enqueue(t, s, 2)
	newest := enqueue(t, s, 3)

	// Make creation times deterministic.
	s.mu.Lock()
	base := time.Now().UTC().Add(-time.Hour)
	s.jobs[oldest.ID].CreatedAt = base
	s.jobs[middle.ID].CreatedAt = base.Add(time.Minute)
	s.jobs[newest.ID].CreatedAt = base.Add(2 * time.Minute)
	s.mu.Unlock()

	// Claim the middle job and expire its lease.
	claimed := claim(t, s, middle, "w")
	expired := time.Now().UTC().Add(-10 * time.Minute)
	s.mu.Lock()
	s.jobs[middle.ID].ClaimedAt = &expired
	s.mu.Unlock()

	eligible, err := s.NextEligibleJobs(ctx, time.Now().UTC().Add(-5*time.Minute), 10)
	if err != nil {
		t.Fatalf("NextEligibleJobs: %v", err)
	}
	if len(eligible) != 3 {
		t.Fatalf("len = %d, want 3 (two pending plus one expired lease)", len(eligible))
	}
	if eligible[0].ID != oldest.ID || eligible[1].ID != middle.ID || eligible[2].ID != newest.ID {
		t.Errorf("wrong order: %v, %v, %v", eligible[0].ID, eligible[1].ID, eligible[2].ID)
	}

	// A live claim is not eligible.
	_, err = s.RequeueJob(ctx, middle.ID, claimed.Version)
	if err != nil {
		t.Fatalf("RequeueJob: %v", err)
	}
	fresh := claim(t, s, newest, "w2")
	_ = fresh
	eligible, err = s.NextEligibleJobs(ctx, time.Now().UTC().Add(-5*time.Minute), 10)
	if err != nil {
		t.Fatalf("NextEligibleJobs: %v", err)
	}
	for _, e := range eligible {
		if e.ID == newest.ID {
			t.Error("job with a live claim listed as eligible")
		}
	}
}

func TestStaleJobs(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := enqueue(t, s, 1)
	claim(t, s, j, "w")

	stale, err := s.StaleJobs(ctx, time.Now().UTC().Add(-time.Minute), 10)
	if err != nil {
		t.Fatalf("StaleJobs: %v", err)
	}
	if len(stale) != 0 {
		t.Fatalf("fresh claim reported stale")
	}

	expired := time.Now().UTC().Add(-10 * time.Minute)
	s.mu.Lock()
	s.jobs[j.ID].ClaimedAt = &expired
	s.mu.Unlock()

	stale, err = s.StaleJobs(ctx, time.Now().UTC().Add(-time.Minute), 10)
	if err != nil {
		t.Fatalf("StaleJobs: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != j.ID {
		t.Fatalf("stale = %v, want exactly %v", stale, j.ID)
	}
}

func TestLatestJobForAsset(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	first := enqueue(t, s, 42)
	second := enqueue(t, s, 42)
	enqueue(t, s, 99)

	s.mu.Lock()
	s.jobs[first.ID].CreatedAt = time.Now().UTC().Add(-time.Hour)
	s.jobs[second.ID].CreatedAt = time.Now().UTC()
	s.mu.Unlock()

	latest, err := s.LatestJobForAsset(ctx, 42)
	if err != nil {
		t.Fatalf("LatestJobForAsset: %v", err)
	}
	if latest.ID != second.ID {
		t.Errorf("latest = %v, want %v", latest.ID, second.ID)
	}

	_, err = s.LatestJobForAsset(ctx, 7)
	if !errors.Is(err, thumbq.ErrJobNotFound) {
		t.Errorf("unknown asset error = %v, want ErrJobNotFound", err)
	}
}

func TestLatestJobForAssetIDTiebreak(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	a := enqueue(t, s, 42)
	b := enqueue(t, s, 42)

	// Identical enqueue timestamps: the greater (later-minted, TypeIDs
	// are K-sortable) ID wins, like ORDER BY created_at DESC, id DESC.
	at := time.Now().UTC()
	s.mu.Lock()
	s.jobs[a.ID].CreatedAt = at
	s.jobs[b.ID].CreatedAt = at
	s.mu.Unlock()

	want := a.ID
	if b.ID.String() > a.ID.String() {
		want = b.ID
	}

	latest, err := s.LatestJobForAsset(ctx, 42)
	if err != nil {
		t.Fatalf("LatestJobForAsset: %v", err)
	}
	if latest.ID != want {
		t.Errorf("latest = %v, want %v", latest.ID, want)
	}
}

func TestLatestReadyJobForAsset(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	j := enqueue(t, s, 42)

	_, err := s.LatestReadyJobForAsset(ctx, 42)
	if !errors.Is(err, thumbq.ErrNoThumbnail) {
		t.Errorf("no ready job error = %v, want ErrNoThumbnail", err)
	}

	claim(t, s, j, "w")
	if _, err := s.CompleteJob(ctx, j.ID, job.Thumbnail{Path: "/t/42.png"}); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}

	ready, err := s.LatestReadyJobForAsset(ctx, 42)
	if err != nil {
		t.Fatalf("LatestReadyJobForAsset: %v", err)
	}
	if ready.ThumbnailPath != "/t/42.png" {
		t.Errorf("ThumbnailPath = %q, want %q", ready.ThumbnailPath, "/t/42.png")
	}
}

func TestListJobsByStatusAndCount(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	for range 3 {
		enqueue(t, s, 1)
	}
	j := enqueue(t, s, 2)
	claim(t, s, j, "w")

	pending, err := s.ListJobsByStatus(ctx, job.StatusPending, job.ListOpts{})
	if err != nil {
		t.Fatalf("ListJobsByStatus: %v", err)
	}
	if len(pending) != 3 {
		t.Errorf("pending = %d, want 3", len(pending))
	}

	page, err := s.ListJobsByStatus(ctx, job.StatusPending, job.ListOpts{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("ListJobsByStatus paged: %v", err)
	}
	if len(page) != 1 {
		t.Errorf("paged = %d, want 1", len(page))
	}

	n, err := s.CountJobs(ctx, job.CountOpts{Status: job.StatusProcessing})
	if err != nil {
		t.Fatalf("CountJobs: %v", err)
	}
	if n != 1 {
		t.Errorf("processing count = %d, want 1", n)
	}

	n, err = s.CountJobs(ctx, job.CountOpts{AssetID: 1})
	if err != nil {
		t.Fatalf("CountJobs by asset: %v", err)
	}
	if n != 3 {
		t.Errorf("asset count = %d, want 3", n)
	}
}

func TestPruneJobs(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	done := enqueue(t, s, 1)
	claim(t, s, done, "w")
	if _, err := s.CompleteJob(ctx, done.ID, job.Thumbnail{Path: "t.png"}); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	live := enqueue(t, s, 2)

	if err := s.AppendEvent(ctx, event.New(done.ID, event.TypeCompleted, "done")); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	// Terminal job updated in the past gets pruned with its events.
	s.mu.Lock()
	s.jobs[done.ID].UpdatedAt = time.Now().UTC().Add(-48 * time.Hour)
	s.mu.Unlock()

	pruned, err := s.PruneJobs(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PruneJobs: %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned = %d, want 1", pruned)
	}
	if _, err := s.GetJob(ctx, done.ID); !errors.Is(err, thumbq.ErrJobNotFound) {
		t.Error("pruned job still present")
	}
	evts, _ := s.ListEventsByJob(ctx, done.ID, event.ListOpts{})
	if len(evts) != 0 {
		t.Error("pruned job's events still present")
	}
	if _, err := s.GetJob(ctx, live.ID); err != nil {
		t.Errorf("non-terminal job pruned: %v", err)
	}
}

func TestEventLogOrdering(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	j := enqueue(t, s, 1)

	for _, typ := range []string{event.TypeEnqueued, event.TypeClaimed, event.TypeCompleted} {
		if err := s.AppendEvent(ctx, event.New(j.ID, typ, "")); err != nil {
			t.Fatalf("AppendEvent(%s): %v", typ, err)
		}
	}

	evts, err := s.ListEventsByJob(ctx, j.ID, event.ListOpts{})
	if err != nil {
		t.Fatalf("ListEventsByJob: %v", err)
	}
	if len(evts) != 3 {
		t.Fatalf("len = %d, want 3", len(evts))
	}
	want := []string{event.TypeEnqueued, event.TypeClaimed, event.TypeCompleted}
	for i, evt := range evts {
		if evt.Type != want[i] {
			t.Errorf("evts[%d].Type = %q, want %q", i, evt.Type, want[i])
		}
	}
}

func TestClosedStore(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	j := enqueue(t, s, 1)

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Ping(ctx); !errors.Is(err, thumbq.ErrStoreClosed) {
		t.Errorf("Ping error = %v, want ErrStoreClosed", err)
	}
	if _, err := s.GetJob(ctx, j.ID); !errors.Is(err, thumbq.ErrStoreClosed) {
		t.Errorf("GetJob error = %v, want ErrStoreClosed", err)
	}
	if err := s.Close(); !errors.Is(err, thumbq.ErrStoreClosed) {
		t.Errorf("double Close error = %v, want ErrStoreClosed", err)
	}
}
