// Package memory provides an in-memory backend, used in tests and for
// single-process deployments where durability is not needed. All state
// is lost on restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	thumbq "github.com/Papyszoo/Modelibr-sub004"
	"github.com/Papyszoo/Modelibr-sub004/event"
	"github.com/Papyszoo/Modelibr-sub004/id"
	"github.com/Papyszoo/Modelibr-sub004/job"
)

var (
	_ thumbq.Storer = (*Store)(nil)
	_ job.Store     = (*Store)(nil)
	_ event.Store   = (*Store)(nil)
)

// Store keeps all records behind a single RWMutex. Reads and writes copy
// structs so callers never share memory with the store.
type Store struct {
	mu     sync.RWMutex
	jobs   map[id.JobID]*job.Job
	events map[id.JobID][]*event.Event
	closed bool
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		jobs:   make(map[id.JobID]*job.Job),
		events: make(map[id.JobID][]*event.Event),
	}
}

// ── Storer ──────────────────────────────────────────────────────────────

// Migrate is a no-op: there is no schema.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping reports whether the store is still open.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return thumbq.ErrStoreClosed
	}
	return nil
}

// Close discards all state.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return thumbq.ErrStoreClosed
	}
	s.closed = true
	s.jobs = nil
	s.events = nil
	return nil
}

// ── job.Store ───────────────────────────────────────────────────────────

func (s *Store) EnqueueJob(_ context.Context, j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return thumbq.ErrStoreClosed
	}
	if _, ok := s.jobs[j.ID]; ok {
		return thumbq.ErrJobAlreadyExists
	}
	cp := *j
	s.jobs[j.ID] = &cp
	return nil
}

func (s *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, thumbq.ErrStoreClosed
	}
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, thumbq.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *Store) NextEligibleJobs(_ context.Context, staleBefore time.Time, limit int) ([]*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, thumbq.ErrStoreClosed
	}

	var eligible []*job.Job
	for _, j := range s.jobs {
		if j.Status == job.StatusPending || j.LeaseExpired(staleBefore) {
			eligible = append(eligible, j)
		}
	}
	sort.Slice(eligible, func(a, b int) bool {
		if eligible[a].CreatedAt.Equal(eligible[b].CreatedAt) {
			return eligible[a].ID.String() < eligible[b].ID.String()
		}
		return eligible[a].CreatedAt.Before(eligible[b].CreatedAt)
	})
	if limit > 0 && len(eligible) > limit {
		eligible = eligible[:limit]
	}
	return copyJobs(eligible), nil
}

func (s *Store) ClaimJob(_ context.Context, jobID id.JobID, version int64, owner string) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, thumbq.ErrStoreClosed
	}
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, thumbq.ErrJobNotFound
	}
	if j.Version != version {
		return nil, thumbq.ErrClaimConflict
	}
	if j.Status.Terminal() {
		return nil, thumbq.ErrInvalidTransition
	}

	now := time.Now().UTC()
	j.Status = job.StatusProcessing
	j.AttemptCount++
	j.ClaimOwner = owner
	j.ClaimedAt = &now
	j.Version++
	j.Touch()

	cp := *j
	return &cp, nil
}

func (s *Store) CompleteJob(_ context.Context, jobID id.JobID, thumb job.Thumbnail) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, thumbq.ErrStoreClosed
	}
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, thumbq.ErrJobNotFound
	}
	if j.Status != job.StatusProcessing {
		return nil, thumbq.ErrInvalidTransition
	}

	j.Status = job.StatusReady
	j.ThumbnailPath = thumb.Path
	j.SizeBytes = thumb.SizeBytes
	j.Width = thumb.Width
	j.Height = thumb.Height
	j.ClaimOwner = ""
	j.ClaimedAt = nil
	j.ErrorMessage = ""
	j.Version++
	j.Touch()

	cp := *j
	return &cp, nil
}

func (s *Store) FailJob(_ context.Context, jobID id.JobID, errMsg string, maxAttempts int) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, thumbq.ErrStoreClosed
	}
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, thumbq.ErrJobNotFound
	}
	if j.Status != job.StatusProcessing {
		return nil, thumbq.ErrInvalidTransition
	}

	if j.AttemptCount >= maxAttempts {
		j.Status = job.StatusFailed
		j.ErrorMessage = errMsg
	} else {
		// The attempt was already counted at claim time; going back to
		// pending leaves the budget consumed.
		j.Status = job.StatusPending
		j.ErrorMessage = ""
	}
	j.ClaimOwner = ""
	j.ClaimedAt = nil
	j.Version++
	j.Touch()

	cp := *j
	return &cp, nil
}

func (s *Store) MarkJobFailed(_ context.Context, jobID id.JobID, version int64, errMsg string) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, thumbq.ErrStoreClosed
	}
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, thumbq.ErrJobNotFound
	}
	if j.Version != version {
		return nil, thumbq.ErrClaimConflict
	}

	j.Status = job.StatusFailed
	j.ErrorMessage = errMsg
	j.ClaimOwner = ""
	j.ClaimedAt = nil
	j.Version++
	j.Touch()

	cp := *j
	return &cp, nil
}

func (s *Store) RequeueJob(_ context.Context, jobID id.JobID, version int64) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, thumbq.ErrStoreClosed
	}
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, thumbq.ErrJobNotFound
	}
	if j.Version != version {
		return nil, thumbq.ErrClaimConflict
	}
	if j.Status != job.StatusProcessing {
		return nil, thumbq.ErrInvalidTransition
	}

	j.Status = job.StatusPending
	j.ClaimOwner = ""
	j.ClaimedAt = nil
	j.ErrorMessage = ""
	j.Version++
	j.Touch()

	cp := *j
	return &cp, nil
}

func (s *Store) StaleJobs(_ context.Context, olderThan time.Time, limit int) ([]*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, thumbq.ErrStoreClosed
	}

	var stale []*job.Job
	for _, j := range s.jobs {
		if j.LeaseExpired(olderThan) {
			stale = append(stale, j)
		}
	}
	sort.Slice(stale, func(a, b int) bool {
		return stale[a].ClaimedAt.Before(*stale[b].ClaimedAt)
	})
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	return copyJobs(stale), nil
}

func (s *Store) LatestJobForAsset(_ context.Context, assetID int64) (*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, thumbq.ErrStoreClosed
	}

	var latest *job.Job
	for _, j := range s.jobs {
		if j.AssetID != assetID {
			continue
		}
		// ID tiebreak on equal timestamps, matching the SQL backends'
		// ORDER BY created_at DESC, id DESC.
		if latest == nil || j.CreatedAt.After(latest.CreatedAt) ||
			(j.CreatedAt.Equal(latest.CreatedAt) && j.ID.String() > latest.ID.String()) {
			latest = j
		}
	}
	if latest == nil {
		return nil, thumbq.ErrJobNotFound
	}
	cp := *latest
	return &cp, nil
}

func (s *Store) LatestReadyJobForAsset(_ context.Context, assetID int64) (*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, thumbq.ErrStoreClosed
	}

	var latest *job.Job
	for _, j := range s.jobs {
		if j.AssetID != assetID || j.Status != job.StatusReady {
			continue
		}
		if latest == nil || j.UpdatedAt.After(latest.UpdatedAt) ||
			(j.UpdatedAt.Equal(latest.UpdatedAt) && j.ID.String() > latest.ID.String()) {
			latest = j
		}
	}
	if latest == nil {
		return nil, thumbq.ErrNoThumbnail
	}
	cp := *latest
	return &cp, nil
}

func (s *Store) ListJobsByStatus(_ context.Context, status job.Status, opts job.ListOpts) ([]*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, thumbq.ErrStoreClosed
	}

	var matched []*job.Job
	for _, j := range s.jobs {
		if status != "" && j.Status != status {
			continue
		}
		if opts.AssetID != 0 && j.AssetID != opts.AssetID {
			continue
		}
		matched = append(matched, j)
	}
	sort.Slice(matched, func(a, b int) bool {
		if matched[a].CreatedAt.Equal(matched[b].CreatedAt) {
			return matched[a].ID.String() > matched[b].ID.String()
		}
		return matched[a].CreatedAt.After(matched[b].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[opts.Offset:]
	}
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}
	return copyJobs(matched), nil
}

func (s *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, thumbq.ErrStoreClosed
	}

	var n int64
	for _, j := range s.jobs {
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		if opts.AssetID != 0 && j.AssetID != opts.AssetID {
			continue
		}
		n++
	}
	return n, nil
}

func (s *Store) PruneJobs(_ context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, thumbq.ErrStoreClosed
	}

	var pruned int64
	for jobID, j := range s.jobs {
		if !j.Status.Terminal() || !j.UpdatedAt.Before(olderThan) {
			continue
		}
		delete(s.jobs, jobID)
		delete(s.events, jobID)
		pruned++
	}
	return pruned, nil
}

// ── event.Store ─────────────────────────────────────────────────────────

func (s *Store) AppendEvent(_ context.Context, evt *event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return thumbq.ErrStoreClosed
	}
	cp := *evt
	s.events[evt.JobID] = append(s.events[evt.JobID], &cp)
	return nil
}

func (s *Store) ListEventsByJob(_ context.Context, jobID id.JobID, opts event.ListOpts) ([]*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, thumbq.ErrStoreClosed
	}

	evts := s.events[jobID]
	if opts.Offset > 0 {
		if opts.Offset >= len(evts) {
			return nil, nil
		}
		evts = evts[opts.Offset:]
	}
	if opts.Limit > 0 && len(evts) > opts.Limit {
		evts = evts[:opts.Limit]
	}

	out := make([]*event.Event, len(evts))
	for i, evt := range evts {
		cp := *evt
		out[i] = &cp
	}
	return out, nil
}

func copyJobs(jobs []*job.Job) []*job.Job {
	out := make([]*job.Job, len(jobs))
	for i, j := range jobs {
		cp := *j
		out[i] = &cp
	}
	return out
}
