// Package engine coordinates the job lifecycle on top of a storage
// backend: enqueue, claim (dequeue), completion, failure resolution, and
// the janitor-facing sweep and prune operations. The engine owns the
// claim protocol; stores only provide atomic conditional transitions.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	thumbq "github.com/Papyszoo/Modelibr-sub004"
	"github.com/Papyszoo/Modelibr-sub004/event"
	"github.com/Papyszoo/Modelibr-sub004/id"
	"github.com/Papyszoo/Modelibr-sub004/job"
	"github.com/Papyszoo/Modelibr-sub004/stream"
)

// Engine drives every job state transition. All mutations go through the
// store's conditional operations, so any number of engines may run
// against the same database.
type Engine struct {
	storer thumbq.Storer
	jobs   job.Store
	events *event.Log
	broker *stream.Broker
	cfg    thumbq.Config
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig overrides the default configuration.
func WithConfig(cfg thumbq.Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithBroker attaches a notification broker. Without one, transitions
// still happen; they are just not announced.
func WithBroker(b *stream.Broker) Option {
	return func(e *Engine) { e.broker = b }
}

// New creates an engine over the given backend. The backend must
// implement job.Store; event.Store is optional and enables the advisory
// event log.
func New(storer thumbq.Storer, opts ...Option) (*Engine, error) {
	if storer == nil {
		return nil, thumbq.ErrNoStore
	}

	e := &Engine{
		storer: storer,
		cfg:    thumbq.DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.cfg.Validate(); err != nil {
		return nil, err
	}

	jobs, ok := storer.(job.Store)
	if !ok {
		return nil, fmt.Errorf("thumbq/engine: backend %T does not store jobs: %w", storer, thumbq.ErrNoStore)
	}
	e.jobs = jobs

	if events, ok := storer.(event.Store); ok {
		e.events = event.NewLog(events, e.logger)
	} else {
		e.events = event.NewLog(nil, e.logger)
	}
	return e, nil
}

// Config returns the engine's effective configuration.
func (e *Engine) Config() thumbq.Config { return e.cfg }

// Ping checks the backing store's health.
func (e *Engine) Ping(ctx context.Context) error { return e.storer.Ping(ctx) }

// ── Lifecycle operations ────────────────────────────────────────────────

// Enqueue creates a pending job for the asset. Duplicate pending jobs
// for the same asset are allowed; each render request stands alone.
func (e *Engine) Enqueue(ctx context.Context, assetID int64, fingerprint string) (*job.Job, error) {
	j := job.New(assetID, fingerprint)
	if err := e.jobs.EnqueueJob(ctx, j); err != nil {
		return nil, err
	}

	e.events.Append(ctx, j.ID, event.TypeEnqueued, "queued for thumbnail render")
	e.emitEnqueued(ctx, j)

	e.logger.Info("job enqueued",
		slog.String("job_id", j.ID.String()),
		slog.Int64("asset_id", assetID))
	return j, nil
}

// Dequeue claims the oldest eligible job for owner and returns it, or
// (nil, nil) when no work is available. Candidates that lose the claim
// race are skipped; poison jobs found during the scan are failed in
// place rather than handed out.
func (e *Engine) Dequeue(ctx context.Context, owner string) (*job.Job, error) {
	staleBefore := time.Now().UTC().Add(-e.cfg.LeaseTimeout)

	candidates, err := e.jobs.NextEligibleJobs(ctx, staleBefore, e.cfg.ClaimScanLimit)
	if err != nil {
		return nil, err
	}

	for _, cand := range candidates {
		if cand.AttemptCount >= e.cfg.MaxAttempts {
			e.failPoisoned(ctx, cand)
			continue
		}

		reclaimed := cand.Status == job.StatusProcessing

		claimed, err := e.jobs.ClaimJob(ctx, cand.ID, cand.Version, owner)
		if err != nil {
			if errors.Is(err, thumbq.ErrClaimConflict) || errors.Is(err, thumbq.ErrInvalidTransition) {
				continue
			}
			return nil, err
		}

		if reclaimed {
			e.events.Append(ctx, claimed.ID, event.TypeLeaseExpired,
				"claim lease expired, job reclaimed")
		}
		e.events.Append(ctx, claimed.ID, event.TypeClaimed, "claimed by "+owner)
		e.emitClaimed(ctx, claimed)

		e.logger.Info("job claimed",
			slog.String("job_id", claimed.ID.String()),
			slog.String("owner", owner),
			slog.Int("attempt", claimed.AttemptCount))
		return claimed, nil
	}
	return nil, nil
}

// failPoisoned terminates a job whose attempt budget was already spent
// before it could be claimed again. A version conflict means another
// node resolved it first.
func (e *Engine) failPoisoned(ctx context.Context, cand *job.Job) {
	const msg = "attempt budget exhausted"
	failed, err := e.jobs.MarkJobFailed(ctx, cand.ID, cand.Version, msg)
	if err != nil {
		if !errors.Is(err, thumbq.ErrClaimConflict) && !errors.Is(err, thumbq.ErrInvalidTransition) {
			e.logger.Error("failing poisoned job",
				slog.String("job_id", cand.ID.String()),
				slog.String("error", err.Error()))
		}
		return
	}
	e.events.AppendError(ctx, failed.ID, event.TypeFailed, "job failed permanently", msg)
	e.emitFailed(ctx, failed)
}

// Complete resolves a claimed job as successfully rendered.
func (e *Engine) Complete(ctx context.Context, jobID id.JobID, thumb job.Thumbnail) (*job.Job, error) {
	j, err := e.jobs.CompleteJob(ctx, jobID, thumb)
	if err != nil {
		return nil, err
	}

	e.events.Append(ctx, j.ID, event.TypeCompleted, "thumbnail ready at "+thumb.Path)
	e.emitCompleted(ctx, j)

	e.logger.Info("job completed",
		slog.String("job_id", j.ID.String()),
		slog.String("thumbnail_path", thumb.Path))
	return j, nil
}

// Fail resolves a claimed job as failed. The store decides retry versus
// exhaustion in the same atomic step; the outcome is reflected in the
// returned job's status.
func (e *Engine) Fail(ctx context.Context, jobID id.JobID, errMsg string) (*job.Job, error) {
	j, err := e.jobs.FailJob(ctx, jobID, errMsg, e.cfg.MaxAttempts)
	if err != nil {
		return nil, err
	}

	if j.Status == job.StatusFailed {
		e.events.AppendError(ctx, j.ID, event.TypeFailed, "job failed permanently", errMsg)
		e.emitFailed(ctx, j)
		e.logger.Warn("job failed permanently",
			slog.String("job_id", j.ID.String()),
			slog.Int("attempts", j.AttemptCount),
			slog.String("error", errMsg))
	} else {
		e.events.AppendError(ctx, j.ID, event.TypeRequeued, "attempt failed, job requeued", errMsg)
		e.emitRequeued(ctx, j)
		e.logger.Info("job requeued after failure",
			slog.String("job_id", j.ID.String()),
			slog.Int("attempts", j.AttemptCount),
			slog.String("error", errMsg))
	}
	return j, nil
}

// ReportEvent records a worker-supplied event against a job. The
// reserved render_failed type additionally routes through the failure
// path, so reporting it on a processing job behaves exactly like Fail.
func (e *Engine) ReportEvent(ctx context.Context, evt *event.Event) (*job.Job, error) {
	j, err := e.jobs.GetJob(ctx, evt.JobID)
	if err != nil {
		return nil, err
	}

	if evt.Type == event.TypeRenderFailed {
		errMsg := evt.ErrorMessage
		if errMsg == "" {
			errMsg = evt.Message
		}
		e.events.AppendEvent(ctx, evt)
		return e.Fail(ctx, evt.JobID, errMsg)
	}

	e.events.AppendEvent(ctx, evt)
	return j, nil
}

// ── Queries ─────────────────────────────────────────────────────────────

// Get retrieves a job by ID.
func (e *Engine) Get(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return e.jobs.GetJob(ctx, jobID)
}

// Events returns a job's event log, oldest first.
func (e *Engine) Events(ctx context.Context, jobID id.JobID, opts event.ListOpts) ([]*event.Event, error) {
	if _, err := e.jobs.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return e.events.List(ctx, jobID, opts)
}

// List returns jobs filtered by status, newest first. An empty status
// matches all jobs.
func (e *Engine) List(ctx context.Context, status job.Status, opts job.ListOpts) ([]*job.Job, error) {
	return e.jobs.ListJobsByStatus(ctx, status, opts)
}

// ThumbnailStatus is the asset-centric view: the state of the most
// recent job plus the most recent successfully rendered thumbnail, which
// may come from an older job.
type ThumbnailStatus struct {
	AssetID            int64          `json:"asset_id"`
	JobID              id.JobID       `json:"job_id"`
	Status             job.Status     `json:"status"`
	ContentFingerprint string         `json:"content_fingerprint,omitempty"`
	AttemptCount       int            `json:"attempt_count"`
	ErrorMessage       string         `json:"error_message,omitempty"`
	Thumbnail          *job.Thumbnail `json:"thumbnail,omitempty"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// AssetThumbnail reports the thumbnail status for an asset. Returns
// thumbq.ErrNoThumbnail when no job was ever enqueued for it.
func (e *Engine) AssetThumbnail(ctx context.Context, assetID int64) (*ThumbnailStatus, error) {
	latest, err := e.jobs.LatestJobForAsset(ctx, assetID)
	if err != nil {
		if errors.Is(err, thumbq.ErrJobNotFound) {
			return nil, thumbq.ErrNoThumbnail
		}
		return nil, err
	}

	status := &ThumbnailStatus{
		AssetID:            assetID,
		JobID:              latest.ID,
		Status:             latest.Status,
		ContentFingerprint: latest.ContentFingerprint,
		AttemptCount:       latest.AttemptCount,
		ErrorMessage:       latest.ErrorMessage,
		UpdatedAt:          latest.UpdatedAt,
	}

	ready, err := e.jobs.LatestReadyJobForAsset(ctx, assetID)
	switch {
	case err == nil:
		status.Thumbnail = &job.Thumbnail{
			Path:      ready.ThumbnailPath,
			SizeBytes: ready.SizeBytes,
			Width:     ready.Width,
			Height:    ready.Height,
		}
	case errors.Is(err, thumbq.ErrNoThumbnail):
		// No completed render yet.
	default:
		return nil, err
	}
	return status, nil
}

// Stats summarizes the queue by status.
type Stats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Ready      int64 `json:"ready"`
	Failed     int64 `json:"failed"`
	Total      int64 `json:"total"`
}

// Stats counts jobs per lifecycle state.
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	var stats Stats
	for _, it := range []struct {
		status job.Status
		dst    *int64
	}{
		{job.StatusPending, &stats.Pending},
		{job.StatusProcessing, &stats.Processing},
		{job.StatusReady, &stats.Ready},
		{job.StatusFailed, &stats.Failed},
	} {
		n, err := e.jobs.CountJobs(ctx, job.CountOpts{Status: it.status})
		if err != nil {
			return nil, err
		}
		*it.dst = n
	}
	stats.Total = stats.Pending + stats.Processing + stats.Ready + stats.Failed
	return &stats, nil
}

// ── Janitor operations ──────────────────────────────────────────────────

// SweepStale resolves expired claims: jobs with attempts left go back to
// pending, exhausted ones are failed. Returns how many jobs were
// resolved; version conflicts are skipped silently since another node
// got there first.
func (e *Engine) SweepStale(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-e.cfg.LeaseTimeout)

	stale, err := e.jobs.StaleJobs(ctx, cutoff, e.cfg.SweepBatchSize)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, j := range stale {
		if j.AttemptCount >= e.cfg.MaxAttempts {
			failed, err := e.jobs.MarkJobFailed(ctx, j.ID, j.Version, "claim lease expired with no attempts left")
			if err != nil {
				continue
			}
			e.events.AppendError(ctx, failed.ID, event.TypeLeaseExpired,
				"claim lease expired", "no attempts left")
			e.emitFailed(ctx, failed)
			resolved++
			continue
		}

		requeued, err := e.jobs.RequeueJob(ctx, j.ID, j.Version)
		if err != nil {
			continue
		}
		e.events.Append(ctx, requeued.ID, event.TypeLeaseExpired,
			"claim lease expired, job requeued")
		e.emitRequeued(ctx, requeued)
		resolved++
	}

	if resolved > 0 {
		e.logger.Info("stale claims swept", slog.Int("resolved", resolved))
	}
	return resolved, nil
}

// PruneTerminal deletes terminal jobs past the retention window. A zero
// retention keeps everything.
func (e *Engine) PruneTerminal(ctx context.Context) (int64, error) {
	if e.cfg.Retention <= 0 {
		return 0, nil
	}
	pruned, err := e.jobs.PruneJobs(ctx, time.Now().UTC().Add(-e.cfg.Retention))
	if err != nil {
		return 0, err
	}
	if pruned > 0 {
		e.logger.Info("terminal jobs pruned", slog.Int64("pruned", pruned))
	}
	return pruned, nil
}

// ── Notifications ───────────────────────────────────────────────────────

func (e *Engine) emitEnqueued(ctx context.Context, j *job.Job) {
	if e.broker != nil {
		e.broker.EmitEnqueued(ctx, j)
	}
}

func (e *Engine) emitClaimed(ctx context.Context, j *job.Job) {
	if e.broker != nil {
		e.broker.EmitClaimed(ctx, j)
	}
}

func (e *Engine) emitCompleted(ctx context.Context, j *job.Job) {
	if e.broker != nil {
		e.broker.EmitCompleted(ctx, j)
	}
}

func (e *Engine) emitFailed(ctx context.Context, j *job.Job) {
	if e.broker != nil {
		e.broker.EmitFailed(ctx, j)
	}
}

func (e *Engine) emitRequeued(ctx context.Context, j *job.Job) {
	if e.broker != nil {
		e.broker.EmitRequeued(ctx, j)
	}
}
