package job

import (
	"context"
	"time"

	"github.com/Papyszoo/Modelibr-sub004/id"
)

// ListOpts controls pagination and filtering for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
	// AssetID filters by asset. Zero means all assets.
	AssetID int64
}

// CountOpts controls filtering for job count queries.
type CountOpts struct {
	// Status filters by job status. Empty means all statuses.
	Status Status
	// AssetID filters by asset. Zero means all assets.
	AssetID int64
}

// Store defines the persistence contract for jobs. Every write is a
// single atomic transition; the version-keyed operations implement the
// optimistic-concurrency claim protocol, so implementations must apply
// the condition and the mutation in one step.
type Store interface {
	// EnqueueJob persists a new job in pending state with attempt count
	// zero and version one. Duplicate pending jobs for the same asset are
	// allowed; only the job ID is unique.
	EnqueueJob(ctx context.Context, j *Job) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// NextEligibleJobs returns claim candidates ordered oldest first by
	// creation time: pending jobs, plus processing jobs whose claim is
	// older than staleBefore (an expired lease). Read-only; claiming
	// happens through ClaimJob.
	NextEligibleJobs(ctx context.Context, staleBefore time.Time, limit int) ([]*Job, error)

	// ClaimJob atomically transitions a job to processing on behalf of
	// owner: attempt count +1, claim fields set, version +1. The update
	// applies only if the stored version equals version; otherwise
	// thumbq.ErrClaimConflict is returned and the job is untouched.
	ClaimJob(ctx context.Context, jobID id.JobID, version int64, owner string) (*Job, error)

	// CompleteJob transitions processing → ready, recording the thumbnail
	// metadata and clearing the claim fields. Any other current status
	// yields thumbq.ErrInvalidTransition without mutation.
	CompleteJob(ctx context.Context, jobID id.JobID, thumb Thumbnail) (*Job, error)

	// FailJob resolves a worker-reported failure: processing → failed
	// with the error message when the attempt count has reached
	// maxAttempts, otherwise processing → pending with the attempt count
	// unchanged (it was recorded at claim time) and the claim and error
	// fields cleared. Non-processing jobs yield thumbq.ErrInvalidTransition.
	FailJob(ctx context.Context, jobID id.JobID, errMsg string, maxAttempts int) (*Job, error)

	// MarkJobFailed force-fails a job regardless of attempt budget, keyed
	// on version like ClaimJob. Used for poison jobs discovered at claim
	// time and for lease-expired jobs with no attempts left.
	MarkJobFailed(ctx context.Context, jobID id.JobID, version int64, errMsg string) (*Job, error)

	// RequeueJob returns a processing job to pending, keyed on version:
	// claim and error fields cleared, attempt count unchanged. Used by
	// the stale-claim sweep.
	RequeueJob(ctx context.Context, jobID id.JobID, version int64) (*Job, error)

	// StaleJobs returns processing jobs whose claim is older than
	// olderThan, oldest claim first.
	StaleJobs(ctx context.Context, olderThan time.Time, limit int) ([]*Job, error)

	// LatestJobForAsset returns the most recently created job for the
	// asset, regardless of status.
	LatestJobForAsset(ctx context.Context, assetID int64) (*Job, error)

	// LatestReadyJobForAsset returns the most recently completed ready
	// job for the asset.
	LatestReadyJobForAsset(ctx context.Context, assetID int64) (*Job, error)

	// ListJobsByStatus returns jobs matching the given status, newest
	// first.
	ListJobsByStatus(ctx context.Context, status Status, opts ListOpts) ([]*Job, error)

	// CountJobs returns the number of jobs matching the given options.
	CountJobs(ctx context.Context, opts CountOpts) (int64, error)

	// PruneJobs deletes terminal jobs last updated before olderThan,
	// together with their events. Returns the number of jobs removed.
	PruneJobs(ctx context.Context, olderThan time.Time) (int64, error)
}
