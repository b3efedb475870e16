package job

import (
	"time"

	thumbq "github.com/Papyszoo/Modelibr-sub004"
	"github.com/Papyszoo/Modelibr-sub004/id"
)

// Status represents the lifecycle state of a thumbnail job.
type Status string

const (
	// StatusPending means the job is waiting to be claimed by a worker.
	StatusPending Status = "pending"
	// StatusProcessing means a worker holds the claim and is rendering.
	StatusProcessing Status = "processing"
	// StatusReady means the render finished and the thumbnail is available.
	StatusReady Status = "ready"
	// StatusFailed means the attempt budget is exhausted and the job will
	// not be retried.
	StatusFailed Status = "failed"
)

// Terminal reports whether the status is final. Ready and Failed jobs are
// never claimed again.
func (s Status) Terminal() bool {
	return s == StatusReady || s == StatusFailed
}

// Valid reports whether s is one of the four lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusReady, StatusFailed:
		return true
	}
	return false
}

// Thumbnail is the output metadata a worker reports on completion.
type Thumbnail struct {
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

// Job is one unit of thumbnail-render work tied to an asset and a content
// fingerprint. Many jobs may reference the same asset over time; the
// asset's displayed thumbnail is whatever the most recent Ready job
// produced.
type Job struct {
	thumbq.Entity

	ID                 id.JobID `json:"id"`
	AssetID            int64    `json:"asset_id"`
	ContentFingerprint string   `json:"content_fingerprint"`
	Status             Status   `json:"status"`

	// AttemptCount is incremented exactly once per successful claim and
	// never decreases.
	AttemptCount int `json:"attempt_count"`

	// ClaimOwner and ClaimedAt are set iff Status is Processing. The
	// owner is the caller-supplied worker identifier; ClaimedAt anchors
	// the lease used for stale-claim detection.
	ClaimOwner string     `json:"claim_owner,omitempty"`
	ClaimedAt  *time.Time `json:"claimed_at,omitempty"`

	// Version is the optimistic-concurrency token: 1 on insert,
	// incremented by every write. Conditional transitions succeed only
	// when the caller's version matches the stored one.
	Version int64 `json:"version"`

	// Set only on Ready jobs.
	ThumbnailPath string `json:"thumbnail_path,omitempty"`
	SizeBytes     int64  `json:"size_bytes,omitempty"`
	Width         int    `json:"width,omitempty"`
	Height        int    `json:"height,omitempty"`

	// Set only on Failed jobs.
	ErrorMessage string `json:"error_message,omitempty"`
}

// New builds a Pending job for the given asset and content fingerprint.
func New(assetID int64, fingerprint string) *Job {
	return &Job{
		Entity:             thumbq.NewEntity(),
		ID:                 id.NewJobID(),
		AssetID:            assetID,
		ContentFingerprint: fingerprint,
		Status:             StatusPending,
		AttemptCount:       0,
		Version:            1,
	}
}

// Claimed reports whether the job currently carries a claim.
func (j *Job) Claimed() bool {
	return j.Status == StatusProcessing && j.ClaimOwner != ""
}

// LeaseExpired reports whether the job's claim is older than the given
// cutoff. Always false for unclaimed jobs.
func (j *Job) LeaseExpired(cutoff time.Time) bool {
	return j.Status == StatusProcessing && j.ClaimedAt != nil && j.ClaimedAt.Before(cutoff)
}
