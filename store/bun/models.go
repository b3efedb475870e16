package bun

import (
	"encoding/json"
	"time"

	"github.com/uptrace/bun"

	thumbq "github.com/Papyszoo/Modelibr-sub004"
	"github.com/Papyszoo/Modelibr-sub004/event"
	"github.com/Papyszoo/Modelibr-sub004/id"
	"github.com/Papyszoo/Modelibr-sub004/job"
)

// jobRow is the bun mapping of a job. IDs are stored as their string
// form; conversion back goes through id.ParseJobID.
type jobRow struct {
	bun.BaseModel `bun:"table:thumbq_jobs"`

	ID                 string     `bun:"id,pk"`
	AssetID            int64      `bun:"asset_id"`
	ContentFingerprint string     `bun:"content_fingerprint"`
	Status             string     `bun:"status"`
	AttemptCount       int        `bun:"attempt_count"`
	ClaimOwner         string     `bun:"claim_owner"`
	ClaimedAt          *time.Time `bun:"claimed_at"`
	Version            int64      `bun:"version"`
	ThumbnailPath      string     `bun:"thumbnail_path"`
	SizeBytes          int64      `bun:"size_bytes"`
	Width              int        `bun:"width"`
	Height             int        `bun:"height"`
	ErrorMessage       string     `bun:"error_message"`
	CreatedAt          time.Time  `bun:"created_at"`
	UpdatedAt          time.Time  `bun:"updated_at"`
}

func jobToRow(j *job.Job) *jobRow {
	return &jobRow{
		ID:                 j.ID.String(),
		AssetID:            j.AssetID,
		ContentFingerprint: j.ContentFingerprint,
		Status:             string(j.Status),
		AttemptCount:       j.AttemptCount,
		ClaimOwner:         j.ClaimOwner,
		ClaimedAt:          j.ClaimedAt,
		Version:            j.Version,
		ThumbnailPath:      j.ThumbnailPath,
		SizeBytes:          j.SizeBytes,
		Width:              j.Width,
		Height:             j.Height,
		ErrorMessage:       j.ErrorMessage,
		CreatedAt:          j.CreatedAt,
		UpdatedAt:          j.UpdatedAt,
	}
}

func (r *jobRow) toJob() (*job.Job, error) {
	jobID, err := id.ParseJobID(r.ID)
	if err != nil {
		return nil, err
	}
	return &job.Job{
		Entity:             thumbq.Entity{CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt},
		ID:                 jobID,
		AssetID:            r.AssetID,
		ContentFingerprint: r.ContentFingerprint,
		Status:             job.Status(r.Status),
		AttemptCount:       r.AttemptCount,
		ClaimOwner:         r.ClaimOwner,
		ClaimedAt:          r.ClaimedAt,
		Version:            r.Version,
		ThumbnailPath:      r.ThumbnailPath,
		SizeBytes:          r.SizeBytes,
		Width:              r.Width,
		Height:             r.Height,
		ErrorMessage:       r.ErrorMessage,
	}, nil
}

func rowsToJobs(rows []jobRow) ([]*job.Job, error) {
	jobs := make([]*job.Job, 0, len(rows))
	for i := range rows {
		j, err := rows[i].toJob()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

type eventRow struct {
	bun.BaseModel `bun:"table:thumbq_events"`

	ID           string          `bun:"id,pk"`
	JobID        string          `bun:"job_id"`
	Type         string          `bun:"type"`
	Message      string          `bun:"message"`
	Metadata     json.RawMessage `bun:"metadata,nullzero"`
	ErrorMessage string          `bun:"error_message"`
	CreatedAt    time.Time       `bun:"created_at"`
}

func eventToRow(evt *event.Event) *eventRow {
	return &eventRow{
		ID:           evt.ID.String(),
		JobID:        evt.JobID.String(),
		Type:         evt.Type,
		Message:      evt.Message,
		Metadata:     evt.Metadata,
		ErrorMessage: evt.ErrorMessage,
		CreatedAt:    evt.CreatedAt,
	}
}

func (r *eventRow) toEvent() (*event.Event, error) {
	eventID, err := id.ParseEventID(r.ID)
	if err != nil {
		return nil, err
	}
	jobID, err := id.ParseJobID(r.JobID)
	if err != nil {
		return nil, err
	}
	return &event.Event{
		ID:           eventID,
		JobID:        jobID,
		Type:         r.Type,
		Message:      r.Message,
		Metadata:     r.Metadata,
		ErrorMessage: r.ErrorMessage,
		CreatedAt:    r.CreatedAt,
	}, nil
}
