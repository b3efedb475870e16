// Package event provides the append-only job event log: an advisory
// record of lifecycle events per job, kept for operational diagnosis.
// No state transition ever depends on reading it back, and appending is
// best-effort by contract; see Log.
package event

import (
	"encoding/json"
	"time"

	"github.com/Papyszoo/Modelibr-sub004/id"
)

// Types emitted by the engine itself. Workers may report any additional
// type through the events endpoint; TypeRenderFailed is the one reserved
// type, which the API routes through the failure path.
const (
	TypeEnqueued     = "enqueued"
	TypeClaimed      = "claimed"
	TypeCompleted    = "completed"
	TypeRequeued     = "requeued"
	TypeFailed       = "failed"
	TypeLeaseExpired = "lease_expired"
	TypeRenderFailed = "render_failed"
)

// Event is one append-only log entry attached to a job.
type Event struct {
	ID    id.EventID `json:"id"`
	JobID id.JobID   `json:"job_id"`
	Type  string     `json:"type"`

	// Message is a human-readable description of what happened.
	Message string `json:"message,omitempty"`

	// Metadata carries optional structured context, stored verbatim.
	Metadata json.RawMessage `json:"metadata,omitempty"`

	// ErrorMessage is set when the event reports a failure.
	ErrorMessage string `json:"error_message,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// New builds an event for the given job, stamped with the current UTC time.
func New(jobID id.JobID, eventType, message string) *Event {
	return &Event{
		ID:        id.NewEventID(),
		JobID:     jobID,
		Type:      eventType,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
}

// WithError attaches an error message and returns the event.
func (e *Event) WithError(errMsg string) *Event {
	e.ErrorMessage = errMsg
	return e
}

// WithMetadata attaches raw metadata and returns the event.
func (e *Event) WithMetadata(meta json.RawMessage) *Event {
	e.Metadata = meta
	return e
}
