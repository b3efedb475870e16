package event

import (
	"context"

	"github.com/Papyszoo/Modelibr-sub004/id"
)

// ListOpts controls pagination for event list queries.
type ListOpts struct {
	// Limit is the maximum number of events to return. Zero means no limit.
	Limit int
	// Offset is the number of events to skip.
	Offset int
}

// Store defines the persistence contract for job events. The log is
// append-only: entries are never updated, and they are removed only when
// their job is pruned.
type Store interface {
	// AppendEvent persists a new event.
	AppendEvent(ctx context.Context, evt *Event) error

	// ListEventsByJob returns the events for a job, oldest first.
	ListEventsByJob(ctx context.Context, jobID id.JobID, opts ListOpts) ([]*Event, error)
}
