package event

import (
	"context"
	"log/slog"

	"github.com/Papyszoo/Modelibr-sub004/id"
)

// Log is the advisory append facade used by the engine. Append never
// returns an error: storage failures are reported through the logger and
// swallowed, so a broken event store cannot abort or roll back the
// primary state transition that produced the entry.
type Log struct {
	store  Store
	logger *slog.Logger
}

// NewLog creates a Log over the given store. A nil logger falls back to
// slog.Default().
func NewLog(store Store, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{store: store, logger: logger}
}

// Append records a lifecycle event for the job, best effort.
func (l *Log) Append(ctx context.Context, jobID id.JobID, eventType, message string) {
	l.append(ctx, New(jobID, eventType, message))
}

// AppendError records a failure event for the job, best effort.
func (l *Log) AppendError(ctx context.Context, jobID id.JobID, eventType, message, errMsg string) {
	l.append(ctx, New(jobID, eventType, message).WithError(errMsg))
}

// AppendEvent records a fully built event, best effort. Used by the API
// for worker-reported events carrying metadata.
func (l *Log) AppendEvent(ctx context.Context, evt *Event) {
	l.append(ctx, evt)
}

func (l *Log) append(ctx context.Context, evt *Event) {
	if l == nil || l.store == nil {
		return
	}
	if err := l.store.AppendEvent(ctx, evt); err != nil {
		l.logger.Warn("event append failed",
			slog.String("job_id", evt.JobID.String()),
			slog.String("event_type", evt.Type),
			slog.String("error", err.Error()),
		)
	}
}

// List returns the events for a job, oldest first. Reads surface store
// errors; only appends are best-effort. A backend without an event store
// has no trail, so List returns empty rather than panicking.
func (l *Log) List(ctx context.Context, jobID id.JobID, opts ListOpts) ([]*Event, error) {
	if l == nil || l.store == nil {
		return nil, nil
	}
	return l.store.ListEventsByJob(ctx, jobID, opts)
}
