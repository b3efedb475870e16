package event_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/Papyszoo/Modelibr-sub004/event"
	"github.com/Papyszoo/Modelibr-sub004/id"
)

// fakeStore records appends and can be told to fail.
type fakeStore struct {
	events    []*event.Event
	appendErr error
}

func (f *fakeStore) AppendEvent(_ context.Context, evt *event.Event) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.events = append(f.events, evt)
	return nil
}

func (f *fakeStore) ListEventsByJob(_ context.Context, jobID id.JobID, _ event.ListOpts) ([]*event.Event, error) {
	var out []*event.Event
	for _, evt := range f.events {
		if evt.JobID == jobID {
			out = append(out, evt)
		}
	}
	return out, nil
}

func TestLog_Append(t *testing.T) {
	t.Parallel()

	fs := &fakeStore{}
	log := event.NewLog(fs, slog.Default())
	jobID := id.NewJobID()

	log.Append(context.Background(), jobID, event.TypeEnqueued, "job enqueued")
	log.AppendError(context.Background(), jobID, event.TypeFailed, "attempt 3 failed", "render error")

	got, err := log.List(context.Background(), jobID, event.ListOpts{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if got[0].Type != event.TypeEnqueued {
		t.Errorf("Type = %q, want %q", got[0].Type, event.TypeEnqueued)
	}
	if got[1].ErrorMessage != "render error" {
		t.Errorf("ErrorMessage = %q, want %q", got[1].ErrorMessage, "render error")
	}
	if got[0].ID.IsNil() {
		t.Error("expected event to be assigned an ID")
	}
}

func TestLog_AppendSwallowsStoreErrors(t *testing.T) {
	t.Parallel()

	fs := &fakeStore{appendErr: errors.New("store down")}
	log := event.NewLog(fs, slog.Default())

	// Must not panic or propagate; the caller's transition goes on.
	log.Append(context.Background(), id.NewJobID(), event.TypeClaimed, "claimed by w1")
}

func TestLog_NilStore(t *testing.T) {
	t.Parallel()

	var log *event.Log
	log.Append(context.Background(), id.NewJobID(), event.TypeClaimed, "no-op")

	// Backends without an event store have no trail: List is empty, not
	// a panic.
	for _, l := range []*event.Log{log, event.NewLog(nil, slog.Default())} {
		got, err := l.List(context.Background(), id.NewJobID(), event.ListOpts{})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(got) != 0 {
			t.Fatalf("got %d events, want 0", len(got))
		}
	}
}
