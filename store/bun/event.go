package bun

import (
	"context"
	"fmt"

	thumbq "github.com/Papyszoo/Modelibr-sub004"
	"github.com/Papyszoo/Modelibr-sub004/event"
	"github.com/Papyszoo/Modelibr-sub004/id"
)

func (s *Store) AppendEvent(ctx context.Context, evt *event.Event) error {
	_, err := s.db.NewInsert().Model(eventToRow(evt)).Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			// IntegrityViolation also covers the job_id foreign key.
			return thumbq.ErrJobNotFound
		}
		return fmt.Errorf("thumbq/bun: append event: %w", err)
	}
	return nil
}

func (s *Store) ListEventsByJob(ctx context.Context, jobID id.JobID, opts event.ListOpts) ([]*event.Event, error) {
	var rows []eventRow
	q := s.db.NewSelect().Model(&rows).
		Where("job_id = ?", jobID.String()).
		OrderExpr("created_at ASC, id ASC")
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("thumbq/bun: list events: %w", err)
	}

	events := make([]*event.Event, 0, len(rows))
	for i := range rows {
		evt, err := rows[i].toEvent()
		if err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	return events, nil
}
