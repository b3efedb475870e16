package postgres

import (
	"context"
	"fmt"

	thumbq "github.com/Papyszoo/Modelibr-sub004"
	"github.com/Papyszoo/Modelibr-sub004/event"
	"github.com/Papyszoo/Modelibr-sub004/id"
)

func (s *Store) AppendEvent(ctx context.Context, evt *event.Event) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO thumbq_events (id, job_id, type, message, metadata, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		evt.ID, evt.JobID, evt.Type, evt.Message, evt.Metadata, evt.ErrorMessage, evt.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return thumbq.ErrJobNotFound
		}
		return fmt.Errorf("thumbq/postgres: append event: %w", err)
	}
	return nil
}

func (s *Store) ListEventsByJob(ctx context.Context, jobID id.JobID, opts event.ListOpts) ([]*event.Event, error) {
	query := `SELECT id, job_id, type, message, metadata, error_message, created_at
		FROM thumbq_events WHERE job_id = $1 ORDER BY created_at ASC, id ASC`
	args := []any{jobID}
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("thumbq/postgres: list events: %w", err)
	}
	defer rows.Close()

	var events []*event.Event
	for rows.Next() {
		var evt event.Event
		if err := rows.Scan(&evt.ID, &evt.JobID, &evt.Type, &evt.Message,
			&evt.Metadata, &evt.ErrorMessage, &evt.CreatedAt); err != nil {
			return nil, fmt.Errorf("thumbq/postgres: scan event: %w", err)
		}
		events = append(events, &evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("thumbq/postgres: iterate events: %w", err)
	}
	return events, nil
}
