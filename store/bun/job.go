package bun

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"

	thumbq "github.com/Papyszoo/Modelibr-sub004"
	"github.com/Papyszoo/Modelibr-sub004/id"
	"github.com/Papyszoo/Modelibr-sub004/job"
)

func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	_, err := s.db.NewInsert().Model(jobToRow(j)).Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return thumbq.ErrJobAlreadyExists
		}
		return fmt.Errorf("thumbq/bun: enqueue job: %w", err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var row jobRow
	err := s.db.NewSelect().Model(&row).Where("id = ?", jobID.String()).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, thumbq.ErrJobNotFound
		}
		return nil, fmt.Errorf("thumbq/bun: get job: %w", err)
	}
	return row.toJob()
}

func (s *Store) NextEligibleJobs(ctx context.Context, staleBefore time.Time, limit int) ([]*job.Job, error) {
	var rows []jobRow
	err := s.db.NewSelect().Model(&rows).
		WhereGroup(" OR ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("status = ?", string(job.StatusPending))
		}).
		WhereGroup(" OR ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("status = ?", string(job.StatusProcessing)).
				Where("claimed_at < ?", staleBefore)
		}).
		OrderExpr("created_at ASC, id ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("thumbq/bun: next eligible jobs: %w", err)
	}
	return rowsToJobs(rows)
}

func (s *Store) ClaimJob(ctx context.Context, jobID id.JobID, version int64, owner string) (*job.Job, error) {
	var row jobRow
	res, err := s.db.NewUpdate().Model(&row).
		Set("status = ?", string(job.StatusProcessing)).
		Set("attempt_count = attempt_count + 1").
		Set("claim_owner = ?", owner).
		Set("claimed_at = now()").
		Set("version = version + 1").
		Set("updated_at = now()").
		Where("id = ?", jobID.String()).
		Where("version = ?", version).
		Where("status IN (?, ?)", string(job.StatusPending), string(job.StatusProcessing)).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("thumbq/bun: claim job: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, s.transitionError(ctx, jobID, thumbq.ErrClaimConflict)
	}
	return row.toJob()
}

func (s *Store) CompleteJob(ctx context.Context, jobID id.JobID, thumb job.Thumbnail) (*job.Job, error) {
	var row jobRow
	res, err := s.db.NewUpdate().Model(&row).
		Set("status = ?", string(job.StatusReady)).
		Set("thumbnail_path = ?", thumb.Path).
		Set("size_bytes = ?", thumb.SizeBytes).
		Set("width = ?", thumb.Width).
		Set("height = ?", thumb.Height).
		Set("claim_owner = ''").
		Set("claimed_at = NULL").
		Set("error_message = ''").
		Set("version = version + 1").
		Set("updated_at = now()").
		Where("id = ?", jobID.String()).
		Where("status = ?", string(job.StatusProcessing)).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("thumbq/bun: complete job: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, s.transitionError(ctx, jobID, thumbq.ErrInvalidTransition)
	}
	return row.toJob()
}

func (s *Store) FailJob(ctx context.Context, jobID id.JobID, errMsg string, maxAttempts int) (*job.Job, error) {
	var row jobRow
	res, err := s.db.NewUpdate().Model(&row).
		Set("status = CASE WHEN attempt_count >= ? THEN 'failed' ELSE 'pending' END", maxAttempts).
		Set("error_message = CASE WHEN attempt_count >= ? THEN ? ELSE '' END", maxAttempts, errMsg).
		Set("claim_owner = ''").
		Set("claimed_at = NULL").
		Set("version = version + 1").
		Set("updated_at = now()").
		Where("id = ?", jobID.String()).
		Where("status = ?", string(job.StatusProcessing)).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("thumbq/bun: fail job: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, s.transitionError(ctx, jobID, thumbq.ErrInvalidTransition)
	}
	return row.toJob()
}

func (s *Store) MarkJobFailed(ctx context.Context, jobID id.JobID, version int64, errMsg string) (*job.Job, error) {
	var row jobRow
	res, err := s.db.NewUpdate().Model(&row).
		Set("status = ?", string(job.StatusFailed)).
		Set("error_message = ?", errMsg).
		Set("claim_owner = ''").
		Set("claimed_at = NULL").
		Set("version = version + 1").
		Set("updated_at = now()").
		Where("id = ?", jobID.String()).
		Where("version = ?", version).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("thumbq/bun: mark job failed: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, s.transitionError(ctx, jobID, thumbq.ErrClaimConflict)
	}
	return row.toJob()
}

func (s *Store) RequeueJob(ctx context.Context, jobID id.JobID, version int64) (*job.Job, error) {
	var row jobRow
	res, err := s.db.NewUpdate().Model(&row).
		Set("status = ?", string(job.StatusPending)).
		Set("claim_owner = ''").
		Set("claimed_at = NULL").
		Set("error_message = ''").
		Set("version = version + 1").
		Set("updated_at = now()").
		Where("id = ?", jobID.String()).
		Where("version = ?", version).
		Where("status = ?", string(job.StatusProcessing)).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("thumbq/bun: requeue job: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, s.transitionError(ctx, jobID, thumbq.ErrClaimConflict)
	}
	return row.toJob()
}

func (s *Store) StaleJobs(ctx context.Context, olderThan time.Time, limit int) ([]*job.Job, error) {
	var rows []jobRow
	err := s.db.NewSelect().Model(&rows).
		Where("status = ?", string(job.StatusProcessing)).
		Where("claimed_at < ?", olderThan).
		OrderExpr("claimed_at ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("thumbq/bun: stale jobs: %w", err)
	}
	return rowsToJobs(rows)
}

func (s *Store) LatestJobForAsset(ctx context.Context, assetID int64) (*job.Job, error) {
	var row jobRow
	err := s.db.NewSelect().Model(&row).
		Where("asset_id = ?", assetID).
		OrderExpr("created_at DESC, id DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, thumbq.ErrJobNotFound
		}
		return nil, fmt.Errorf("thumbq/bun: latest job for asset: %w", err)
	}
	return row.toJob()
}

func (s *Store) LatestReadyJobForAsset(ctx context.Context, assetID int64) (*job.Job, error) {
	var row jobRow
	err := s.db.NewSelect().Model(&row).
		Where("asset_id = ?", assetID).
		Where("status = ?", string(job.StatusReady)).
		OrderExpr("updated_at DESC, id DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, thumbq.ErrNoThumbnail
		}
		return nil, fmt.Errorf("thumbq/bun: latest ready job for asset: %w", err)
	}
	return row.toJob()
}

func (s *Store) ListJobsByStatus(ctx context.Context, status job.Status, opts job.ListOpts) ([]*job.Job, error) {
	var rows []jobRow
	q := s.db.NewSelect().Model(&rows).
		OrderExpr("created_at DESC, id DESC")
	if status != "" {
		q = q.Where("status = ?", string(status))
	}
	if opts.AssetID != 0 {
		q = q.Where("asset_id = ?", opts.AssetID)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("thumbq/bun: list jobs: %w", err)
	}
	return rowsToJobs(rows)
}

func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	q := s.db.NewSelect().Model((*jobRow)(nil))
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if opts.AssetID != 0 {
		q = q.Where("asset_id = ?", opts.AssetID)
	}
	n, err := q.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("thumbq/bun: count jobs: %w", err)
	}
	return int64(n), nil
}

func (s *Store) PruneJobs(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.NewDelete().Model((*jobRow)(nil)).
		Where("status IN (?, ?)", string(job.StatusReady), string(job.StatusFailed)).
		Where("updated_at < ?", olderThan).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("thumbq/bun: prune jobs: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("thumbq/bun: prune jobs: %w", err)
	}
	return affected, nil
}

func (s *Store) transitionError(ctx context.Context, jobID id.JobID, raceErr error) error {
	cur, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if cur.Status.Terminal() {
		return thumbq.ErrInvalidTransition
	}
	if raceErr == thumbq.ErrInvalidTransition && cur.Status != job.StatusProcessing {
		return thumbq.ErrInvalidTransition
	}
	return raceErr
}

func isDuplicateKey(err error) bool {
	var pgErr pgdriver.Error
	return errors.As(err, &pgErr) && pgErr.IntegrityViolation()
}
