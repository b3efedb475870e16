package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	thumbq "github.com/Papyszoo/Modelibr-sub004"
	"github.com/Papyszoo/Modelibr-sub004/id"
	"github.com/Papyszoo/Modelibr-sub004/job"
)

const jobColumns = `id, asset_id, content_fingerprint, status, attempt_count,
	claim_owner, claimed_at, version, thumbnail_path, size_bytes, width, height,
	error_message, created_at, updated_at`

func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO thumbq_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		j.ID, j.AssetID, j.ContentFingerprint, j.Status, j.AttemptCount,
		j.ClaimOwner, j.ClaimedAt, j.Version, j.ThumbnailPath, j.SizeBytes,
		j.Width, j.Height, j.ErrorMessage, j.CreatedAt, j.UpdatedAt)
	if err != nil {
		if isDuplicateKey(err) {
			return thumbq.ErrJobAlreadyExists
		}
		return fmt.Errorf("thumbq/postgres: enqueue job: %w", err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM thumbq_jobs WHERE id = $1`, jobID)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, thumbq.ErrJobNotFound
		}
		return nil, fmt.Errorf("thumbq/postgres: get job: %w", err)
	}
	return j, nil
}

func (s *Store) NextEligibleJobs(ctx context.Context, staleBefore time.Time, limit int) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM thumbq_jobs
		WHERE status = 'pending'
		   OR (status = 'processing' AND claimed_at < $1)
		ORDER BY created_at ASC, id ASC
		LIMIT $2`,
		staleBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("thumbq/postgres: next eligible jobs: %w", err)
	}
	return collectJobs(rows)
}

func (s *Store) ClaimJob(ctx context.Context, jobID id.JobID, version int64, owner string) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE thumbq_jobs SET
			status        = 'processing',
			attempt_count = attempt_count + 1,
			claim_owner   = $3,
			claimed_at    = now(),
			version       = version + 1,
			updated_at    = now()
		WHERE id = $1 AND version = $2 AND status IN ('pending', 'processing')
		RETURNING `+jobColumns,
		jobID, version, owner)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, s.transitionError(ctx, jobID, thumbq.ErrClaimConflict)
		}
		return nil, fmt.Errorf("thumbq/postgres: claim job: %w", err)
	}
	return j, nil
}

func (s *Store) CompleteJob(ctx context.Context, jobID id.JobID, thumb job.Thumbnail) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE thumbq_jobs SET
			status         = 'ready',
			thumbnail_path = $2,
			size_bytes     = $3,
			width          = $4,
			height         = $5,
			claim_owner    = '',
			claimed_at     = NULL,
			error_message  = '',
			version        = version + 1,
			updated_at     = now()
		WHERE id = $1 AND status = 'processing'
		RETURNING `+jobColumns,
		jobID, thumb.Path, thumb.SizeBytes, thumb.Width, thumb.Height)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, s.transitionError(ctx, jobID, thumbq.ErrInvalidTransition)
		}
		return nil, fmt.Errorf("thumbq/postgres: complete job: %w", err)
	}
	return j, nil
}

// FailJob resolves retry-or-exhaust in one conditional statement so the
// decision is atomic against concurrent sweeps.
func (s *Store) FailJob(ctx context.Context, jobID id.JobID, errMsg string, maxAttempts int) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE thumbq_jobs SET
			status        = CASE WHEN attempt_count >= $3 THEN 'failed' ELSE 'pending' END,
			error_message = CASE WHEN attempt_count >= $3 THEN $2 ELSE '' END,
			claim_owner   = '',
			claimed_at    = NULL,
			version       = version + 1,
			updated_at    = now()
		WHERE id = $1 AND status = 'processing'
		RETURNING `+jobColumns,
		jobID, errMsg, maxAttempts)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, s.transitionError(ctx, jobID, thumbq.ErrInvalidTransition)
		}
		return nil, fmt.Errorf("thumbq/postgres: fail job: %w", err)
	}
	return j, nil
}

func (s *Store) MarkJobFailed(ctx context.Context, jobID id.JobID, version int64, errMsg string) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE thumbq_jobs SET
			status        = 'failed',
			error_message = $3,
			claim_owner   = '',
			claimed_at    = NULL,
			version       = version + 1,
			updated_at    = now()
		WHERE id = $1 AND version = $2
		RETURNING `+jobColumns,
		jobID, version, errMsg)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, s.transitionError(ctx, jobID, thumbq.ErrClaimConflict)
		}
		return nil, fmt.Errorf("thumbq/postgres: mark job failed: %w", err)
	}
	return j, nil
}

func (s *Store) RequeueJob(ctx context.Context, jobID id.JobID, version int64) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE thumbq_jobs SET
			status        = 'pending',
			claim_owner   = '',
			claimed_at    = NULL,
			error_message = '',
			version       = version + 1,
			updated_at    = now()
		WHERE id = $1 AND version = $2 AND status = 'processing'
		RETURNING `+jobColumns,
		jobID, version)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, s.transitionError(ctx, jobID, thumbq.ErrClaimConflict)
		}
		return nil, fmt.Errorf("thumbq/postgres: requeue job: %w", err)
	}
	return j, nil
}

func (s *Store) StaleJobs(ctx context.Context, olderThan time.Time, limit int) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM thumbq_jobs
		WHERE status = 'processing' AND claimed_at < $1
		ORDER BY claimed_at ASC
		LIMIT $2`,
		olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("thumbq/postgres: stale jobs: %w", err)
	}
	return collectJobs(rows)
}

func (s *Store) LatestJobForAsset(ctx context.Context, assetID int64) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM thumbq_jobs
		WHERE asset_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1`,
		assetID)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, thumbq.ErrJobNotFound
		}
		return nil, fmt.Errorf("thumbq/postgres: latest job for asset: %w", err)
	}
	return j, nil
}

func (s *Store) LatestReadyJobForAsset(ctx context.Context, assetID int64) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM thumbq_jobs
		WHERE asset_id = $1 AND status = 'ready'
		ORDER BY updated_at DESC, id DESC
		LIMIT 1`,
		assetID)
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, thumbq.ErrNoThumbnail
		}
		return nil, fmt.Errorf("thumbq/postgres: latest ready job for asset: %w", err)
	}
	return j, nil
}

func (s *Store) ListJobsByStatus(ctx context.Context, status job.Status, opts job.ListOpts) ([]*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM thumbq_jobs WHERE ($1 = '' OR status = $1) AND ($2 = 0 OR asset_id = $2)
		ORDER BY created_at DESC, id DESC`
	args := []any{string(status), opts.AssetID}
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
		return nil, fmt.Errorf("thumbq/postgres: list jobs: %w", err)
	}
	return collectJobs(rows)
}

func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM thumbq_jobs
		WHERE ($1 = '' OR status = $1) AND ($2 = 0 OR asset_id = $2)`,
		string(opts.Status), opts.AssetID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("thumbq/postgres: count jobs: %w", err)
	}
	return n, nil
}

func (s *Store) PruneJobs(ctx context.Context, olderThan time.Time) (int64, error) {
	// Events go with the job via ON DELETE CASCADE.
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM thumbq_jobs
		WHERE status IN ('ready', 'failed') AND updated_at < $1`,
		olderThan)
	if err != nil {
		return 0, fmt.Errorf("thumbq/postgres: prune jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// transitionError distinguishes a conditional update that matched no rows:
// the job may be missing, terminal, or concurrently modified.
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

func scanJob(row pgx.Row) (*job.Job, error) {
	var j job.Job
	err := row.Scan(
		&j.ID, &j.AssetID, &j.ContentFingerprint, &j.Status, &j.AttemptCount,
		&j.ClaimOwner, &j.ClaimedAt, &j.Version, &j.ThumbnailPath, &j.SizeBytes,
		&j.Width, &j.Height, &j.ErrorMessage, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	defer rows.Close()
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("thumbq/postgres: scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("thumbq/postgres: iterate jobs: %w", err)
	}
	return jobs, nil
}
