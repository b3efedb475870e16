package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/Papyszoo/Modelibr-sub004/job"
)

// Logging emits one line per render with the outcome and duration.
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, j *job.Job, next Handler) error {
		start := time.Now()
		err := next(ctx, j)

		attrs := []any{
			slog.String("job_id", j.ID.String()),
			slog.Int64("asset_id", j.AssetID),
			slog.Int("attempt", j.AttemptCount),
			slog.Duration("duration", time.Since(start)),
		}
		if err != nil {
			logger.Error("render failed", append(attrs, slog.String("error", err.Error()))...)
			return err
		}
		logger.Info("render finished", attrs...)
		return nil
	}
}
