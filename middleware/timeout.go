package middleware

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Papyszoo/Modelibr-sub004/job"
)

// Timeout bounds a single render. The handler must honor context
// cancellation for the bound to hold.
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		err := next(ctx, j)
		if err != nil && errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("thumbq/middleware: render exceeded %s: %w", d, err)
		}
		return err
	}
}
