package middleware

import (
	"context"
	"fmt"

	"github.com/Papyszoo/Modelibr-sub004/job"
)

// Recover converts a panicking render into an ordinary error so one bad
// asset cannot take down the worker loop.
func Recover() Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("thumbq/middleware: render panicked: %v", r)
			}
		}()
		return next(ctx, j)
	}
}
