// Package middleware wraps render handlers with cross-cutting behavior:
// panic recovery, structured logging, timeouts, OpenTelemetry tracing
// and metrics. Middlewares compose around the worker's render function.
package middleware

import (
	"context"

	"github.com/Papyszoo/Modelibr-sub004/job"
)

// Handler processes one claimed job.
type Handler func(ctx context.Context, j *job.Job) error

// Middleware wraps a handler invocation.
type Middleware func(ctx context.Context, j *job.Job, next Handler) error

// Chain composes middlewares around a handler. The first middleware is
// the outermost.
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		mw := mws[i]
		next := h
		h = func(ctx context.Context, j *job.Job) error {
			return mw(ctx, j, next)
		}
	}
	return h
}
