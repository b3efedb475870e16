// Package worker runs a pool of render loops that claim jobs from a
// queue, execute a render function, and report the outcome back.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Papyszoo/Modelibr-sub004/backoff"
	"github.com/Papyszoo/Modelibr-sub004/id"
	"github.com/Papyszoo/Modelibr-sub004/job"
	"github.com/Papyszoo/Modelibr-sub004/middleware"
)

// ── queue contract ──

// Queue is the subset of the server API a pool needs. *client.Client
// satisfies it; tests may substitute a fake.
type Queue interface {
	Dequeue(ctx context.Context, workerID string) (*job.Job, error)
	Complete(ctx context.Context, jobID id.JobID, thumb job.Thumbnail) error
	Fail(ctx context.Context, jobID id.JobID, errMsg string) error
}

// RenderFunc produces a thumbnail for a claimed job. A non-nil error
// reports the job as failed; the queue decides retry versus exhaustion.
type RenderFunc func(ctx context.Context, j *job.Job) (job.Thumbnail, error)

// ── pool ──

// Pool polls a queue with a fixed number of concurrent loops. Each loop
// claims one job at a time, runs the render function through the
// middleware chain, and reports completion or failure. Idle loops back
// off between polls.
type Pool struct {
	queue  Queue
	render RenderFunc

	concurrency int
	workerID    string
	idle        backoff.Strategy
	mws         []middleware.Middleware
	logger      *slog.Logger

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// Option configures a Pool.
type Option func(*Pool)

// WithConcurrency sets the number of polling loops. Values below one
// are ignored.
func WithConcurrency(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithWorkerID sets the base worker identity. Each loop appends its
// index so claims remain attributable to a single loop.
func WithWorkerID(workerID string) Option {
	return func(p *Pool) {
		if workerID != "" {
			p.workerID = workerID
		}
	}
}

// WithIdleBackoff sets the strategy used to pace polls when the queue
// is empty.
func WithIdleBackoff(s backoff.Strategy) Option {
	return func(p *Pool) {
		if s != nil {
			p.idle = s
		}
	}
}

// WithMiddleware appends middlewares around the render function. The
// first middleware passed is the outermost.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(p *Pool) {
		p.mws = append(p.mws, mws...)
	}
}

// WithLogger sets the pool logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New builds a pool over a queue and render function.
func New(queue Queue, render RenderFunc, opts ...Option) (*Pool, error) {
	if queue == nil {
		return nil, fmt.Errorf("thumbq/worker: nil queue")
	}
	if render == nil {
		return nil, fmt.Errorf("thumbq/worker: nil render func")
	}

	p := &Pool{
		queue:       queue,
		render:      render,
		concurrency: 1,
		workerID:    "worker-" + uuid.NewString(),
		idle:        backoff.DefaultStrategy(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Start launches the polling loops. Restarting a running pool is a
// no-op.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.stopCh = make(chan struct{})

	for i := 0; i < p.concurrency; i++ {
		owner := fmt.Sprintf("%s-%d", p.workerID, i)
		p.wg.Add(1)
		go p.loop(owner)
	}
	p.logger.Info("worker pool started",
		"worker_id", p.workerID,
		"concurrency", p.concurrency)
}

// Stop signals all loops and waits for in-flight jobs to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("worker pool stopped", "worker_id", p.workerID)
}

// ── polling loop ──

func (p *Pool) loop(owner string) {
	defer p.wg.Done()

	idleAttempts := 0
	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		ctx := context.Background()
		j, err := p.queue.Dequeue(ctx, owner)
		if err != nil {
			p.logger.Warn("dequeue failed",
				"worker_id", owner,
				"error", err)
			idleAttempts++
			if !p.sleep(p.idle.Delay(idleAttempts)) {
				return
			}
			continue
		}
		if j == nil {
			idleAttempts++
			if !p.sleep(p.idle.Delay(idleAttempts)) {
				return
			}
			continue
		}

		idleAttempts = 0
		p.execute(ctx, owner, j)
	}
}

// sleep waits for d or until the pool stops. It reports whether the
// pool is still running.
func (p *Pool) sleep(d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-p.stopCh:
		return false
	case <-timer.C:
		return true
	}
}

// execute runs the render function through the middleware chain and
// reports the outcome. Report errors are logged; the claim lease will
// expire and the job be rescued if the report never lands.
func (p *Pool) execute(ctx context.Context, owner string, j *job.Job) {
	var thumb job.Thumbnail
	handler := middleware.Chain(func(ctx context.Context, j *job.Job) error {
		var err error
		thumb, err = p.render(ctx, j)
		return err
	}, p.mws...)

	if err := handler(ctx, j); err != nil {
		p.logger.Warn("render failed",
			"worker_id", owner,
			"job_id", j.ID,
			"asset_id", j.AssetID,
			"attempt", j.AttemptCount,
			"error", err)
		if ferr := p.queue.Fail(ctx, j.ID, err.Error()); ferr != nil {
			p.logger.Error("failure report failed",
				"worker_id", owner,
				"job_id", j.ID,
				"error", ferr)
		}
		return
	}

	if cerr := p.queue.Complete(ctx, j.ID, thumb); cerr != nil {
		p.logger.Error("completion report failed",
			"worker_id", owner,
			"job_id", j.ID,
			"error", cerr)
		return
	}
	p.logger.Info("job rendered",
		"worker_id", owner,
		"job_id", j.ID,
		"asset_id", j.AssetID,
		"attempt", j.AttemptCount)
}
