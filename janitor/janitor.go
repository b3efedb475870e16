// Package janitor runs the background maintenance loops: the stale-claim
// sweep that rescues jobs from crashed workers, and retention pruning of
// terminal jobs. Schedules are standard 5-field cron expressions or
// descriptors like @every 1m. Any number of janitors may run against the
// same store; version-keyed transitions keep them from double-resolving.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Papyszoo/Modelibr-sub004/engine"
)

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule validates and parses a cron expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("thumbq/janitor: parse schedule %q: %w", expr, err)
	}
	return sched, nil
}

// opTimeout bounds a single sweep or prune run.
const opTimeout = 30 * time.Second

// Janitor owns the maintenance goroutines.
type Janitor struct {
	engine *engine.Engine
	logger *slog.Logger

	sweep cron.Schedule
	prune cron.Schedule

	mu      sync.Mutex
	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
}

// Option configures a Janitor.
type Option func(*Janitor)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(jn *Janitor) { jn.logger = logger }
}

// New builds a janitor from the engine's configuration. An empty
// schedule disables the corresponding loop; a janitor with both loops
// disabled is valid and Start is a no-op.
func New(e *engine.Engine, opts ...Option) (*Janitor, error) {
	jn := &Janitor{
		engine: e,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(jn)
	}

	cfg := e.Config()
	if cfg.SweepSchedule != "" {
		sched, err := ParseSchedule(cfg.SweepSchedule)
		if err != nil {
			return nil, err
		}
		jn.sweep = sched
	}
	if cfg.PruneSchedule != "" && cfg.Retention > 0 {
		sched, err := ParseSchedule(cfg.PruneSchedule)
		if err != nil {
			return nil, err
		}
		jn.prune = sched
	}
	return jn, nil
}

// Start launches the enabled loops. Idempotent.
func (jn *Janitor) Start() {
	jn.mu.Lock()
	defer jn.mu.Unlock()
	if jn.started {
		return
	}
	jn.started = true
	jn.stopCh = make(chan struct{})

	if jn.sweep != nil {
		jn.wg.Add(1)
		go jn.loop(jn.sweep, "sweep", func(ctx context.Context) error {
			_, err := jn.engine.SweepStale(ctx)
			return err
		})
	}
	if jn.prune != nil {
		jn.wg.Add(1)
		go jn.loop(jn.prune, "prune", func(ctx context.Context) error {
			_, err := jn.engine.PruneTerminal(ctx)
			return err
		})
	}
}

// Stop terminates the loops and waits for in-flight runs.
func (jn *Janitor) Stop() {
	jn.mu.Lock()
	defer jn.mu.Unlock()
	if !jn.started {
		return
	}
	close(jn.stopCh)
	jn.wg.Wait()
	jn.started = false
}

func (jn *Janitor) loop(sched cron.Schedule, name string, run func(context.Context) error) {
	defer jn.wg.Done()

	for {
		next := sched.Next(time.Now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-jn.stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		if err := run(ctx); err != nil {
			jn.logger.Error("janitor run failed",
				slog.String("loop", name),
				slog.String("error", err.Error()))
		}
		cancel()
	}
}
