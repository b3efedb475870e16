package thumbq

import (
	"fmt"
	"time"
)

// Config holds the operational parameters of the queue engine.
type Config struct {
	// MaxAttempts is the per-job claim budget. A job that fails with
	// this many recorded attempts becomes terminally Failed.
	MaxAttempts int

	// LeaseTimeout is how long a claim may go unresolved before the job
	// is considered stale and eligible for reclaim.
	LeaseTimeout time.Duration

	// ClaimScanLimit caps how many candidates a single dequeue call
	// inspects before reporting no work.
	ClaimScanLimit int

	// SweepSchedule is the cron expression (5-field or @every form) for
	// the janitor's stale-claim sweep. Empty disables the sweep.
	SweepSchedule string

	// SweepBatchSize caps how many stale claims one sweep tick resolves.
	SweepBatchSize int

	// PruneSchedule is the cron expression for terminal-job retention
	// pruning. Pruning also requires a non-zero Retention.
	PruneSchedule string

	// Retention is how long Ready and Failed jobs are kept after their
	// last update. Zero keeps them forever.
	Retention time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		LeaseTimeout:   5 * time.Minute,
		ClaimScanLimit: 10,
		SweepSchedule:  "@every 1m",
		SweepBatchSize: 100,
		PruneSchedule:  "@every 1h",
		Retention:      0,
	}
}

// Validate reports the first invalid field, if any.
func (c Config) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("thumbq: config: MaxAttempts must be >= 1, got %d", c.MaxAttempts)
	}
	if c.LeaseTimeout <= 0 {
		return fmt.Errorf("thumbq: config: LeaseTimeout must be positive, got %s", c.LeaseTimeout)
	}
	if c.ClaimScanLimit < 1 {
		return fmt.Errorf("thumbq: config: ClaimScanLimit must be >= 1, got %d", c.ClaimScanLimit)
	}
	if c.SweepBatchSize < 1 {
		return fmt.Errorf("thumbq: config: SweepBatchSize must be >= 1, got %d", c.SweepBatchSize)
	}
	return nil
}
