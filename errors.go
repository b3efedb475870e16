package thumbq

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("thumbq: no store configured")
	ErrStoreClosed     = errors.New("thumbq: store closed")
	ErrMigrationFailed = errors.New("thumbq: migration failed")

	// Not found errors.
	ErrJobNotFound   = errors.New("thumbq: job not found")
	ErrEventNotFound = errors.New("thumbq: event not found")
	ErrNoThumbnail   = errors.New("thumbq: no thumbnail jobs for asset")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("thumbq: job already exists")

	// State errors. ErrClaimConflict reports a lost optimistic-concurrency
	// race and is an expected outcome under concurrent dequeue, not a bug.
	ErrInvalidTransition = errors.New("thumbq: invalid state transition")
	ErrClaimConflict     = errors.New("thumbq: job claim conflict")
	ErrAttemptsExhausted = errors.New("thumbq: attempt budget exhausted")
)
