package jobd

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("jobd: no store configured")
	ErrStoreClosed     = errors.New("jobd: store closed")
	ErrMigrationFailed = errors.New("jobd: migration failed")

	// Not found errors.
	ErrJobNotFound = errors.New("jobd: job not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("jobd: job already exists")
	ErrStatusConflict   = errors.New("jobd: job status changed concurrently")

	// Claim errors.
	ErrNoJobAvailable = errors.New("jobd: no job available")

	// State errors.
	ErrInvalidTransition  = errors.New("jobd: invalid status transition")
	ErrMaxRetriesExceeded = errors.New("jobd: max retries exceeded")

	// Lifecycle errors.
	ErrNotRunning     = errors.New("jobd: scheduler not running")
	ErrAlreadyRunning = errors.New("jobd: scheduler already running")
)
