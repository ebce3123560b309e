package jobd

import "time"

// Config holds configuration for the scheduler engine.
type Config struct {
	// Workers is the number of concurrent worker goroutines. The count is
	// fixed for the pool's lifetime.
	Workers int

	// PollInterval is how often an idle worker polls for new jobs.
	PollInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for in-flight jobs
	// during graceful shutdown.
	ShutdownTimeout time.Duration

	// RetentionSchedule is the cron expression for the terminal-job
	// cleanup sweep. Empty disables the sweeper.
	RetentionSchedule string

	// RetentionAge is the minimum age of a terminal job before the
	// retention sweep may delete it.
	RetentionAge time.Duration

	// StatsRecent is how many recent jobs and recent failures Statistics
	// returns.
	StatsRecent int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Workers:           4,
		PollInterval:      500 * time.Millisecond,
		ShutdownTimeout:   30 * time.Second,
		RetentionSchedule: "0 3 * * *",
		RetentionAge:      30 * 24 * time.Hour,
		StatsRecent:       10,
	}
}
