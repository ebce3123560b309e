package job

import "time"

// Options configures per-job behavior such as retries, priority, and
// attribution.
type Options struct {
	// Priority determines claim ordering.
	Priority Priority

	// MaxRetries is the maximum number of retry attempts before the job
	// is finalized as failed.
	MaxRetries int

	// Timeout is the maximum duration a handler may run. Expiry is
	// surfaced as a handler error and feeds the retry controller.
	Timeout time.Duration

	// RunAt schedules the job for future execution. Zero means immediate.
	RunAt time.Time

	// Owner and Context are free-form attribution tags.
	Owner   string
	Context string
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		Priority:   PriorityMedium,
		MaxRetries: 3,
		Timeout:    10 * time.Minute,
	}
}

// Option is a functional option for configuring a job.
type Option func(*Options)

// WithPriority sets the job priority from its string tag. Unknown tags
// normalize to medium.
func WithPriority(p string) Option {
	return func(o *Options) {
		o.Priority = ParsePriority(p)
	}
}

// WithMaxRetries sets the maximum number of retry attempts.
func WithMaxRetries(n int) Option {
	return func(o *Options) {
		o.MaxRetries = n
	}
}

// WithTimeout sets the maximum execution duration for the job.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// WithRunAt schedules the job for execution at a specific time.
func WithRunAt(t time.Time) Option {
	return func(o *Options) {
		o.RunAt = t
	}
}

// WithOwner tags the job with its owning subsystem or user.
func WithOwner(owner string) Option {
	return func(o *Options) {
		o.Owner = owner
	}
}

// WithContext tags the job with free-form context for filtering.
func WithContext(c string) Option {
	return func(o *Options) {
		o.Context = c
	}
}
