package job

import "context"

// Definition is a typed job definition with a handler function.
// T is the payload type (must be JSON-serializable).
type Definition[T any] struct {
	// Type is the unique tag for this job type.
	Type string

	// Handler processes the decoded payload. The returned value is
	// JSON-marshaled and stored as the job result.
	Handler func(ctx context.Context, payload T, report ReportFunc) (any, error)

	// Opts supplies default retries, priority, and timeout for jobs of
	// this type.
	Opts Options
}

// NewDefinition creates a typed job definition.
func NewDefinition[T any](jobType string, handler func(ctx context.Context, payload T, report ReportFunc) (any, error), opts ...Option) *Definition[T] {
	def := &Definition[T]{
		Type:    jobType,
		Handler: handler,
		Opts:    DefaultOptions(),
	}
	for _, opt := range opts {
		opt(&def.Opts)
	}
	return def
}
