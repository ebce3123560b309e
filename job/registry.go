package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// ErrCancelRequested is returned by a job's report callback once
// cancellation has been requested. Well-behaved handlers propagate it to
// exit early; the executor finalizes the job as cancelled.
var ErrCancelRequested = errors.New("job: cancellation requested")

// ReportFunc is the progress-update callback passed to every handler.
// It persists the given progress and message on the job, and returns
// ErrCancelRequested once a cooperative cancel has been requested.
// It is the only channel through which a long-running handler reports
// progress.
type ReportFunc func(ctx context.Context, progress int, message string) error

// Handler is a type-erased job handler. It receives the claimed job
// (payload verbatim as enqueued) and the report callback, and returns an
// opaque result on success.
type Handler func(ctx context.Context, j *Job, report ReportFunc) (json.RawMessage, error)

// Registry maps job types to handlers. Registration happens once at
// startup; the registry is read-only thereafter and safe for concurrent
// reads by all workers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register binds a handler to a job type, replacing any previous binding.
func (r *Registry) Register(jobType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[jobType] = h
}

// Get returns the handler for the given job type.
// Returns false if no handler is registered.
func (r *Registry) Get(jobType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}

// Types returns all registered job types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}

// RegisterDefinition registers a typed job definition. The generic
// handler is wrapped in a closure that JSON-unmarshals the payload into T
// before calling the typed handler and marshals the typed result back.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	handler := func(ctx context.Context, j *Job, report ReportFunc) (json.RawMessage, error) {
		var t T
		if len(j.Payload) > 0 {
			if err := json.Unmarshal(j.Payload, &t); err != nil {
				return nil, fmt.Errorf("unmarshal payload for job type %q: %w", def.Type, err)
			}
		}

		res, err := def.Handler(ctx, t, report)
		if err != nil {
			return nil, err
		}
		if res == nil {
			return nil, nil
		}

		out, err := json.Marshal(res)
		if err != nil {
			return nil, fmt.Errorf("marshal result for job type %q: %w", def.Type, err)
		}
		return out, nil
	}

	r.Register(def.Type, handler)
}
