// Package job defines the job entity, its status and priority enums with
// the closed transition table, typed definitions, the handler registry,
// and the store interface.
//
// # Job Entity
//
// A [Job] represents one unit of work. It embeds jobd.Entity for
// timestamps, carries an opaque JSON payload, and progresses through a
// state machine:
//
//	pending → processing → completed
//	pending → processing → retrying → pending → ...
//	pending → processing → failed
//	pending → cancelled | paused
//
// Fields of note:
//   - Priority: critical, high, medium, low — unknown tags normalize to
//     medium at creation instead of erroring
//   - MaxRetries / RetryCount: the retry budget
//   - RunAt: earliest time the job may be claimed; retried jobs park
//     here until their backoff elapses
//   - Timeout: per-job cooperative execution deadline
//
// # Defining a Job
//
// Use [Definition] with a typed handler. The payload is JSON-serialized
// at enqueue time and decoded before the handler runs. Handlers report
// progress — and observe cooperative cancellation — through their
// [ReportFunc]:
//
//	var ScanLibrary = job.NewDefinition("scan",
//	    func(ctx context.Context, in ScanInput, report job.ReportFunc) (any, error) {
//	        for i, dir := range in.Dirs {
//	            if err := report(ctx, i*100/len(in.Dirs), dir); err != nil {
//	                return nil, err // cancellation requested
//	            }
//	            // ... scan dir
//	        }
//	        return ScanResult{...}, nil
//	    },
//	)
//
// # Registry
//
// [Registry] maps job types to type-erased [Handler] values. Register
// definitions at startup via [RegisterDefinition]; the engine package
// provides the higher-level engine.Register and engine.Enqueue wrappers.
package job
