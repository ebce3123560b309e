// Package jobd is the persistent background-job scheduler embedded in the
// framehaus photo-management backend. It queues, prioritizes, executes,
// retries, and audits long-running asynchronous work such as directory
// scans, embedding indexing, and exports.
//
// jobd is a library, not a service. Feature modules register handlers for
// their job types at startup, enqueue work through the engine facade, and
// a fixed pool of workers coordinates entirely through the durable store:
//
//	st := sqlite.New(db)
//	eng, err := engine.New(st, engine.WithWorkers(4))
//	engine.Register(eng, scanJob)
//	err = eng.Start(ctx)
//
// # Architecture
//
// The store is the single source of truth. Workers claim jobs with atomic
// conditional updates, report progress through a per-job callback, and
// feed failures into a pure retry/backoff decision. Every status
// transition is appended to an immutable history log, and execution
// metrics are upserted when a job reaches a terminal state.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package jobd
