package job

// Status represents the lifecycle state of a job.
type Status string

const (
	// StatusPending means the job is waiting to be claimed by a worker.
	StatusPending Status = "pending"
	// StatusProcessing means a worker is currently executing the job.
	StatusProcessing Status = "processing"
	// StatusRetrying means the job failed and is parked until its backoff
	// delay elapses.
	StatusRetrying Status = "retrying"
	// StatusCompleted means the job finished successfully.
	StatusCompleted Status = "completed"
	// StatusFailed means the job failed and will not be retried.
	StatusFailed Status = "failed"
	// StatusCancelled means the job was cancelled before or during
	// execution.
	StatusCancelled Status = "cancelled"
	// StatusPaused means the job was explicitly paused and will not be
	// claimed until resumed.
	StatusPaused Status = "paused"
)

// Statuses lists every valid status, in a stable order.
var Statuses = []Status{
	StatusPending, StatusProcessing, StatusRetrying,
	StatusCompleted, StatusFailed, StatusCancelled, StatusPaused,
}

// transitions is the closed transition table. It covers the automatic
// transitions driven by workers plus the explicit operator transitions:
// cooperative cancel of a processing job, crash recovery of an orphaned
// processing job, and RetryNow on a failed job.
var transitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusProcessing: true, // worker claims
		StatusCancelled:  true, // explicit cancel
		StatusPaused:     true, // explicit pause
	},
	StatusProcessing: {
		StatusCompleted: true, // handler success
		StatusRetrying:  true, // handler error, retries remain
		StatusFailed:    true, // handler error, retries exhausted
		StatusCancelled: true, // handler observed the cancel flag
		StatusPending:   true, // crash recovery requeue
	},
	StatusRetrying: {
		StatusPending: true, // backoff elapsed
	},
	StatusPaused: {
		StatusPending: true, // explicit resume
	},
	StatusFailed: {
		StatusPending: true, // explicit retry-now
	},
	StatusCompleted: {},
	StatusCancelled: {},
}

// Valid reports whether s is one of the defined statuses.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether s is a state from which no automatic
// transition occurs.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a job may move from one status to
// another. Any pair outside the table is rejected.
func CanTransition(from, to Status) bool {
	allowed, ok := transitions[from]
	if !ok {
		return false
	}
	return allowed[to]
}
