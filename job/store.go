package job

import (
	"context"
	"encoding/json"
	"time"

	"github.com/framehaus/jobd/id"
)

// ListOpts controls filtering and pagination for job list queries.
// Results are ordered priority-major, creation-time-minor.
type ListOpts struct {
	// Status filters by status. Empty means all statuses.
	Status Status
	// Type filters by job type. Empty means all types.
	Type string
	// Priority filters by priority. Empty means all priorities.
	Priority Priority
	// Owner filters by the owner attribution tag. Empty means all owners.
	Owner string
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
}

// CountOpts controls filtering for job count queries.
type CountOpts struct {
	// Status filters by status. Empty means all statuses.
	Status Status
	// Type filters by job type. Empty means all types.
	Type string
}

// Update is a partial read-modify-write against a single job. Nil fields
// are preserved. A non-nil Status is validated against the transition
// table and appends a history entry.
type Update struct {
	// ExpectedStatus, when set, makes the update conditional: the write
	// is applied only if the job's current status matches, otherwise the
	// store returns jobd.ErrStatusConflict and mutates nothing.
	ExpectedStatus *Status

	Status          *Status
	Progress        *int
	Message         *string
	Result          json.RawMessage
	Error           *string
	RetryCount      *int
	RunAt           *time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
	CancelRequested *bool
	WorkerID        *id.WorkerID
}

// Store defines the persistence contract for jobs. The store is the
// single source of truth; all cross-worker coordination happens through
// its conditional updates. Every mutation is transactional so concurrent
// updates cannot interleave partial writes.
type Store interface {
	// Enqueue persists a new job. Inserting an existing ID returns
	// jobd.ErrJobAlreadyExists.
	Enqueue(ctx context.Context, j *Job) error

	// Claim atomically claims the single best-ranked eligible pending
	// job: it transitions the job to processing, records StartedAt and
	// the claiming worker, and appends a history entry. Exactly one
	// concurrent caller can win a given job. Returns
	// jobd.ErrNoJobAvailable when nothing is eligible.
	Claim(ctx context.Context, workerID id.WorkerID) (*Job, error)

	// Get retrieves a job by ID. Returns jobd.ErrJobNotFound on miss.
	Get(ctx context.Context, jobID id.JobID) (*Job, error)

	// Update applies a partial update in one transaction. Unknown IDs
	// return jobd.ErrJobNotFound without mutating anything; status values
	// outside the transition table return jobd.ErrInvalidTransition; an
	// unmet ExpectedStatus precondition returns jobd.ErrStatusConflict.
	Update(ctx context.Context, jobID id.JobID, u Update) error

	// RequestCancel sets the cooperative cancellation flag without
	// touching the job's status.
	RequestCancel(ctx context.Context, jobID id.JobID) error

	// List returns jobs matching the filters, ordered priority-major,
	// creation-time-minor.
	List(ctx context.Context, opts ListOpts) ([]*Job, error)

	// Count returns the number of jobs matching the given options.
	Count(ctx context.Context, opts CountOpts) (int64, error)

	// PromoteDue moves retrying jobs whose RunAt has elapsed back to
	// pending, appending a history entry per job, and reports how many
	// were promoted.
	PromoteDue(ctx context.Context, now time.Time) (int, error)

	// RecoverOrphans sweeps jobs left in processing by a prior crash.
	// Jobs whose StartedAt plus Timeout has clearly elapsed are finalized
	// as failed; the rest return to pending.
	RecoverOrphans(ctx context.Context, now time.Time) (requeued, failed int, err error)

	// RecordMetrics upserts the execution metrics row for a job.
	RecordMetrics(ctx context.Context, jobID id.JobID, execTime time.Duration, memory int64, cpu float64) error

	// History returns the job's transition log, most recent first.
	// Zero limit means no limit.
	History(ctx context.Context, jobID id.JobID, limit int) ([]*HistoryEntry, error)

	// CleanupTerminal deletes jobs (with their history and metrics) whose
	// status is terminal and whose CompletedAt precedes the cutoff. It
	// never touches non-terminal or fresher rows.
	CleanupTerminal(ctx context.Context, olderThan time.Duration) (int64, error)

	// Stats aggregates counts by status, type, and priority, the recent
	// most recent jobs and failures, and the average execution time.
	Stats(ctx context.Context, recent int) (*Stats, error)

	// Migrate creates or upgrades the schema.
	Migrate(ctx context.Context) error

	// Ping checks connectivity to the backing database.
	Ping(ctx context.Context) error

	// Close releases store resources.
	Close() error
}
