package job

import (
	"encoding/json"
	"time"

	"github.com/framehaus/jobd"
	"github.com/framehaus/jobd/id"
)

// Job represents one unit of asynchronous work tracked by the scheduler.
type Job struct {
	jobd.Entity

	ID       id.JobID        `json:"id"`
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Priority Priority        `json:"priority"`
	Status   Status          `json:"status"`

	// Progress is 0-100; Message is a short human-readable status line
	// updated on every transition.
	Progress int    `json:"progress"`
	Message  string `json:"message,omitempty"`

	// Result is set only on success; Error carries the most recent
	// failure description.
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`

	RetryCount int           `json:"retry_count"`
	MaxRetries int           `json:"max_retries"`
	Timeout    time.Duration `json:"timeout,omitempty"`

	// RunAt is the earliest time the job may be claimed. Retried jobs are
	// parked with a future RunAt that encodes the backoff delay.
	RunAt time.Time `json:"run_at"`

	// CancelRequested is the cooperative cancellation flag. Handlers
	// observe it through their report callback and should exit early.
	CancelRequested bool `json:"cancel_requested,omitempty"`

	// Owner and Context are free-form attribution tags. The scheduling
	// logic never reads them.
	Owner   string `json:"owner,omitempty"`
	Context string `json:"context,omitempty"`

	WorkerID    id.WorkerID `json:"worker_id,omitempty"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// HistoryEntry is one immutable audit record of a status transition.
type HistoryEntry struct {
	JobID     id.JobID  `json:"job_id"`
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Metrics holds the execution metrics recorded when a job reaches a
// terminal state. At most one row exists per job.
type Metrics struct {
	JobID         id.JobID      `json:"job_id"`
	ExecutionTime time.Duration `json:"execution_time"`
	MemoryUsage   int64         `json:"memory_usage"`
	CPUUsage      float64       `json:"cpu_usage"`
}

// Stats is the aggregate view returned by Store.Stats.
type Stats struct {
	ByStatus         map[Status]int64   `json:"by_status"`
	ByType           map[string]int64   `json:"by_type"`
	ByPriority       map[Priority]int64 `json:"by_priority"`
	Recent           []*Job             `json:"recent"`
	RecentFailures   []*Job             `json:"recent_failures"`
	AvgExecutionTime time.Duration      `json:"avg_execution_time"`
}
