package sqlite

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/framehaus/jobd"
	"github.com/framehaus/jobd/id"
	"github.com/framehaus/jobd/job"
)

// priorityRankSQL maps the priority column to its numeric rank so SQL
// ordering matches job.Priority.Rank().
const priorityRankSQL = `CASE priority WHEN 'critical' THEN 3 WHEN 'high' THEN 2 WHEN 'medium' THEN 1 ELSE 0 END`

// ── Job model ─────────────────────────────────────────────────────

type jobModel struct {
	bun.BaseModel `bun:"table:jobd_jobs"`

	ID              string     `bun:"id,pk"`
	Type            string     `bun:"type,notnull"`
	Payload         []byte     `bun:"payload"`
	Priority        string     `bun:"priority,notnull,default:'medium'"`
	Status          string     `bun:"status,notnull,default:'pending'"`
	Progress        int        `bun:"progress,notnull,default:0"`
	Message         string     `bun:"message"`
	Result          []byte     `bun:"result"`
	Error           string     `bun:"error"`
	RetryCount      int        `bun:"retry_count,notnull,default:0"`
	MaxRetries      int        `bun:"max_retries,notnull,default:3"`
	Timeout         int64      `bun:"timeout,notnull,default:0"`
	RunAt           time.Time  `bun:"run_at,notnull"`
	CancelRequested bool       `bun:"cancel_requested,notnull,default:false"`
	Owner           string     `bun:"owner"`
	Context         string     `bun:"context"`
	WorkerID        string     `bun:"worker_id"`
	StartedAt       *time.Time `bun:"started_at"`
	CompletedAt     *time.Time `bun:"completed_at"`
	CreatedAt       time.Time  `bun:"created_at,notnull"`
	UpdatedAt       time.Time  `bun:"updated_at,notnull"`
}

func toJobModel(j *job.Job) *jobModel {
	m := &jobModel{
		ID:              j.ID.String(),
		Type:            j.Type,
		Payload:         j.Payload,
		Priority:        string(j.Priority),
		Status:          string(j.Status),
		Progress:        j.Progress,
		Message:         j.Message,
		Result:          j.Result,
		Error:           j.Error,
		RetryCount:      j.RetryCount,
		MaxRetries:      j.MaxRetries,
		Timeout:         j.Timeout.Nanoseconds(),
		RunAt:           j.RunAt,
		CancelRequested: j.CancelRequested,
		Owner:           j.Owner,
		Context:         j.Context,
		StartedAt:       j.StartedAt,
		CompletedAt:     j.CompletedAt,
		CreatedAt:       j.CreatedAt,
		UpdatedAt:       j.UpdatedAt,
	}
	if !j.WorkerID.IsNil() {
		m.WorkerID = j.WorkerID.String()
	}
	return m
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	parsedID, err := id.ParseWithPrefix(m.ID, id.PrefixJob)
	if err != nil {
		return nil, fmt.Errorf("jobd/sqlite: parse job id %q: %w", m.ID, err)
	}

	j := &job.Job{
		Entity: jobd.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:              parsedID,
		Type:            m.Type,
		Payload:         json.RawMessage(m.Payload),
		Priority:        job.Priority(m.Priority),
		Status:          job.Status(m.Status),
		Progress:        m.Progress,
		Message:         m.Message,
		Result:          json.RawMessage(m.Result),
		Error:           m.Error,
		RetryCount:      m.RetryCount,
		MaxRetries:      m.MaxRetries,
		Timeout:         time.Duration(m.Timeout),
		RunAt:           m.RunAt,
		CancelRequested: m.CancelRequested,
		Owner:           m.Owner,
		Context:         m.Context,
		StartedAt:       m.StartedAt,
		CompletedAt:     m.CompletedAt,
	}

	if m.WorkerID != "" {
		parsedWorker, wErr := id.ParseWithPrefix(m.WorkerID, id.PrefixWorker)
		if wErr == nil {
			j.WorkerID = parsedWorker
		}
	}

	return j, nil
}

// ── History model ─────────────────────────────────────────────────

type historyModel struct {
	bun.BaseModel `bun:"table:jobd_job_history"`

	ID        int64     `bun:"id,pk,autoincrement"`
	JobID     string    `bun:"job_id,notnull"`
	Status    string    `bun:"status,notnull"`
	Message   string    `bun:"message"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

func fromHistoryModel(m *historyModel) (*job.HistoryEntry, error) {
	parsedID, err := id.ParseWithPrefix(m.JobID, id.PrefixJob)
	if err != nil {
		return nil, fmt.Errorf("jobd/sqlite: parse history job id %q: %w", m.JobID, err)
	}
	return &job.HistoryEntry{
		JobID:     parsedID,
		Status:    job.Status(m.Status),
		Message:   m.Message,
		CreatedAt: m.CreatedAt,
	}, nil
}

// ── Metrics model ─────────────────────────────────────────────────

type metricsModel struct {
	bun.BaseModel `bun:"table:jobd_job_metrics"`

	JobID         string    `bun:"job_id,pk"`
	ExecutionTime int64     `bun:"execution_time,notnull,default:0"`
	MemoryUsage   int64     `bun:"memory_usage,notnull,default:0"`
	CPUUsage      float64   `bun:"cpu_usage,notnull,default:0"`
	CreatedAt     time.Time `bun:"created_at,notnull"`
}
