package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/framehaus/jobd"
	"github.com/framehaus/jobd/id"
	"github.com/framehaus/jobd/job"
)

// RecordMetrics upserts the execution metrics row for a job. At most one
// row exists per job; a retry that succeeds overwrites the failed attempt.
func (s *Store) RecordMetrics(ctx context.Context, jobID id.JobID, execTime time.Duration, memory int64, cpu float64) error {
	exists, err := s.db.NewSelect().
		TableExpr("jobd_jobs").
		Where("id = ?", jobID.String()).
		Exists(ctx)
	if err != nil {
		return fmt.Errorf("jobd/sqlite: record metrics lookup: %w", err)
	}
	if !exists {
		return jobd.ErrJobNotFound
	}

	m := &metricsModel{
		JobID:         jobID.String(),
		ExecutionTime: execTime.Nanoseconds(),
		MemoryUsage:   memory,
		CPUUsage:      cpu,
		CreatedAt:     time.Now().UTC(),
	}
	_, err = s.db.NewInsert().Model(m).
		On("CONFLICT (job_id) DO UPDATE").
		Set("execution_time = EXCLUDED.execution_time").
		Set("memory_usage = EXCLUDED.memory_usage").
		Set("cpu_usage = EXCLUDED.cpu_usage").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("jobd/sqlite: record metrics: %w", err)
	}
	return nil
}

// Metrics returns the recorded metrics row for a job, if any. Not part of
// job.Store; used by diagnostics.
func (s *Store) Metrics(ctx context.Context, jobID id.JobID) (*job.Metrics, error) {
	m := new(metricsModel)
	err := s.db.NewSelect().Model(m).
		Where("job_id = ?", jobID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, jobd.ErrJobNotFound
		}
		return nil, fmt.Errorf("jobd/sqlite: get metrics: %w", err)
	}
	return &job.Metrics{
		JobID:         jobID,
		ExecutionTime: time.Duration(m.ExecutionTime),
		MemoryUsage:   m.MemoryUsage,
		CPUUsage:      m.CPUUsage,
	}, nil
}
