package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/framehaus/jobd/job"
)

// CleanupTerminal deletes terminal jobs whose completed_at precedes the
// cutoff. History and metrics rows follow through ON DELETE CASCADE.
func (s *Store) CleanupTerminal(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.db.NewDelete().
		TableExpr("jobd_jobs").
		Where("status IN (?, ?, ?)",
			string(job.StatusCompleted), string(job.StatusFailed), string(job.StatusCancelled)).
		Where("completed_at IS NOT NULL").
		Where("completed_at < ?", cutoff).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("jobd/sqlite: cleanup terminal: %w", err)
	}
	removed, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	return removed, nil
}

// Stats aggregates counts by status, type, and priority, plus the most
// recent jobs and failures and the average execution time.
func (s *Store) Stats(ctx context.Context, recent int) (*job.Stats, error) {
	st := &job.Stats{
		ByStatus:   make(map[job.Status]int64),
		ByType:     make(map[string]int64),
		ByPriority: make(map[job.Priority]int64),
	}

	type bucket struct {
		Key   string `bun:"key"`
		Count int64  `bun:"count"`
	}

	var byStatus []bucket
	err := s.db.NewSelect().
		TableExpr("jobd_jobs").
		ColumnExpr("status AS key, COUNT(*) AS count").
		GroupExpr("status").
		Scan(ctx, &byStatus)
	if err != nil {
		return nil, fmt.Errorf("jobd/sqlite: stats by status: %w", err)
	}
	for _, b := range byStatus {
		st.ByStatus[job.Status(b.Key)] = b.Count
	}

	var byType []bucket
	err = s.db.NewSelect().
		TableExpr("jobd_jobs").
		ColumnExpr("type AS key, COUNT(*) AS count").
		GroupExpr("type").
		Scan(ctx, &byType)
	if err != nil {
		return nil, fmt.Errorf("jobd/sqlite: stats by type: %w", err)
	}
	for _, b := range byType {
		st.ByType[b.Key] = b.Count
	}

	var byPriority []bucket
	err = s.db.NewSelect().
		TableExpr("jobd_jobs").
		ColumnExpr("priority AS key, COUNT(*) AS count").
		GroupExpr("priority").
		Scan(ctx, &byPriority)
	if err != nil {
		return nil, fmt.Errorf("jobd/sqlite: stats by priority: %w", err)
	}
	for _, b := range byPriority {
		st.ByPriority[job.Priority(b.Key)] = b.Count
	}

	if recent > 0 {
		recentJobs, err := s.recentJobs(ctx, "", recent)
		if err != nil {
			return nil, err
		}
		st.Recent = recentJobs

		failures, err := s.recentJobs(ctx, job.StatusFailed, recent)
		if err != nil {
			return nil, err
		}
		st.RecentFailures = failures
	}

	var avgNanos *float64
	err = s.db.NewSelect().
		TableExpr("jobd_job_metrics").
		ColumnExpr("AVG(execution_time)").
		Scan(ctx, &avgNanos)
	if err != nil {
		return nil, fmt.Errorf("jobd/sqlite: stats avg execution time: %w", err)
	}
	if avgNanos != nil {
		st.AvgExecutionTime = time.Duration(*avgNanos)
	}

	return st, nil
}

// recentJobs returns the most recently created jobs, optionally filtered
// by status.
func (s *Store) recentJobs(ctx context.Context, status job.Status, limit int) ([]*job.Job, error) {
	var models []jobModel
	q := s.db.NewSelect().Model(&models).
		Order("created_at DESC", "id DESC").
		Limit(limit)
	if status != "" {
		q = q.Where("status = ?", string(status))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("jobd/sqlite: recent jobs: %w", err)
	}

	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, convErr := fromJobModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("jobd/sqlite: recent convert: %w", convErr)
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}
