package sqlite

import (
	"context"
	"fmt"

	"github.com/framehaus/jobd/id"
	"github.com/framehaus/jobd/job"
)

// History returns the job's transition log, most recent first.
func (s *Store) History(ctx context.Context, jobID id.JobID, limit int) ([]*job.HistoryEntry, error) {
	var models []historyModel
	q := s.db.NewSelect().Model(&models).
		Where("job_id = ?", jobID.String()).
		Order("created_at DESC", "id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("jobd/sqlite: job history: %w", err)
	}

	entries := make([]*job.HistoryEntry, 0, len(models))
	for i := range models {
		entry, convErr := fromHistoryModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("jobd/sqlite: history convert: %w", convErr)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
