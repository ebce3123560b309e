package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/framehaus/jobd"
	"github.com/framehaus/jobd/id"
	"github.com/framehaus/jobd/job"
)

// Enqueue persists a new job and its creation history entry.
func (s *Store) Enqueue(ctx context.Context, j *job.Job) error {
	return s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		m := toJobModel(j)
		if _, err := tx.NewInsert().Model(m).Exec(ctx); err != nil {
			if isDuplicateKey(err) {
				return jobd.ErrJobAlreadyExists
			}
			return fmt.Errorf("jobd/sqlite: enqueue job: %w", err)
		}
		return appendHistory(ctx, tx, j.ID, j.Status, j.Message)
	})
}

// Claim atomically claims the single best-ranked eligible pending job.
// The claim is one conditional UPDATE over a ranked subquery, so exactly
// one concurrent caller can win a given row.
func (s *Store) Claim(ctx context.Context, workerID id.WorkerID) (*job.Job, error) {
	var claimed *job.Job
	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		now := time.Now().UTC()

		var m jobModel
		err := tx.NewRaw(`
			UPDATE jobd_jobs
			SET status = 'processing', worker_id = ?, started_at = ?,
			    message = 'processing', updated_at = ?
			WHERE id = (
				SELECT id FROM jobd_jobs
				WHERE status = 'pending' AND run_at <= ?
				ORDER BY `+priorityRankSQL+` DESC, created_at ASC, id ASC
				LIMIT 1
			)
			RETURNING *`,
			workerID.String(), now, now, now,
		).Scan(ctx, &m)
		if err != nil {
			if isNoRows(err) {
				return jobd.ErrNoJobAvailable
			}
			return fmt.Errorf("jobd/sqlite: claim job: %w", err)
		}

		j, convErr := fromJobModel(&m)
		if convErr != nil {
			return fmt.Errorf("jobd/sqlite: claim convert: %w", convErr)
		}
		if err := appendHistory(ctx, tx, j.ID, j.Status, j.Message); err != nil {
			return err
		}
		claimed = j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// Get retrieves a job by ID.
func (s *Store) Get(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	m := new(jobModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", jobID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, jobd.ErrJobNotFound
		}
		return nil, fmt.Errorf("jobd/sqlite: get job: %w", err)
	}
	return fromJobModel(m)
}

// Update applies a partial update in one transaction. A status change is
// validated against the transition table and logged to history.
func (s *Store) Update(ctx context.Context, jobID id.JobID, u job.Update) error {
	return s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		current := new(jobModel)
		err := tx.NewSelect().Model(current).
			Where("id = ?", jobID.String()).
			Limit(1).
			Scan(ctx)
		if err != nil {
			if isNoRows(err) {
				return jobd.ErrJobNotFound
			}
			return fmt.Errorf("jobd/sqlite: update load job: %w", err)
		}

		from := job.Status(current.Status)
		if u.ExpectedStatus != nil && from != *u.ExpectedStatus {
			return fmt.Errorf("%w: expected %s, is %s", jobd.ErrStatusConflict, *u.ExpectedStatus, from)
		}

		statusChanged := u.Status != nil && *u.Status != from
		if statusChanged && !job.CanTransition(from, *u.Status) {
			return fmt.Errorf("%w: %s -> %s", jobd.ErrInvalidTransition, from, *u.Status)
		}

		q := tx.NewUpdate().
			TableExpr("jobd_jobs").
			Set("updated_at = ?", time.Now().UTC()).
			Where("id = ?", jobID.String())

		message := current.Message
		if u.Status != nil {
			q = q.Set("status = ?", string(*u.Status))
		}
		if u.Progress != nil {
			q = q.Set("progress = ?", *u.Progress)
		}
		if u.Message != nil {
			q = q.Set("message = ?", *u.Message)
			message = *u.Message
		}
		if u.Result != nil {
			q = q.Set("result = ?", []byte(u.Result))
		}
		if u.Error != nil {
			q = q.Set("error = ?", *u.Error)
		}
		if u.RetryCount != nil {
			q = q.Set("retry_count = ?", *u.RetryCount)
		}
		if u.RunAt != nil {
			q = q.Set("run_at = ?", *u.RunAt)
		}
		if u.StartedAt != nil {
			q = q.Set("started_at = ?", *u.StartedAt)
		}
		if u.CompletedAt != nil {
			q = q.Set("completed_at = ?", *u.CompletedAt)
		}
		if u.CancelRequested != nil {
			q = q.Set("cancel_requested = ?", *u.CancelRequested)
		}
		if u.WorkerID != nil {
			q = q.Set("worker_id = ?", u.WorkerID.String())
		}

		if _, err := q.Exec(ctx); err != nil {
			return fmt.Errorf("jobd/sqlite: update job: %w", err)
		}

		if statusChanged {
			return appendHistory(ctx, tx, jobID, *u.Status, message)
		}
		return nil
	})
}

// RequestCancel sets the cooperative cancellation flag without touching
// the job's status.
func (s *Store) RequestCancel(ctx context.Context, jobID id.JobID) error {
	res, err := s.db.NewUpdate().
		TableExpr("jobd_jobs").
		Set("cancel_requested = ?", true).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", jobID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("jobd/sqlite: request cancel: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return jobd.ErrJobNotFound
	}
	return nil
}

// List returns jobs matching the filters, priority-major, creation-time-minor.
func (s *Store) List(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	var models []jobModel
	q := s.db.NewSelect().Model(&models)

	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if opts.Type != "" {
		q = q.Where("type = ?", opts.Type)
	}
	if opts.Priority != "" {
		q = q.Where("priority = ?", string(opts.Priority))
	}
	if opts.Owner != "" {
		q = q.Where("owner = ?", opts.Owner)
	}

	q = q.OrderExpr(priorityRankSQL + " DESC").Order("created_at ASC", "id ASC")

	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("jobd/sqlite: list jobs: %w", err)
	}

	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, convErr := fromJobModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("jobd/sqlite: list convert: %w", convErr)
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// Count returns the number of jobs matching the given options.
func (s *Store) Count(ctx context.Context, opts job.CountOpts) (int64, error) {
	q := s.db.NewSelect().TableExpr("jobd_jobs")

	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if opts.Type != "" {
		q = q.Where("type = ?", opts.Type)
	}

	count, err := q.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("jobd/sqlite: count jobs: %w", err)
	}
	return int64(count), nil
}

// PromoteDue moves retrying jobs whose backoff has elapsed back to pending.
func (s *Store) PromoteDue(ctx context.Context, now time.Time) (int, error) {
	promoted := 0
	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		var due []jobModel
		err := tx.NewSelect().Model(&due).
			Column("id", "retry_count", "max_retries").
			Where("status = ?", string(job.StatusRetrying)).
			Where("run_at <= ?", now).
			Scan(ctx)
		if err != nil {
			return fmt.Errorf("jobd/sqlite: promote select: %w", err)
		}
		if len(due) == 0 {
			return nil
		}

		for i := range due {
			m := &due[i]
			message := fmt.Sprintf("requeued after backoff (attempt %d/%d)", m.RetryCount, m.MaxRetries)
			_, err := tx.NewUpdate().
				TableExpr("jobd_jobs").
				Set("status = ?", string(job.StatusPending)).
				Set("message = ?", message).
				Set("updated_at = ?", now).
				Where("id = ?", m.ID).
				Where("status = ?", string(job.StatusRetrying)).
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("jobd/sqlite: promote job: %w", err)
			}
			jobID, parseErr := id.ParseWithPrefix(m.ID, id.PrefixJob)
			if parseErr != nil {
				return fmt.Errorf("jobd/sqlite: promote parse id %q: %w", m.ID, parseErr)
			}
			if err := appendHistory(ctx, tx, jobID, job.StatusPending, message); err != nil {
				return err
			}
			promoted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return promoted, nil
}

// RecoverOrphans sweeps jobs left in processing by a prior crash. Jobs
// whose started_at plus timeout has clearly elapsed are finalized as
// failed; the rest return to pending for another attempt.
func (s *Store) RecoverOrphans(ctx context.Context, now time.Time) (int, int, error) {
	requeued, failed := 0, 0
	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		var orphans []jobModel
		err := tx.NewSelect().Model(&orphans).
			Column("id", "timeout", "started_at").
			Where("status = ?", string(job.StatusProcessing)).
			Scan(ctx)
		if err != nil {
			return fmt.Errorf("jobd/sqlite: recover select: %w", err)
		}

		for i := range orphans {
			m := &orphans[i]
			jobID, parseErr := id.ParseWithPrefix(m.ID, id.PrefixJob)
			if parseErr != nil {
				return fmt.Errorf("jobd/sqlite: recover parse id %q: %w", m.ID, parseErr)
			}

			expired := m.Timeout > 0 && m.StartedAt != nil &&
				now.Sub(*m.StartedAt) > time.Duration(m.Timeout)

			if expired {
				_, err := tx.NewUpdate().
					TableExpr("jobd_jobs").
					Set("status = ?", string(job.StatusFailed)).
					Set("error = ?", "worker lost: timeout elapsed before recovery").
					Set("message = ?", "failed during crash recovery").
					Set("completed_at = ?", now).
					Set("updated_at = ?", now).
					Where("id = ?", m.ID).
					Exec(ctx)
				if err != nil {
					return fmt.Errorf("jobd/sqlite: recover fail job: %w", err)
				}
				if err := appendHistory(ctx, tx, jobID, job.StatusFailed, "failed during crash recovery"); err != nil {
					return err
				}
				failed++
				continue
			}

			_, err := tx.NewUpdate().
				TableExpr("jobd_jobs").
				Set("status = ?", string(job.StatusPending)).
				Set("message = ?", "requeued by crash recovery").
				Set("started_at = NULL").
				Set("worker_id = ''").
				Set("updated_at = ?", now).
				Where("id = ?", m.ID).
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("jobd/sqlite: recover requeue job: %w", err)
			}
			if err := appendHistory(ctx, tx, jobID, job.StatusPending, "requeued by crash recovery"); err != nil {
				return err
			}
			requeued++
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return requeued, failed, nil
}

// appendHistory inserts one transition record inside the caller's
// transaction.
func appendHistory(ctx context.Context, tx bun.IDB, jobID id.JobID, status job.Status, message string) error {
	_, err := tx.NewInsert().Model(&historyModel{
		JobID:     jobID.String(),
		Status:    string(status),
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}).Exec(ctx)
	if err != nil {
		return fmt.Errorf("jobd/sqlite: append history: %w", err)
	}
	return nil
}
