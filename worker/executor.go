// Package worker provides the job execution engine — an Executor that
// invokes registered handlers through middleware, and a Pool that
// manages concurrent worker goroutines claiming jobs from the store.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/framehaus/jobd/backoff"
	"github.com/framehaus/jobd/ext"
	"github.com/framehaus/jobd/job"
	"github.com/framehaus/jobd/middleware"
)

// Executor runs a single claimed job through middleware and the
// registered handler, then handles retry scheduling, terminal state
// updates, metrics, and lifecycle events.
type Executor struct {
	registry   *job.Registry
	extensions *ext.Registry
	store      job.Store
	backoff    backoff.Strategy
	mw         middleware.Middleware
	logger     *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	registry *job.Registry,
	extensions *ext.Registry,
	store job.Store,
	bo backoff.Strategy,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		registry:   registry,
		extensions: extensions,
		store:      store,
		backoff:    bo,
		mw:         middleware.Chain(mws...),
		logger:     logger,
	}
}

// Execute runs a claimed job to its next state.
// On success: marks completed with the handler result, emits JobCompleted.
// On cooperative cancellation: marks cancelled, emits JobCancelled.
// On failure with retries remaining: parks the job as retrying with a
// backoff delay, emits JobRetrying.
// On failure with retries exhausted: marks failed, emits JobFailed.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	handler, ok := e.registry.Get(j.Type)
	if !ok {
		// A missing handler counts as a handler failure: a later
		// retry may run in a process that registers the type.
		return e.handleFailure(ctx, j, fmt.Errorf("no handler registered for job type %q", j.Type), 0, 0)
	}

	report := e.reportFunc(j)

	var result json.RawMessage
	terminal := func(ctx context.Context) error {
		out, handlerErr := handler(ctx, j, report)
		if handlerErr != nil {
			return handlerErr
		}
		result = out
		return nil
	}

	var memBefore runtime.MemStats
	runtime.ReadMemStats(&memBefore)
	start := time.Now()

	err := e.mw(ctx, j, terminal)

	elapsed := time.Since(start)
	var memAfter runtime.MemStats
	runtime.ReadMemStats(&memAfter)
	memDelta := int64(memAfter.TotalAlloc - memBefore.TotalAlloc)

	if err != nil {
		if errors.Is(err, job.ErrCancelRequested) {
			return e.finalizeCancelled(ctx, j, elapsed, memDelta)
		}
		return e.handleFailure(ctx, j, err, elapsed, memDelta)
	}

	return e.finalizeCompleted(ctx, j, result, elapsed, memDelta)
}

// reportFunc builds the progress callback handed to the handler. Each
// report persists progress and re-reads the cooperative cancel flag, so
// a cancel request surfaces at the handler's next checkpoint.
func (e *Executor) reportFunc(j *job.Job) job.ReportFunc {
	return func(ctx context.Context, progress int, message string) error {
		if progress < 0 {
			progress = 0
		}
		if progress > 100 {
			progress = 100
		}

		if err := e.store.Update(ctx, j.ID, job.Update{
			Progress: &progress,
			Message:  &message,
		}); err != nil {
			e.logger.Warn("progress update failed",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
		}
		e.extensions.EmitJobProgress(ctx, j, progress, message)

		current, err := e.store.Get(ctx, j.ID)
		if err != nil {
			e.logger.Warn("cancel check failed",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
			return nil
		}
		if current.CancelRequested {
			return job.ErrCancelRequested
		}
		return nil
	}
}

// finalizeCompleted marks the job completed with its result.
func (e *Executor) finalizeCompleted(ctx context.Context, j *job.Job, result json.RawMessage, elapsed time.Duration, memDelta int64) error {
	now := time.Now().UTC()
	completed := job.StatusCompleted
	progress := 100
	message := "completed"

	if err := e.store.Update(ctx, j.ID, job.Update{
		Status:      &completed,
		Progress:    &progress,
		Message:     &message,
		Result:      result,
		CompletedAt: &now,
	}); err != nil {
		e.logger.Error("failed to finalize completed job",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
			slog.String("error", err.Error()),
		)
		return err
	}
	j.Status = completed
	j.CompletedAt = &now

	e.recordMetrics(ctx, j, elapsed, memDelta)
	e.extensions.EmitJobCompleted(ctx, j, elapsed)
	return nil
}

// finalizeCancelled marks the job cancelled after the handler observed
// the cooperative cancel flag.
func (e *Executor) finalizeCancelled(ctx context.Context, j *job.Job, elapsed time.Duration, memDelta int64) error {
	now := time.Now().UTC()
	cancelled := job.StatusCancelled
	message := "cancelled by request"

	if err := e.store.Update(ctx, j.ID, job.Update{
		Status:      &cancelled,
		Message:     &message,
		CompletedAt: &now,
	}); err != nil {
		e.logger.Error("failed to finalize cancelled job",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}
	j.Status = cancelled
	j.CompletedAt = &now

	e.recordMetrics(ctx, j, elapsed, memDelta)
	e.extensions.EmitJobCancelled(ctx, j)

	e.logger.Info("job cancelled",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
	)
	return job.ErrCancelRequested
}

// handleFailure either schedules a retry or finalizes the job as
// failed. The counter only moves on the retry path, so a terminally
// failed job ends with RetryCount == MaxRetries after its
// 1+MaxRetries attempts.
func (e *Executor) handleFailure(ctx context.Context, j *job.Job, handlerErr error, elapsed time.Duration, memDelta int64) error {
	if j.RetryCount < j.MaxRetries {
		j.RetryCount++
		return e.scheduleRetry(ctx, j, handlerErr)
	}
	return e.finalizeFailed(ctx, j, handlerErr, elapsed, memDelta)
}

// scheduleRetry parks the job as retrying with an exponential backoff
// delay. The promoter moves it back to pending once RunAt elapses.
func (e *Executor) scheduleRetry(ctx context.Context, j *job.Job, handlerErr error) error {
	delay := e.backoff.Delay(j.RetryCount)
	nextRunAt := time.Now().UTC().Add(delay)

	retrying := job.StatusRetrying
	errMsg := handlerErr.Error()
	message := fmt.Sprintf("retry %d/%d scheduled", j.RetryCount, j.MaxRetries)

	if err := e.store.Update(ctx, j.ID, job.Update{
		Status:     &retrying,
		Message:    &message,
		Error:      &errMsg,
		RetryCount: &j.RetryCount,
		RunAt:      &nextRunAt,
	}); err != nil {
		e.logger.Error("failed to park job for retry",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}
	j.Status = retrying
	j.RunAt = nextRunAt
	j.Error = errMsg

	e.extensions.EmitJobRetrying(ctx, j, j.RetryCount, nextRunAt)

	e.logger.Info("job scheduled for retry",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
		slog.Int("attempt", j.RetryCount),
		slog.Int("max_retries", j.MaxRetries),
		slog.Duration("delay", delay),
	)

	return fmt.Errorf("job %s retry %d/%d: %w", j.Type, j.RetryCount, j.MaxRetries, handlerErr)
}

// finalizeFailed marks the job failed after its retry budget is spent.
func (e *Executor) finalizeFailed(ctx context.Context, j *job.Job, handlerErr error, elapsed time.Duration, memDelta int64) error {
	now := time.Now().UTC()
	failed := job.StatusFailed
	errMsg := handlerErr.Error()
	message := "failed"

	if err := e.store.Update(ctx, j.ID, job.Update{
		Status:      &failed,
		Message:     &message,
		Error:       &errMsg,
		RetryCount:  &j.RetryCount,
		CompletedAt: &now,
	}); err != nil {
		e.logger.Error("failed to finalize failed job",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}
	j.Status = failed
	j.Error = errMsg
	j.CompletedAt = &now

	e.recordMetrics(ctx, j, elapsed, memDelta)
	e.extensions.EmitJobFailed(ctx, j, handlerErr)

	e.logger.Warn("job failed after exhausting retries",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
		slog.Int("retry_count", j.RetryCount),
		slog.String("error", handlerErr.Error()),
	)

	return handlerErr
}

// recordMetrics persists the terminal execution metrics. Best effort;
// a metrics failure never affects the job outcome.
func (e *Executor) recordMetrics(ctx context.Context, j *job.Job, elapsed time.Duration, memDelta int64) {
	if memDelta < 0 {
		memDelta = 0
	}
	if err := e.store.RecordMetrics(ctx, j.ID, elapsed, memDelta, 0); err != nil {
		e.logger.Warn("failed to record job metrics",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}
