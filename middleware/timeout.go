package middleware

import (
	"context"
	"log/slog"

	"github.com/framehaus/jobd/job"
)

// Timeout returns middleware that enforces the per-job execution deadline.
// If the job has a non-zero Timeout, a context.WithTimeout wraps the
// handler call. The deadline is cooperative: when it expires the context
// is cancelled and the handler should return context.DeadlineExceeded,
// which then feeds the retry controller like any other handler error.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		if j.Timeout > 0 {
			logger.Debug("job timeout set",
				slog.String("job_id", j.ID.String()),
				slog.Duration("timeout", j.Timeout),
			)
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, j.Timeout)
			defer cancel()
		}
		return next(ctx)
	}
}
