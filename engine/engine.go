// Package engine wires all jobd subsystems together. It creates the
// extension registry, handler registry, middleware chain, worker pool,
// and retention sweeper, and exposes the producer and query operations
// feature modules call.
//
// This package exists to break the import cycle: the root jobd package
// defines Entity and Config (imported by job, worker, etc.) and so
// cannot import those packages back. The engine package sits above all
// subsystem packages and below the application layer.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/framehaus/jobd"
	"github.com/framehaus/jobd/backoff"
	"github.com/framehaus/jobd/ext"
	"github.com/framehaus/jobd/id"
	"github.com/framehaus/jobd/job"
	mw "github.com/framehaus/jobd/middleware"
	"github.com/framehaus/jobd/observability"
	"github.com/framehaus/jobd/retention"
	"github.com/framehaus/jobd/throttle"
	"github.com/framehaus/jobd/worker"
)

// Engine is the scheduler facade. Feature modules register handlers,
// enqueue jobs, and query state through it; Start/Stop drive the
// worker pool and retention sweeper.
type Engine struct {
	cfg        jobd.Config
	store      job.Store
	registry   *job.Registry
	extensions *ext.Registry
	bo         backoff.Strategy
	pool       *worker.Pool
	sweeper    *retention.Sweeper
	limiter    *throttle.Limiter
	logger     *slog.Logger

	// Collected by options, applied during construction.
	extraMws        []mw.Middleware
	pendingExts     []ext.Extension
	throttleConfigs []throttle.Config

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	running bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig replaces the entire engine configuration.
func WithConfig(cfg jobd.Config) Option {
	return func(eng *Engine) { eng.cfg = cfg }
}

// WithWorkers sets the number of concurrent worker goroutines.
func WithWorkers(n int) Option {
	return func(eng *Engine) { eng.cfg.Workers = n }
}

// WithPollInterval sets how often idle workers poll for new jobs.
func WithPollInterval(d time.Duration) Option {
	return func(eng *Engine) { eng.cfg.PollInterval = d }
}

// WithShutdownTimeout sets the graceful shutdown budget.
func WithShutdownTimeout(d time.Duration) Option {
	return func(eng *Engine) { eng.cfg.ShutdownTimeout = d }
}

// WithRetention sets the retention sweep schedule and age. An empty
// schedule disables the sweeper.
func WithRetention(schedule string, age time.Duration) Option {
	return func(eng *Engine) {
		eng.cfg.RetentionSchedule = schedule
		eng.cfg.RetentionAge = age
	}
}

// WithLogger sets the logger for the engine and all subsystems.
func WithLogger(logger *slog.Logger) Option {
	return func(eng *Engine) { eng.logger = logger }
}

// WithExtension registers a lifecycle extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.pendingExts = append(eng.pendingExts, e) }
}

// WithMiddleware appends middleware to the engine's execution chain,
// inside the default stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.extraMws = append(eng.extraMws, m) }
}

// WithBackoff sets the retry backoff strategy. If not set,
// backoff.DefaultStrategy() (exponential, doubling per attempt) is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) { eng.bo = b }
}

// WithThrottle registers per-type rate limiting and concurrency
// configurations. Types not listed have no limits.
func WithThrottle(configs ...throttle.Config) Option {
	return func(eng *Engine) { eng.throttleConfigs = append(eng.throttleConfigs, configs...) }
}

// WithTracerProvider sets a custom OTel TracerProvider. When set, the
// tracing middleware uses this provider instead of the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider. When set, both
// the metrics middleware and the observability extension use this
// provider instead of the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// New creates an Engine on top of a job store.
func New(store job.Store, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, jobd.ErrNoStore
	}

	eng := &Engine{
		cfg:      jobd.DefaultConfig(),
		store:    store,
		registry: job.NewRegistry(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(eng)
	}

	eng.extensions = ext.NewRegistry(eng.logger)
	for _, e := range eng.pendingExts {
		eng.extensions.Register(e)
	}

	if eng.bo == nil {
		eng.bo = backoff.DefaultStrategy()
	}

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer("github.com/framehaus/jobd"))
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter("github.com/framehaus/jobd"))
	} else {
		metricsMw = mw.Metrics()
	}

	// Register the observability metrics extension.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		obsExt = observability.NewMetricsExtensionWithMeter(
			eng.meterProvider.Meter("github.com/framehaus/jobd/observability"))
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	// Default middleware stack: recover → tracing → metrics → logging → timeout.
	allMws := []mw.Middleware{
		mw.Recover(eng.logger),
		tracingMw,
		metricsMw,
		mw.Logging(eng.logger),
		mw.Timeout(eng.logger),
	}
	allMws = append(allMws, eng.extraMws...)

	executor := worker.NewExecutor(eng.registry, eng.extensions, eng.store, eng.bo, eng.logger, allMws...)

	poolOpts := []worker.PoolOption{
		worker.WithPoolConcurrency(eng.cfg.Workers),
		worker.WithPollInterval(eng.cfg.PollInterval),
	}
	if len(eng.throttleConfigs) > 0 {
		eng.limiter = throttle.NewLimiter(eng.throttleConfigs...)
		poolOpts = append(poolOpts, worker.WithTypeLimiter(eng.limiter))
	}
	eng.pool = worker.NewPool(eng.store, executor, eng.extensions, eng.logger, poolOpts...)

	if eng.cfg.RetentionSchedule != "" {
		sweeper, err := retention.NewSweeper(eng.store, eng.cfg.RetentionSchedule, eng.cfg.RetentionAge, eng.logger)
		if err != nil {
			return nil, err
		}
		eng.sweeper = sweeper
	}

	return eng, nil
}

// Register registers a typed job definition with the engine.
func Register[T any](eng *Engine, def *job.Definition[T]) {
	job.RegisterDefinition(eng.registry, def)
}

// Enqueue creates and enqueues a job with a typed payload.
func Enqueue[T any](ctx context.Context, eng *Engine, jobType string, payload T, opts ...job.Option) (*job.Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for job %q: %w", jobType, err)
	}
	return eng.EnqueueRaw(ctx, jobType, data, opts...)
}

// EnqueueRaw enqueues a job with a pre-serialized payload.
func (eng *Engine) EnqueueRaw(ctx context.Context, jobType string, payload []byte, opts ...job.Option) (*job.Job, error) {
	o := job.DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	now := time.Now().UTC()
	j := &job.Job{
		Entity:     jobd.NewEntity(),
		ID:         id.NewJobID(),
		Type:       jobType,
		Payload:    payload,
		Priority:   o.Priority,
		Status:     job.StatusPending,
		Message:    "queued",
		MaxRetries: o.MaxRetries,
		Timeout:    o.Timeout,
		RunAt:      now,
		Owner:      o.Owner,
		Context:    o.Context,
	}
	if !o.RunAt.IsZero() {
		j.RunAt = o.RunAt
	}

	if err := eng.store.Enqueue(ctx, j); err != nil {
		return nil, err
	}

	eng.extensions.EmitJobEnqueued(ctx, j)

	eng.logger.Debug("job enqueued",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
		slog.String("priority", string(j.Priority)),
	)
	return j, nil
}

// Get retrieves a job by ID.
func (eng *Engine) Get(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return eng.store.Get(ctx, jobID)
}

// List returns jobs matching the filters, priority-major,
// creation-time-minor.
func (eng *Engine) List(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	return eng.store.List(ctx, opts)
}

// History returns the job's transition log, most recent first.
func (eng *Engine) History(ctx context.Context, jobID id.JobID, limit int) ([]*job.HistoryEntry, error) {
	return eng.store.History(ctx, jobID, limit)
}

// Statistics aggregates counts by status, type, and priority, the most
// recent jobs and failures, and the average execution time.
func (eng *Engine) Statistics(ctx context.Context) (*job.Stats, error) {
	return eng.store.Stats(ctx, eng.cfg.StatsRecent)
}

// CleanupTerminal deletes terminal jobs older than the cutoff and
// reports how many were removed.
func (eng *Engine) CleanupTerminal(ctx context.Context, olderThan time.Duration) (int64, error) {
	return eng.store.CleanupTerminal(ctx, olderThan)
}

// Cancel cancels a job. A pending, retrying, or paused job transitions
// to cancelled immediately. A processing job only has its cooperative
// cancel flag set; the worker finalizes the cancellation at the
// handler's next progress report. Terminal jobs cannot be cancelled.
func (eng *Engine) Cancel(ctx context.Context, jobID id.JobID) error {
	j, err := eng.store.Get(ctx, jobID)
	if err != nil {
		return err
	}

	switch j.Status {
	case job.StatusProcessing:
		if err := eng.store.RequestCancel(ctx, jobID); err != nil {
			return err
		}
		eng.logger.Info("cancel requested for processing job",
			slog.String("job_id", jobID.String()))
		return nil

	case job.StatusRetrying, job.StatusPaused:
		// Step through pending so every hop stays inside the
		// transition table.
		pending := job.StatusPending
		msg := "cancel requested"
		if err := eng.store.Update(ctx, jobID, job.Update{Status: &pending, Message: &msg}); err != nil {
			return err
		}
		return eng.cancelPending(ctx, j)

	case job.StatusPending:
		return eng.cancelPending(ctx, j)

	default:
		return fmt.Errorf("%w: %s -> %s", jobd.ErrInvalidTransition, j.Status, job.StatusCancelled)
	}
}

func (eng *Engine) cancelPending(ctx context.Context, j *job.Job) error {
	now := time.Now().UTC()
	pending := job.StatusPending
	cancelled := job.StatusCancelled
	msg := "cancelled"
	if err := eng.store.Update(ctx, j.ID, job.Update{
		ExpectedStatus: &pending,
		Status:         &cancelled,
		Message:        &msg,
		CompletedAt:    &now,
	}); err != nil {
		// A worker may claim the job between our status reads and this
		// write. Fall back to the cooperative cancel flag so the
		// running handler winds down at its next progress report.
		if errors.Is(err, jobd.ErrStatusConflict) {
			if reqErr := eng.store.RequestCancel(ctx, j.ID); reqErr == nil {
				eng.logger.Info("cancel raced with a claim, flagged instead",
					slog.String("job_id", j.ID.String()))
				return nil
			}
		}
		return err
	}
	j.Status = cancelled
	j.CompletedAt = &now
	eng.extensions.EmitJobCancelled(ctx, j)
	return nil
}

// Pause parks a pending job so it will not be claimed until resumed.
func (eng *Engine) Pause(ctx context.Context, jobID id.JobID) error {
	paused := job.StatusPaused
	msg := "paused"
	return eng.store.Update(ctx, jobID, job.Update{Status: &paused, Message: &msg})
}

// Resume returns a paused job to the pending queue, eligible
// immediately.
func (eng *Engine) Resume(ctx context.Context, jobID id.JobID) error {
	pending := job.StatusPending
	msg := "resumed"
	now := time.Now().UTC()
	return eng.store.Update(ctx, jobID, job.Update{Status: &pending, Message: &msg, RunAt: &now})
}

// RetryNow returns a failed or retrying job to the pending queue with a
// fresh retry budget, eligible immediately.
func (eng *Engine) RetryNow(ctx context.Context, jobID id.JobID) error {
	j, err := eng.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if j.Status != job.StatusFailed && j.Status != job.StatusRetrying {
		return fmt.Errorf("%w: %s -> %s", jobd.ErrInvalidTransition, j.Status, job.StatusPending)
	}

	pending := job.StatusPending
	msg := "manual retry"
	zero := 0
	now := time.Now().UTC()
	return eng.store.Update(ctx, jobID, job.Update{
		Status:     &pending,
		Message:    &msg,
		RetryCount: &zero,
		RunAt:      &now,
	})
}

// Start begins job processing. It first recovers jobs orphaned in
// processing by a prior crash, then starts the retention sweeper and
// the worker pool.
func (eng *Engine) Start(ctx context.Context) error {
	if eng.running {
		return jobd.ErrAlreadyRunning
	}

	requeued, failed, err := eng.store.RecoverOrphans(ctx, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("crash recovery: %w", err)
	}
	if requeued > 0 || failed > 0 {
		eng.logger.Info("crash recovery swept orphaned jobs",
			slog.Int("requeued", requeued),
			slog.Int("failed", failed),
		)
	}

	if eng.sweeper != nil {
		if err := eng.sweeper.Start(ctx); err != nil {
			return fmt.Errorf("start retention sweeper: %w", err)
		}
	}

	if err := eng.pool.Start(ctx); err != nil {
		return err
	}

	eng.running = true
	eng.logger.Info("engine started",
		slog.Int("workers", eng.cfg.Workers),
		slog.Any("job_types", eng.registry.Types()),
	)
	return nil
}

// Stop gracefully shuts down the engine. In-flight jobs get up to the
// configured shutdown timeout before their contexts are cancelled.
func (eng *Engine) Stop(ctx context.Context) error {
	if !eng.running {
		return jobd.ErrNotRunning
	}
	eng.running = false

	stopCtx := ctx
	if eng.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		stopCtx, cancel = context.WithTimeout(ctx, eng.cfg.ShutdownTimeout)
		defer cancel()
	}

	if err := eng.pool.Stop(stopCtx); err != nil {
		return err
	}
	if eng.sweeper != nil {
		if err := eng.sweeper.Stop(ctx); err != nil {
			return err
		}
	}

	eng.extensions.EmitShutdown(ctx)
	eng.logger.Info("engine stopped")
	return nil
}

// Registry returns the handler registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Store returns the backing job store.
func (eng *Engine) Store() job.Store { return eng.store }

// WorkerID returns the pool's unique worker identifier.
func (eng *Engine) WorkerID() id.WorkerID { return eng.pool.WorkerID() }
