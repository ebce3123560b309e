package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/framehaus/jobd"
	"github.com/framehaus/jobd/ext"
	"github.com/framehaus/jobd/id"
	"github.com/framehaus/jobd/job"
)

// TypeLimiter controls per-job-type rate limiting and concurrency. The
// pool calls Acquire before executing a claimed job and Release after
// execution completes.
type TypeLimiter interface {
	// Acquire checks rate and concurrency limits for the job type.
	// Returns true if the job is allowed to proceed.
	Acquire(jobType string) bool
	// Release decrements the active count for the job type.
	Release(jobType string)
}

// Pool manages a fixed set of worker goroutines that claim jobs from
// the store and execute them through the Executor. A promoter goroutine
// moves retrying jobs whose backoff has elapsed back to pending, so
// workers never sleep through a backoff window.
type Pool struct {
	store        job.Store
	executor     *Executor
	extensions   *ext.Registry
	concurrency  int
	pollInterval time.Duration
	workerID     id.WorkerID
	logger       *slog.Logger

	// Per-type throttle (optional).
	limiter TypeLimiter

	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool
	activeJobs map[string]context.CancelFunc
	activeMu   sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of concurrent worker goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPollInterval sets how often idle workers poll for new jobs.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithTypeLimiter sets the per-type throttle for rate limiting and
// concurrency control.
func WithTypeLimiter(l TypeLimiter) PoolOption {
	return func(p *Pool) { p.limiter = l }
}

// NewPool creates a worker pool.
func NewPool(
	store job.Store,
	executor *Executor,
	extensions *ext.Registry,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	p := &Pool{
		store:        store,
		executor:     executor,
		extensions:   extensions,
		concurrency:  4,
		pollInterval: 500 * time.Millisecond,
		workerID:     id.NewWorkerID(),
		logger:       logger,
		stopCh:       make(chan struct{}),
		activeJobs:   make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the worker and promoter goroutines. It returns
// immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return jobd.ErrAlreadyRunning
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.claimLoop()
	}

	p.wg.Add(1)
	go p.promoteLoop()

	return nil
}

// Stop signals all workers to stop and waits for in-flight jobs to
// finish. If the context has a deadline, active jobs are cancelled when
// time runs out.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs")
		p.cancelActiveJobs()
		p.wg.Wait()
	}

	return nil
}

// claimLoop is run by each worker goroutine.
func (p *Pool) claimLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		j, err := p.store.Claim(context.Background(), p.workerID)
		if err != nil {
			if !errors.Is(err, jobd.ErrNoJobAvailable) {
				p.logger.Error("claim error", slog.String("error", err.Error()))
			}
			p.sleep()
			continue
		}

		// Check per-type rate limit and concurrency.
		if p.limiter != nil && !p.limiter.Acquire(j.Type) {
			p.requeueThrottled(j)
			p.sleep()
			continue
		}

		p.runJob(j)

		if p.limiter != nil {
			p.limiter.Release(j.Type)
		}
	}
}

// runJob executes one claimed job with a trackable cancel function so
// Stop can abort it when the shutdown deadline expires.
func (p *Pool) runJob(j *job.Job) {
	p.extensions.EmitJobStarted(context.Background(), j)

	ctx, cancel := context.WithCancel(context.Background())
	p.trackJob(j.ID.String(), cancel)

	if execErr := p.executor.Execute(ctx, j); execErr != nil {
		p.logger.Debug("job execution did not complete",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
			slog.String("error", execErr.Error()),
		)
	}

	p.untrackJob(j.ID.String())
	cancel()
}

// requeueThrottled returns a claimed-but-throttled job to pending with a
// small delay so another poll can pick it up once capacity frees.
func (p *Pool) requeueThrottled(j *job.Job) {
	pending := job.StatusPending
	runAt := time.Now().UTC().Add(p.pollInterval)
	message := "throttled, returned to queue"
	if err := p.store.Update(context.Background(), j.ID, job.Update{
		Status:  &pending,
		RunAt:   &runAt,
		Message: &message,
	}); err != nil {
		p.logger.Error("failed to requeue throttled job",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// promoteLoop periodically moves retrying jobs whose backoff has elapsed
// back to pending.
func (p *Pool) promoteLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			n, err := p.store.PromoteDue(context.Background(), time.Now().UTC())
			if err != nil {
				p.logger.Error("promote due error", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				p.logger.Debug("promoted retrying jobs", slog.Int("count", n))
			}
		}
	}
}

func (p *Pool) sleep() {
	select {
	case <-time.After(p.pollInterval):
	case <-p.stopCh:
	}
}

func (p *Pool) trackJob(jobID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeJobs[jobID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackJob(jobID string) {
	p.activeMu.Lock()
	delete(p.activeJobs, jobID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, cancel := range p.activeJobs {
		p.logger.Warn("cancelling active job", slog.String("job_id", jobID))
		cancel()
	}
}
