// Package memory provides a fully in-memory job.Store.
// Safe for concurrent access. Intended for unit testing and development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/framehaus/jobd"
	"github.com/framehaus/jobd/id"
	"github.com/framehaus/jobd/job"
)

// Ensure Store implements job.Store at compile time.
var _ job.Store = (*Store)(nil)

// Store keeps jobs, history, and metrics in mutex-guarded maps.
type Store struct {
	mu sync.RWMutex

	jobs    map[string]*job.Job
	history map[string][]*job.HistoryEntry
	metrics map[string]*job.Metrics
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:    make(map[string]*job.Job),
		history: make(map[string][]*job.HistoryEntry),
		metrics: make(map[string]*job.Metrics),
	}
}

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// Enqueue persists a new job.
func (m *Store) Enqueue(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return jobd.ErrJobAlreadyExists
	}
	cp := *j
	m.jobs[key] = &cp
	m.appendHistory(j.ID, j.Status, j.Message)
	return nil
}

// Claim atomically claims the single best-ranked eligible pending job.
func (m *Store) Claim(_ context.Context, workerID id.WorkerID) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	var best *job.Job
	for _, j := range m.jobs {
		if j.Status != job.StatusPending || j.RunAt.After(now) {
			continue
		}
		if best == nil || claimLess(j, best) {
			best = j
		}
	}
	if best == nil {
		return nil, jobd.ErrNoJobAvailable
	}

	best.Status = job.StatusProcessing
	best.StartedAt = &now
	best.WorkerID = workerID
	best.Message = "processing"
	best.UpdatedAt = now
	m.appendHistory(best.ID, best.Status, best.Message)

	cp := *best
	return &cp, nil
}

// claimLess ranks a before b: priority-major, creation-time-minor.
func claimLess(a, b *job.Job) bool {
	if a.Priority.Rank() != b.Priority.Rank() {
		return a.Priority.Rank() > b.Priority.Rank()
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}

// Get retrieves a job by ID.
func (m *Store) Get(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, jobd.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

// Update applies a partial update. The whole read-modify-write happens
// under the store lock, so concurrent updates cannot interleave.
func (m *Store) Update(_ context.Context, jobID id.JobID, u job.Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return jobd.ErrJobNotFound
	}

	if u.ExpectedStatus != nil && j.Status != *u.ExpectedStatus {
		return fmt.Errorf("%w: expected %s, is %s", jobd.ErrStatusConflict, *u.ExpectedStatus, j.Status)
	}

	if u.Status != nil && *u.Status != j.Status {
		if !job.CanTransition(j.Status, *u.Status) {
			return fmt.Errorf("%w: %s -> %s", jobd.ErrInvalidTransition, j.Status, *u.Status)
		}
	}

	statusChanged := u.Status != nil && *u.Status != j.Status

	if u.Status != nil {
		j.Status = *u.Status
	}
	if u.Progress != nil {
		j.Progress = *u.Progress
	}
	if u.Message != nil {
		j.Message = *u.Message
	}
	if u.Result != nil {
		j.Result = append([]byte(nil), u.Result...)
	}
	if u.Error != nil {
		j.Error = *u.Error
	}
	if u.RetryCount != nil {
		j.RetryCount = *u.RetryCount
	}
	if u.RunAt != nil {
		j.RunAt = *u.RunAt
	}
	if u.StartedAt != nil {
		j.StartedAt = u.StartedAt
	}
	if u.CompletedAt != nil {
		j.CompletedAt = u.CompletedAt
	}
	if u.CancelRequested != nil {
		j.CancelRequested = *u.CancelRequested
	}
	if u.WorkerID != nil {
		j.WorkerID = *u.WorkerID
	}
	j.UpdatedAt = time.Now().UTC()

	if statusChanged {
		m.appendHistory(j.ID, j.Status, j.Message)
	}
	return nil
}

// RequestCancel sets the cooperative cancellation flag.
func (m *Store) RequestCancel(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return jobd.ErrJobNotFound
	}
	j.CancelRequested = true
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// List returns jobs matching the filters, priority-major, creation-time-minor.
func (m *Store) List(_ context.Context, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]*job.Job, 0)
	for _, j := range m.jobs {
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		if opts.Type != "" && j.Type != opts.Type {
			continue
		}
		if opts.Priority != "" && j.Priority != opts.Priority {
			continue
		}
		if opts.Owner != "" && j.Owner != opts.Owner {
			continue
		}
		matched = append(matched, j)
	}

	sort.Slice(matched, func(a, b int) bool { return claimLess(matched[a], matched[b]) })

	if opts.Offset > 0 {
		if opts.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[opts.Offset:]
		}
	}
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}

	out := make([]*job.Job, len(matched))
	for i, j := range matched {
		cp := *j
		out[i] = &cp
	}
	return out, nil
}

// Count returns the number of jobs matching the given options.
func (m *Store) Count(_ context.Context, opts job.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, j := range m.jobs {
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		if opts.Type != "" && j.Type != opts.Type {
			continue
		}
		n++
	}
	return n, nil
}

// PromoteDue moves retrying jobs whose backoff has elapsed back to pending.
func (m *Store) PromoteDue(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	promoted := 0
	for _, j := range m.jobs {
		if j.Status != job.StatusRetrying || j.RunAt.After(now) {
			continue
		}
		j.Status = job.StatusPending
		j.Message = fmt.Sprintf("requeued after backoff (attempt %d/%d)", j.RetryCount, j.MaxRetries)
		j.UpdatedAt = now
		m.appendHistory(j.ID, j.Status, j.Message)
		promoted++
	}
	return promoted, nil
}

// RecoverOrphans sweeps jobs left in processing by a prior crash.
func (m *Store) RecoverOrphans(_ context.Context, now time.Time) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	requeued, failed := 0, 0
	for _, j := range m.jobs {
		if j.Status != job.StatusProcessing {
			continue
		}
		expired := j.Timeout > 0 && j.StartedAt != nil && now.Sub(*j.StartedAt) > j.Timeout
		if expired {
			j.Status = job.StatusFailed
			j.Error = "worker lost: timeout elapsed before recovery"
			j.Message = "failed during crash recovery"
			j.CompletedAt = &now
			failed++
		} else {
			j.Status = job.StatusPending
			j.Message = "requeued by crash recovery"
			j.StartedAt = nil
			j.WorkerID = id.Nil
			requeued++
		}
		j.UpdatedAt = now
		m.appendHistory(j.ID, j.Status, j.Message)
	}
	return requeued, failed, nil
}

// RecordMetrics upserts the metrics row for a job.
func (m *Store) RecordMetrics(_ context.Context, jobID id.JobID, execTime time.Duration, memory int64, cpu float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[jobID.String()]; !ok {
		return jobd.ErrJobNotFound
	}
	m.metrics[jobID.String()] = &job.Metrics{
		JobID:         jobID,
		ExecutionTime: execTime,
		MemoryUsage:   memory,
		CPUUsage:      cpu,
	}
	return nil
}

// History returns the job's transition log, most recent first.
func (m *Store) History(_ context.Context, jobID id.JobID, limit int) ([]*job.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.history[jobID.String()]
	out := make([]*job.HistoryEntry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		cp := *entries[i]
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// CleanupTerminal deletes terminal jobs older than the cutoff, along
// with their history and metrics.
func (m *Store) CleanupTerminal(_ context.Context, olderThan time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().UTC().Add(-olderThan)
	var removed int64
	for key, j := range m.jobs {
		if !j.Status.Terminal() {
			continue
		}
		if j.CompletedAt == nil || !j.CompletedAt.Before(cutoff) {
			continue
		}
		delete(m.jobs, key)
		delete(m.history, key)
		delete(m.metrics, key)
		removed++
	}
	return removed, nil
}

// Stats aggregates counts, recent jobs, recent failures, and average
// execution time.
func (m *Store) Stats(_ context.Context, recent int) (*job.Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := &job.Stats{
		ByStatus:   make(map[job.Status]int64),
		ByType:     make(map[string]int64),
		ByPriority: make(map[job.Priority]int64),
	}

	all := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		st.ByStatus[j.Status]++
		st.ByType[j.Type]++
		st.ByPriority[j.Priority]++
		all = append(all, j)
	}

	sort.Slice(all, func(a, b int) bool {
		if !all[a].CreatedAt.Equal(all[b].CreatedAt) {
			return all[a].CreatedAt.After(all[b].CreatedAt)
		}
		return all[a].ID.String() > all[b].ID.String()
	})

	for _, j := range all {
		if recent > 0 && len(st.Recent) < recent {
			cp := *j
			st.Recent = append(st.Recent, &cp)
		}
		if recent > 0 && j.Status == job.StatusFailed && len(st.RecentFailures) < recent {
			cp := *j
			st.RecentFailures = append(st.RecentFailures, &cp)
		}
	}

	var total time.Duration
	var n int64
	for _, mt := range m.metrics {
		total += mt.ExecutionTime
		n++
	}
	if n > 0 {
		st.AvgExecutionTime = total / time.Duration(n)
	}
	return st, nil
}

// Metrics returns the recorded metrics row for a job, if any.
// Not part of job.Store; used by tests and diagnostics.
func (m *Store) Metrics(jobID id.JobID) (*job.Metrics, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	mt, ok := m.metrics[jobID.String()]
	if !ok {
		return nil, false
	}
	cp := *mt
	return &cp, true
}

// appendHistory records a transition. Caller must hold the write lock.
func (m *Store) appendHistory(jobID id.JobID, status job.Status, message string) {
	key := jobID.String()
	m.history[key] = append(m.history[key], &job.HistoryEntry{
		JobID:     jobID,
		Status:    status,
		Message:   strings.TrimSpace(message),
		CreatedAt: time.Now().UTC(),
	})
}
