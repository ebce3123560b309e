package memory

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/framehaus/jobd"
	"github.com/framehaus/jobd/id"
	"github.com/framehaus/jobd/job"
)

func newTestJob(t *testing.T, jobType string, prio job.Priority) *job.Job {
	t.Helper()
	j := &job.Job{
		ID:         id.New(id.PrefixJob),
		Type:       jobType,
		Payload:    json.RawMessage(`{}`),
		Priority:   prio,
		Status:     job.StatusPending,
		MaxRetries: 3,
		Timeout:    time.Minute,
		RunAt:      time.Now().UTC().Add(-time.Second),
	}
	j.Entity = jobd.NewEntity()
	return j
}

func TestEnqueueGet(t *testing.T) {
	s := New()
	ctx := context.Background()

	j := newTestJob(t, "photos.scan", job.PriorityMedium)
	if err := s.Enqueue(ctx, j); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := s.Enqueue(ctx, j); !errors.Is(err, jobd.ErrJobAlreadyExists) {
		t.Fatalf("expected ErrJobAlreadyExists, got %v", err)
	}

	got, err := s.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Type != "photos.scan" {
		t.Fatalf("unexpected type %q", got.Type)
	}

	if _, err := s.Get(ctx, id.New(id.PrefixJob)); !errors.Is(err, jobd.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestClaimOrdering(t *testing.T) {
	s := New()
	ctx := context.Background()

	low := newTestJob(t, "photos.export", job.PriorityLow)
	low.CreatedAt = time.Now().UTC().Add(-3 * time.Minute)
	critical := newTestJob(t, "photos.scan", job.PriorityCritical)
	oldMedium := newTestJob(t, "photos.embed", job.PriorityMedium)
	oldMedium.CreatedAt = time.Now().UTC().Add(-2 * time.Minute)
	newMedium := newTestJob(t, "photos.embed", job.PriorityMedium)

	for _, j := range []*job.Job{low, critical, oldMedium, newMedium} {
		if err := s.Enqueue(ctx, j); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	wkr := id.New(id.PrefixWorker)
	want := []id.JobID{critical.ID, oldMedium.ID, newMedium.ID, low.ID}
	for i, wantID := range want {
		claimed, err := s.Claim(ctx, wkr)
		if err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
		if claimed.ID != wantID {
			t.Fatalf("claim %d: got %s, want %s", i, claimed.ID, wantID)
		}
		if claimed.Status != job.StatusProcessing {
			t.Fatalf("claimed job status = %s", claimed.Status)
		}
		if claimed.StartedAt == nil {
			t.Fatal("claimed job has no StartedAt")
		}
		if claimed.WorkerID != wkr {
			t.Fatalf("claimed job worker = %s", claimed.WorkerID)
		}
	}

	if _, err := s.Claim(ctx, wkr); !errors.Is(err, jobd.ErrNoJobAvailable) {
		t.Fatalf("expected ErrNoJobAvailable, got %v", err)
	}
}

func TestClaimSkipsFutureRunAt(t *testing.T) {
	s := New()
	ctx := context.Background()

	j := newTestJob(t, "photos.scan", job.PriorityHigh)
	j.RunAt = time.Now().UTC().Add(time.Hour)
	if err := s.Enqueue(ctx, j); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := s.Claim(ctx, id.New(id.PrefixWorker)); !errors.Is(err, jobd.ErrNoJobAvailable) {
		t.Fatalf("expected ErrNoJobAvailable, got %v", err)
	}
}

func TestUpdateRejectsInvalidTransition(t *testing.T) {
	s := New()
	ctx := context.Background()

	j := newTestJob(t, "photos.scan", job.PriorityMedium)
	if err := s.Enqueue(ctx, j); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	completed := job.StatusCompleted
	err := s.Update(ctx, j.ID, job.Update{Status: &completed})
	if !errors.Is(err, jobd.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	processing := job.StatusProcessing
	if err := s.Update(ctx, j.ID, job.Update{Status: &processing}); err != nil {
		t.Fatalf("pending -> processing: %v", err)
	}
	if err := s.Update(ctx, j.ID, job.Update{Status: &completed}); err != nil {
		t.Fatalf("processing -> completed: %v", err)
	}
}

func TestUpdateStatusPrecondition(t *testing.T) {
	s := New()
	ctx := context.Background()

	j := newTestJob(t, "photos.scan", job.PriorityMedium)
	if err := s.Enqueue(ctx, j); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := s.Claim(ctx, id.New(id.PrefixWorker)); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// The precondition no longer holds after the claim.
	pending := job.StatusPending
	cancelled := job.StatusCancelled
	err := s.Update(ctx, j.ID, job.Update{ExpectedStatus: &pending, Status: &cancelled})
	if !errors.Is(err, jobd.ErrStatusConflict) {
		t.Fatalf("expected ErrStatusConflict, got %v", err)
	}
	got, _ := s.Get(ctx, j.ID)
	if got.Status != job.StatusProcessing {
		t.Fatalf("conflicting update must not mutate, status = %s", got.Status)
	}

	// A matching precondition applies normally.
	processing := job.StatusProcessing
	if err := s.Update(ctx, j.ID, job.Update{ExpectedStatus: &processing, Status: &cancelled}); err != nil {
		t.Fatalf("conditional update: %v", err)
	}
}

func TestRequestCancel(t *testing.T) {
	s := New()
	ctx := context.Background()

	j := newTestJob(t, "photos.export", job.PriorityMedium)
	if err := s.Enqueue(ctx, j); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := s.RequestCancel(ctx, j.ID); err != nil {
		t.Fatalf("request cancel: %v", err)
	}
	got, err := s.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.CancelRequested {
		t.Fatal("cancel flag not set")
	}

	if err := s.RequestCancel(ctx, id.New(id.PrefixJob)); !errors.Is(err, jobd.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestPromoteDue(t *testing.T) {
	s := New()
	ctx := context.Background()

	due := newTestJob(t, "photos.scan", job.PriorityMedium)
	due.Status = job.StatusRetrying
	due.RetryCount = 1
	due.RunAt = time.Now().UTC().Add(-time.Second)

	notDue := newTestJob(t, "photos.scan", job.PriorityMedium)
	notDue.Status = job.StatusRetrying
	notDue.RunAt = time.Now().UTC().Add(time.Hour)

	for _, j := range []*job.Job{due, notDue} {
		if err := s.Enqueue(ctx, j); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	n, err := s.PromoteDue(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if n != 1 {
		t.Fatalf("promoted %d jobs, want 1", n)
	}

	got, _ := s.Get(ctx, due.ID)
	if got.Status != job.StatusPending {
		t.Fatalf("due job status = %s, want pending", got.Status)
	}
	got, _ = s.Get(ctx, notDue.ID)
	if got.Status != job.StatusRetrying {
		t.Fatalf("not-due job status = %s, want retrying", got.Status)
	}
}

func TestRecoverOrphans(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	fresh := newTestJob(t, "photos.scan", job.PriorityMedium)
	fresh.Status = job.StatusProcessing
	started := now.Add(-10 * time.Second)
	fresh.StartedAt = &started
	fresh.Timeout = time.Minute

	stale := newTestJob(t, "photos.embed", job.PriorityMedium)
	stale.Status = job.StatusProcessing
	staleStart := now.Add(-time.Hour)
	stale.StartedAt = &staleStart
	stale.Timeout = time.Minute

	for _, j := range []*job.Job{fresh, stale} {
		if err := s.Enqueue(ctx, j); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	requeued, failed, err := s.RecoverOrphans(ctx, now)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if requeued != 1 || failed != 1 {
		t.Fatalf("recover = (%d, %d), want (1, 1)", requeued, failed)
	}

	got, _ := s.Get(ctx, fresh.ID)
	if got.Status != job.StatusPending {
		t.Fatalf("fresh orphan status = %s, want pending", got.Status)
	}
	if got.StartedAt != nil {
		t.Fatal("requeued orphan kept StartedAt")
	}
	got, _ = s.Get(ctx, stale.ID)
	if got.Status != job.StatusFailed {
		t.Fatalf("stale orphan status = %s, want failed", got.Status)
	}
	if got.Error == "" {
		t.Fatal("stale orphan has no error message")
	}
}

func TestCleanupTerminal(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	oldDone := newTestJob(t, "photos.scan", job.PriorityMedium)
	oldDone.Status = job.StatusCompleted
	oldFinish := now.Add(-48 * time.Hour)
	oldDone.CompletedAt = &oldFinish

	newDone := newTestJob(t, "photos.scan", job.PriorityMedium)
	newDone.Status = job.StatusCompleted
	newFinish := now.Add(-time.Hour)
	newDone.CompletedAt = &newFinish

	active := newTestJob(t, "photos.embed", job.PriorityMedium)

	for _, j := range []*job.Job{oldDone, newDone, active} {
		if err := s.Enqueue(ctx, j); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	removed, err := s.CleanupTerminal(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed %d jobs, want 1", removed)
	}
	if _, err := s.Get(ctx, oldDone.ID); !errors.Is(err, jobd.ErrJobNotFound) {
		t.Fatalf("old terminal job still present: %v", err)
	}
	if _, err := s.Get(ctx, newDone.ID); err != nil {
		t.Fatalf("recent terminal job removed: %v", err)
	}
	if _, err := s.Get(ctx, active.ID); err != nil {
		t.Fatalf("active job removed: %v", err)
	}
}

func TestListFilters(t *testing.T) {
	s := New()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		j := newTestJob(t, "photos.scan", job.PriorityMedium)
		j.Owner = "alice"
		if err := s.Enqueue(ctx, j); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	other := newTestJob(t, "photos.embed", job.PriorityHigh)
	other.Owner = "bob"
	if err := s.Enqueue(ctx, other); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	got, err := s.List(ctx, job.ListOpts{Type: "photos.scan"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("type filter returned %d jobs, want 3", len(got))
	}

	got, err = s.List(ctx, job.ListOpts{Owner: "bob"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != other.ID {
		t.Fatalf("owner filter returned wrong jobs: %v", got)
	}

	got, err = s.List(ctx, job.ListOpts{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("paged list returned %d jobs, want 2", len(got))
	}

	n, err := s.Count(ctx, job.CountOpts{Status: job.StatusPending})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 4 {
		t.Fatalf("count = %d, want 4", n)
	}
}

func TestHistoryAndStats(t *testing.T) {
	s := New()
	ctx := context.Background()

	j := newTestJob(t, "photos.scan", job.PriorityMedium)
	if err := s.Enqueue(ctx, j); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := s.Claim(ctx, id.New(id.PrefixWorker)); err != nil {
		t.Fatalf("claim: %v", err)
	}
	completed := job.StatusCompleted
	now := time.Now().UTC()
	if err := s.Update(ctx, j.ID, job.Update{Status: &completed, CompletedAt: &now}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := s.RecordMetrics(ctx, j.ID, 2*time.Second, 1024, 0.5); err != nil {
		t.Fatalf("metrics: %v", err)
	}

	hist, err := s.History(ctx, j.ID, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 3 {
		t.Fatalf("history has %d entries, want 3", len(hist))
	}
	if hist[0].Status != job.StatusCompleted || hist[2].Status != job.StatusPending {
		t.Fatalf("history out of order: %s .. %s", hist[0].Status, hist[2].Status)
	}

	failedJob := newTestJob(t, "photos.embed", job.PriorityLow)
	failedJob.Status = job.StatusFailed
	failedJob.Error = "boom"
	if err := s.Enqueue(ctx, failedJob); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	st, err := s.Stats(ctx, 10)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.ByStatus[job.StatusCompleted] != 1 || st.ByStatus[job.StatusFailed] != 1 {
		t.Fatalf("unexpected status counts: %v", st.ByStatus)
	}
	if st.ByType["photos.scan"] != 1 || st.ByType["photos.embed"] != 1 {
		t.Fatalf("unexpected type counts: %v", st.ByType)
	}
	if len(st.RecentFailures) != 1 || st.RecentFailures[0].ID != failedJob.ID {
		t.Fatalf("unexpected recent failures: %v", st.RecentFailures)
	}
	if st.AvgExecutionTime != 2*time.Second {
		t.Fatalf("avg execution time = %s, want 2s", st.AvgExecutionTime)
	}
}
