package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/framehaus/jobd"
	"github.com/framehaus/jobd/engine"
	"github.com/framehaus/jobd/id"
	"github.com/framehaus/jobd/job"
	"github.com/framehaus/jobd/store/memory"
)

func newTestEngine(t *testing.T, opts ...engine.Option) (*engine.Engine, *memory.Store) {
	t.Helper()
	s := memory.New()
	opts = append([]engine.Option{
		engine.WithWorkers(2),
		engine.WithPollInterval(10 * time.Millisecond),
		engine.WithShutdownTimeout(2 * time.Second),
		engine.WithRetention("", 0),
		engine.WithLogger(slog.Default()),
	}, opts...)
	eng, err := engine.New(s, opts...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return eng, s
}

func startEngine(t *testing.T, eng *engine.Engine) {
	t.Helper()
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = eng.Stop(context.Background()) })
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func TestNew_RequiresStore(t *testing.T) {
	if _, err := engine.New(nil); !errors.Is(err, jobd.ErrNoStore) {
		t.Fatalf("expected ErrNoStore, got %v", err)
	}
}

func TestNew_RejectsBadRetentionSchedule(t *testing.T) {
	_, err := engine.New(memory.New(), engine.WithRetention("nope", time.Hour))
	if err == nil {
		t.Fatal("expected error for invalid retention schedule")
	}
}

func TestEnqueue_Defaults(t *testing.T) {
	eng, _ := newTestEngine(t)

	j, err := engine.Enqueue(context.Background(), eng, "photos.scan",
		map[string]string{"album": "2026-08"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if j.Status != job.StatusPending {
		t.Errorf("status = %s, want pending", j.Status)
	}
	if j.Priority != job.PriorityMedium {
		t.Errorf("priority = %s, want medium", j.Priority)
	}
	if j.MaxRetries != 3 {
		t.Errorf("max retries = %d, want 3", j.MaxRetries)
	}
	if j.RunAt.IsZero() {
		t.Error("RunAt not set")
	}
}

func TestEnqueue_PriorityNormalization(t *testing.T) {
	eng, _ := newTestEngine(t)

	// Unknown priority tags normalize to medium without error.
	j, err := engine.Enqueue(context.Background(), eng, "photos.scan",
		struct{}{}, job.WithPriority("urgent"))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if j.Priority != job.PriorityMedium {
		t.Errorf("priority = %s, want medium", j.Priority)
	}

	j, err = engine.Enqueue(context.Background(), eng, "photos.scan",
		struct{}{}, job.WithPriority("critical"))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if j.Priority != job.PriorityCritical {
		t.Errorf("priority = %s, want critical", j.Priority)
	}
}

func TestEndToEnd_EchoUnderTwoWorkers(t *testing.T) {
	eng, _ := newTestEngine(t)

	type echoIn struct {
		Value string `json:"value"`
	}
	engine.Register(eng, job.NewDefinition("echo",
		func(_ context.Context, p echoIn, _ job.ReportFunc) (any, error) {
			return map[string]string{"echo": p.Value}, nil
		}))

	startEngine(t, eng)

	var ids []id.JobID
	for _, v := range []string{"a", "b", "c", "d", "e"} {
		j, err := engine.Enqueue(context.Background(), eng, "echo", echoIn{Value: v})
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		ids = append(ids, j.ID)
	}

	waitFor(t, "all echo jobs to complete", func() bool {
		for _, jobID := range ids {
			got, err := eng.Get(context.Background(), jobID)
			if err != nil || got.Status != job.StatusCompleted {
				return false
			}
		}
		return true
	})

	got, err := eng.Get(context.Background(), ids[0])
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var result map[string]string
	if err := json.Unmarshal(got.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result["echo"] != "a" {
		t.Errorf("result = %v", result)
	}
}

func TestCancel_PendingJob(t *testing.T) {
	eng, _ := newTestEngine(t)

	j, err := engine.Enqueue(context.Background(), eng, "photos.scan", struct{}{})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := eng.Cancel(context.Background(), j.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	got, _ := eng.Get(context.Background(), j.ID)
	if got.Status != job.StatusCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt not set on cancelled job")
	}

	// Terminal jobs cannot be cancelled again.
	if err := eng.Cancel(context.Background(), j.ID); !errors.Is(err, jobd.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestCancel_UnknownJob(t *testing.T) {
	eng, _ := newTestEngine(t)
	if err := eng.Cancel(context.Background(), id.NewJobID()); !errors.Is(err, jobd.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestCancel_ProcessingJobIsCooperative(t *testing.T) {
	eng, s := newTestEngine(t, engine.WithWorkers(1))

	started := make(chan struct{})
	engine.Register(eng, job.NewDefinition("slow",
		func(ctx context.Context, _ struct{}, report job.ReportFunc) (any, error) {
			close(started)
			for i := range 100 {
				if err := report(ctx, i, "working"); err != nil {
					return nil, err
				}
				time.Sleep(10 * time.Millisecond)
			}
			return nil, nil
		}))

	startEngine(t, eng)

	j, err := engine.Enqueue(context.Background(), eng, "slow", struct{}{})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	<-started

	if err := eng.Cancel(context.Background(), j.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	got, _ := s.Get(context.Background(), j.ID)
	if got.Status != job.StatusProcessing && got.Status != job.StatusCancelled {
		t.Fatalf("unexpected status %s right after cancel", got.Status)
	}

	waitFor(t, "job to finish cancelling", func() bool {
		got, err := s.Get(context.Background(), j.ID)
		return err == nil && got.Status == job.StatusCancelled
	})
}

// claimRaceStore simulates a worker claiming a job in the window
// between a cancel's requeue write and its cancelled write.
type claimRaceStore struct {
	job.Store
	armed atomic.Bool
}

func (s *claimRaceStore) Update(ctx context.Context, jobID id.JobID, u job.Update) error {
	if err := s.Store.Update(ctx, jobID, u); err != nil {
		return err
	}
	if u.Status != nil && *u.Status == job.StatusPending && s.armed.CompareAndSwap(true, false) {
		if _, err := s.Store.Claim(ctx, id.NewWorkerID()); err != nil {
			return err
		}
	}
	return nil
}

func TestCancel_RetryingJobClaimRaceSetsFlag(t *testing.T) {
	ctx := context.Background()
	raced := &claimRaceStore{Store: memory.New()}
	eng, err := engine.New(raced)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	j, err := engine.Enqueue(ctx, eng, "photos.embed", struct{}{})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// Park the job as retrying, already due.
	if _, err := raced.Store.Claim(ctx, id.NewWorkerID()); err != nil {
		t.Fatalf("claim: %v", err)
	}
	retrying := job.StatusRetrying
	one := 1
	past := time.Now().UTC().Add(-time.Second)
	if err := raced.Store.Update(ctx, j.ID, job.Update{
		Status: &retrying, RetryCount: &one, RunAt: &past,
	}); err != nil {
		t.Fatalf("park retrying: %v", err)
	}

	raced.armed.Store(true)
	if err := eng.Cancel(ctx, j.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	got, err := raced.Store.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != job.StatusProcessing {
		t.Fatalf("status = %s, want processing (claimed mid-cancel)", got.Status)
	}
	if !got.CancelRequested {
		t.Error("expected the cooperative cancel flag on the claimed job")
	}
}

func TestPauseResume(t *testing.T) {
	eng, _ := newTestEngine(t)

	j, err := engine.Enqueue(context.Background(), eng, "photos.export", struct{}{})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := eng.Pause(context.Background(), j.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}
	got, _ := eng.Get(context.Background(), j.ID)
	if got.Status != job.StatusPaused {
		t.Errorf("status = %s, want paused", got.Status)
	}

	// Pausing a paused job is rejected.
	if err := eng.Pause(context.Background(), j.ID); !errors.Is(err, jobd.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	if err := eng.Resume(context.Background(), j.ID); err != nil {
		t.Fatalf("resume: %v", err)
	}
	got, _ = eng.Get(context.Background(), j.ID)
	if got.Status != job.StatusPending {
		t.Errorf("status = %s, want pending", got.Status)
	}
}

func TestRetryNow(t *testing.T) {
	eng, s := newTestEngine(t)
	ctx := context.Background()

	j, err := engine.Enqueue(ctx, eng, "photos.embed", struct{}{})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// Drive the job to failed through the store.
	if _, err := s.Claim(ctx, id.NewWorkerID()); err != nil {
		t.Fatalf("claim: %v", err)
	}
	failed := job.StatusFailed
	three := 3
	errMsg := "boom"
	now := time.Now().UTC()
	if err := s.Update(ctx, j.ID, job.Update{
		Status: &failed, RetryCount: &three, Error: &errMsg, CompletedAt: &now,
	}); err != nil {
		t.Fatalf("fail job: %v", err)
	}

	if err := eng.RetryNow(ctx, j.ID); err != nil {
		t.Fatalf("retry now: %v", err)
	}
	got, _ := eng.Get(ctx, j.ID)
	if got.Status != job.StatusPending {
		t.Errorf("status = %s, want pending", got.Status)
	}
	if got.RetryCount != 0 {
		t.Errorf("retry count = %d, want 0", got.RetryCount)
	}

	// Pending jobs are not retryable.
	if err := eng.RetryNow(ctx, j.ID); !errors.Is(err, jobd.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestStatistics(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	for range 3 {
		if _, err := engine.Enqueue(ctx, eng, "photos.scan", struct{}{}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	st, err := eng.Statistics(ctx)
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if st.ByStatus[job.StatusPending] != 3 {
		t.Errorf("pending count = %d, want 3", st.ByStatus[job.StatusPending])
	}
	if st.ByType["photos.scan"] != 3 {
		t.Errorf("type count = %d, want 3", st.ByType["photos.scan"])
	}
}

func TestStart_RecoversOrphans(t *testing.T) {
	eng, s := newTestEngine(t)
	ctx := context.Background()

	var ran atomic.Bool
	engine.Register(eng, job.NewDefinition("photos.scan",
		func(_ context.Context, _ struct{}, _ job.ReportFunc) (any, error) {
			ran.Store(true)
			return nil, nil
		}))

	// Simulate a job left in processing by a crashed worker.
	j, err := engine.Enqueue(ctx, eng, "photos.scan", struct{}{})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := s.Claim(ctx, id.NewWorkerID()); err != nil {
		t.Fatalf("claim: %v", err)
	}

	startEngine(t, eng)

	waitFor(t, "orphan to be re-executed", func() bool {
		got, err := s.Get(ctx, j.ID)
		return err == nil && got.Status == job.StatusCompleted && ran.Load()
	})
}

func TestStartStop_Lifecycle(t *testing.T) {
	eng, _ := newTestEngine(t)

	if err := eng.Stop(context.Background()); !errors.Is(err, jobd.ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := eng.Start(context.Background()); !errors.Is(err, jobd.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	if err := eng.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
