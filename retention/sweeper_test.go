package retention

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/framehaus/jobd"
	"github.com/framehaus/jobd/id"
	"github.com/framehaus/jobd/job"
	"github.com/framehaus/jobd/store/memory"
)

func TestParseSchedule(t *testing.T) {
	for _, expr := range []string{"0 3 * * *", "@daily", "@every 30s"} {
		if _, err := ParseSchedule(expr); err != nil {
			t.Errorf("ParseSchedule(%q): %v", expr, err)
		}
	}
	if _, err := ParseSchedule("not a schedule"); err == nil {
		t.Error("expected error for invalid schedule")
	}
}

func TestNewSweeperRejectsBadSchedule(t *testing.T) {
	if _, err := NewSweeper(memory.New(), "nope", time.Hour, slog.Default()); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func TestSweepRemovesOldTerminalJobs(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	old := &job.Job{
		ID:       id.NewJobID(),
		Type:     "photos.scan",
		Priority: job.PriorityMedium,
		Status:   job.StatusCompleted,
	}
	old.Entity = jobd.NewEntity()
	oldFinish := time.Now().UTC().Add(-48 * time.Hour)
	old.CompletedAt = &oldFinish

	fresh := &job.Job{
		ID:       id.NewJobID(),
		Type:     "photos.scan",
		Priority: job.PriorityMedium,
		Status:   job.StatusPending,
		RunAt:    time.Now().UTC(),
	}
	fresh.Entity = jobd.NewEntity()

	for _, j := range []*job.Job{old, fresh} {
		if err := s.Enqueue(ctx, j); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	sweeper, err := NewSweeper(s, "@daily", 24*time.Hour, slog.Default())
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}
	sweeper.Sweep(ctx)

	if _, err := s.Get(ctx, old.ID); !errors.Is(err, jobd.ErrJobNotFound) {
		t.Fatalf("old terminal job survived sweep: %v", err)
	}
	if _, err := s.Get(ctx, fresh.ID); err != nil {
		t.Fatalf("pending job removed by sweep: %v", err)
	}
}

func TestSweeperStartStop(t *testing.T) {
	sweeper, err := NewSweeper(memory.New(), "@every 1h", time.Hour, slog.Default(),
		WithTickInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("new sweeper: %v", err)
	}
	if err := sweeper.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if err := sweeper.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
