// Package retention prunes terminal jobs on a cron schedule. Completed,
// failed, and cancelled jobs older than the retention age are deleted
// together with their history and metrics, keeping the store bounded.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/framehaus/jobd/job"
)

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithTickInterval sets how often the sweeper checks for a due run.
func WithTickInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) { s.tickInterval = d }
}

// Sweeper deletes terminal jobs past the retention age whenever its
// cron schedule fires.
type Sweeper struct {
	store    job.Store
	schedule cronlib.Schedule
	age      time.Duration
	logger   *slog.Logger

	tickInterval time.Duration
	nextRunAt    time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewSweeper creates a Sweeper. The schedule expression uses standard
// 5-field cron syntax or descriptors like "@daily" and "@every 1h".
func NewSweeper(store job.Store, schedule string, age time.Duration, logger *slog.Logger, opts ...SweeperOption) (*Sweeper, error) {
	sched, err := ParseSchedule(schedule)
	if err != nil {
		return nil, fmt.Errorf("jobd/retention: parse schedule %q: %w", schedule, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sweeper{
		store:        store,
		schedule:     sched,
		age:          age,
		logger:       logger,
		tickInterval: time.Second,
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start launches the sweep tick goroutine.
func (s *Sweeper) Start(_ context.Context) error {
	s.nextRunAt = s.schedule.Next(time.Now().UTC())
	s.wg.Add(1)
	go s.tickLoop()
	s.logger.Info("retention sweeper started",
		slog.Duration("retention_age", s.age),
		slog.Time("next_run", s.nextRunAt),
	)
	return nil
}

// Stop signals the sweeper to stop and waits for it to finish.
func (s *Sweeper) Stop(_ context.Context) error {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("retention sweeper stopped")
	return nil
}

func (s *Sweeper) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			now := time.Now().UTC()
			if now.Before(s.nextRunAt) {
				continue
			}
			s.Sweep(context.Background())
			s.nextRunAt = s.schedule.Next(now)
		}
	}
}

// Sweep runs one retention pass immediately.
func (s *Sweeper) Sweep(ctx context.Context) {
	removed, err := s.store.CleanupTerminal(ctx, s.age)
	if err != nil {
		s.logger.Error("retention sweep error", slog.String("error", err.Error()))
		return
	}
	if removed > 0 {
		s.logger.Info("retention sweep removed terminal jobs",
			slog.Int64("removed", removed),
			slog.Duration("retention_age", s.age),
		)
	}
}
