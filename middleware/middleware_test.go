package middleware_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/framehaus/jobd/id"
	"github.com/framehaus/jobd/job"
	mw "github.com/framehaus/jobd/middleware"
)

func newTestJob() *job.Job {
	return &job.Job{
		ID:       id.NewJobID(),
		Type:     "scan",
		Priority: job.PriorityMedium,
	}
}

func TestChain_Order(t *testing.T) {
	var order []string
	mkMw := func(name string) mw.Middleware {
		return func(ctx context.Context, _ *job.Job, next mw.Handler) error {
			order = append(order, name+"-pre")
			err := next(ctx)
			order = append(order, name+"-post")
			return err
		}
	}

	chain := mw.Chain(mkMw("outer"), mkMw("inner"))
	err := chain(context.Background(), newTestJob(), func(_ context.Context) error {
		order = append(order, "handler")
		return nil
	})
	if err != nil {
		t.Fatalf("chain error: %v", err)
	}

	want := []string{"outer-pre", "inner-pre", "handler", "inner-post", "outer-post"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestChain_Empty(t *testing.T) {
	chain := mw.Chain()
	called := false
	err := chain(context.Background(), newTestJob(), func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("chain error: %v", err)
	}
	if !called {
		t.Fatal("handler not called through empty chain")
	}
}

func TestChain_ErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	chain := mw.Chain(func(ctx context.Context, _ *job.Job, next mw.Handler) error {
		return next(ctx)
	})
	err := chain(context.Background(), newTestJob(), func(_ context.Context) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
}

func TestRecover_ConvertsPanicToError(t *testing.T) {
	rec := mw.Recover(slog.Default())
	err := rec(context.Background(), newTestJob(), func(_ context.Context) error {
		panic("exploded")
	})
	if err == nil {
		t.Fatal("expected error from panic")
	}
}

func TestRecover_PassesThroughSuccess(t *testing.T) {
	rec := mw.Recover(slog.Default())
	err := rec(context.Background(), newTestJob(), func(_ context.Context) error {
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTimeout_CancelsContext(t *testing.T) {
	j := newTestJob()
	j.Timeout = 20 * time.Millisecond

	to := mw.Timeout(slog.Default())
	err := to(context.Background(), j, func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
			return nil
		}
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestTimeout_ZeroMeansNoDeadline(t *testing.T) {
	to := mw.Timeout(slog.Default())
	err := to(context.Background(), newTestJob(), func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); ok {
			t.Error("unexpected deadline on zero-timeout job")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLogging_PassesThrough(t *testing.T) {
	boom := errors.New("boom")
	lg := mw.Logging(slog.Default())

	if err := lg(context.Background(), newTestJob(), func(_ context.Context) error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := lg(context.Background(), newTestJob(), func(_ context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
}
