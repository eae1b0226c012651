package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	logx "taskrt/pkg/logx"
)

func TestGoRestartRestartsAfterPanic(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), WithLogger(logx.Nop()))
	var runs atomic.Int32
	done := make(chan struct{})

	s.GoRestart("worker.0", func(ctx context.Context) error {
		if runs.Add(1) == 1 {
			panic("first run dies")
		}
		close(done)
		return nil
	}, WithRestartBackoff(time.Millisecond, time.Millisecond))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker was not restarted")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop error: %v", err)
	}

	snap := s.Snapshot()
	if len(snap.Goroutines) != 1 {
		t.Fatalf("goroutines = %d, want 1", len(snap.Goroutines))
	}
	g := snap.Goroutines[0]
	if g.Panics != 1 || g.Restarts != 1 {
		t.Fatalf("stats = %+v, want 1 panic and 1 restart", g)
	}
}

func TestGoRestartGivesUp(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	failure := errors.New("always fails")
	s.GoRestart("flaky", func(ctx context.Context) error { return failure },
		WithRestartBackoff(time.Millisecond, time.Millisecond), WithMaxRestarts(2))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); !errors.Is(err, failure) {
		t.Fatalf("Wait error = %v, want wrapped failure", err)
	}
}

func TestStopCancelsContext(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	s.Go("blocker", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop error: %v", err)
	}
	if c := s.Counters(); c.Active != 0 || c.Started != 1 {
		t.Fatalf("counters = %+v", c)
	}
}
