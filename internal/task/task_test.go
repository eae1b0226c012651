package task

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRunDeliversOutput(t *testing.T) {
	t.Parallel()
	h, out := New("answer", func(ctx context.Context) (int, error) { return 42, nil })
	j := Join(HandleOf(h), out)

	if err := h.Run(context.Background()); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	v, err := j.Await(context.Background())
	if err != nil || v != 42 {
		t.Fatalf("Await = (%d, %v), want (42, nil)", v, err)
	}
	if h.State() != StateDone {
		t.Fatalf("state = %v, want done", h.State())
	}
}

func TestRunCapturesPanic(t *testing.T) {
	t.Parallel()
	h, out := New("boom", func(ctx context.Context) (string, error) { panic("kaboom") })
	j := Join(HandleOf(h), out)

	_ = h.Run(context.Background())
	_, err := j.Await(context.Background())
	if !IsPanic(err) {
		t.Fatalf("err = %v, want PanicError", err)
	}
	var pe *PanicError
	if !errors.As(err, &pe) || pe.Value != "kaboom" || pe.Stack == "" {
		t.Fatalf("unexpected panic error: %#v", pe)
	}
}

func TestAbortBeforeRun(t *testing.T) {
	t.Parallel()
	ran := false
	h, out := New("skipped", func(ctx context.Context) (struct{}, error) {
		ran = true
		return struct{}{}, nil
	})
	j := Join(HandleOf(h), out)
	j.Abort()

	if err := h.Run(context.Background()); !errors.Is(err, ErrAborted) {
		t.Fatalf("Run error = %v, want ErrAborted", err)
	}
	if ran {
		t.Fatal("aborted task body must not run")
	}
	if _, err := j.Await(context.Background()); !errors.Is(err, ErrAborted) {
		t.Fatalf("Await error = %v, want ErrAborted", err)
	}
}

func TestAbortWhileRunningCancelsContext(t *testing.T) {
	t.Parallel()
	started := make(chan struct{})
	h, out := New("long", func(ctx context.Context) (int, error) {
		close(started)
		<-ctx.Done()
		return 0, ctx.Err()
	})
	j := Join(HandleOf(h), out)

	go func() { _ = h.Run(context.Background()) }()
	<-started
	j.Abort()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := j.Await(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Await error = %v, want context.Canceled", err)
	}
}

func TestAwaitHonorsContext(t *testing.T) {
	t.Parallel()
	h, out := New("never", func(ctx context.Context) (int, error) { return 1, nil })
	j := Join(HandleOf(h), out)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := j.Await(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Await error = %v, want context.Canceled", err)
	}
	if j.IsFinished() {
		t.Fatal("task should still be pending")
	}
}

func TestCompleteIsFirstWins(t *testing.T) {
	t.Parallel()
	h, _ := New("rejected", func(ctx context.Context) (int, error) { return 0, nil })
	h.Complete(ErrShutdown)
	h.Complete(nil)
	if err := h.Err(); !errors.Is(err, ErrShutdown) {
		t.Fatalf("Err = %v, want ErrShutdown", err)
	}
	if err := h.Run(context.Background()); err != nil {
		t.Fatalf("Run on completed header = %v, want nil", err)
	}
}

func TestIDsAreUnique(t *testing.T) {
	t.Parallel()
	a, _ := New("a", func(ctx context.Context) (int, error) { return 0, nil })
	b, _ := New("b", func(ctx context.Context) (int, error) { return 0, nil })
	if a.ID() == b.ID() {
		t.Fatalf("duplicate id %s", a.ID())
	}
}
