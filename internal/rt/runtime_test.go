package rt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"taskrt/internal/eventbus"
	"taskrt/internal/rt/rtctx"
	"taskrt/internal/rt/spawner"
	"taskrt/internal/task"
	logx "taskrt/pkg/logx"
)

// requireFlavor skips when f is compiled out of this build.
func requireFlavor(t *testing.T, f Flavor) {
	t.Helper()
	if f != "" && !f.Built() {
		t.Skipf("flavor %s not built", f)
	}
}

func newRuntime(t *testing.T, cfg Config) *Runtime {
	t.Helper()
	requireFlavor(t, cfg.Flavor)
	r, err := New(cfg, logx.Nop(), eventbus.New())
	if err != nil {
		t.Fatalf("New(%+v): %v", cfg, err)
	}
	t.Cleanup(func() { _ = r.Shutdown(context.Background()) })
	return r
}

func timeout(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestEnterScopesCurrentRuntime(t *testing.T) {
	t.Parallel()
	a := newRuntime(t, Config{Name: "a", Flavor: FlavorShell})
	b := newRuntime(t, Config{Name: "b", Flavor: FlavorShell})
	ctx := context.Background()

	var inner, afterInner Handle
	err := a.Enter(ctx, func(ctx context.Context) error {
		_ = b.Enter(ctx, func(ctx context.Context) error {
			inner, _ = Current(ctx)
			return nil
		})
		afterInner, _ = Current(ctx)
		return nil
	})
	if err != nil {
		t.Fatalf("Enter error: %v", err)
	}
	if !inner.Equal(b.Handle()) {
		t.Fatalf("inner current = %v, want %v", inner, b.Handle())
	}
	if !afterInner.Equal(a.Handle()) {
		t.Fatalf("after inner = %v, want %v", afterInner, a.Handle())
	}
	if _, ok := Current(ctx); ok {
		t.Fatal("outer context must have no current runtime")
	}
}

func TestEnterPropagatesErrorAndPanic(t *testing.T) {
	t.Parallel()
	a := newRuntime(t, Config{Flavor: FlavorShell})
	want := errors.New("x")
	if err := a.Enter(context.Background(), func(ctx context.Context) error { return want }); err != want {
		t.Fatalf("Enter error = %v, want %v", err, want)
	}

	func() {
		defer func() {
			if r := recover(); r != "boom" {
				t.Fatalf("recovered %v, want boom", r)
			}
		}()
		_ = a.Enter(context.Background(), func(ctx context.Context) error { panic("boom") })
	}()
}

func TestSpawnFromContextPerFlavor(t *testing.T) {
	t.Parallel()
	for _, f := range []Flavor{FlavorBasic, FlavorThreadPool} {
		f := f
		t.Run(string(f), func(t *testing.T) {
			t.Parallel()
			r := newRuntime(t, Config{Flavor: f, Workers: 2})
			ctx := timeout(t)

			err := r.Enter(ctx, func(ctx context.Context) error {
				j := Spawn(ctx, "outer", func(ctx context.Context) (bool, error) {
					// Code inside a task sees its runtime without it being passed in.
					h, ok := Current(ctx)
					return ok && h.Equal(r.Handle()), nil
				})
				ok, err := j.Await(ctx)
				if err != nil {
					return err
				}
				if !ok {
					t.Error("task did not observe its runtime as current")
				}
				return nil
			})
			if err != nil {
				t.Fatalf("Enter error: %v", err)
			}
		})
	}
}

func TestSpawnWithoutRuntimePanics(t *testing.T) {
	t.Parallel()
	defer func() {
		if r := recover(); r != ErrNoRuntime {
			t.Fatalf("recovered %v, want ErrNoRuntime", r)
		}
	}()
	Spawn(context.Background(), "orphan", func(ctx context.Context) (int, error) { return 0, nil })
}

func TestShellRuntimeSpawnIsFatal(t *testing.T) {
	t.Parallel()
	r := newRuntime(t, Config{Flavor: FlavorShell})
	defer func() {
		err, _ := recover().(error)
		if !errors.Is(err, spawner.ErrSpawnNotEnabled) {
			t.Fatalf("recovered %v, want ErrSpawnNotEnabled", err)
		}
	}()
	SpawnOn(r.Handle(), "nope", func(ctx context.Context) (int, error) { return 0, nil })
}

func TestBlockOnPerFlavor(t *testing.T) {
	t.Parallel()
	for _, f := range []Flavor{FlavorShell, FlavorBasic, FlavorThreadPool} {
		f := f
		t.Run(string(f), func(t *testing.T) {
			t.Parallel()
			r := newRuntime(t, Config{Flavor: f, Workers: 2})
			v, err := BlockOn(timeout(t), r, "sum", func(ctx context.Context) (int, error) {
				h, ok := Current(ctx)
				if !ok || !h.Equal(r.Handle()) {
					return 0, errors.New("runtime not current inside BlockOn")
				}
				return 1 + 2, nil
			})
			if err != nil || v != 3 {
				t.Fatalf("BlockOn = (%d, %v)", v, err)
			}
		})
	}
}

func TestNestedBlockOnBasicPanics(t *testing.T) {
	t.Parallel()
	r := newRuntime(t, Config{Flavor: FlavorBasic})
	_, err := BlockOn(timeout(t), r, "outer", func(ctx context.Context) (any, error) {
		defer func() { _ = recover() }()
		_, _ = BlockOn(ctx, r, "inner", func(ctx context.Context) (int, error) { return 0, nil })
		return nil, errors.New("nested BlockOn did not panic")
	})
	if err != nil {
		t.Fatalf("outer BlockOn: %v", err)
	}
}

func TestBlockOnBasicFromPlainGoroutine(t *testing.T) {
	t.Parallel()
	r := newRuntime(t, Config{Flavor: FlavorBasic})
	ctx := timeout(t)

	// r is current here but this goroutine is not r's driver.
	var got int
	err := r.Enter(ctx, func(ctx context.Context) error {
		v, err := BlockOn(ctx, r, "seven", func(ctx context.Context) (int, error) { return 7, nil })
		got = v
		return err
	})
	if err != nil || got != 7 {
		t.Fatalf("BlockOn = (%d, %v), want 7", got, err)
	}

	// A context forked off the driver onto another goroutine may block too.
	j := SpawnOn(r.Handle(), "fork", func(ctx context.Context) (context.Context, error) {
		return context.WithoutCancel(rtctx.Fork[Handle](ctx)), nil
	})
	forked, err := j.Await(ctx)
	if err != nil {
		t.Fatal(err)
	}
	v, err := BlockOn(forked, r, "forked", func(ctx context.Context) (int, error) { return 8, nil })
	if err != nil || v != 8 {
		t.Fatalf("BlockOn(forked) = (%d, %v), want 8", v, err)
	}
}

func TestBlockOnAcrossRuntimesRestoresOuter(t *testing.T) {
	t.Parallel()
	outer := newRuntime(t, Config{Name: "outer", Flavor: FlavorThreadPool, Workers: 2})
	inner := newRuntime(t, Config{Name: "inner", Flavor: FlavorBasic})

	got, err := BlockOn(timeout(t), outer, "driver", func(ctx context.Context) (string, error) {
		name, err := BlockOn(ctx, inner, "nested", func(ctx context.Context) (string, error) {
			h, _ := Current(ctx)
			return h.Name(), nil
		})
		if err != nil || name != "inner" {
			return "", errors.New("inner runtime not current in nested BlockOn")
		}
		h, _ := Current(ctx)
		return h.Name(), nil
	})
	if err != nil || got != "outer" {
		t.Fatalf("BlockOn = (%q, %v), want outer", got, err)
	}
}

func TestShutdownRejectsLateSpawns(t *testing.T) {
	t.Parallel()
	requireFlavor(t, FlavorThreadPool)
	r, err := New(Config{Flavor: FlavorThreadPool, Workers: 1}, logx.Nop(), nil)
	if err != nil {
		t.Fatal(err)
	}
	var mu sync.Mutex
	ran := 0
	for i := 0; i < 5; i++ {
		SpawnOn(r.Handle(), "work", func(ctx context.Context) (int, error) {
			mu.Lock()
			ran++
			mu.Unlock()
			return 0, nil
		})
	}
	if err := r.Shutdown(timeout(t)); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if ran != 5 {
		t.Fatalf("ran = %d, want 5", ran)
	}
	if err := r.Shutdown(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("second Shutdown = %v, want ErrClosed", err)
	}
	late := SpawnOn(r.Handle(), "late", func(ctx context.Context) (int, error) { return 0, nil })
	if _, err := late.Await(timeout(t)); !errors.Is(err, task.ErrShutdown) {
		t.Fatalf("late spawn = %v, want ErrShutdown", err)
	}
	if !r.Snapshot().Closed {
		t.Fatal("snapshot should report closed")
	}
}

func TestParseFlavor(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want Flavor
		err  bool
	}{
		{raw: "", want: FlavorThreadPool},
		{raw: "multi_thread", want: FlavorThreadPool},
		{raw: "Basic", want: FlavorBasic},
		{raw: "current_thread", want: FlavorBasic},
		{raw: "shell", want: FlavorShell},
		{raw: "fibers", err: true},
	}
	for _, tt := range tests {
		got, err := ParseFlavor(tt.raw)
		if tt.err {
			if !errors.Is(err, ErrUnknownFlavor) {
				t.Fatalf("ParseFlavor(%q) err = %v, want ErrUnknownFlavor", tt.raw, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("ParseFlavor(%q) = (%q, %v), want %q", tt.raw, got, err, tt.want)
		}
	}
}

func TestHandleZeroValue(t *testing.T) {
	t.Parallel()
	var h Handle
	if !h.IsZero() || h.ID() != 0 || h.Spawner().Kind() != spawner.KindShell {
		t.Fatalf("unexpected zero handle %v", h)
	}
}

func TestFlavorBuiltMatchesSpawner(t *testing.T) {
	t.Parallel()
	for _, f := range []Flavor{FlavorShell, FlavorBasic, FlavorThreadPool} {
		if f.Built() != spawner.Built(f.kind()) {
			t.Fatalf("%s: Built = %v, spawner says %v", f, f.Built(), spawner.Built(f.kind()))
		}
		if f.Built() {
			continue
		}
		if _, err := New(Config{Flavor: f}, logx.Nop(), nil); !errors.Is(err, ErrFlavorNotBuilt) {
			t.Fatalf("New(%s) = %v, want ErrFlavorNotBuilt", f, err)
		}
	}
}
