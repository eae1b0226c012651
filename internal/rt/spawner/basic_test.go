//go:build !no_rt_basic
// +build !no_rt_basic

package spawner

import (
	"context"
	"testing"
	"time"

	"taskrt/internal/scheduler"
	"taskrt/internal/scheduler/basic"
	"taskrt/internal/task"
)

func TestBasicSpawnDelegates(t *testing.T) {
	t.Parallel()
	sched := basic.New(scheduler.Options{})
	sched.Start(context.Background())
	defer sched.Shutdown(context.Background())

	sp := Basic(sched.Spawner())
	if sp.Kind() != KindBasic || !Built(KindBasic) {
		t.Fatalf("kind = %v", sp.Kind())
	}

	h, out := task.New("double", func(ctx context.Context) (int, error) { return 21 * 2, nil })
	got := sp.Spawn(h)
	if got.Header() != h {
		t.Fatal("facade must return the scheduler's handle for the same header")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if v, err := task.Join(got, out).Await(ctx); err != nil || v != 42 {
		t.Fatalf("Await = (%d, %v)", v, err)
	}

	direct, _ := task.New("direct", func(ctx context.Context) (int, error) { return 0, nil })
	if sched.Spawner().Spawn(direct).Header() != direct {
		t.Fatal("direct spawn mismatch")
	}
}

func TestBasicRejectsNil(t *testing.T) {
	t.Parallel()
	defer func() {
		if recover() == nil {
			t.Fatal("Basic(nil) did not panic")
		}
	}()
	Basic(nil)
}
