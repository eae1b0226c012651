//go:build !no_rt_threadpool
// +build !no_rt_threadpool

package spawner

import (
	"context"
	"testing"
	"time"

	"taskrt/internal/scheduler"
	"taskrt/internal/scheduler/threadpool"
	"taskrt/internal/task"
)

func TestThreadPoolSpawnDelegates(t *testing.T) {
	t.Parallel()
	sched := threadpool.New(threadpool.Config{Workers: 2}, scheduler.Options{})
	sched.Start(context.Background())
	defer sched.Shutdown(context.Background())

	sp := ThreadPool(sched.Spawner())
	if sp.Kind() != KindThreadPool || !Built(KindThreadPool) {
		t.Fatalf("kind = %v", sp.Kind())
	}
	copied := sp

	h, out := task.New("hello", func(ctx context.Context) (string, error) { return "hi", nil })
	got := copied.Spawn(h)
	if got.Header() != h || got.ID() != h.ID() {
		t.Fatal("facade must return the scheduler's handle unchanged")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if v, err := task.Join(got, out).Await(ctx); err != nil || v != "hi" {
		t.Fatalf("Await = (%q, %v)", v, err)
	}
	if st := sched.Snapshot().Tasks; st.Spawned != 1 {
		t.Fatalf("scheduler saw %d spawns, want 1", st.Spawned)
	}
}

func TestThreadPoolRejectsNil(t *testing.T) {
	t.Parallel()
	defer func() {
		if recover() == nil {
			t.Fatal("ThreadPool(nil) did not panic")
		}
	}()
	ThreadPool(nil)
}
