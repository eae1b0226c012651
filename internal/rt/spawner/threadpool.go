//go:build !no_rt_threadpool
// +build !no_rt_threadpool

package spawner

import (
	"taskrt/internal/scheduler/threadpool"
	"taskrt/internal/task"
)

const poolBuilt = true

type poolSpawner = threadpool.Spawner

// ThreadPool wraps a multi-worker scheduler's spawner. sp must not be nil.
func ThreadPool(sp *threadpool.Spawner) Spawner {
	if sp == nil {
		panic("spawner: ThreadPool called with a nil scheduler spawner")
	}
	return Spawner{kind: KindThreadPool, pool: sp}
}

func spawnPool(sp *poolSpawner, h *task.Header) task.Handle { return sp.Spawn(h) }
