//go:build no_rt_threadpool
// +build no_rt_threadpool

package spawner

import "taskrt/internal/task"

const poolBuilt = false

// poolSpawner marks the thread-pool variant as unavailable in this build.
type poolSpawner struct{}

func spawnPool(*poolSpawner, *task.Header) task.Handle {
	panic("spawner: thread-pool scheduler not built (no_rt_threadpool)")
}
