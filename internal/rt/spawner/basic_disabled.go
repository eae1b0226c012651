//go:build no_rt_basic
// +build no_rt_basic

package spawner

import "taskrt/internal/task"

const basicBuilt = false

// basicSpawner marks the basic variant as unavailable in this build.
type basicSpawner struct{}

func spawnBasic(*basicSpawner, *task.Header) task.Handle {
	panic("spawner: basic scheduler not built (no_rt_basic)")
}
