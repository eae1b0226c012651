//go:build !no_rt_basic
// +build !no_rt_basic

package spawner

import (
	"taskrt/internal/scheduler/basic"
	"taskrt/internal/task"
)

const basicBuilt = true

type basicSpawner = basic.Spawner

// Basic wraps a single-threaded scheduler's spawner. sp must not be nil.
func Basic(sp *basic.Spawner) Spawner {
	if sp == nil {
		panic("spawner: Basic called with a nil scheduler spawner")
	}
	return Spawner{kind: KindBasic, basic: sp}
}

func spawnBasic(sp *basicSpawner, h *task.Header) task.Handle { return sp.Spawn(h) }
