//go:build no_rt_threadpool
// +build no_rt_threadpool

package rt

import (
	"taskrt/internal/rt/spawner"
	"taskrt/internal/scheduler"
)

// New rejects FlavorThreadPool before getting here.
func newThreadPool(Config, scheduler.Options) (spawner.Spawner, sched) {
	panic("rt: thread-pool scheduler not built (no_rt_threadpool)")
}
