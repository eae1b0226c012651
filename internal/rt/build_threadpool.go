//go:build !no_rt_threadpool
// +build !no_rt_threadpool

package rt

import (
	"taskrt/internal/rt/spawner"
	"taskrt/internal/scheduler"
	"taskrt/internal/scheduler/threadpool"
)

type poolSched struct{ *threadpool.Scheduler }

func (p poolSched) snapshot() (any, scheduler.Stats, int) {
	snap := p.Snapshot()
	return snap, snap.Tasks, snap.QueueLen
}

func newThreadPool(cfg Config, so scheduler.Options) (spawner.Spawner, sched) {
	s := threadpool.New(threadpool.Config{Workers: cfg.Workers, QueueWarn: cfg.QueueWarn}, so)
	return spawner.ThreadPool(s.Spawner()), poolSched{s}
}
