//go:build !no_rt_basic
// +build !no_rt_basic

package rt

import (
	"taskrt/internal/rt/spawner"
	"taskrt/internal/scheduler"
	"taskrt/internal/scheduler/basic"
)

type basicSched struct{ *basic.Scheduler }

func (b basicSched) snapshot() (any, scheduler.Stats, int) {
	snap := b.Snapshot()
	return snap, snap.Tasks, snap.QueueLen
}

func newBasic(so scheduler.Options) (spawner.Spawner, sched) {
	s := basic.New(so)
	return spawner.Basic(s.Spawner()), basicSched{s}
}
