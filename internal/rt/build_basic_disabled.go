//go:build no_rt_basic
// +build no_rt_basic

package rt

import (
	"taskrt/internal/rt/spawner"
	"taskrt/internal/scheduler"
)

// New rejects FlavorBasic before getting here.
func newBasic(scheduler.Options) (spawner.Spawner, sched) {
	panic("rt: basic scheduler not built (no_rt_basic)")
}
