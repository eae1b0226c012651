package rt

import (
	"fmt"
	"sync/atomic"

	"taskrt/internal/rt/spawner"
)

var runtimeSeq atomic.Uint64

// Handle refers to a runtime. It is a small value; copies share the
// runtime's state and compare equal with Equal.
type Handle struct {
	in *shared
}

type shared struct {
	id      uint64
	name    string
	flavor  Flavor
	spawner spawner.Spawner
}

func (h Handle) IsZero() bool { return h.in == nil }

func (h Handle) ID() uint64 {
	if h.in == nil {
		return 0
	}
	return h.in.id
}

func (h Handle) Name() string {
	if h.in == nil {
		return ""
	}
	return h.in.name
}

func (h Handle) Flavor() Flavor {
	if h.in == nil {
		return ""
	}
	return h.in.flavor
}

// Equal reports whether h and o refer to the same runtime.
func (h Handle) Equal(o Handle) bool { return h.in == o.in }

// Spawner returns the runtime's spawn facade.
func (h Handle) Spawner() spawner.Spawner {
	if h.in == nil {
		return spawner.Shell()
	}
	return h.in.spawner
}

func (h Handle) String() string {
	if h.in == nil {
		return "runtime(none)"
	}
	return fmt.Sprintf("runtime(%s#%d,%s)", h.in.name, h.in.id, h.in.flavor)
}
