// Package spawner routes spawn calls to the scheduler backing a runtime.
//
// Spawner is a closed union: a small Kind tag plus one pointer per compiled-in
// scheduler. Spawn switches on the tag; there is no interface call on the
// spawn path.
//
// Build tags remove variants:
//   - no_rt_basic: no basic scheduler
//   - no_rt_threadpool: no thread-pool scheduler
//
// A removed variant keeps an unavailable marker type in its slot, so the union
// and the dispatch switch have the same shape in every build. With both tags
// only Shell remains.
package spawner

import (
	"errors"

	"taskrt/internal/task"
)

// ErrSpawnNotEnabled is the panic value of Shell.Spawn.
var ErrSpawnNotEnabled = errors.New("spawning not enabled for runtime: no executor configured")

// Kind tags the active variant.
type Kind uint8

const (
	KindShell Kind = iota
	KindBasic
	KindThreadPool
)

func (k Kind) String() string {
	switch k {
	case KindShell:
		return "shell"
	case KindBasic:
		return "basic"
	case KindThreadPool:
		return "threadpool"
	default:
		return "unknown"
	}
}

// Spawner is fixed at construction and never changes variant.
// Copies are cheap and share the underlying scheduler.
type Spawner struct {
	kind  Kind
	basic *basicSpawner
	pool  *poolSpawner
}

// Shell is the variant of a runtime with no executor.
func Shell() Spawner { return Spawner{kind: KindShell} }

func (s Spawner) Kind() Kind { return s.kind }

// Spawn hands h to the backing scheduler and returns its handle unchanged.
//
// On Shell it panics with ErrSpawnNotEnabled: spawning onto a runtime built
// without an executor is a programming error in whoever built the runtime.
func (s Spawner) Spawn(h *task.Header) task.Handle {
	switch s.kind {
	case KindBasic:
		return spawnBasic(s.basic, h)
	case KindThreadPool:
		return spawnPool(s.pool, h)
	default:
		panic(ErrSpawnNotEnabled)
	}
}

// Available reports which kinds this build can construct.
func Available() []Kind {
	kinds := []Kind{KindShell}
	if basicBuilt {
		kinds = append(kinds, KindBasic)
	}
	if poolBuilt {
		kinds = append(kinds, KindThreadPool)
	}
	return kinds
}

// Built reports whether k can be constructed in this build.
func Built(k Kind) bool {
	switch k {
	case KindShell:
		return true
	case KindBasic:
		return basicBuilt
	case KindThreadPool:
		return poolBuilt
	default:
		return false
	}
}
