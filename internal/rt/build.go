package rt

import (
	"fmt"

	"taskrt/internal/rt/spawner"
	"taskrt/internal/scheduler"
)

func buildScheduler(cfg Config, so scheduler.Options) (spawner.Spawner, sched, error) {
	switch cfg.Flavor {
	case FlavorShell:
		return spawner.Shell(), nil, nil
	case FlavorBasic:
		sp, sc := newBasic(so)
		return sp, sc, nil
	case FlavorThreadPool:
		sp, sc := newThreadPool(cfg, so)
		return sp, sc, nil
	default:
		return spawner.Spawner{}, nil, fmt.Errorf("%w: %q", ErrUnknownFlavor, cfg.Flavor)
	}
}
