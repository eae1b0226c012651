package app

import (
	"context"
	"slices"
	"strings"

	"taskrt/internal/config"
	logx "taskrt/pkg/logx"
)

// startReloadLoop applies committed config changes. Sections that cannot be
// swapped live (runtime, storage) only log that a restart is required.
func (a *App) startReloadLoop() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				// Coalesce bursts: keep only the latest config.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, changedJobs := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config change summary", fields...)

	for _, s := range []string{"runtime", "storage"} {
		if slices.Contains(sections, s) {
			a.log.Warn(s + " config changed; restart required for changes to take effect")
		}
	}
	if slices.Contains(sections, "logging") {
		a.logs.Apply(mapLoggingConfig(newCfg))
	}
	if slices.Contains(sections, "debug") {
		if dcfg, err := mapDebugConfig(newCfg); err != nil {
			a.log.Warn("invalid debug config; keeping previous", logx.Err(err))
		} else {
			a.debug.Reconfigure(ctx, dcfg)
		}
	}
	if slices.Contains(sections, "jobs") && a.jobs != nil {
		if err := a.jobs.Apply(newCfg.Jobs); err != nil {
			a.log.Warn("invalid jobs config; keeping previous", logx.Err(err))
		} else {
			a.log.Debug("jobs changed", logx.Any("jobs", changedJobs))
		}
	}
}
