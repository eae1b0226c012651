package app

import (
	"context"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	logx "taskrt/pkg/logx"
)

// startEventLog mirrors bus events at debug level.
func (a *App) startEventLog() {
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Trace("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})
}

// startStatsLoop logs a one-line summary of runtime and job counters.
func (a *App) startStatsLoop() {
	if StatsInterval <= 0 {
		return
	}
	a.sup.Go("stats", func(c context.Context) error {
		t := time.NewTicker(StatsInterval)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return nil
			case <-t.C:
				a.log.Info("stats", a.statsFields()...)
			}
		}
	})
}

func (a *App) statsFields() []logx.Field {
	snap := a.runtime.Snapshot()
	fields := []logx.Field{
		logx.String("uptime", strings.TrimSpace(humanize.RelTime(a.started, time.Now(), "", ""))),
		logx.String("spawned", humanize.Comma(int64(snap.Tasks.Spawned))),
		logx.String("completed", humanize.Comma(int64(snap.Tasks.Completed))),
		logx.String("failed", humanize.Comma(int64(snap.Tasks.Failed+snap.Tasks.Panicked))),
		logx.Int64("in_flight", snap.Tasks.InFlight),
		logx.Int("queued", snap.QueueLen),
	}
	if a.jobs != nil {
		var runs, skips uint64
		for _, j := range a.jobs.Snapshot() {
			runs += j.Runs
			skips += j.Skips
		}
		fields = append(fields,
			logx.String("job_runs", humanize.Comma(int64(runs))),
			logx.String("job_skips", humanize.Comma(int64(skips))),
		)
	}
	return fields
}
