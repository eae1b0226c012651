// Package app assembles taskrt: config, logging, the runtime, storage, the
// job runner and the debug listener, plus their hot-reload wiring.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"taskrt/internal/config"
	"taskrt/internal/eventbus"
	"taskrt/internal/jobs"
	"taskrt/internal/observability/debug"
	"taskrt/internal/rt"
	"taskrt/internal/runtime/supervisor"
	"taskrt/internal/storage"
	logx "taskrt/pkg/logx"
)

// StatsInterval is how often the one-line stats summary is logged.
var StatsInterval = time.Minute

type App struct {
	cfgPath string
	cfgm    *config.Manager
	sup     *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	runtime *rt.Runtime
	jobs    *jobs.Runner
	debug   *debug.Server
	notify  *notifier

	started time.Time
}

func NewApp(cfgPath string) (*App, error) {
	// Console logger until the configured one is built.
	cfgm := config.NewManager(cfgPath, logx.NewConsole("warn"))
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	cfgm.SetValidator(validate)
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		_ = logSvc.Close()
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			_ = logSvc.Close()
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	rcfg, err := mapRuntimeConfig(cfg)
	if err != nil {
		closeStore(store)
		_ = logSvc.Close()
		return nil, err
	}
	r, err := rt.New(rcfg, log.With(logx.String("comp", "runtime")), bus)
	if err != nil {
		closeStore(store)
		_ = logSvc.Close()
		return nil, err
	}

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		runtime: r,
		notify:  newNotifier(log.With(logx.String("comp", "systemd"))),
	}

	// A shell runtime has nothing to execute jobs on.
	if rcfg.Flavor != rt.FlavorShell {
		runner, err := jobs.New(jobs.Options{
			Handle: r.Handle(),
			Store:  store,
			Bus:    bus,
			Log:    log.With(logx.String("comp", "jobs")),
		})
		if err != nil {
			a.closeAll()
			return nil, err
		}
		if err := runner.Apply(cfg.Jobs); err != nil {
			a.closeAll()
			return nil, err
		}
		a.jobs = runner
	} else if n := enabledJobs(cfg.Jobs); n > 0 {
		log.Warn("jobs configured on a shell runtime are ignored", logx.Int("jobs", n))
	}

	dcfg, err := mapDebugConfig(cfg)
	if err != nil {
		a.closeAll()
		return nil, err
	}
	a.debug = debug.New(dcfg, a.Status, log.With(logx.String("comp", "debug")))
	return a, nil
}

// validate rejects a reloaded config before commit. Decode already applied
// Normalize, so only cross-section mapping is checked here.
func validate(_ context.Context, cfg *config.Config) error {
	rcfg, err := mapRuntimeConfig(cfg)
	if err != nil {
		return err
	}
	if !rcfg.Flavor.Built() {
		return fmt.Errorf("runtime.flavor: %w: %s", rt.ErrFlavorNotBuilt, rcfg.Flavor)
	}
	if rcfg.Flavor == rt.FlavorShell {
		if n := enabledJobs(cfg.Jobs); n > 0 {
			return fmt.Errorf("runtime.flavor: shell runtime cannot run %d configured job(s)", n)
		}
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapDebugConfig(cfg); err != nil {
		return err
	}
	for _, j := range cfg.Jobs {
		if _, err := jobs.ParseSchedule(j.Schedule); err != nil {
			return fmt.Errorf("jobs.%s: %w", j.Name, err)
		}
	}
	return nil
}

func enabledJobs(js []config.JobConfig) int {
	n := 0
	for _, j := range js {
		if j.IsEnabled() {
			n++
		}
	}
	return n
}

func (a *App) Runtime() *rt.Runtime { return a.runtime }

// Done is closed when the app supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.started = time.Now()
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))

	if a.jobs != nil {
		a.jobs.Start(a.sup.Context())
	}
	a.debug.Start(a.sup.Context())

	a.sup.GoRestart("config.watch", a.cfgm.Watch)
	a.startReloadLoop()
	a.startEventLog()
	a.startStatsLoop()
	a.notify.startWatchdog(a.sup)

	a.notify.ready(fmt.Sprintf("runtime %s (%s) running", a.runtime.Handle().Name(), a.runtime.Flavor()))
	a.log.Info("app started", logx.String("config", a.cfgPath), logx.String("runtime", a.runtime.Handle().String()))
	return nil
}

// Stop tears down in reverse order: stop firing jobs, drain the runtime,
// then close storage and logging.
func (a *App) Stop(ctx context.Context) error {
	a.notify.stopping()
	start := time.Now()
	var errs []error

	if a.jobs != nil {
		if err := a.jobs.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("jobs: %w", err))
		}
	}
	a.debug.Stop(ctx)
	if a.sup != nil {
		a.sup.Cancel()
		if err := a.sup.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, fmt.Errorf("supervisor: %w", err))
		}
	}
	if err := a.runtime.Shutdown(ctx); err != nil && !errors.Is(err, rt.ErrClosed) {
		errs = append(errs, fmt.Errorf("runtime: %w", err))
	}
	a.log.Info("app stopped", logx.Duration("took", time.Since(start)))
	closeStore(a.store)
	_ = a.logs.Close()
	return errors.Join(errs...)
}

func (a *App) closeAll() {
	_ = a.runtime.Shutdown(context.Background())
	closeStore(a.store)
	_ = a.logs.Close()
}

func closeStore(st storage.Store) {
	if st != nil {
		_ = st.Close()
	}
}

// Status is the document served by the debug listener.
type Status struct {
	Uptime     string              `json:"uptime"`
	Runtime    rt.Snapshot         `json:"runtime"`
	Jobs       []jobs.Status       `json:"jobs,omitempty"`
	RecentRuns []storage.RunRecord `json:"recent_runs,omitempty"`
	// RecentFailures counts failed runs among RecentRuns.
	RecentFailures int                 `json:"recent_failures"`
	Supervisor     supervisor.Snapshot `json:"supervisor"`
}

func (a *App) Status(ctx context.Context) any {
	st := Status{Runtime: a.runtime.Snapshot()}
	if !a.started.IsZero() {
		st.Uptime = time.Since(a.started).Truncate(time.Second).String()
	}
	if a.jobs != nil {
		st.Jobs = a.jobs.Snapshot()
	}
	if a.store != nil {
		runs, err := a.store.RecentRuns(ctx, "", 20)
		if err != nil {
			a.log.Debug("recent runs unavailable", logx.Err(err))
		}
		st.RecentRuns = runs
		for _, run := range runs {
			if !run.OK() {
				st.RecentFailures++
			}
		}
	}
	if a.sup != nil {
		st.Supervisor = a.sup.Snapshot()
	}
	return st
}
