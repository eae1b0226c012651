package jobs

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"taskrt/internal/config"
	"taskrt/internal/eventbus"
	"taskrt/internal/rt"
	"taskrt/internal/rt/spawner"
	"taskrt/internal/storage"
	"taskrt/internal/task"
	logx "taskrt/pkg/logx"
)

const (
	DefaultOutputLimit  = 16 << 10
	DefaultRetryBackoff = 500 * time.Millisecond
	MaxRetryBackoff     = 15 * time.Second
)

var (
	ErrUnknownJob = errors.New("unknown job")
	ErrRunning    = errors.New("job already running")
)

// Options wires a Runner to its collaborators. Store and Bus may be nil.
type Options struct {
	Handle      rt.Handle
	Store       storage.Store
	Bus         eventbus.Bus
	Log         logx.Logger
	Location    *time.Location
	OutputLimit int
}

// Result is the outcome of one job run.
type Result struct {
	Job      string
	TaskID   task.ID
	Started  time.Time
	Duration time.Duration
	ExitCode int
	Attempts int
	Output   string
}

// JobEvent is the payload of job.* bus events.
type JobEvent struct {
	Job      string
	TaskID   task.ID
	ExitCode int
	Attempts int
	Took     time.Duration
	Error    string
}

// Status is a per-job view for diagnostics.
type Status struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Next     time.Time `json:"next,omitempty"`
	Running  bool      `json:"running"`
	Runs     uint64    `json:"runs"`
	Failures uint64    `json:"failures"`
	Skips    uint64    `json:"skips"`
	LastErr  string    `json:"last_err,omitempty"`
}

type entry struct {
	cfg     config.JobConfig
	spec    Spec
	cmd     *Command
	timeout time.Duration
	backoff time.Duration
	id      cron.EntryID

	// shared across reloads of the same job name so a changed job still
	// refuses to overlap a run of its previous definition
	st *jobState
}

type jobState struct {
	running  atomic.Bool
	runs     atomic.Uint64
	failures atomic.Uint64
	skips    atomic.Uint64

	mu      sync.Mutex
	lastErr string
}

// Runner owns the cron clock and the set of configured jobs.
type Runner struct {
	opts Options
	log  logx.Logger

	mu     sync.Mutex
	c      *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	jobs   map[string]*entry
	states map[string]*jobState
}

// New validates that h can execute tasks; a shell runtime cannot run jobs.
func New(opts Options) (*Runner, error) {
	if opts.Handle.IsZero() {
		return nil, rt.ErrNoRuntime
	}
	if opts.Handle.Spawner().Kind() == spawner.KindShell {
		return nil, fmt.Errorf("jobs: runtime %s: %w", opts.Handle.Name(), spawner.ErrSpawnNotEnabled)
	}
	if opts.Log.IsZero() {
		opts.Log = logx.Nop()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.OutputLimit == 0 {
		opts.OutputLimit = DefaultOutputLimit
	}
	return &Runner{
		opts:   opts,
		log:    opts.Log.With(logx.String("comp", "jobs")),
		jobs:   map[string]*entry{},
		states: map[string]*jobState{},
	}, nil
}

func (r *Runner) build(jc config.JobConfig) (*entry, error) {
	spec, err := ParseSchedule(jc.Schedule)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", jc.Name, err)
	}
	timeout, err := config.ParseDurationField("jobs."+jc.Name+".timeout", jc.Timeout)
	if err != nil {
		return nil, err
	}
	backoff, err := config.ParseDurationOrDefault("jobs."+jc.Name+".retry_backoff", jc.RetryBackoff, DefaultRetryBackoff)
	if err != nil {
		return nil, err
	}
	cmd, err := ParseCommand(jc.Name, jc.Command, jc.Dir, jc.Env)
	if err != nil {
		return nil, err
	}
	return &entry{cfg: jc, spec: spec, cmd: cmd, timeout: timeout, backoff: backoff}, nil
}

// Apply replaces the job set. Every job is validated first; on error the
// current set is left untouched. Unchanged jobs keep their cron entry.
func (r *Runner) Apply(jobs []config.JobConfig) error {
	next := make(map[string]*entry, len(jobs))
	for _, jc := range jobs {
		if !jc.IsEnabled() {
			continue
		}
		if _, dup := next[jc.Name]; dup {
			return fmt.Errorf("duplicate job name %q", jc.Name)
		}
		e, err := r.build(jc)
		if err != nil {
			return err
		}
		next[jc.Name] = e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	var added, removed, kept int
	for name, old := range r.jobs {
		if e, ok := next[name]; ok && reflect.DeepEqual(old.cfg, e.cfg) {
			next[name] = old
			kept++
			continue
		}
		if r.c != nil {
			r.c.Remove(old.id)
		}
		removed++
	}
	for name, e := range next {
		if e.st == nil {
			st := r.states[name]
			if st == nil {
				st = &jobState{}
				r.states[name] = st
			}
			e.st = st
		}
		if r.c != nil && e.id == 0 {
			e.id = r.c.Schedule(e.spec.Schedule, r.cronJob(e))
			added++
		}
	}
	for name, st := range r.states {
		if _, ok := next[name]; !ok && !st.running.Load() {
			delete(r.states, name)
		}
	}
	r.jobs = next
	r.log.Info("jobs applied", logx.Int("jobs", len(next)), logx.Int("added", added), logx.Int("removed", removed), logx.Int("kept", kept))
	return nil
}

func (r *Runner) cronJob(e *entry) cron.Job {
	return cron.FuncJob(func() {
		r.mu.Lock()
		ctx := r.ctx
		r.mu.Unlock()
		if ctx == nil || ctx.Err() != nil {
			return
		}
		_, _ = r.execute(ctx, e)
	})
}

// Start begins firing jobs. Each fire runs on its own cron goroutine and
// waits for the spawned task, so Stop waits for in-flight runs.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c != nil {
		return
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.c = cron.New(cron.WithLocation(r.opts.Location), cron.WithLogger(cronLogger{log: r.log}))
	for _, e := range r.jobs {
		e.id = r.c.Schedule(e.spec.Schedule, r.cronJob(e))
	}
	r.c.Start()
	r.log.Info("job runner started", logx.Int("jobs", len(r.jobs)), logx.String("tz", r.opts.Location.String()))
}

// Stop cancels running commands and waits for their runs to be recorded,
// or for ctx to end.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	c, cancel := r.c, r.cancel
	r.c, r.cancel = nil, nil
	for _, e := range r.jobs {
		e.id = 0
	}
	r.mu.Unlock()
	if c == nil {
		return nil
	}
	cancel()
	select {
	case <-c.Stop().Done():
		r.log.Info("job runner stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Trigger runs name now, outside its schedule, and waits for the result.
// It returns ErrRunning when a run of the job is in flight.
func (r *Runner) Trigger(ctx context.Context, name string) (Result, error) {
	r.mu.Lock()
	e, ok := r.jobs[name]
	r.mu.Unlock()
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return r.execute(ctx, e)
}

func (r *Runner) execute(ctx context.Context, e *entry) (Result, error) {
	name := e.cfg.Name
	if !e.st.running.CompareAndSwap(false, true) {
		e.st.skips.Add(1)
		r.log.Debug("job skipped (previous run still running)", logx.String("job", name))
		r.publish(eventbus.JobSkipped, JobEvent{Job: name, Error: "overlap_skip"})
		return Result{Job: name}, ErrRunning
	}
	defer e.st.running.Store(false)

	var (
		res Result
		err error
	)
	for attempt := 1; ; attempt++ {
		res, err = r.attempt(ctx, e)
		res.Attempts = attempt
		if err == nil || attempt > e.cfg.Retries || ctx.Err() != nil || errors.Is(err, task.ErrShutdown) {
			break
		}
		delay := retryDelay(e.backoff, attempt)
		r.log.Debug("job retry scheduled",
			logx.String("job", name),
			logx.Int("attempt", attempt+1),
			logx.Duration("delay", delay),
			logx.Err(err),
		)
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			tmr.Stop()
		case <-tmr.C:
		}
		if ctx.Err() != nil {
			break
		}
	}
	r.record(ctx, e, res, err)
	return res, err
}

// attempt runs the command once as a task on the runner's runtime.
func (r *Runner) attempt(ctx context.Context, e *entry) (Result, error) {
	name := e.cfg.Name
	limit := r.opts.OutputLimit
	j := rt.SpawnOn(r.opts.Handle, "job."+name, func(tctx context.Context) (Result, error) {
		// The task context comes from the scheduler; ctx carries the
		// runner's lifetime.
		tctx, cancel := context.WithCancel(tctx)
		defer cancel()
		stop := context.AfterFunc(ctx, cancel)
		defer stop()
		if e.timeout > 0 {
			var tcancel context.CancelFunc
			tctx, tcancel = context.WithTimeout(tctx, e.timeout)
			defer tcancel()
		}

		res := Result{Job: name, Started: time.Now()}
		out, err := e.cmd.Run(tctx, limit)
		res.Duration = time.Since(res.Started)
		res.Output = out
		var ee *ExitError
		switch {
		case errors.As(err, &ee):
			res.ExitCode = ee.Code
		case err != nil:
			res.ExitCode = -1
		}
		return res, err
	})

	// Every spawned task completes, so waiting without ctx is bounded.
	res, err := j.Await(context.Background())
	res.Job = name
	res.TaskID = j.ID()
	if res.Started.IsZero() {
		// rejected or aborted before it ran
		res.Started = time.Now()
		res.ExitCode = -1
	}
	return res, err
}

// retryDelay doubles base per retry (retry 1 waits base), capped at
// MaxRetryBackoff.
func retryDelay(base time.Duration, retry int) time.Duration {
	d := base
	for i := 1; i < retry && d < MaxRetryBackoff; i++ {
		d *= 2
	}
	return min(d, MaxRetryBackoff)
}

func (r *Runner) record(ctx context.Context, e *entry, res Result, err error) {
	e.st.runs.Add(1)
	ev := JobEvent{Job: res.Job, TaskID: res.TaskID, ExitCode: res.ExitCode, Attempts: res.Attempts, Took: res.Duration}
	rec := storage.RunRecord{
		Job:       res.Job,
		TaskID:    uint64(res.TaskID),
		Runtime:   r.opts.Handle.Name(),
		StartedAt: res.Started,
		Duration:  res.Duration,
		ExitCode:  res.ExitCode,
		Output:    res.Output,
	}

	e.st.mu.Lock()
	if err != nil {
		e.st.lastErr = err.Error()
	} else {
		e.st.lastErr = ""
	}
	e.st.mu.Unlock()

	if err != nil {
		e.st.failures.Add(1)
		ev.Error = err.Error()
		rec.Error = err.Error()
		fields := []logx.Field{
			logx.String("job", res.Job),
			logx.String("task", res.TaskID.String()),
			logx.Int("exit", res.ExitCode),
			logx.Int("attempts", res.Attempts),
			logx.Duration("took", res.Duration),
			logx.Err(err),
		}
		if r.log.Enabled(logx.LevelDebug) && res.Output != "" {
			fields = append(fields, logx.String("output", res.Output))
		}
		r.log.Warn("job failed", fields...)
		r.publish(eventbus.JobFailed, ev)
	} else {
		r.log.Info("job finished",
			logx.String("job", res.Job),
			logx.String("task", res.TaskID.String()),
			logx.Duration("took", res.Duration),
		)
		r.publish(eventbus.JobFinished, ev)
	}

	if r.opts.Store == nil {
		return
	}
	// Record even when the runner is stopping.
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if serr := r.opts.Store.AppendRun(sctx, rec); serr != nil {
		r.log.Warn("job run not persisted", logx.String("job", res.Job), logx.Err(serr))
	}
}

func (r *Runner) publish(typ string, ev JobEvent) {
	if r.opts.Bus == nil {
		return
	}
	r.opts.Bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: ev})
}

// Snapshot returns job statuses sorted by name.
func (r *Runner) Snapshot() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Status, 0, len(r.jobs))
	for name, e := range r.jobs {
		st := Status{
			Name:     name,
			Schedule: e.cfg.Schedule,
			Running:  e.st.running.Load(),
			Runs:     e.st.runs.Load(),
			Failures: e.st.failures.Load(),
			Skips:    e.st.skips.Load(),
		}
		e.st.mu.Lock()
		st.LastErr = e.st.lastErr
		e.st.mu.Unlock()
		if r.c != nil && e.id != 0 {
			st.Next = r.c.Entry(e.id).Next
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// cronLogger routes robfig/cron's own logging through logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Trace("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	fs := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fs = append(fs, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return fs
}
