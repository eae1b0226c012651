// Package rt assembles a runtime: a handle, one scheduler picked at
// construction, and the spawner facade bound to it.
//
// Code running under a runtime finds it through its context:
//
//	r, _ := rt.New(rt.Config{Flavor: rt.FlavorThreadPool}, log, bus)
//	_ = r.Enter(ctx, func(ctx context.Context) error {
//		j := rt.Spawn(ctx, "fetch", fetch)
//		_, err := j.Await(ctx)
//		return err
//	})
package rt

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"taskrt/internal/eventbus"
	"taskrt/internal/rt/rtctx"
	"taskrt/internal/rt/spawner"
	"taskrt/internal/scheduler"
	"taskrt/internal/task"
	logx "taskrt/pkg/logx"
)

// Flavor selects the scheduler behind a runtime.
type Flavor string

const (
	FlavorShell      Flavor = "shell"
	FlavorBasic      Flavor = "basic"
	FlavorThreadPool Flavor = "threadpool"
)

// ParseFlavor accepts the config spellings of a flavor.
func ParseFlavor(s string) (Flavor, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "threadpool", "thread_pool", "multi_thread":
		return FlavorThreadPool, nil
	case "basic", "current_thread":
		return FlavorBasic, nil
	case "shell", "none":
		return FlavorShell, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFlavor, s)
	}
}

func (f Flavor) kind() spawner.Kind {
	switch f {
	case FlavorBasic:
		return spawner.KindBasic
	case FlavorThreadPool:
		return spawner.KindThreadPool
	default:
		return spawner.KindShell
	}
}

// Built reports whether this build can construct a runtime of flavor f.
func (f Flavor) Built() bool { return spawner.Built(f.kind()) }

// Config controls runtime construction.
type Config struct {
	Name   string
	Flavor Flavor

	// Workers and QueueWarn apply to the thread-pool flavor.
	Workers   int
	QueueWarn int

	// ShutdownTimeout bounds Shutdown when the caller's context has no
	// deadline. 0 means wait for the queue to drain.
	ShutdownTimeout time.Duration
}

// Option customizes New.
type Option func(*scheduler.Options)

// WithSchedulerOptions overrides collaborator wiring (tests inject tracers here).
func WithSchedulerOptions(fn func(*scheduler.Options)) Option { return Option(fn) }

// Runtime owns a scheduler and the handle code uses to reach it.
type Runtime struct {
	cfg    Config
	log    logx.Logger
	handle Handle
	sched  sched

	mu     sync.Mutex
	closed bool
}

// sched is the lifecycle side of a scheduler. Spawning never goes through it.
type sched interface {
	Start(ctx context.Context)
	Shutdown(ctx context.Context) error
	// snapshot returns the scheduler's own view plus the counters every
	// scheduler shares.
	snapshot() (detail any, tasks scheduler.Stats, queueLen int)
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	ID     uint64 `json:"id"`
	Name   string `json:"name"`
	Flavor Flavor `json:"flavor"`
	Closed bool   `json:"closed"`

	Tasks     scheduler.Stats `json:"tasks"`
	QueueLen  int             `json:"queue_len"`
	Scheduler any             `json:"scheduler,omitempty"`
}

func (r *Runtime) Snapshot() Snapshot {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	snap := Snapshot{ID: r.handle.ID(), Name: r.cfg.Name, Flavor: r.cfg.Flavor, Closed: closed}
	if r.sched != nil {
		snap.Scheduler, snap.Tasks, snap.QueueLen = r.sched.snapshot()
	}
	return snap
}

// New builds and starts a runtime. The spawner variant is chosen here, once.
func New(cfg Config, log logx.Logger, bus eventbus.Bus, opts ...Option) (*Runtime, error) {
	if cfg.Flavor == "" {
		cfg.Flavor = FlavorThreadPool
	}
	if strings.TrimSpace(cfg.Name) == "" {
		cfg.Name = "main"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if !cfg.Flavor.Built() {
		return nil, fmt.Errorf("%w: %s (available: %v)", ErrFlavorNotBuilt, cfg.Flavor, spawner.Available())
	}

	in := &shared{id: runtimeSeq.Add(1), name: cfg.Name, flavor: cfg.Flavor}
	r := &Runtime{
		cfg:    cfg,
		log:    log.With(logx.String("runtime", cfg.Name)),
		handle: Handle{in: in},
	}

	so := scheduler.Options{
		Log:   r.log,
		Bus:   bus,
		Enter: r.drive,
	}
	for _, o := range opts {
		if o != nil {
			o(&so)
		}
	}

	sp, sc, err := buildScheduler(cfg, so)
	if err != nil {
		return nil, err
	}
	in.spawner = sp
	r.sched = sc
	if sc != nil {
		sc.Start(context.Background())
	}
	r.log.Info("runtime started", logx.String("flavor", string(cfg.Flavor)), logx.Uint64("id", in.id))
	return r, nil
}

// driverKey marks contexts that run on a scheduler driver goroutine.
type driverKey struct{}

type driverMark struct {
	in  *shared
	reg *rtctx.Register[Handle]
}

// drive runs a scheduler driver loop with this runtime current on the
// driver goroutine's own register.
func (r *Runtime) drive(ctx context.Context, loop func(ctx context.Context)) {
	reg := &rtctx.Register[Handle]{}
	ctx = rtctx.Bind(ctx, reg)
	ctx = context.WithValue(ctx, driverKey{}, driverMark{in: r.handle.in, reg: reg})
	_ = reg.Do(r.handle, func() error {
		loop(ctx)
		return nil
	})
}

// onDriver reports whether ctx belongs to code running on one of r's driver
// goroutines. A context forked onto another goroutine carries a different
// register and does not count.
func (r *Runtime) onDriver(ctx context.Context) bool {
	m, ok := ctx.Value(driverKey{}).(driverMark)
	return ok && m.in == r.handle.in && rtctx.RegisterFrom[Handle](ctx) == m.reg
}

func (r *Runtime) Handle() Handle { return r.handle }
func (r *Runtime) Flavor() Flavor { return r.cfg.Flavor }

// Enter makes r the current runtime for body. When ctx carries no register
// one is bound for the call. The previous runtime, if any, is current again
// once Enter returns or body panics.
func (r *Runtime) Enter(ctx context.Context, body func(ctx context.Context) error) error {
	_, err := rtctx.EnterContext(ctx, r.handle, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, body(ctx)
	})
	return err
}

// Current returns the runtime handle current for ctx.
func Current(ctx context.Context) (Handle, bool) {
	return rtctx.Current[Handle](ctx)
}

// Spawn runs fn on the runtime current for ctx and returns immediately.
// It panics with ErrNoRuntime when ctx has no current runtime, and with
// spawner.ErrSpawnNotEnabled when the runtime is a shell.
func Spawn[T any](ctx context.Context, name string, fn task.Func[T]) task.JoinHandle[T] {
	h, ok := Current(ctx)
	if !ok {
		panic(ErrNoRuntime)
	}
	return SpawnOn(h, name, fn)
}

// SpawnOn runs fn on the runtime behind h.
func SpawnOn[T any](h Handle, name string, fn task.Func[T]) task.JoinHandle[T] {
	hdr, out := task.New(name, fn)
	return task.Join(h.Spawner().Spawn(hdr), out)
}

// BlockOn enters r and runs fn to completion, blocking the caller.
//
// On a shell runtime fn runs inline on the calling goroutine. Otherwise fn is
// spawned onto r and awaited. ctx cancellation aborts fn.
func BlockOn[T any](ctx context.Context, r *Runtime, name string, fn task.Func[T]) (T, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if r.cfg.Flavor == FlavorBasic && r.onDriver(ctx) {
		panic(ErrNestedBlockOn)
	}
	var out T
	err := r.Enter(ctx, func(ctx context.Context) error {
		if r.cfg.Flavor == FlavorShell {
			v, err := fn(ctx)
			out = v
			return err
		}
		j := SpawnOn(r.handle, name, fn)
		v, err := j.Await(ctx)
		if err != nil && ctx.Err() != nil {
			j.Abort()
		}
		out = v
		return err
	})
	return out, err
}

// Shutdown stops the scheduler, letting queued tasks finish. It is safe to
// call more than once; later calls return ErrClosed.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	r.closed = true
	r.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); !ok && r.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.ShutdownTimeout)
		defer cancel()
	}

	var err error
	if r.sched != nil {
		err = r.sched.Shutdown(ctx)
	}
	if err != nil {
		r.log.Warn("runtime shutdown incomplete", logx.Err(err))
		return err
	}
	r.log.Info("runtime stopped")
	return nil
}
