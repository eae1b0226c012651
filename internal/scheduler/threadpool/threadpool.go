// Package threadpool is a multi-worker scheduler. Workers share one injection
// queue and run under a supervisor that restarts any worker which exits
// unexpectedly.
package threadpool

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"golang.org/x/time/rate"

	rtsup "taskrt/internal/runtime/supervisor"
	"taskrt/internal/scheduler"
	"taskrt/internal/task"
	logx "taskrt/pkg/logx"
)

// Config controls the pool.
type Config struct {
	// Workers defaults to GOMAXPROCS.
	Workers int

	// QueueWarn logs a throttled warning whenever the backlog exceeds it.
	// 0 disables the warning.
	QueueWarn int
}

type Scheduler struct {
	cfg  Config
	exec *scheduler.Executor
	q    *scheduler.RunQueue

	warn *rate.Limiter

	mu      sync.Mutex
	sup     *rtsup.Supervisor
	started bool
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Workers    int             `json:"workers"`
	QueueLen   int             `json:"queue_len"`
	Tasks      scheduler.Stats `json:"tasks"`
	Supervisor rtsup.Snapshot  `json:"supervisor"`
}

func New(cfg Config, opts scheduler.Options) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.QueueWarn < 0 {
		cfg.QueueWarn = 0
	}
	return &Scheduler{
		cfg:  cfg,
		exec: scheduler.NewExecutor(scheduler.KindThreadPool, opts),
		q:    scheduler.NewRunQueue(),
		// At most one backlog warning every 5s.
		warn: rate.NewLimiter(rate.Every(5*time.Second), 1),
	}
}

func (s *Scheduler) Workers() int { return s.cfg.Workers }

// Spawner returns the cheap, copyable submission side of s.
func (s *Scheduler) Spawner() *Spawner { return &Spawner{s: s} }

// Start launches the workers. Start is idempotent.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	log := s.exec.Log().With(logx.String("comp", "threadpool"))
	s.sup = rtsup.New(ctx, rtsup.WithLogger(log))
	sup := s.sup
	s.mu.Unlock()

	for i := 0; i < s.cfg.Workers; i++ {
		idx := i
		sup.GoRestart(fmt.Sprintf("worker.%d", idx), func(c context.Context) error {
			s.exec.Drive(c, func(c context.Context) { s.worker(c, idx) })
			return nil
		})
	}
	log.Info("thread pool started", logx.Int("workers", s.cfg.Workers))
}

// worker returns once the queue is closed and drained. A panic escaping the
// loop is recovered by the supervisor, which restarts the worker.
func (s *Scheduler) worker(ctx context.Context, idx int) {
	for {
		h, ok := s.q.Pop()
		if !ok {
			return
		}
		if ctx.Err() != nil {
			s.exec.Reject(h, task.ErrShutdown)
			continue
		}
		s.exec.Run(ctx, h, idx)
	}
}

func (s *Scheduler) spawn(h *task.Header) task.Handle {
	if !s.q.Push(h) {
		return s.exec.Reject(h, task.ErrShutdown)
	}
	if s.cfg.QueueWarn > 0 {
		if n := s.q.Len(); n > s.cfg.QueueWarn && s.warn.Allow() {
			s.exec.Log().Warn("thread pool backlog high", logx.Int("queue_len", n), logx.Int("queue_warn", s.cfg.QueueWarn), logx.Int("workers", s.cfg.Workers))
		}
	}
	return s.exec.Accept(h)
}

// Shutdown stops accepting tasks and waits for workers to drain the queue.
// If ctx ends first, running tasks are canceled, the backlog completes with
// task.ErrShutdown, and ctx.Err() is returned.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()

	s.q.Close()
	if sup == nil {
		for _, h := range s.q.Drain() {
			s.exec.Reject(h, task.ErrShutdown)
		}
		return nil
	}

	// Workers return on their own once the queue is drained.
	if err := sup.Wait(ctx); err != nil && ctx.Err() != nil {
		sup.Cancel()
		for _, h := range s.q.Drain() {
			s.exec.Reject(h, task.ErrShutdown)
		}
		s.exec.Log().Warn("thread pool shutdown timed out", logx.Err(ctx.Err()))
		return ctx.Err()
	}
	sup.Cancel()
	s.exec.Log().Info("thread pool stopped")
	return nil
}

func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()
	return Snapshot{
		Workers:    s.cfg.Workers,
		QueueLen:   s.q.Len(),
		Tasks:      s.exec.Stats(),
		Supervisor: sup.Snapshot(),
	}
}

// Spawner submits tasks to a thread-pool Scheduler.
type Spawner struct{ s *Scheduler }

// Spawn queues h and returns immediately; it never runs h itself.
func (sp *Spawner) Spawn(h *task.Header) task.Handle { return sp.s.spawn(h) }
