// Package basic is a single-goroutine scheduler: one driver runs spawned
// tasks one at a time, in spawn order.
package basic

import (
	"context"
	"sync"

	"taskrt/internal/scheduler"
	"taskrt/internal/task"
	logx "taskrt/pkg/logx"
)

type Scheduler struct {
	exec *scheduler.Executor
	q    *scheduler.RunQueue

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Running  bool            `json:"running"`
	QueueLen int             `json:"queue_len"`
	Tasks    scheduler.Stats `json:"tasks"`
}

func New(opts scheduler.Options) *Scheduler {
	return &Scheduler{
		exec: scheduler.NewExecutor(scheduler.KindBasic, opts),
		q:    scheduler.NewRunQueue(),
		done: make(chan struct{}),
	}
}

// Spawner returns the cheap, copyable submission side of s.
func (s *Scheduler) Spawner() *Spawner { return &Spawner{s: s} }

// Start launches the driver goroutine. Start is idempotent.
func (s *Scheduler) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		s.exec.Drive(ctx, s.drive)
	}()
	s.exec.Log().Debug("basic scheduler started")
}

func (s *Scheduler) drive(ctx context.Context) {
	for {
		h, ok := s.q.Pop()
		if !ok {
			return
		}
		if ctx.Err() != nil {
			s.exec.Reject(h, task.ErrShutdown)
			continue
		}
		s.exec.Run(ctx, h, 0)
	}
}

func (s *Scheduler) spawn(h *task.Header) task.Handle {
	if !s.q.Push(h) {
		return s.exec.Reject(h, task.ErrShutdown)
	}
	return s.exec.Accept(h)
}

// Shutdown stops accepting tasks and waits for queued ones to finish.
// If ctx ends first, the running task's context is canceled, the rest of
// the queue completes with task.ErrShutdown, and ctx.Err() is returned.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.q.Close()

	s.mu.Lock()
	started := s.started
	cancel := s.cancel
	s.mu.Unlock()

	if !started {
		s.rejectQueued()
		return nil
	}

	select {
	case <-s.done:
		cancel()
		return nil
	case <-ctx.Done():
		cancel()
		s.rejectQueued()
		s.exec.Log().Warn("basic scheduler shutdown timed out", logx.Err(ctx.Err()))
		return ctx.Err()
	}
}

func (s *Scheduler) rejectQueued() {
	for _, h := range s.q.Drain() {
		s.exec.Reject(h, task.ErrShutdown)
	}
}

func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	running := started
	select {
	case <-s.done:
		running = false
	default:
	}
	return Snapshot{Running: running, QueueLen: s.q.Len(), Tasks: s.exec.Stats()}
}

// Spawner submits tasks to a basic Scheduler.
type Spawner struct{ s *Scheduler }

// Spawn queues h and returns immediately; it never runs h itself.
func (sp *Spawner) Spawn(h *task.Header) task.Handle { return sp.s.spawn(h) }
