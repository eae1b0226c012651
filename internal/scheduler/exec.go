package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"taskrt/internal/eventbus"
	"taskrt/internal/task"
	logx "taskrt/pkg/logx"
)

// TaskEvent is the payload of task.* events.
type TaskEvent struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Scheduler  Kind          `json:"scheduler"`
	Worker     int           `json:"worker"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

// Counters are lock-free task counters shared by a scheduler's drivers.
type Counters struct {
	spawned   atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	panicked  atomic.Uint64
	rejected  atomic.Uint64
	inFlight  atomic.Int64
}

// Stats is a point-in-time copy of Counters.
type Stats struct {
	Spawned   uint64 `json:"spawned"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	Panicked  uint64 `json:"panicked"`
	Rejected  uint64 `json:"rejected"`
	InFlight  int64  `json:"in_flight"`
}

func (c *Counters) Stats() Stats {
	return Stats{
		Spawned:   c.spawned.Load(),
		Completed: c.completed.Load(),
		Failed:    c.failed.Load(),
		Panicked:  c.panicked.Load(),
		Rejected:  c.rejected.Load(),
		InFlight:  c.inFlight.Load(),
	}
}

// Executor runs headers on behalf of one scheduler.
type Executor struct {
	kind     Kind
	opts     Options
	counters Counters
}

func NewExecutor(kind Kind, opts Options) *Executor {
	opts = opts.withDefaults()
	return &Executor{kind: kind, opts: opts}
}

func (e *Executor) Kind() Kind       { return e.kind }
func (e *Executor) Log() logx.Logger { return e.opts.Log }
func (e *Executor) Stats() Stats     { return e.counters.Stats() }

// Drive runs a driver loop inside the runtime's context scope.
func (e *Executor) Drive(ctx context.Context, loop func(ctx context.Context)) {
	e.opts.Enter(ctx, loop)
}

// Accept wraps a header that made it into the queue.
func (e *Executor) Accept(h *task.Header) task.Handle {
	e.counters.spawned.Add(1)
	e.publish(eventbus.TaskSpawned, TaskEvent{ID: h.ID().String(), Name: h.Name(), Scheduler: e.kind})
	return task.HandleOf(h)
}

// Reject completes a header the scheduler will never run.
func (e *Executor) Reject(h *task.Header, err error) task.Handle {
	e.counters.rejected.Add(1)
	h.Complete(err)
	e.publish(eventbus.TaskRejected, TaskEvent{ID: h.ID().String(), Name: h.Name(), Scheduler: e.kind, Error: err.Error()})
	e.opts.Log.Debug("task rejected", logx.String("task", h.Name()), logx.String("id", h.ID().String()), logx.Err(err))
	return task.HandleOf(h)
}

// Run executes h on the calling driver goroutine.
func (e *Executor) Run(ctx context.Context, h *task.Header, worker int) {
	start := time.Now()
	queueDelay := start.Sub(h.CreatedAt())
	if queueDelay < 0 {
		queueDelay = 0
	}
	ev := TaskEvent{ID: h.ID().String(), Name: h.Name(), Scheduler: e.kind, Worker: worker, QueueDelay: queueDelay}

	ctx, span := e.opts.Tracer.Start(ctx, "taskrt.task.execute",
		trace.WithAttributes(
			attribute.String("taskrt.task.id", ev.ID),
			attribute.String("taskrt.task.name", ev.Name),
			attribute.String("taskrt.scheduler", string(e.kind)),
			attribute.Int("taskrt.worker", worker),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	e.publish(eventbus.TaskStarted, ev)
	e.counters.inFlight.Add(1)
	err := h.Run(ctx)
	e.counters.inFlight.Add(-1)
	ev.Duration = time.Since(start)

	switch {
	case err == nil:
		e.counters.completed.Add(1)
		span.SetStatus(codes.Ok, "")
		e.publish(eventbus.TaskFinished, ev)
		e.opts.Log.Trace("task completed", logx.String("task", ev.Name), logx.Duration("queue_delay", queueDelay), logx.Duration("dur", ev.Duration))
	case task.IsPanic(err):
		e.counters.panicked.Add(1)
		ev.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, ev.Error)
		e.publish(eventbus.TaskPanicked, ev)
		var pe *task.PanicError
		errors.As(err, &pe)
		e.opts.Log.Error("task panicked", logx.String("task", ev.Name), logx.String("id", ev.ID), logx.Any("panic", pe.Value), logx.Stack(pe.Stack))
	default:
		e.counters.failed.Add(1)
		ev.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, ev.Error)
		e.publish(eventbus.TaskFailed, ev)
		e.opts.Log.Debug("task failed", logx.String("task", ev.Name), logx.Err(err), logx.Duration("dur", ev.Duration))
	}
}

func (e *Executor) publish(typ string, ev TaskEvent) {
	if e.opts.Bus == nil {
		return
	}
	e.opts.Bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: ev})
}
