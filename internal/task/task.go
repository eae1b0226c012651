// Package task defines the unit of work handed to schedulers.
//
// A Func[T] is erased into a *Header by New. Schedulers only see headers;
// callers keep the typed JoinHandle returned by Join.
package task

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// Func is the body of a task.
type Func[T any] func(ctx context.Context) (T, error)

// ID identifies a task within the process.
type ID uint64

func (id ID) String() string { return fmt.Sprintf("task-%d", uint64(id)) }

var idSeq atomic.Uint64

// State is the lifecycle position of a task.
type State int32

const (
	StatePending State = iota
	StateRunning
	StateDone
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Header is the type-erased part of a task that schedulers run.
type Header struct {
	id        ID
	name      string
	createdAt time.Time
	run       func(ctx context.Context) error

	mu      sync.Mutex
	state   State
	aborted bool
	cancel  context.CancelFunc
	err     error
	done    chan struct{}
}

// New erases fn into a header plus the slot its output lands in.
func New[T any](name string, fn Func[T]) (*Header, *Output[T]) {
	out := &Output[T]{}
	h := &Header{
		id:        ID(idSeq.Add(1)),
		name:      name,
		createdAt: time.Now(),
		done:      make(chan struct{}),
	}
	h.run = func(ctx context.Context) error {
		v, err := fn(ctx)
		out.v = v
		return err
	}
	return h, out
}

func (h *Header) ID() ID               { return h.id }
func (h *Header) Name() string         { return h.name }
func (h *Header) CreatedAt() time.Time { return h.createdAt }

func (h *Header) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Run executes the task body once on the calling goroutine.
//
// A panic in the body is captured as *PanicError. A header that was aborted
// before it started completes with ErrAborted without running. Calling Run
// on a header that already started is a no-op.
func (h *Header) Run(ctx context.Context) error {
	h.mu.Lock()
	if h.state != StatePending {
		h.mu.Unlock()
		return nil
	}
	if h.aborted {
		h.mu.Unlock()
		h.Complete(ErrAborted)
		return ErrAborted
	}
	ctx, cancel := context.WithCancel(ctx)
	h.state = StateRunning
	h.cancel = cancel
	h.mu.Unlock()
	defer cancel()

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = &PanicError{Value: r, Stack: string(debug.Stack())}
			}
		}()
		err = h.run(ctx)
	}()
	h.Complete(err)
	return err
}

// Complete finishes the task with err without running it. Schedulers use it
// to reject work after shutdown. Only the first completion counts.
func (h *Header) Complete(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateDone {
		return
	}
	h.state = StateDone
	h.err = err
	h.cancel = nil
	close(h.done)
}

// Abort cancels a running task or prevents a pending one from starting.
func (h *Header) Abort() {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch h.state {
	case StatePending:
		h.aborted = true
	case StateRunning:
		if h.cancel != nil {
			h.cancel()
		}
	}
}

// Done is closed once the task completed.
func (h *Header) Done() <-chan struct{} { return h.done }

// Err returns the completion error; valid after Done is closed.
func (h *Header) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Output receives the value produced by a task.
type Output[T any] struct{ v T }

// Handle is the untyped join handle a scheduler returns from Spawn.
type Handle struct{ h *Header }

// HandleOf wraps a header that was accepted by a scheduler.
func HandleOf(h *Header) Handle { return Handle{h: h} }

func (j Handle) Header() *Header       { return j.h }
func (j Handle) ID() ID                { return j.h.id }
func (j Handle) Done() <-chan struct{} { return j.h.done }
func (j Handle) Abort()                { j.h.Abort() }
func (j Handle) IsFinished() bool      { return j.h.State() == StateDone }

// Wait blocks until the task completes or ctx ends.
func (j Handle) Wait(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-j.h.done:
		return j.h.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// JoinHandle retrieves the output of a spawned task.
type JoinHandle[T any] struct {
	Handle
	out *Output[T]
}

// Join pairs an untyped handle with the output slot created by New.
func Join[T any](h Handle, out *Output[T]) JoinHandle[T] {
	return JoinHandle[T]{Handle: h, out: out}
}

// Await blocks until the task completes and returns its output.
// If ctx ends first, Await returns ctx.Err() and the task keeps running.
func (j JoinHandle[T]) Await(ctx context.Context) (T, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-j.h.done:
		return j.out.v, j.h.Err()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
