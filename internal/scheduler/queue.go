package scheduler

import (
	"sync"

	"taskrt/internal/task"
)

// RunQueue is an unbounded FIFO of task headers.
//
// Push never blocks. Pop blocks until a header is available or the queue is
// closed and drained.
type RunQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []*task.Header
	head   int
	closed bool
}

func NewRunQueue() *RunQueue {
	q := &RunQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends h. It reports false if the queue is closed.
func (q *RunQueue) Push(h *task.Header) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, h)
	q.mu.Unlock()
	q.cond.Signal()
	return true
}

// Pop removes the oldest header. ok is false once the queue is closed and empty.
func (q *RunQueue) Pop() (h *task.Header, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.head == len(q.items) && !q.closed {
		q.cond.Wait()
	}
	if q.head == len(q.items) {
		return nil, false
	}
	h = q.items[q.head]
	q.items[q.head] = nil
	q.head++
	// Reclaim the consumed prefix once it dominates the slice.
	if q.head > 64 && q.head*2 >= len(q.items) {
		n := copy(q.items, q.items[q.head:])
		q.items = q.items[:n]
		q.head = 0
	}
	return h, true
}

// Len is the number of queued headers.
func (q *RunQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// Close rejects further pushes and wakes every blocked Pop. Queued headers
// remain poppable.
func (q *RunQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Drain removes and returns every queued header.
func (q *RunQueue) Drain() []*task.Header {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := append([]*task.Header(nil), q.items[q.head:]...)
	q.items = nil
	q.head = 0
	return out
}
