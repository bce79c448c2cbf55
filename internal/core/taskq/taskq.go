// Package taskq runs deferred work items on a small pool of goroutines.
//
// A Task is enqueued at most once at a time: enqueueing a task that is
// already pending is coalesced into the pending run. A task never runs
// concurrently with itself; if it is enqueued while running it runs again
// after the current invocation returns.
package taskq

import (
	"sync"
)

// Task is a unit of deferred work bound to a function.
type Task struct {
	fn      func()
	pending bool
	running bool
	queued  bool
}

// NewTask returns a task that calls fn each time it runs.
func NewTask(fn func()) *Task {
	return &Task{fn: fn}
}

// Queue dispatches tasks to its workers in FIFO order.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []*Task
	workers int
	closed  bool
	wg      sync.WaitGroup
}

// New starts a queue with the given number of workers. A queue with zero
// workers never runs tasks on its own; callers drive it with RunPending.
func New(workers int) *Queue {
	if workers < 0 {
		workers = 0
	}
	q := &Queue{workers: workers}
	q.cond = sync.NewCond(&q.mu)
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

// Enqueue schedules t. It returns false when t was already pending or the
// queue is closed.
func (q *Queue) Enqueue(t *Task) bool {
	if t == nil {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || t.pending {
		return false
	}
	t.pending = true
	if !t.running {
		q.push(t)
	}
	return true
}

// Cancel drops a pending run of t and waits until any running invocation
// has returned. It must not be called from t itself.
func (q *Queue) Cancel(t *Task) {
	if t == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	t.pending = false
	if t.queued {
		q.remove(t)
	}
	for t.running {
		q.cond.Wait()
	}
}

// RunPending runs every queued task in the calling goroutine, including
// tasks enqueued by the tasks themselves, and returns the number of runs.
func (q *Queue) RunPending() int {
	runs := 0
	for {
		q.mu.Lock()
		t := q.next()
		q.mu.Unlock()
		if t == nil {
			return runs
		}
		q.run(t)
		runs++
	}
}

// Len returns the number of queued tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Workers returns the size of the worker pool.
func (q *Queue) Workers() int {
	return q.workers
}

// Close discards queued tasks and waits for the workers to exit. Tasks that
// are running finish first.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for _, t := range q.items {
		t.pending = false
		t.queued = false
	}
	q.items = nil
	q.cond.Broadcast()
	q.mu.Unlock()

	q.wg.Wait()
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			return
		}
		t := q.next()
		q.mu.Unlock()
		if t != nil {
			q.run(t)
		}
	}
}

// next pops the head task and marks it running. Callers hold q.mu.
func (q *Queue) next() *Task {
	if len(q.items) == 0 {
		return nil
	}
	t := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	t.queued = false
	t.pending = false
	t.running = true
	return t
}

func (q *Queue) run(t *Task) {
	t.fn()

	q.mu.Lock()
	t.running = false
	if t.pending && !q.closed {
		q.push(t)
	} else {
		t.pending = false
	}
	q.cond.Broadcast()
	q.mu.Unlock()
}

func (q *Queue) push(t *Task) {
	t.queued = true
	q.items = append(q.items, t)
	q.cond.Broadcast()
}

func (q *Queue) remove(t *Task) {
	for i, item := range q.items {
		if item == t {
			q.items = append(q.items[:i], q.items[i+1:]...)
			break
		}
	}
	t.queued = false
}
