// Package workqueue implements the Work Queue: a fixed pool of worker
// goroutines that run owned closures off the main thread, with typed
// success/failure continuations that must run back on the main
// goroutine. Grounded on the worker-goroutine/stop-channel/WaitGroup
// shape of other_examples/65ffbf5e_maumercado-task-queue-go__internal-worker-pool.go.go,
// adapted from "pull tasks from a Redis queue" to "accept submitted
// closures over an in-process channel."
package workqueue

import (
	"sync"

	"github.com/kestrel-run/kestrel/internal/errs"
)

var ErrClosed = errs.ErrPoolClosed

// Task is an owned closure that performs work off the main goroutine and
// returns a result or an error. It must not touch script-engine state.
type Task func() (out any, err error)

// Completion is a task's result paired with its continuations, queued in
// strict per-worker execution order on the done-queue.
type Completion struct {
	out       any
	err       error
	onSuccess func(out any)
	onFailure func(err error)
}

// job bundles a submitted task with its continuations.
type job struct {
	task      Task
	onSuccess func(out any)
	onFailure func(err error)
}

// Queue is the Work Queue: N worker goroutines draining a shared job
// channel, pushing completions onto a single mutex-protected done-queue.
// notify is called (non-blocking, best-effort) after every completion is
// enqueued so the caller can wake its reactor/main-thread select loop —
// a dummy async event signaling the main reactor.
type Queue struct {
	jobs   chan job
	notify func()

	mu   sync.Mutex
	done []Completion

	wg      sync.WaitGroup
	closed  bool
	closeMu sync.Mutex
}

// New starts size worker goroutines. notify may be nil.
func New(size int, notify func()) *Queue {
	if size < 1 {
		size = 1
	}
	if notify == nil {
		notify = func() {}
	}
	q := &Queue{
		jobs:   make(chan job, size*4),
		notify: notify,
	}
	for i := 0; i < size; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for j := range q.jobs {
		out, err := j.task()
		q.mu.Lock()
		q.done = append(q.done, Completion{out: out, err: err, onSuccess: j.onSuccess, onFailure: j.onFailure})
		q.mu.Unlock()
		q.notify()
	}
}

// Submit enqueues a task. onSuccess/onFailure run later, on the main
// goroutine, via ProcessDone — never inline, never on the worker.
func (q *Queue) Submit(task Task, onSuccess func(out any), onFailure func(err error)) error {
	q.closeMu.Lock()
	closed := q.closed
	q.closeMu.Unlock()
	if closed {
		return ErrClosed
	}
	if onSuccess == nil {
		onSuccess = func(any) {}
	}
	if onFailure == nil {
		onFailure = func(error) {}
	}
	q.jobs <- job{task: task, onSuccess: onSuccess, onFailure: onFailure}
	return nil
}

// ProcessDone runs every currently-queued completion's continuation, in
// strict FIFO dequeue order, on the calling goroutine (the main thread).
// Returns the number processed.
func (q *Queue) ProcessDone() int {
	q.mu.Lock()
	batch := q.done
	q.done = nil
	q.mu.Unlock()

	for _, c := range batch {
		if c.err != nil {
			c.onFailure(c.err)
		} else {
			c.onSuccess(c.out)
		}
	}
	return len(batch)
}

// HasPending reports whether any completions are waiting to be processed.
func (q *Queue) HasPending() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.done) > 0
}

// Close stops accepting new work, lets in-flight tasks finish, then
// joins all workers. Pending (not-yet-started) continuations are simply
// never reached: shutdown cancels them only by virtue of the runtime
// being torn down, with no separate cancellation bookkeeping.
func (q *Queue) Close() {
	q.closeMu.Lock()
	if q.closed {
		q.closeMu.Unlock()
		return
	}
	q.closed = true
	q.closeMu.Unlock()

	close(q.jobs)
	q.wg.Wait()
}
