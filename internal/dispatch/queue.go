// Package dispatch provides serial execution contexts. Work submitted to a
// Queue runs one task at a time, in submission order, on a goroutine owned
// by the queue.
package dispatch

import "sync"

// Queue is a serial FIFO executor.
type Queue struct {
	label string

	mu      sync.Mutex
	pending []func()
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

// NewQueue starts a queue with the given label.
func NewQueue(label string) *Queue {
	q := &Queue{
		label: label,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	go q.run()
	return q
}

// Label returns the name given at construction.
func (q *Queue) Label() string {
	return q.label
}

// Async schedules fn and returns immediately. It reports false if the
// queue is closed and fn was not scheduled.
func (q *Queue) Async(fn func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.pending = append(q.pending, fn)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Sync schedules fn and waits for it to finish. It must not be called
// from a task running on the same queue.
func (q *Queue) Sync(fn func()) bool {
	finished := make(chan struct{})
	if !q.Async(func() {
		defer close(finished)
		fn()
	}) {
		return false
	}
	<-finished
	return true
}

// Close stops accepting work, runs what is already scheduled and waits for
// the queue goroutine to exit. Safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	<-q.done
}

func (q *Queue) run() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			if q.closed {
				q.mu.Unlock()
				close(q.done)
				return
			}
			q.mu.Unlock()
			<-q.wake
			continue
		}
		fn := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()

		fn()
	}
}
