// Package dispatch runs submitted work one item at a time in arrival order.
package dispatch

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrClosed is returned when submitting to a closed queue.
var ErrClosed = errors.New("queue is closed")

// Queue is an unbounded FIFO of tasks executed by a single goroutine.
type Queue struct {
	mu     sync.Mutex
	tasks  []func()
	notify chan struct{}
	closed bool
	done   chan struct{}
	logger *zap.Logger
}

// NewQueue creates an empty queue. Call Run to start executing tasks.
func NewQueue(logger *zap.Logger) *Queue {
	return &Queue{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logger.Named("dispatch"),
	}
}

// Submit appends a task. It never blocks and never drops a task
// unless the queue has been closed.
func (q *Queue) Submit(task func()) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}

	q.tasks = append(q.tasks, task)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}

	return nil
}

// Len returns the number of queued tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.tasks)
}

// Run executes tasks until ctx is done or the queue is closed and drained.
func (q *Queue) Run(ctx context.Context) {
	defer close(q.done)

	for {
		for _, task := range q.take() {
			q.execute(task)
		}

		q.mu.Lock()
		finished := q.closed && len(q.tasks) == 0
		q.mu.Unlock()

		if finished {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-q.notify:
		}
	}
}

// Close stops accepting tasks and waits for Run to finish the remaining ones.
// Run must have been started.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}

	<-q.done
}

// take removes and returns all queued tasks.
func (q *Queue) take() []func() {
	q.mu.Lock()
	defer q.mu.Unlock()

	tasks := q.tasks
	q.tasks = nil

	return tasks
}

// execute runs one task, keeping the worker alive if it panics.
func (q *Queue) execute(task func()) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("Task panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	task()
}
