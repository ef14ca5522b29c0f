// Package queue provides the bounded hand-off channel between request
// handlers and the batch persister.
package queue

import (
	"context"
	"sync"

	"github.com/logtide/logtide/internal/errors"
	"github.com/logtide/logtide/internal/event"
)

// State describes the queue lifecycle. The only transition path is
// Running -> Draining (Close called) -> Stopped (closed and empty).
type State int

const (
	StateRunning State = iota
	StateDraining
	StateStopped
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// ErrClosed is returned by Enqueue once the queue has been closed for
// good. Callers must treat it as fatal for the request in flight.
var ErrClosed = errors.NewQueueError(errors.CodeQueueClosed, "ingestion queue is closed")

// Queue is a bounded FIFO of whole event batches. Producers block on
// backpressure rather than dropping work; the single consumer drains
// via Batches. A batch is either fully enqueued or not at all: there is
// no partial hand-off under caller cancellation.
type Queue struct {
	ch   chan *event.Batch
	done chan struct{}

	mu        sync.Mutex
	closed    bool
	producers sync.WaitGroup
}

// New creates a queue buffering up to capacity batches.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		ch:   make(chan *event.Batch, capacity),
		done: make(chan struct{}),
	}
}

// Enqueue hands a batch to the consumer, blocking while the queue is
// full. It fails with the caller's context error on cancellation and
// with ErrClosed once the consuming side has terminally shut down; in
// both cases nothing has been enqueued.
func (q *Queue) Enqueue(ctx context.Context, b *event.Batch) error {
	if b.Len() == 0 {
		return errors.NewValidationError(errors.CodeEmptyBatch, "batch must contain at least one event")
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.producers.Add(1)
	q.mu.Unlock()
	defer q.producers.Done()

	select {
	case q.ch <- b:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return errors.Wrap(errors.ErrCategoryQueue, errors.CodeEnqueueAborted,
			"enqueue abandoned by caller", ctx.Err())
	}
}

// Batches returns the consumer side. The channel delivers batches in
// the order enqueues completed and is closed after Close once every
// buffered batch has a chance to be received, so a plain range loop
// terminates cleanly on shutdown.
func (q *Queue) Batches() <-chan *event.Batch {
	return q.ch
}

// Close stops admission and lets the consumer drain. It waits for
// in-flight Enqueue calls to resolve before closing the delivery
// channel. Safe to call once; the queue cannot be reopened.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.done)
	q.mu.Unlock()

	q.producers.Wait()
	close(q.ch)
}

// Len returns the number of buffered batches.
func (q *Queue) Len() int {
	return len(q.ch)
}

// State reports the current lifecycle state.
func (q *Queue) State() State {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()

	if !closed {
		return StateRunning
	}
	if len(q.ch) > 0 {
		return StateDraining
	}
	return StateStopped
}
