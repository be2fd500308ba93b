package queue

import (
	"context"
	"errors"
	"sync"
)

// DefaultCapacity is applied when New is given a non-positive capacity.
const DefaultCapacity = 100

var (
	// ErrClosed is returned by Enqueue after Close, and by DequeueBatch once
	// the queue is closed and fully drained.
	ErrClosed = errors.New("queue closed")
	// ErrFull is returned by TryEnqueue when the queue is at capacity.
	ErrFull = errors.New("queue full")
)

// Queue is a bounded FIFO of pending records with blocking backpressure.
// Producers block in Enqueue while full; the consumer blocks in DequeueBatch
// while empty.
type Queue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	items    []*Record
	capacity int
	closed   bool
}

// New returns an open queue holding at most capacity records.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	q := &Queue{capacity: capacity, items: make([]*Record, 0, capacity)}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends rec at the tail, blocking while the queue is full. It
// returns ErrClosed if the queue is (or becomes) closed, and ctx.Err() if ctx
// ends while waiting; in both cases rec was not admitted.
func (q *Queue) Enqueue(ctx context.Context, rec *Record) error {
	stop := q.wakeOnDone(ctx)
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for !q.closed && len(q.items) >= q.capacity {
		if err := ctx.Err(); err != nil {
			return err
		}
		q.notFull.Wait()
	}
	if q.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		// pass on a wakeup this producer may have consumed
		q.notFull.Signal()
		return err
	}
	q.items = append(q.items, rec)
	q.notEmpty.Signal()
	return nil
}

// TryEnqueue appends rec without blocking, returning ErrFull at capacity.
func (q *Queue) TryEnqueue(rec *Record) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	if len(q.items) >= q.capacity {
		return ErrFull
	}
	q.items = append(q.items, rec)
	q.notEmpty.Signal()
	return nil
}

// DequeueBatch removes up to max records from the head, preserving order. It
// blocks while the queue is empty and open, and never returns an empty batch
// without an error. Records left in a closed queue are still handed out; once
// closed and empty it returns ErrClosed.
func (q *Queue) DequeueBatch(ctx context.Context, max int) ([]*Record, error) {
	if max <= 0 {
		max = 1
	}
	stop := q.wakeOnDone(ctx)
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		if q.closed {
			return nil, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		q.notEmpty.Wait()
	}
	n := min(max, len(q.items))
	batch := make([]*Record, n)
	copy(batch, q.items[:n])
	q.items = q.compact(n)
	for i := 0; i < n; i++ {
		q.notFull.Signal()
	}
	return batch, nil
}

// Drain removes and returns every queued record.
func (q *Queue) Drain() []*Record {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = make([]*Record, 0, q.capacity)
	q.notFull.Broadcast()
	return out
}

// Close marks the queue closed and wakes all waiters. It is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len is an advisory snapshot of the number of queued records.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Cap returns the configured capacity.
func (q *Queue) Cap() int { return q.capacity }

// compact drops the first n items, reusing the backing array so the slice
// does not creep forward indefinitely.
func (q *Queue) compact(n int) []*Record {
	rest := len(q.items) - n
	copy(q.items, q.items[n:])
	for i := rest; i < len(q.items); i++ {
		q.items[i] = nil
	}
	return q.items[:rest]
}

// wakeOnDone broadcasts both conditions when ctx ends so that a waiter can
// observe the cancellation. The returned func releases the watcher.
func (q *Queue) wakeOnDone(ctx context.Context) func() {
	if ctx.Done() == nil {
		return func() {}
	}
	stop := context.AfterFunc(ctx, func() {
		// Taking the lock orders this broadcast after any waiter's ctx check.
		q.mu.Lock()
		q.mu.Unlock() //nolint:staticcheck
		q.notEmpty.Broadcast()
		q.notFull.Broadcast()
	})
	return func() { stop() }
}
