package queue

import "sync"

// Queue is an unbounded FIFO drained by a single goroutine.
// Items are handed to the handler one at a time, in push order, and each
// handler call runs to completion before the next one starts.
type Queue[T any] struct {
	handler   func(T)
	onHandled func() //called after each handled item

	mu       sync.Mutex
	items    []T
	closed   bool //no more pushes, nothing more delivered
	draining bool //no more pushes, queued items still delivered
	wake     chan struct{}
	done     chan struct{}
}

func New[T any](handler func(T)) *Queue[T] {
	return NewWithHook(handler, nil)
}

// NewWithHook is New with a callback fired after every handled item,
// used by owners that need to know when delivery caught up.
func NewWithHook[T any](handler func(T), onHandled func()) *Queue[T] {
	q := &Queue[T]{
		handler:   handler,
		onHandled: onHandled,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	go q.run()
	return q
}

// Push enqueues an item. It never blocks and reports false once the queue is closed.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	if q.closed || q.draining {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, item)
	select {
	case q.wake <- struct{}{}:
	default:
	}
	q.mu.Unlock()
	return true
}

// Close stops delivery and returns how many queued items were dropped.
// It does not wait for an in-flight handler; use Done for that.
func (q *Queue[T]) Close() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return 0
	}
	if !q.draining {
		close(q.wake)
	}
	q.closed = true
	dropped := len(q.items)
	q.items = nil
	return dropped
}

// Stop rejects further pushes but keeps delivering what is already queued,
// then lets the drain goroutine exit.
func (q *Queue[T]) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || q.draining {
		return
	}
	q.draining = true
	close(q.wake)
}

// Done is closed once the drain goroutine exits.
func (q *Queue[T]) Done() <-chan struct{} {
	return q.done
}

// Len reports how many items wait for delivery.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue[T]) run() {
	defer close(q.done)

	for range q.wake {
		for {
			q.mu.Lock()
			if q.closed || len(q.items) == 0 {
				q.mu.Unlock()
				break
			}
			item := q.items[0]
			var zero T
			q.items[0] = zero
			q.items = q.items[1:]
			q.mu.Unlock()

			q.handler(item)
			if q.onHandled != nil {
				q.onHandled()
			}
		}
	}
}
