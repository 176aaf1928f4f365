// Package queue provides an unbounded lock-free FIFO and an Inbox that pairs
// it with a wake-up signal, so producers never block on a busy consumer.
package queue

import "sync/atomic"

type node[T any] struct {
	value T
	next  atomic.Pointer[node[T]]
}

// Queue is an unbounded, lock-free, multi-producer multi-consumer FIFO.
// The zero value is not usable; create one with New.
type Queue[T any] struct {
	head   atomic.Pointer[node[T]]
	tail   atomic.Pointer[node[T]]
	length atomic.Int32
}

// New returns an empty Queue.
func New[T any]() *Queue[T] {
	q := &Queue[T]{}
	sentinel := &node[T]{}
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	return q
}

// Enqueue adds v to the tail of the queue.
func (q *Queue[T]) Enqueue(v T) {
	n := &node[T]{value: v}
	for {
		tail := q.tail.Load()
		next := tail.next.Load()
		if tail != q.tail.Load() {
			continue
		}
		if next != nil {
			// tail is lagging behind; help it along
			q.tail.CompareAndSwap(tail, next)
			continue
		}
		if tail.next.CompareAndSwap(nil, n) {
			q.tail.CompareAndSwap(tail, n)
			q.length.Add(1)
			return
		}
	}
}

// Dequeue removes and returns the head of the queue. ok is false when the
// queue is empty.
func (q *Queue[T]) Dequeue() (v T, ok bool) {
	for {
		head := q.head.Load()
		tail := q.tail.Load()
		next := head.next.Load()
		if head != q.head.Load() {
			continue
		}
		if next == nil {
			return v, false
		}
		if head == tail {
			q.tail.CompareAndSwap(tail, next)
			continue
		}
		if q.head.CompareAndSwap(head, next) {
			v = next.value
			var zero T
			next.value = zero
			q.length.Add(-1)

			return v, true
		}
	}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int { return int(q.length.Load()) }

// IsEmpty reports whether the queue holds no items.
func (q *Queue[T]) IsEmpty() bool { return q.head.Load().next.Load() == nil }

// Inbox is a Queue with a signal channel that becomes ready whenever items
// were pushed since the last Drain.
type Inbox[T any] struct {
	q      *Queue[T]
	notify chan struct{}
}

// NewInbox returns an empty Inbox.
func NewInbox[T any]() *Inbox[T] {
	return &Inbox[T]{q: New[T](), notify: make(chan struct{}, 1)}
}

// Push enqueues v and signals the consumer. It never blocks.
func (in *Inbox[T]) Push(v T) {
	in.q.Enqueue(v)
	select {
	case in.notify <- struct{}{}:
	default:
	}
}

// C returns the signal channel.
func (in *Inbox[T]) C() <-chan struct{} { return in.notify }

// Drain dequeues every item in FIFO order and calls fn for each. It returns
// the number of items handled.
func (in *Inbox[T]) Drain(fn func(T)) int {
	n := 0
	for {
		v, ok := in.q.Dequeue()
		if !ok {
			return n
		}
		fn(v)
		n++
	}
}

// Len returns the number of pending items.
func (in *Inbox[T]) Len() int { return in.q.Len() }
