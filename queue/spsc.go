// Package queue implements the single-producer/single-consumer message queue
// used to hand control messages between the compile thread and the audio
// thread without locks (spec.md §4.2). Two independent queues are used per
// execution context: one carrying compiled-module handoffs from compiler to
// audio thread ("compile done"), one carrying the matching acknowledgements
// back.
package queue

import "go.uber.org/atomic"

// SPSC is a fixed-capacity, wait-free ring buffer safe for exactly one
// producer goroutine and one consumer goroutine operating concurrently.
// Capacity is rounded up to the next power of two so index wrapping is a
// mask instead of a modulo, keeping both Push and Pop allocation-free and
// branch-light enough for the audio thread.
type SPSC[T any] struct {
	// head is advanced by the consumer, tail by the producer; each side only
	// ever reads the other's counter and writes its own, so no CAS is needed.
	head atomic.Uint64
	tail atomic.Uint64

	buf  []T
	mask uint64
}

// New returns an SPSC queue that can hold at least capacity elements.
func New[T any](capacity int) *SPSC[T] {
	if capacity <= 0 {
		capacity = 1
	}
	size := nextPow2(uint64(capacity))
	return &SPSC[T]{
		buf:  make([]T, size),
		mask: size - 1,
	}
}

func nextPow2(v uint64) uint64 {
	n := uint64(1)
	for n < v {
		n <<= 1
	}
	return n
}

// Push enqueues v, returning false without blocking if the queue is full
// (spec.md §7 QueueFull). The producer side.
func (q *SPSC[T]) Push(v T) bool {
	tail := q.tail.Load()
	if tail-q.head.Load() > q.mask {
		return false
	}
	q.buf[tail&q.mask] = v
	q.tail.Store(tail + 1)
	return true
}

// Pop dequeues the oldest element, returning false without blocking if the
// queue is empty. The consumer side.
func (q *SPSC[T]) Pop() (T, bool) {
	var zero T
	head := q.head.Load()
	if head == q.tail.Load() {
		return zero, false
	}
	v := q.buf[head&q.mask]
	q.buf[head&q.mask] = zero
	q.head.Store(head + 1)
	return v, true
}

// Len returns a point-in-time estimate of the number of queued elements.
// Safe to call from either side; the result may be stale by the time it is
// read by the other side.
func (q *SPSC[T]) Len() int {
	return int(q.tail.Load() - q.head.Load())
}

// Cap returns the queue's fixed capacity.
func (q *SPSC[T]) Cap() int {
	return len(q.buf)
}
