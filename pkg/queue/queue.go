// Package queue provides the fixed-capacity byte ring shared between an
// interrupt producer and a main-loop consumer.
package queue

import (
	"errors"
	"sync/atomic"
)

var (
	// ErrOverflow indicates the queue is full and the byte was dropped.
	ErrOverflow = errors.New("queue overflow")
	// ErrEmpty indicates there is nothing to pop.
	ErrEmpty = errors.New("queue empty")
)

// ByteQueue is a single-producer/single-consumer circular buffer of bytes.
//
// Push may only be called from one context (the producer) and Pop from one
// other context (the consumer). The write index belongs to the producer,
// the read index to the consumer, and count is the only field both touch.
// Each side updates count with a single atomic operation as its last step,
// which publishes the slot it just wrote or released.
type ByteQueue struct {
	buf   []byte
	read  uint32
	write uint32
	count atomic.Uint32
}

// New creates a ByteQueue on top of buf. The queue owns buf afterwards and
// its capacity is len(buf).
func New(buf []byte) *ByteQueue {
	if len(buf) == 0 {
		panic("queue: zero capacity")
	}
	return &ByteQueue{buf: buf}
}

// Cap returns the fixed capacity.
func (q *ByteQueue) Cap() int {
	return len(q.buf)
}

// Len returns the number of occupied slots.
func (q *ByteQueue) Len() int {
	return int(q.count.Load())
}

// IsEmpty reports whether the queue holds no bytes.
func (q *ByteQueue) IsEmpty() bool {
	return q.count.Load() == 0
}

// IsFull reports whether the queue has no free slot.
func (q *ByteQueue) IsFull() bool {
	return int(q.count.Load()) == len(q.buf)
}

// Push appends b. When the queue is full b is discarded and ErrOverflow is
// returned; nothing else changes. Push never blocks.
func (q *ByteQueue) Push(b byte) error {
	if int(q.count.Load()) == len(q.buf) {
		return ErrOverflow
	}
	q.buf[q.write] = b
	if q.write++; int(q.write) == len(q.buf) {
		q.write = 0
	}
	q.count.Add(1)
	return nil
}

// Pop removes and returns the oldest byte, or ErrEmpty.
func (q *ByteQueue) Pop() (byte, error) {
	if q.count.Load() == 0 {
		return 0, ErrEmpty
	}
	b := q.buf[q.read]
	if q.read++; int(q.read) == len(q.buf) {
		q.read = 0
	}
	q.count.Add(^uint32(0))
	return b, nil
}
