package comm

import (
	"sync/atomic"

	"github.com/robotalks/fwcore/pkg/queue"
)

// DefaultTerminator ends a frame unless configured otherwise.
const DefaultTerminator byte = '\r'

// OverflowPolicy decides what GetFrame does with a frame longer than the
// destination buffer.
type OverflowPolicy int

const (
	// OverflowDiscard drops the whole frame and reports ErrFrameOverflow.
	OverflowDiscard OverflowPolicy = iota
	// OverflowTruncate delivers the bytes that fit and drops the rest.
	OverflowTruncate
)

func (p OverflowPolicy) String() string {
	switch p {
	case OverflowDiscard:
		return "discard"
	case OverflowTruncate:
		return "truncate"
	}
	return "unknown"
}

// Assembler extracts terminator delimited frames from a ByteQueue.
//
// Push and NotifyByteEnqueued belong to the producer, GetFrame to the
// consumer. The frame counter is raised by the producer after the
// terminator is in the queue and lowered by the consumer after the frame
// is out, so it never runs ahead of the buffered bytes.
type Assembler struct {
	Queue      *queue.ByteQueue
	Terminator byte
	Overflow   OverflowPolicy

	frames atomic.Uint32
}

// NewAssembler creates an Assembler on q using DefaultTerminator.
func NewAssembler(q *queue.ByteQueue) *Assembler {
	return &Assembler{Queue: q, Terminator: DefaultTerminator}
}

// Push enqueues b and counts the frame it completes. A byte rejected by
// the queue is never counted.
func (a *Assembler) Push(b byte) error {
	if err := a.Queue.Push(b); err != nil {
		return err
	}
	a.NotifyByteEnqueued(b)
	return nil
}

// NotifyByteEnqueued must be called by the producer right after every
// successful push of b onto Queue.
func (a *Assembler) NotifyByteEnqueued(b byte) {
	if b == a.Terminator {
		a.frames.Add(1)
	}
}

// FramesAvailable returns the number of counted, not yet extracted frames.
func (a *Assembler) FramesAvailable() int {
	return int(a.frames.Load())
}

// GetFrame pops the next frame into dst without the terminator and returns
// its length. A zero byte follows the payload, so at most len(dst)-1 bytes
// of payload are delivered.
//
// It returns ErrNoFrameReady when no frame is counted. ErrFrame means the
// queue was exhausted before the terminator: the partial frame is lost and
// all frames counted up to this call are written off, which puts the
// counter back in line with the buffered terminators. ErrFrameOverflow is
// returned under OverflowDiscard when the payload did not fit; the frame is
// consumed up to and including its terminator either way.
func (a *Assembler) GetFrame(dst []byte) (int, error) {
	counted := a.frames.Load()
	if counted == 0 {
		return 0, ErrNoFrameReady
	}
	limit := len(dst) - 1
	var length int
	var truncated bool
	for {
		b, err := a.Queue.Pop()
		if err != nil {
			a.frames.Add(^(counted - 1))
			if len(dst) > 0 {
				dst[0] = 0
			}
			return 0, ErrFrame
		}
		if b == a.Terminator {
			break
		}
		if length < limit {
			dst[length] = b
			length++
		} else {
			truncated = true
		}
	}
	a.frames.Add(^uint32(0))
	if length < len(dst) {
		dst[length] = 0
	}
	if truncated && a.Overflow == OverflowDiscard {
		return 0, ErrFrameOverflow
	}
	return length, nil
}
