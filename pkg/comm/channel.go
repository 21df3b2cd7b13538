package comm

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robotalks/fwcore/pkg/queue"
)

// DefaultBufferSize is the RX and TX queue size of a channel.
const DefaultBufferSize = 2048

// Stats are the channel counters.
type Stats struct {
	RxOverflows    uint64
	TxOverflows    uint64
	Frames         uint64
	FrameErrors    uint64
	FrameOverflows uint64
}

// Channel is one full duplex link: an RX assembler filled from interrupt
// context and a TX queue drained from interrupt context.
type Channel struct {
	Name string
	RX   *Assembler
	TX   *queue.ByteQueue
	// TxEnable is called after Write queued bytes, to start the
	// transmitter. Port installs it.
	TxEnable func()

	rxOverflows    atomic.Uint64
	txOverflows    atomic.Uint64
	frames         atomic.Uint64
	frameErrors    atomic.Uint64
	frameOverflows atomic.Uint64
}

// NewChannel creates a Channel with RX and TX queues of the given sizes.
func NewChannel(name string, rxSize, txSize int) *Channel {
	return &Channel{
		Name: name,
		RX:   NewAssembler(queue.New(make([]byte, rxSize))),
		TX:   queue.New(make([]byte, txSize)),
	}
}

// Receive is the RX interrupt callback. It queues b and reports whether b
// completed a frame. A byte that does not fit is dropped and counted.
func (c *Channel) Receive(b byte) bool {
	if err := c.RX.Push(b); err != nil {
		c.rxOverflows.Add(1)
		return false
	}
	return b == c.RX.Terminator
}

// Transmit is the TX interrupt callback. It returns the next byte to send,
// or false when the transmitter should be disabled.
func (c *Channel) Transmit() (byte, bool) {
	b, err := c.TX.Pop()
	return b, err == nil
}

// Write queues p for transmission from the main loop. p is queued whole or
// not at all, so a line never goes out without its terminator. When p
// doesn't fit, all of it is counted as dropped and queue.ErrOverflow is
// reported.
func (c *Channel) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	// the main loop is the only producer, free space can only grow
	// underneath.
	if free := c.TX.Cap() - c.TX.Len(); len(p) > free {
		c.txOverflows.Add(uint64(len(p)))
		return 0, fmt.Errorf("%s: %d bytes dropped, %d free: %w", c.Name, len(p), free, queue.ErrOverflow)
	}
	for n, b := range p {
		if err := c.TX.Push(b); err != nil {
			c.txOverflows.Add(uint64(len(p) - n))
			return n, fmt.Errorf("%s: %d bytes dropped: %w", c.Name, len(p)-n, err)
		}
	}
	if c.TxEnable != nil {
		c.TxEnable()
	}
	return len(p), nil
}

// GetFrame reads the next frame into dst. See Assembler.GetFrame.
func (c *Channel) GetFrame(dst []byte) (int, error) {
	n, err := c.RX.GetFrame(dst)
	switch err {
	case nil:
		c.frames.Add(1)
	case ErrFrame:
		c.frameErrors.Add(1)
	case ErrFrameOverflow:
		c.frameOverflows.Add(1)
	}
	return n, err
}

// GetcPollInterval is how often Getc looks at an empty RX queue.
var GetcPollInterval = time.Millisecond

// Getc waits for the next received byte. It takes bytes from under the
// assembler: a frame consumed this way is reported as ErrFrame by a later
// GetFrame.
func (c *Channel) Getc(ctx context.Context) (byte, error) {
	if b, err := c.RX.Queue.Pop(); err == nil {
		return b, nil
	}
	ticker := time.NewTicker(GetcPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
			if b, err := c.RX.Queue.Pop(); err == nil {
				return b, nil
			}
		}
	}
}

// Stats returns a snapshot of the counters.
func (c *Channel) Stats() Stats {
	return Stats{
		RxOverflows:    c.rxOverflows.Load(),
		TxOverflows:    c.txOverflows.Load(),
		Frames:         c.frames.Load(),
		FrameErrors:    c.frameErrors.Load(),
		FrameOverflows: c.frameOverflows.Load(),
	}
}
