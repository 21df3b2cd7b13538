package sh

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/robotalks/fwcore/pkg/comm"
	fx "github.com/robotalks/fwcore/pkg/framework"
	"github.com/robotalks/fwcore/pkg/irq"
)

// Link is the host side of a device link. It runs its own main loop which
// frames the lines the device sends.
type Link struct {
	URL        string
	Terminator byte
	Channel    *comm.Channel
	Port       *comm.Port
	Loop       *fx.Loop
	// OnLine receives every line from the device, without line endings.
	OnLine func(string)

	cancel func()
	doneCh chan struct{}
	err    error
}

// NewLink creates a Link on conn. Lines sent to the device end with
// terminator, lines from the device end with '\n'.
func NewLink(url string, conn io.ReadWriteCloser, terminator byte) *Link {
	l := &Link{
		URL:        url,
		Terminator: terminator,
		Channel:    comm.NewChannel("device", comm.DefaultBufferSize, comm.DefaultBufferSize),
		Loop:       fx.NewLoop(),
	}
	l.Channel.RX.Terminator = '\n'
	l.Channel.RX.Overflow = comm.OverflowTruncate
	l.Port = comm.NewPort(l.Channel, conn, irq.NewLine("link"))
	l.Port.Waker = l.Loop
	l.Loop.AddRunnable(l.Port)
	l.Loop.Add(comm.NewFramePoller(l.Channel, 0))
	l.Loop.AddController(fx.PrLvApp, fx.ControlFunc(l.control))
	return l
}

func (l *Link) control(cc fx.ControlContext) error {
	cc.Messages().ProcessMessages(fx.ProcessMessageFunc(func(mc fx.MessageProcessingContext) {
		if msg, ok := mc.CurrentMessage().(*comm.FrameMsg); ok {
			mc.MessageTaken()
			if l.OnLine != nil {
				l.OnLine(strings.TrimRight(string(msg.Data), "\r"))
			}
		}
	}))
	return nil
}

// Start runs the link loop in the background.
func (l *Link) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.doneCh = make(chan struct{})
	go func() {
		l.err = l.Loop.Run(ctx)
		close(l.doneCh)
	}()
}

// Send queues a line for the device.
func (l *Link) Send(line string) error {
	if strings.IndexByte(line, l.Terminator) >= 0 {
		return fmt.Errorf("line contains the terminator %q", l.Terminator)
	}
	_, err := l.Channel.Write(append([]byte(line), l.Terminator))
	return err
}

// Done is closed once the link stopped.
func (l *Link) Done() <-chan struct{} {
	return l.doneCh
}

// Err returns why the link stopped. Only valid after Done is closed.
func (l *Link) Err() error {
	return l.err
}

// Close waits up to timeout for queued lines to go out, then stops the
// link.
func (l *Link) Close(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for !l.Channel.TX.IsEmpty() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	l.cancel()
	<-l.doneCh
	if l.err != nil && l.err != context.Canceled {
		return l.err
	}
	return nil
}
