package comm

import (
	"context"
	"io"

	"github.com/golang/glog"

	"github.com/robotalks/fwcore/pkg/framework"
	"github.com/robotalks/fwcore/pkg/irq"
)

// Waker wakes the main loop up. framework.Loop implements it.
type Waker interface {
	TriggerNext()
}

const portChunkSize = 256

// Port pumps bytes between a transport and a Channel. Every received byte
// and every transmitted byte is handled in interrupt context of Line, like
// the RXNE and TXE interrupts of a UART.
type Port struct {
	Channel *Channel
	Conn    io.ReadWriteCloser
	Line    *irq.Line
	// Waker, if set, is triggered when a frame is complete.
	Waker Waker

	txCh chan struct{}
}

// NewPort creates a Port and installs its transmitter on ch.
func NewPort(ch *Channel, conn io.ReadWriteCloser, line *irq.Line) *Port {
	p := &Port{
		Channel: ch,
		Conn:    conn,
		Line:    line,
		txCh:    make(chan struct{}, 1),
	}
	ch.TxEnable = p.TxEnable
	return p
}

// Name implements framework.Named.
func (p *Port) Name() string {
	return "port:" + p.Channel.Name
}

// TxEnable starts the transmitter. It never blocks.
func (p *Port) TxEnable() {
	select {
	case p.txCh <- struct{}{}:
	default:
	}
}

// Run implements framework.Runnable. It returns when ctx is done or the
// transport fails; the transport is closed either way.
func (p *Port) Run(ctx context.Context) error {
	glog.Infof("%s started", p.Name())
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	txErrCh := make(chan error, 1)
	go func() {
		err := p.txLoop(ctx)
		if err != nil {
			cancel()
		}
		txErrCh <- err
	}()

	err := framework.RunWithContextCloser(ctx, p.Conn, p.rxLoop)
	cancel()
	if txErr := <-txErrCh; txErr != nil && txErr != context.Canceled {
		err = txErr
	}
	if err != nil && err != context.Canceled {
		glog.Warningf("%s stopped: %v", p.Name(), err)
	} else {
		glog.Infof("%s stopped", p.Name())
	}
	return err
}

func (p *Port) rxLoop() error {
	buf := make([]byte, portChunkSize)
	for {
		n, err := p.Conn.Read(buf)
		var frames int
		for _, b := range buf[:n] {
			p.Line.Raise(func() {
				if p.Channel.Receive(b) {
					frames++
				}
			})
		}
		if frames > 0 && p.Waker != nil {
			p.Waker.TriggerNext()
		}
		if err != nil {
			return err
		}
	}
}

func (p *Port) txLoop(ctx context.Context) error {
	buf := make([]byte, 0, portChunkSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.txCh:
		}
		for {
			buf = buf[:0]
			for len(buf) < cap(buf) {
				var b byte
				var ok bool
				p.Line.Raise(func() { b, ok = p.Channel.Transmit() })
				if !ok {
					break
				}
				buf = append(buf, b)
			}
			if len(buf) == 0 {
				break
			}
			if _, err := p.Conn.Write(buf); err != nil {
				return err
			}
		}
	}
}
