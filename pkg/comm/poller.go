package comm

import (
	"github.com/golang/glog"

	"github.com/robotalks/fwcore/pkg/framework"
)

// DefaultFrameSize is the frame buffer size of a FramePoller, including the
// zero sentinel.
const DefaultFrameSize = 255

// FrameMsg carries a received frame through the main loop.
type FrameMsg struct {
	Channel string
	Data    []byte
}

// FramePoller is a main loop controller collecting complete frames of a
// Channel and adding them as FrameMsg to the iteration.
type FramePoller struct {
	Channel *Channel
	// MaxFrames limits the frames taken per iteration, zero means no limit.
	MaxFrames int

	buf []byte
}

// NewFramePoller creates a FramePoller with a frame buffer of size bytes.
func NewFramePoller(ch *Channel, size int) *FramePoller {
	if size <= 0 {
		size = DefaultFrameSize
	}
	return &FramePoller{Channel: ch, buf: make([]byte, size)}
}

// Poll returns the next frame of the channel. The returned slice is a copy.
func (p *FramePoller) Poll() ([]byte, error) {
	n, err := p.Channel.GetFrame(p.buf)
	if err != nil {
		return nil, err
	}
	data := make([]byte, n)
	copy(data, p.buf[:n])
	return data, nil
}

// Control implements framework.Controller.
func (p *FramePoller) Control(cc framework.ControlContext) error {
	for count := 0; p.MaxFrames == 0 || count < p.MaxFrames; count++ {
		data, err := p.Poll()
		switch err {
		case nil:
			if glog.V(2) {
				glog.Infof("%s: frame %q", p.Channel.Name, data)
			}
			cc.Messages().AddMessages(&FrameMsg{Channel: p.Channel.Name, Data: data})
		case ErrNoFrameReady:
			return nil
		case ErrFrame:
			glog.Warningf("%s: invalid frame, resynchronized", p.Channel.Name)
			return nil
		case ErrFrameOverflow:
			glog.Warningf("%s: frame longer than %d bytes dropped", p.Channel.Name, len(p.buf)-1)
		default:
			return err
		}
	}
	if p.Channel.RX.FramesAvailable() > 0 {
		cc.TriggerNext()
	}
	return nil
}

// AddToLoop implements framework.LoopAdder.
func (p *FramePoller) AddToLoop(l *framework.Loop) {
	l.AddController(framework.PrLvInput, p)
}
