// Package device assembles a virtual serial device: a tick driven soft
// timer table and a framed serial channel serviced by one main loop. A
// second, receive only USB console channel can be attached.
package device

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/golang/glog"

	"github.com/robotalks/fwcore/pkg/clock"
	"github.com/robotalks/fwcore/pkg/comm"
	"github.com/robotalks/fwcore/pkg/framework"
	"github.com/robotalks/fwcore/pkg/irq"
	"github.com/robotalks/fwcore/pkg/telemetry"
	"github.com/robotalks/fwcore/pkg/timer"
)

// Config defines the device settings.
type Config struct {
	ID         string
	TickRate   clock.Rate
	Terminator byte
	Overflow   comm.OverflowPolicy

	RxBufferSize int
	TxBufferSize int
	FrameSize    int
	TimerSlots   int

	// Periods in ticks, zero disables.
	HeartbeatTicks uint32
	StatsTicks     uint32
	IdleTicks      uint32

	// Echo reports every received frame back over the link.
	Echo bool
}

// DefaultConfig returns the settings of the reference board.
func DefaultConfig() Config {
	return Config{
		TickRate:       clock.DefaultRate,
		Terminator:     comm.DefaultTerminator,
		RxBufferSize:   comm.DefaultBufferSize,
		TxBufferSize:   comm.DefaultBufferSize,
		FrameSize:      comm.DefaultFrameSize,
		TimerSlots:     8,
		HeartbeatTicks: 1000,
		StatsTicks:     5000,
		IdleTicks:      1000,
		Echo:           true,
	}
}

// ErrNoTimerSlots is returned when the timer table can't hold the timers
// the device registers itself.
var ErrNoTimerSlots = errors.New("not enough timer slots")

// Device is the assembled virtual device.
type Device struct {
	Config Config

	Loop    *framework.Loop
	SysTick *irq.Line
	UART    *irq.Line
	Clock   *clock.Clock
	Source  *clock.Source
	Timers  *timer.Scheduler
	Channel *comm.Channel
	Poller  *comm.FramePoller

	Port *comm.Port

	// USB console, set by AttachUSB.
	USB        *irq.Line
	USBChannel *comm.Channel
	USBPort    *comm.Port

	Publisher *telemetry.Publisher
	// FrameHandler, if set, receives every frame after it was reported.
	FrameHandler func(data []byte)

	beats  uint64
	lastRx clock.Tick
	idle   bool
}

// New assembles a device. The tick source and the timers are ready, the
// link is attached separately.
func New(cfg Config) (*Device, error) {
	if cfg.TimerSlots < 2 {
		return nil, ErrNoTimerSlots
	}
	d := &Device{
		Config:  cfg,
		Loop:    framework.NewLoop(),
		SysTick: irq.NewLine("systick"),
		UART:    irq.NewLine("uart"),
		Clock:   &clock.Clock{},
	}
	d.Timers = timer.NewScheduler(cfg.TimerSlots, d.SysTick)
	d.Timers.Wake = d.Loop.TriggerNext
	d.Source = clock.NewSource(cfg.TickRate, d.SysTick, d.Clock, d.Timers)

	d.Channel = comm.NewChannel("uart", cfg.RxBufferSize, cfg.TxBufferSize)
	d.Channel.RX.Terminator = cfg.Terminator
	d.Channel.RX.Overflow = cfg.Overflow
	d.Poller = comm.NewFramePoller(d.Channel, cfg.FrameSize)

	if err := d.addTimer("heartbeat", cfg.HeartbeatTicks, d.beat); err != nil {
		return nil, err
	}
	if err := d.addTimer("stats", cfg.StatsTicks, d.publishStats); err != nil {
		return nil, err
	}

	d.Loop.AddRunnable(framework.NamedRun("systick", d.Source))
	d.Loop.Add(d.Poller, d.Timers)
	d.Loop.AddController(framework.PrLvApp, d)
	return d, nil
}

func (d *Device) addTimer(name string, period uint32, fn func()) error {
	if period == 0 {
		return nil
	}
	id, err := d.Timers.AddNamed(name, period, timer.FireFunc(fn), true)
	if err != nil {
		return fmt.Errorf("add %s timer: %w", name, err)
	}
	return d.Timers.Start(id)
}

// Attach connects the device to a link. Must be called before Run.
func (d *Device) Attach(conn io.ReadWriteCloser) *comm.Port {
	d.Port = comm.NewPort(d.Channel, conn, d.UART)
	d.Port.Waker = d.Loop
	d.Loop.AddRunnable(d.Port)
	return d.Port
}

// AttachUSB connects the USB console. Frames received there are reported
// over the main link like the ones received on it. Must be called before
// Run.
func (d *Device) AttachUSB(conn io.ReadWriteCloser) *comm.Port {
	d.USB = irq.NewLine("usb")
	d.USBChannel = comm.NewChannel("usb", d.Config.RxBufferSize, 1)
	d.USBChannel.RX.Terminator = d.Config.Terminator
	d.USBChannel.RX.Overflow = d.Config.Overflow
	d.USBPort = comm.NewPort(d.USBChannel, conn, d.USB)
	d.USBPort.Waker = d.Loop
	d.Loop.Add(comm.NewFramePoller(d.USBChannel, d.Config.FrameSize))
	d.Loop.AddRunnable(d.USBPort)
	return d.USBPort
}

// Run implements framework.Runnable.
func (d *Device) Run(ctx context.Context) error {
	glog.Infof("device %s starting: %d Hz tick, %d timer slots", d.Config.ID, d.Source.Rate, d.Timers.Cap())
	for _, info := range d.Timers.List() {
		glog.Infof("timer %d %s: every %d ticks, %s", info.ID, info.Name, info.Period, info.State)
	}
	return d.Loop.Run(ctx)
}

// Control implements framework.Controller. It reports received frames and
// watches the link for silence.
func (d *Device) Control(cc framework.ControlContext) error {
	cc.Messages().ProcessMessages(framework.ProcessMessageFunc(func(mc framework.MessageProcessingContext) {
		msg, ok := mc.CurrentMessage().(*comm.FrameMsg)
		if !ok || !d.ownsChannel(msg.Channel) {
			return
		}
		mc.MessageTaken()
		d.handleFrame(msg.Data)
	}))
	if d.Config.IdleTicks > 0 && !d.idle && d.Clock.ElapsedAtLeast(d.lastRx, d.Config.IdleTicks) {
		d.idle = true
		glog.Infof("link idle for %d ticks", d.Config.IdleTicks)
	}
	return nil
}

func (d *Device) ownsChannel(name string) bool {
	return name == d.Channel.Name || (d.USBChannel != nil && name == d.USBChannel.Name)
}

func (d *Device) handleFrame(data []byte) {
	d.lastRx = d.Clock.Now()
	if d.idle {
		d.idle = false
		glog.Info("link active")
	}
	glog.V(1).Infof("Got frame of length %d: %s", len(data), data)
	if d.Config.Echo {
		if _, err := fmt.Fprintf(d.Channel, "Got frame of length %d: %s\r\n", len(data), data); err != nil {
			glog.Warningf("echo: %v", err)
		}
	}
	if d.FrameHandler != nil {
		d.FrameHandler(data)
	}
}

func (d *Device) beat() {
	d.beats++
	if _, err := fmt.Fprintf(d.Channel, "heartbeat %d\r\n", d.beats); err != nil {
		glog.Warningf("heartbeat: %v", err)
	}
}

func (d *Device) publishStats() {
	if d.Publisher == nil {
		return
	}
	if err := d.Publisher.Publish(d.Stats()); err != nil {
		glog.Warningf("publish stats: %v", err)
	}
}

// Idle reports whether the link has been silent for IdleTicks. Only valid
// in the main loop.
func (d *Device) Idle() bool {
	return d.idle
}

// Stats returns a snapshot of the device counters.
func (d *Device) Stats() *telemetry.Stats {
	cs := d.Channel.Stats()
	if d.USBChannel != nil {
		us := d.USBChannel.Stats()
		cs.RxOverflows += us.RxOverflows
		cs.Frames += us.Frames
		cs.FrameErrors += us.FrameErrors
		cs.FrameOverflows += us.FrameOverflows
	}
	return &telemetry.Stats{
		DeviceID:       d.Config.ID,
		Ticks:          uint32(d.Clock.Now()),
		RxOverflows:    cs.RxOverflows,
		TxOverflows:    cs.TxOverflows,
		FramesReceived: cs.Frames,
		FrameErrors:    cs.FrameErrors,
		FrameOverflows: cs.FrameOverflows,
		TimerOverruns:  d.Timers.Overruns(),
		LinkIdle:       d.idle,
	}
}
