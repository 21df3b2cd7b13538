// Package env sets up a device from command line flags and environment.
package env

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/denisbrodbeck/machineid"
	"github.com/golang/glog"

	"github.com/robotalks/fwcore/pkg/clock"
	"github.com/robotalks/fwcore/pkg/comm"
	"github.com/robotalks/fwcore/pkg/device"
	"github.com/robotalks/fwcore/pkg/framework"
	"github.com/robotalks/fwcore/pkg/telemetry"
	"github.com/robotalks/fwcore/pkg/transport"
)

// Config provides options to set up a device.
type Config struct {
	Device device.Config

	// PortURL is the link, see package transport.
	PortURL string
	// USBPortURL optionally attaches the receive only USB console.
	USBPortURL string
	// MQTTBrokerURL enables telemetry when set.
	// e.g. mqtt://host:port/topic-prefix
	MQTTBrokerURL string
	// LoopInterval is the idle interval of the main loop.
	LoopInterval time.Duration

	// Durations override the tick counts in Device when set.
	HeartbeatPeriod time.Duration
	StatsPeriod     time.Duration
	IdleTimeout     time.Duration
}

var defaultConfig = Config{
	Device:       device.DefaultConfig(),
	PortURL:      "tcp+listen://:7000",
	LoopInterval: framework.DefaultInterval,
}

func init() {
	if val := os.Getenv("VCOM_PORT"); val != "" {
		defaultConfig.PortURL = val
	}
	if val := os.Getenv("VCOM_USB_PORT"); val != "" {
		defaultConfig.USBPortURL = val
	}
	if val := os.Getenv("VCOM_MQTT_URL"); val != "" {
		defaultConfig.MQTTBrokerURL = val
	}
	if val := os.Getenv("VCOM_DEVICE_ID"); val != "" {
		defaultConfig.Device.ID = val
	} else {
		defaultConfig.Device.ID = MachineID()
	}
}

// MachineID returns an id identifying this machine, which is stable across
// restarts. It falls back to the hostname.
func MachineID() string {
	if id, err := machineid.ProtectedID("vcom"); err == nil {
		return id[:12]
	}
	if host, err := os.Hostname(); err == nil {
		return host
	}
	return "vcom"
}

// SetupFlags sets command line flags.
func SetupFlags() {
	dev := &defaultConfig.Device
	flag.StringVar(&dev.ID, "id", dev.ID, "Device ID")
	flag.StringVar(&defaultConfig.PortURL, "port", defaultConfig.PortURL, "Link URL: serial://, tcp://, tcp+listen://, ws://, ws+listen://, stdio:")
	flag.StringVar(&defaultConfig.USBPortURL, "usb-port", defaultConfig.USBPortURL, "Optional USB console link URL, receive only")
	flag.StringVar(&defaultConfig.MQTTBrokerURL, "mqtt", defaultConfig.MQTTBrokerURL, "MQTT broker URL for telemetry, empty to disable")
	flag.DurationVar(&defaultConfig.LoopInterval, "loop-interval", defaultConfig.LoopInterval, "Main loop idle interval")
	flag.Var((*rateValue)(&dev.TickRate), "tick-rate", "Tick rate in Hz")
	flag.Var((*terminatorValue)(&dev.Terminator), "terminator", "Frame terminator, Go escapes allowed")
	flag.Var((*overflowValue)(&dev.Overflow), "frame-overflow", "Oversized frames: discard or truncate")
	flag.IntVar(&dev.RxBufferSize, "rx-buffer", dev.RxBufferSize, "RX queue size")
	flag.IntVar(&dev.TxBufferSize, "tx-buffer", dev.TxBufferSize, "TX queue size")
	flag.IntVar(&dev.FrameSize, "frame-size", dev.FrameSize, "Frame buffer size")
	flag.IntVar(&dev.TimerSlots, "timer-slots", dev.TimerSlots, "Soft timer table size")
	flag.Var(&ticksValue{&dev.HeartbeatTicks, &defaultConfig.HeartbeatPeriod}, "heartbeat", "Heartbeat period in ticks or as a duration, 0 disables")
	flag.Var(&ticksValue{&dev.StatsTicks, &defaultConfig.StatsPeriod}, "stats-period", "Telemetry period in ticks or as a duration, 0 disables")
	flag.Var(&ticksValue{&dev.IdleTicks, &defaultConfig.IdleTimeout}, "idle-timeout", "Link idle timeout in ticks or as a duration, 0 disables")
	flag.BoolVar(&dev.Echo, "echo", dev.Echo, "Report received frames back over the link")
}

// Default gets default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// Env is a configured device with its link and telemetry.
type Env struct {
	Config *Config
	Device *device.Device
	Queue  *telemetry.Queue
}

// NewEnv assembles the device. The link is opened by Run.
func (c *Config) NewEnv() (*Env, error) {
	if c.PortURL == "" {
		return nil, fmt.Errorf("port URL must be specified")
	}
	dev, err := device.New(c.DeviceConfig())
	if err != nil {
		return nil, err
	}
	dev.Loop.Interval = c.LoopInterval
	env := &Env{Config: c, Device: dev}
	if c.MQTTBrokerURL != "" {
		q, err := telemetry.NewQueueFromURL(c.MQTTBrokerURL, "vcom-"+c.Device.ID)
		if err != nil {
			return nil, fmt.Errorf("invalid MQTT URL: %v", err)
		}
		env.Queue = q
		dev.Publisher = telemetry.NewPublisher(q, c.Device.ID)
	}
	return env, nil
}

// DeviceConfig returns Device with the durations converted to ticks at
// Device.TickRate.
func (c *Config) DeviceConfig() device.Config {
	cfg := c.Device
	if c.HeartbeatPeriod > 0 {
		cfg.HeartbeatTicks = cfg.TickRate.Ticks(c.HeartbeatPeriod)
	}
	if c.StatsPeriod > 0 {
		cfg.StatsTicks = cfg.TickRate.Ticks(c.StatsPeriod)
	}
	if c.IdleTimeout > 0 {
		cfg.IdleTicks = cfg.TickRate.Ticks(c.IdleTimeout)
	}
	return cfg
}

// MustNewEnv creates Env and fails on error.
func (c *Config) MustNewEnv() *Env {
	env, err := c.NewEnv()
	if err != nil {
		log.Fatalln(err)
	}
	return env
}

// Run opens the link and runs the device until ctx is done or the link
// fails.
func (e *Env) Run(ctx context.Context) error {
	glog.Infof("opening %s", e.Config.PortURL)
	conn, err := transport.Open(ctx, e.Config.PortURL)
	if err != nil {
		return fmt.Errorf("open port %s: %w", e.Config.PortURL, err)
	}
	e.Device.Attach(conn)
	if url := e.Config.USBPortURL; url != "" {
		glog.Infof("opening USB console %s", url)
		usb, err := transport.Open(ctx, url)
		if err != nil {
			conn.Close()
			return fmt.Errorf("open USB port %s: %w", url, err)
		}
		e.Device.AttachUSB(usb)
	}
	if e.Queue != nil {
		e.Device.Loop.AddRunnable(framework.NamedRun("mqtt", framework.RunFunc(e.runQueue)))
	}
	return e.Device.Run(ctx)
}

func (e *Env) runQueue(ctx context.Context) error {
	// paho keeps reconnecting in the background once the first
	// connection attempt was made.
	token := e.Queue.Connect()
	go func() {
		if token.Wait() && token.Error() != nil {
			glog.Warningf("mqtt connect: %v", token.Error())
		}
	}()
	<-ctx.Done()
	e.Queue.Close()
	return ctx.Err()
}

type rateValue clock.Rate

func (v *rateValue) String() string { return strconv.FormatUint(uint64(*v), 10) }
func (v *rateValue) Set(s string) error {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil || n == 0 {
		return fmt.Errorf("invalid tick rate %q", s)
	}
	*v = rateValue(n)
	return nil
}

// ticksValue takes a tick count, or a duration which is converted once the
// tick rate is known.
type ticksValue struct {
	ticks  *uint32
	period *time.Duration
}

func (v *ticksValue) String() string {
	if v.period != nil && *v.period > 0 {
		return v.period.String()
	}
	if v.ticks == nil {
		return "0"
	}
	return strconv.FormatUint(uint64(*v.ticks), 10)
}

func (v *ticksValue) Set(s string) error {
	if n, err := strconv.ParseUint(s, 10, 32); err == nil {
		*v.ticks, *v.period = uint32(n), 0
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return fmt.Errorf("invalid period %q", s)
	}
	*v.period = d
	if d == 0 {
		*v.ticks = 0
	}
	return nil
}

type terminatorValue byte

func (v *terminatorValue) String() string { return strconv.QuoteRune(rune(*v)) }
func (v *terminatorValue) Set(s string) error {
	b, err := ParseTerminator(s)
	if err != nil {
		return err
	}
	*v = terminatorValue(b)
	return nil
}

// ParseTerminator parses a single byte, written as is or as a Go escape
// like \r or \x00.
func ParseTerminator(s string) (byte, error) {
	if len(s) == 1 {
		return s[0], nil
	}
	val, _, tail, err := strconv.UnquoteChar(s, 0)
	if err != nil || tail != "" || val > 0xff {
		return 0, fmt.Errorf("invalid terminator %q", s)
	}
	return byte(val), nil
}

type overflowValue comm.OverflowPolicy

func (v *overflowValue) String() string { return comm.OverflowPolicy(*v).String() }
func (v *overflowValue) Set(s string) error {
	switch s {
	case "discard":
		*v = overflowValue(comm.OverflowDiscard)
	case "truncate":
		*v = overflowValue(comm.OverflowTruncate)
	default:
		return fmt.Errorf("invalid overflow policy %q", s)
	}
	return nil
}
