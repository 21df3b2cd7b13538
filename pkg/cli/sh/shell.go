package sh

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/fwcore/pkg/comm"
	"github.com/robotalks/fwcore/pkg/env"
	"github.com/robotalks/fwcore/pkg/telemetry"
	"github.com/robotalks/fwcore/pkg/transport"
)

// Config provides the shell options.
type Config struct {
	// PortURL is connected on start when set.
	PortURL string
	// MQTTBrokerURL is where stats are read from.
	MQTTBrokerURL string
	Terminator    byte
	Timeout       time.Duration
}

var defaultConfig = Config{
	Terminator: comm.DefaultTerminator,
	Timeout:    5 * time.Second,
}

func init() {
	if val := os.Getenv("VCOM_PORT"); val != "" {
		defaultConfig.PortURL = val
	}
	if val := os.Getenv("VCOM_MQTT_URL"); val != "" {
		defaultConfig.MQTTBrokerURL = val
	}
}

// SetupFlags sets command line flags.
func SetupFlags() {
	flag.StringVar(&defaultConfig.PortURL, "port", defaultConfig.PortURL, "Device link URL to connect on start")
	flag.StringVar(&defaultConfig.MQTTBrokerURL, "mqtt", defaultConfig.MQTTBrokerURL, "MQTT broker URL for stats")
	flag.DurationVar(&defaultConfig.Timeout, "timeout", defaultConfig.Timeout, "Connect and stats timeout")
	flag.Func("terminator", "Frame terminator, Go escapes allowed (default \\r)", func(s string) (err error) {
		defaultConfig.Terminator, err = env.ParseTerminator(s)
		return
	})
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
	flag.BoolVar(&outputJSON, "json", outputJSON, "Print stats in JSON.")
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// Shell provides ishell backed interactive shell.
type Shell struct {
	Interactive bool
	OutputJSON  bool

	Shell  *ishell.Shell
	Config *Config
	Link   *Link
}

const (
	shellKey          = "$shell"
	unconnectedPrompt = "[none] > "
)

var (
	evalOnly   bool
	outputJSON bool

	commands = []*ishell.Cmd{
		&ConnectCmd,
		&DisconnectCmd,
		&SendCmd,
		&StatsCmd,
	}
)

// New creates a new shell.
func New(conf *Config) *Shell {
	s := &Shell{
		Interactive: !evalOnly,
		OutputJSON:  outputJSON,

		Shell:  ishell.New(),
		Config: conf,
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(unconnectedPrompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// MustBeConnected wraps command func requires a connection.
func MustBeConnected(fn func(c *ishell.Context)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		if ShellFrom(c).Link == nil {
			c.Err(fmt.Errorf("not connected"))
			return
		}
		fn(c)
	}
}

// Connect opens the device link at url.
func (s *Shell) Connect(url string) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.Config.Timeout)
	defer cancel()
	conn, err := transport.Open(ctx, url)
	if err != nil {
		return err
	}
	s.Disconnect()
	link := NewLink(url, conn, s.Config.Terminator)
	link.OnLine = func(line string) { s.Shell.Println(line) }
	link.Start()
	s.Link = link
	go func() {
		<-link.Done()
		if err := link.Err(); err != nil && err != context.Canceled {
			s.Shell.Printf("link %s closed: %v\n", url, err)
		}
	}()
	s.Shell.SetPrompt(fmt.Sprintf("[%s] > ", url))
	return nil
}

// Disconnect disconnects the current link.
func (s *Shell) Disconnect() error {
	if s.Link == nil {
		return nil
	}
	err := s.Link.Close(s.Config.Timeout)
	s.Link = nil
	s.Shell.SetPrompt(unconnectedPrompt)
	return err
}

// WatchStats waits for the next stats of deviceID, or of any device if
// deviceID is empty.
func (s *Shell) WatchStats(deviceID string) (*telemetry.Stats, error) {
	if s.Config.MQTTBrokerURL == "" {
		return nil, fmt.Errorf("MQTT broker URL is not set")
	}
	q, err := telemetry.NewQueueFromURL(s.Config.MQTTBrokerURL, "")
	if err != nil {
		return nil, err
	}
	statsCh := make(chan *telemetry.Stats, 1)
	sub := telemetry.SubscribeStats(q, deviceID, func(stats *telemetry.Stats) {
		select {
		case statsCh <- stats:
		default:
		}
	})
	defer sub.Close()
	if token := q.Connect(); !token.WaitTimeout(s.Config.Timeout) {
		return nil, fmt.Errorf("connect %s: timeout", s.Config.MQTTBrokerURL)
	} else if err := token.Error(); err != nil {
		return nil, err
	}
	defer q.Close()
	select {
	case stats := <-statsCh:
		return stats, nil
	case <-time.After(s.Config.Timeout):
		return nil, fmt.Errorf("no stats received")
	}
}

// Run runs the shell.
func (s *Shell) Run(args ...string) {
	if s.Config.PortURL != "" {
		if s.Interactive {
			s.Shell.Printf("Connecting %s ...\n", s.Config.PortURL)
		}
		if err := s.Connect(s.Config.PortURL); err != nil {
			log.Fatalf("connect %q failed: %v", s.Config.PortURL, err)
		}
		defer s.Disconnect()
	}

	if len(args) > 0 {
		if err := s.Shell.Process(args...); err != nil {
			log.Fatalln(err)
		}
		return
	}
	if s.Interactive {
		s.Shell.Run()
		return
	}
	log.Fatalln("command expected")
}

var (
	// ConnectCmd connects a device link.
	ConnectCmd = ishell.Cmd{
		Name:    "connect",
		Aliases: []string{"c"},
		Help:    "URL",
		Func: func(c *ishell.Context) {
			if len(c.Args) != 1 {
				c.Err(fmt.Errorf("URL expected"))
				return
			}
			if err := ShellFrom(c).Connect(c.Args[0]); err != nil {
				c.Err(err)
			}
		},
	}

	// DisconnectCmd disconnects the current link.
	DisconnectCmd = ishell.Cmd{
		Name:    "disconnect",
		Aliases: []string{"d"},
		Help:    "",
		Func: func(c *ishell.Context) {
			if err := ShellFrom(c).Disconnect(); err != nil {
				c.Err(err)
			}
		},
	}

	// SendCmd sends one line to the device.
	SendCmd = ishell.Cmd{
		Name:    "send",
		Aliases: []string{"s"},
		Help:    "TEXT...",
		Func: MustBeConnected(func(c *ishell.Context) {
			if err := ShellFrom(c).Link.Send(strings.Join(c.Args, " ")); err != nil {
				c.Err(err)
			}
		}),
	}

	// StatsCmd shows device stats published over MQTT.
	StatsCmd = ishell.Cmd{
		Name: "stats",
		Help: "[DEVICE-ID]",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			var deviceID string
			if len(c.Args) > 0 {
				deviceID = c.Args[0]
			}
			stats, err := s.WatchStats(deviceID)
			if err != nil {
				c.Err(err)
				return
			}
			if s.OutputJSON {
				out, err := json.Marshal(stats)
				if err != nil {
					c.Err(err)
					return
				}
				c.Println(string(out))
				return
			}
			c.Println(FormatStats(stats))
		},
	}
)

// FormatStats prints Stats into friendly string for display.
func FormatStats(stats *telemetry.Stats) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: ticks=%d frames=%d", stats.DeviceID, stats.Ticks, stats.FramesReceived)
	fmt.Fprintf(&sb, " frame-errors=%d frame-overflows=%d", stats.FrameErrors, stats.FrameOverflows)
	fmt.Fprintf(&sb, " rx-overflows=%d tx-overflows=%d timer-overruns=%d",
		stats.RxOverflows, stats.TxOverflows, stats.TimerOverruns)
	if stats.LinkIdle {
		sb.WriteString(" idle")
	}
	return sb.String()
}

// Main is a helper to provide a single call in main.
func Main() {
	flag.Parse()
	New(NewConfig()).Run(flag.Args()...)
}
