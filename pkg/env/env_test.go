package env

import (
	"flag"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/fwcore/pkg/clock"
	"github.com/robotalks/fwcore/pkg/comm"
)

func TestParseTerminator(t *testing.T) {
	testCases := []struct {
		input  string
		expect byte
		err    bool
	}{
		{`\r`, '\r', false},
		{`\n`, '\n', false},
		{`;`, ';', false},
		{`\x00`, 0, false},
		{`\x7f`, 0x7f, false},
		{``, 0, true},
		{`ab`, 0, true},
		{`\r\n`, 0, true},
	}
	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			b, err := ParseTerminator(tc.input)
			if tc.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.expect, b)
		})
	}
}

func TestFlags(t *testing.T) {
	conf := NewConfig()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	dev := &conf.Device
	fs.Var((*rateValue)(&dev.TickRate), "tick-rate", "")
	fs.Var((*terminatorValue)(&dev.Terminator), "terminator", "")
	fs.Var((*overflowValue)(&dev.Overflow), "frame-overflow", "")
	fs.Var(&ticksValue{&dev.HeartbeatTicks, &conf.HeartbeatPeriod}, "heartbeat", "")
	fs.Var(&ticksValue{&dev.IdleTicks, &conf.IdleTimeout}, "idle-timeout", "")
	require.NoError(t, fs.Parse([]string{
		"-tick-rate", "500",
		"-terminator", `\n`,
		"-frame-overflow", "truncate",
		"-heartbeat", "0",
		"-idle-timeout", "3s",
	}))
	require.Equal(t, clock.Rate(500), dev.TickRate)
	require.Equal(t, byte('\n'), dev.Terminator)
	require.Equal(t, comm.OverflowTruncate, dev.Overflow)
	require.Zero(t, dev.HeartbeatTicks)
	require.Equal(t, 3*time.Second, conf.IdleTimeout)
	require.Equal(t, uint32(1500), conf.DeviceConfig().IdleTicks)
	require.Zero(t, conf.DeviceConfig().HeartbeatTicks)

	require.Error(t, (*rateValue)(&dev.TickRate).Set("0"))
	require.Error(t, (*overflowValue)(&dev.Overflow).Set("wrap"))
	require.Equal(t, `'\n'`, (*terminatorValue)(&dev.Terminator).String())
	require.Error(t, (&ticksValue{&dev.StatsTicks, &conf.StatsPeriod}).Set("-1s"))
	require.Equal(t, "0", (&ticksValue{}).String())

	// defaults are untouched
	require.Equal(t, comm.DefaultTerminator, Default().Device.Terminator)
}

func TestNewEnv(t *testing.T) {
	conf := NewConfig()
	conf.Device.ID = "dev1"
	conf.MQTTBrokerURL = "mqtt://localhost:1883/vcom/"
	env, err := conf.NewEnv()
	require.NoError(t, err)
	require.NotNil(t, env.Queue)
	require.Equal(t, "vcom/", env.Queue.TopicPrefix)
	require.NotNil(t, env.Device.Publisher)
	require.Equal(t, conf.LoopInterval, env.Device.Loop.Interval)

	conf.PortURL = ""
	_, err = conf.NewEnv()
	require.Error(t, err)
}

func TestDeviceConfigPeriods(t *testing.T) {
	testCases := []struct {
		rate   clock.Rate
		period time.Duration
		ticks  uint32
	}{
		{1000, time.Second, 1000},
		{100, 250 * time.Millisecond, 25},
		{1000, 500 * time.Microsecond, 1},
		{10, 1050 * time.Millisecond, 10},
	}
	for _, tc := range testCases {
		conf := NewConfig()
		conf.Device.TickRate = tc.rate
		conf.HeartbeatPeriod = tc.period
		require.Equalf(t, tc.ticks, conf.DeviceConfig().HeartbeatTicks, "%v at %d Hz", tc.period, tc.rate)
		require.Equal(t, conf.Device.StatsTicks, conf.DeviceConfig().StatsTicks)
	}
}

func TestMachineID(t *testing.T) {
	require.NotEmpty(t, MachineID())
}
