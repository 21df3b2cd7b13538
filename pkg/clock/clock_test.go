package clock

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/fwcore/pkg/irq"
)

func TestElapsedAtLeast(t *testing.T) {
	testCases := []struct {
		name      string
		now       uint32
		ref       Tick
		threshold uint32
		expect    bool
	}{
		{"not yet", 100, 50, 51, false},
		{"exactly", 100, 50, 50, true},
		{"past", 1000, 0, 999, true},
		{"zero threshold", 7, 7, 0, true},
		{"wrapped not yet", 5, Tick(math.MaxUint32 - 10), 20, false},
		{"wrapped exactly", 9, Tick(math.MaxUint32 - 10), 20, true},
		{"wrapped past", 100, Tick(math.MaxUint32), 50, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var c Clock
			c.ticks.Store(tc.now)
			require.Equal(t, tc.expect, c.ElapsedAtLeast(tc.ref, tc.threshold))
		})
	}
}

func TestIncWraps(t *testing.T) {
	var c Clock
	c.ticks.Store(math.MaxUint32)
	ref := c.Now()
	c.Inc()
	require.Equal(t, Tick(0), c.Now())
	require.Equal(t, uint32(1), Since(c.Now(), ref))
	require.True(t, c.ElapsedAtLeast(ref, 1))
	require.False(t, c.ElapsedAtLeast(ref, 2))
}

func TestRate(t *testing.T) {
	require.Equal(t, time.Millisecond, DefaultRate.Period())
	require.Equal(t, time.Millisecond, Rate(0).Period())
	require.Equal(t, uint32(1000), DefaultRate.Ticks(time.Second))
	require.Equal(t, uint32(20), DefaultRate.Ticks(20*time.Millisecond))
	require.Equal(t, uint32(1), DefaultRate.Ticks(time.Microsecond))
	require.Equal(t, uint32(0), DefaultRate.Ticks(0))
	require.Equal(t, uint32(5), Rate(100).Ticks(50*time.Millisecond))
}

func TestSource(t *testing.T) {
	var c Clock
	var order []int
	src := NewSource(Rate(1000), irq.NewLine("tick"), &c).
		Add(HandleTickFunc(func() { order = append(order, 1) }), HandleTickFunc(func() { order = append(order, 2) }))
	src.Fire()
	src.Fire()
	require.Equal(t, Tick(2), c.Now())
	require.Equal(t, []int{1, 2, 1, 2}, order)

	var running Clock
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- NewSource(Rate(1000), irq.NewLine("run"), &running).Run(ctx) }()
	require.Eventually(t, func() bool { return running.Now() >= 3 }, time.Second, time.Millisecond)
	cancel()
	require.Equal(t, context.Canceled, <-errCh)
}
