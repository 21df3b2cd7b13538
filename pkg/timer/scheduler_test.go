package timer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/fwcore/pkg/irq"
)

type firings struct {
	log []string
}

func (f *firings) cb(name string) Callback {
	return FireFunc(func() { f.log = append(f.log, name) })
}

func (f *firings) take() []string {
	log := f.log
	f.log = nil
	return log
}

func newTestScheduler(capacity int) *Scheduler {
	return NewScheduler(capacity, irq.NewLine("tick"))
}

func ticks(s *Scheduler, n int) {
	for i := 0; i < n; i++ {
		s.Tick()
	}
}

func TestPeriodicEveryThreeTicks(t *testing.T) {
	var f firings
	s := newTestScheduler(4)
	id, err := s.Add(3, f.cb("p"), true)
	require.NoError(t, err)
	require.NoError(t, s.Start(id))

	ticks(s, 3)
	require.Equal(t, 1, s.DispatchDue())
	require.Equal(t, []string{"p"}, f.take())

	ticks(s, 3)
	require.Equal(t, 1, s.DispatchDue())
	require.Equal(t, []string{"p"}, f.take())
}

func TestPeriodicFiresOnMultiples(t *testing.T) {
	var f firings
	var firedAt []int
	s := newTestScheduler(1)
	id, err := s.Add(4, FireFunc(func() { f.log = append(f.log, "x") }), true)
	require.NoError(t, err)
	require.NoError(t, s.Start(id))
	for tick := 1; tick <= 20; tick++ {
		s.Tick()
		if s.DispatchDue() > 0 {
			firedAt = append(firedAt, tick)
		}
	}
	require.Equal(t, []int{4, 8, 12, 16, 20}, firedAt)
	require.Len(t, f.log, 5)
}

func TestOneShot(t *testing.T) {
	var f firings
	s := newTestScheduler(1)
	id, err := s.Add(2, f.cb("once"), false)
	require.NoError(t, err)
	state, err := s.State(id)
	require.NoError(t, err)
	require.Equal(t, Stopped, state)

	require.NoError(t, s.Start(id))
	ticks(s, 2)
	state, _ = s.State(id)
	require.Equal(t, Running, state)
	require.Equal(t, 1, s.DispatchDue())
	state, _ = s.State(id)
	require.Equal(t, Stopped, state)

	ticks(s, 10)
	require.Zero(t, s.DispatchDue())
	require.Equal(t, []string{"once"}, f.take())

	require.NoError(t, s.Start(id))
	ticks(s, 2)
	require.Equal(t, 1, s.DispatchDue())
	require.Equal(t, []string{"once"}, f.take())
}

func TestStopSuppressesDueFiring(t *testing.T) {
	var f firings
	s := newTestScheduler(2)
	id, err := s.Add(2, f.cb("p"), true)
	require.NoError(t, err)
	require.NoError(t, s.Start(id))
	ticks(s, 2)
	require.NoError(t, s.Stop(id))
	require.Zero(t, s.DispatchDue())
	ticks(s, 10)
	require.Zero(t, s.DispatchDue())
	require.Empty(t, f.take())
	state, _ := s.State(id)
	require.Equal(t, Stopped, state)
}

func TestStartRestartsCountdown(t *testing.T) {
	var f firings
	s := newTestScheduler(1)
	id, _ := s.Add(3, f.cb("p"), true)
	require.NoError(t, s.Start(id))
	ticks(s, 2)
	require.NoError(t, s.Start(id))
	ticks(s, 2)
	require.Zero(t, s.DispatchDue())
	s.Tick()
	require.Equal(t, 1, s.DispatchDue())
}

func TestDispatchOrder(t *testing.T) {
	var f firings
	s := newTestScheduler(3)
	for _, name := range []string{"a", "b", "c"} {
		id, err := s.Add(5, f.cb(name), true)
		require.NoError(t, err)
		require.NoError(t, s.Start(id))
	}
	ticks(s, 5)
	require.Equal(t, 3, s.DispatchDue())
	require.Equal(t, []string{"a", "b", "c"}, f.take())
}

func TestOverrunCoalesces(t *testing.T) {
	var f firings
	s := newTestScheduler(1)
	id, _ := s.Add(2, f.cb("p"), true)
	require.NoError(t, s.Start(id))
	ticks(s, 6)
	require.Equal(t, 1, s.DispatchDue())
	require.Equal(t, uint64(2), s.Overruns())
	s.Tick()
	require.Zero(t, s.DispatchDue())
	s.Tick()
	require.Equal(t, 1, s.DispatchDue())
}

func TestAddErrors(t *testing.T) {
	var f firings
	s := newTestScheduler(2)
	_, err := s.Add(0, f.cb("zero"), true)
	require.Equal(t, ErrZeroPeriod, err)
	_, err = s.Add(1, nil, true)
	require.Equal(t, ErrNilCallback, err)

	for i := 0; i < 2; i++ {
		id, err := s.Add(1, f.cb("ok"), false)
		require.NoError(t, err)
		require.Equal(t, ID(i), id)
	}
	id, err := s.Add(1, f.cb("full"), false)
	require.Equal(t, ErrTableFull, err)
	require.Equal(t, ID(-1), id)
	require.Equal(t, 2, s.Len())
	require.Equal(t, 2, s.Cap())
}

func TestUnknownID(t *testing.T) {
	s := newTestScheduler(2)
	_, err := s.Add(1, FireFunc(func() {}), true)
	require.NoError(t, err)
	for _, id := range []ID{-1, 1, 5} {
		err := s.Start(id)
		require.True(t, errors.Is(err, ErrUnknownID))
		require.Equal(t, &IDError{ID: id}, err)
		require.True(t, errors.Is(s.Stop(id), ErrUnknownID))
		_, err = s.State(id)
		require.True(t, errors.Is(err, ErrUnknownID))
	}
}

func TestCallbackCanStopItself(t *testing.T) {
	s := newTestScheduler(1)
	var id ID
	var fired int
	id, _ = s.Add(1, FireFunc(func() {
		fired++
		require.NoError(t, s.Stop(id))
	}), true)
	require.NoError(t, s.Start(id))
	ticks(s, 1)
	require.Equal(t, 1, s.DispatchDue())
	ticks(s, 3)
	require.Zero(t, s.DispatchDue())
	require.Equal(t, 1, fired)
}

func TestList(t *testing.T) {
	s := newTestScheduler(2)
	_, err := s.AddNamed("heartbeat", 10, FireFunc(func() {}), true)
	require.NoError(t, err)
	id, err := s.Add(3, FireFunc(func() {}), false)
	require.NoError(t, err)
	require.NoError(t, s.Start(id))
	s.Tick()
	require.Equal(t, []Info{
		{ID: 0, Name: "heartbeat", Period: 10, Remaining: 10, Repeat: true, State: Stopped},
		{ID: 1, Name: "timer-1", Period: 3, Remaining: 2, Repeat: false, State: Running},
	}, s.List())
}

func TestWake(t *testing.T) {
	s := newTestScheduler(1)
	var woken int
	s.Wake = func() { woken++ }
	id, _ := s.Add(2, FireFunc(func() {}), true)
	require.NoError(t, s.Start(id))
	ticks(s, 5)
	require.Equal(t, 2, woken)
}
