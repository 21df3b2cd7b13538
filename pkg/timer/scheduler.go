// Package timer provides soft timers counted down by the hardware tick and
// dispatched from the main loop.
package timer

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/robotalks/fwcore/pkg/framework"
	"github.com/robotalks/fwcore/pkg/irq"
)

var (
	// ErrTableFull indicates no free slot is left in the timer table.
	ErrTableFull = errors.New("timer table full")
	// ErrUnknownID indicates the id does not refer to a registered timer.
	ErrUnknownID = errors.New("unknown timer id")
	// ErrZeroPeriod rejects timers that would never count down.
	ErrZeroPeriod = errors.New("zero timer period")
	// ErrNilCallback rejects timers without a callback.
	ErrNilCallback = errors.New("nil timer callback")
)

// ID is the stable handle of a timer: its slot index.
type ID int

// IDError wraps ErrUnknownID with the offending id.
type IDError struct {
	ID ID
}

// Error implements error.
func (e *IDError) Error() string {
	return fmt.Sprintf("%v: %d", ErrUnknownID, e.ID)
}

// Unwrap returns ErrUnknownID.
func (e *IDError) Unwrap() error {
	return ErrUnknownID
}

// Callback is invoked from the main loop when a timer is due.
type Callback interface {
	Fire()
}

// FireFunc is func type of Callback.
type FireFunc func()

// Fire implements Callback.
func (f FireFunc) Fire() {
	f()
}

// State is the run state of a timer.
type State int

const (
	// Stopped timers are neither counted down nor dispatched.
	Stopped State = iota
	// Running timers are counted down on every tick.
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "stopped"
}

type slot struct {
	name      string
	period    uint32
	remaining uint32
	callback  Callback
	repeat    bool
	active    bool
	fired     atomic.Uint64
	due       atomic.Bool
}

// Scheduler is a fixed-size table of soft timers.
//
// Tick runs in interrupt context of Line. Everything else runs in the
// main loop and takes Line's critical section around the fields Tick also
// touches. The due flag is the one field written on both sides without the
// critical section: Tick sets it, DispatchDue and Stop clear it.
type Scheduler struct {
	Line *irq.Line
	// Wake, if set, is called from Tick when a timer becomes due. It runs in
	// interrupt context and must not block.
	Wake func()

	slots    []slot
	count    int
	overruns atomic.Uint64
}

// NewScheduler creates a Scheduler with capacity slots.
func NewScheduler(capacity int, line *irq.Line) *Scheduler {
	return &Scheduler{Line: line, slots: make([]slot, capacity)}
}

// Cap returns the table capacity.
func (s *Scheduler) Cap() int {
	return len(s.slots)
}

// Len returns the number of registered timers.
func (s *Scheduler) Len() int {
	var n int
	s.Line.Critical(func() { n = s.count })
	return n
}

// Add registers a stopped timer with the given period in ticks.
func (s *Scheduler) Add(period uint32, cb Callback, repeat bool) (ID, error) {
	return s.AddNamed("", period, cb, repeat)
}

// AddNamed is Add with a name used in logs and listings.
func (s *Scheduler) AddNamed(name string, period uint32, cb Callback, repeat bool) (id ID, err error) {
	if period == 0 {
		return -1, ErrZeroPeriod
	}
	if cb == nil {
		return -1, ErrNilCallback
	}
	s.Line.Critical(func() {
		if s.count >= len(s.slots) {
			id, err = -1, ErrTableFull
			return
		}
		id = ID(s.count)
		if name == "" {
			name = fmt.Sprintf("timer-%d", id)
		}
		t := &s.slots[id]
		t.name, t.period, t.remaining = name, period, period
		t.callback, t.repeat = cb, repeat
		s.count++
	})
	return
}

// Start runs the timer with a fresh countdown of one period. A pending
// firing of the previous run is dropped.
func (s *Scheduler) Start(id ID) error {
	return s.update(id, func(t *slot) {
		t.remaining, t.active = t.period, true
		t.due.Store(false)
	})
}

// Stop stops the timer and drops a firing that is due but not dispatched.
func (s *Scheduler) Stop(id ID) error {
	return s.update(id, func(t *slot) {
		t.active = false
		t.due.Store(false)
	})
}

// State returns the run state of the timer.
func (s *Scheduler) State(id ID) (state State, err error) {
	err = s.update(id, func(t *slot) {
		if t.active || t.due.Load() {
			state = Running
		}
	})
	return
}

func (s *Scheduler) update(id ID, fn func(*slot)) (err error) {
	s.Line.Critical(func() {
		if id < 0 || int(id) >= s.count {
			err = &IDError{ID: id}
			return
		}
		fn(&s.slots[id])
	})
	return
}

// Tick advances every running timer by one tick. It must be called exactly
// once per hardware tick, in interrupt context, and never calls callbacks.
// A periodic timer is reloaded as soon as it reaches zero so its firings
// stay on whole multiples of the period from Start.
func (s *Scheduler) Tick() {
	var due bool
	for i := 0; i < s.count; i++ {
		t := &s.slots[i]
		if !t.active {
			continue
		}
		if t.remaining--; t.remaining > 0 {
			continue
		}
		if t.due.Swap(true) {
			s.overruns.Add(1)
		}
		if t.repeat {
			t.remaining = t.period
		} else {
			t.active = false
		}
		due = true
	}
	if due && s.Wake != nil {
		s.Wake()
	}
}

// HandleTick implements clock.TickHandler.
func (s *Scheduler) HandleTick() {
	s.Tick()
}

// DispatchDue invokes the callback of every due timer exactly once, lowest
// slot first, and returns how many fired. It must be called from the main
// loop.
func (s *Scheduler) DispatchDue() int {
	var fired int
	for i, n := 0, s.Len(); i < n; i++ {
		t := &s.slots[i]
		if !t.due.CompareAndSwap(true, false) {
			continue
		}
		t.fired.Add(1)
		fired++
		t.callback.Fire()
	}
	return fired
}

// Control implements framework.Controller.
func (s *Scheduler) Control(framework.ControlContext) error {
	s.DispatchDue()
	return nil
}

// AddToLoop implements framework.LoopAdder.
func (s *Scheduler) AddToLoop(l *framework.Loop) {
	l.AddController(framework.PrLvTimers, s)
}

// Overruns counts the times a timer became due again before the previous
// firing was dispatched.
func (s *Scheduler) Overruns() uint64 {
	return s.overruns.Load()
}

// Info describes a registered timer.
type Info struct {
	ID        ID
	Name      string
	Period    uint32
	Remaining uint32
	Repeat    bool
	State     State
	Fired     uint64
}

// List returns a snapshot of all registered timers.
func (s *Scheduler) List() []Info {
	var infos []Info
	s.Line.Critical(func() {
		infos = make([]Info, s.count)
		for i := range infos {
			t := &s.slots[i]
			infos[i] = Info{
				ID:        ID(i),
				Name:      t.name,
				Period:    t.period,
				Remaining: t.remaining,
				Repeat:    t.repeat,
				Fired:     t.fired.Load(),
			}
			if t.active || t.due.Load() {
				infos[i].State = Running
			}
		}
	})
	return infos
}
