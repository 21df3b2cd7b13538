// Package irq models interrupt sources for code that runs split between
// an interrupt context and a cooperative main loop.
//
// A Line stands for one interrupt source (a UART, the tick timer).
// Handlers raised on a line run one at a time and never while the main
// loop holds the line masked through Critical, which is the scoped form of
// disabling that interrupt around a shared-field update.
package irq

import (
	"sync"
	"sync/atomic"
)

// Line is one interrupt source.
type Line struct {
	name   string
	lock   sync.Mutex
	raised atomic.Uint64
}

// NewLine creates a Line.
func NewLine(name string) *Line {
	return &Line{name: name}
}

// Name returns the line name.
func (l *Line) Name() string {
	return l.name
}

// Raise runs handler in interrupt context of this line.
// handler must be short and must not block.
func (l *Line) Raise(handler func()) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.raised.Add(1)
	handler()
}

// Critical runs fn with the line masked: no handler of this line runs
// until fn returns. fn must not raise the same line.
func (l *Line) Critical(fn func()) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fn()
}

// Count returns how many times the line was raised.
func (l *Line) Count() uint64 {
	return l.raised.Load()
}
