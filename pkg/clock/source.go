package clock

import (
	"context"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/fwcore/pkg/irq"
)

// TickHandler is called once per hardware tick in interrupt context.
type TickHandler interface {
	HandleTick()
}

// HandleTickFunc is func type of TickHandler.
type HandleTickFunc func()

// HandleTick implements TickHandler.
func (f HandleTickFunc) HandleTick() {
	f()
}

// Source is the periodic tick interrupt. Each period it raises Line and
// calls every handler in registration order.
type Source struct {
	Rate     Rate
	Line     *irq.Line
	Handlers []TickHandler
}

// NewSource creates a Source raising line at rate.
func NewSource(rate Rate, line *irq.Line, handlers ...TickHandler) *Source {
	return &Source{Rate: rate, Line: line, Handlers: handlers}
}

// Add registers more handlers. Must be called before Run.
func (s *Source) Add(handlers ...TickHandler) *Source {
	s.Handlers = append(s.Handlers, handlers...)
	return s
}

// Fire delivers one tick synchronously.
func (s *Source) Fire() {
	s.Line.Raise(func() {
		for _, h := range s.Handlers {
			h.HandleTick()
		}
	})
}

// Run implements Runnable.
func (s *Source) Run(ctx context.Context) error {
	period := s.Rate.Period()
	glog.Infof("tick source %s started: %v per tick", s.Line.Name(), period)
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Fire()
		}
	}
}
