package framework

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
)

// Loop is the cooperative main loop. Each iteration runs every controller
// to completion, ordered by priority level and then by registration. An
// iteration starts when TriggerNext is called or Interval elapses,
// whichever comes first.
type Loop struct {
	Interval time.Duration

	controllers [PriorityLevels][]Controller
	runners     []Runnable

	messages messageList
	lock     sync.Mutex

	wakeUpCh   chan struct{}
	iterations atomic.Uint64
}

// DefaultInterval is the idle interval between iterations.
const DefaultInterval = 100 * time.Millisecond

// LoopAdder provides specific logic to add components to loop.
type LoopAdder interface {
	AddToLoop(*Loop)
}

type loopIteration struct {
	*Loop
	ctx      context.Context
	seq      uint64
	time     time.Time
	messages messageList
}

type messageList struct {
	head *messageItem
	tail *messageItem
}

type messageItem struct {
	msg  Message
	next *messageItem
}

func (l *messageList) append(item *messageItem) {
	if l.head == nil {
		l.head = item
	} else {
		l.tail.next = item
	}
	l.tail = item
}

// take moves all items of src into l, which must be empty.
func (l *messageList) take(src *messageList) {
	l.head, l.tail = src.head, src.tail
	src.head, src.tail = nil, nil
}

func (l *messageList) concat(lst *messageList) {
	if lst.head == nil {
		return
	}
	if l.head == nil {
		l.head = lst.head
	} else {
		l.tail.next = lst.head
	}
	l.tail = lst.tail
}

func (l *messageList) len() (n int) {
	for item := l.head; item != nil; item = item.next {
		n++
	}
	return
}

// NewLoop creates a Loop.
func NewLoop() *Loop {
	return &Loop{
		Interval: DefaultInterval,
		wakeUpCh: make(chan struct{}, 1),
	}
}

// Add adds LoopAdders.
func (l *Loop) Add(adders ...LoopAdder) *Loop {
	for _, adder := range adders {
		adder.AddToLoop(l)
	}
	return l
}

// AddController registers controllers at priorityLevel. Controllers which
// are also Runnable are started with the loop.
func (l *Loop) AddController(priorityLevel int, ctls ...Controller) *Loop {
	l.controllers[priorityLevel] = append(l.controllers[priorityLevel], ctls...)
	for _, ctl := range ctls {
		if runner, ok := ctl.(Runnable); ok {
			l.runners = append(l.runners, runner)
		}
	}
	return l
}

// AddRunnable adds Runnable implementions started with the loop.
func (l *Loop) AddRunnable(runnables ...Runnable) *Loop {
	l.runners = append(l.runners, runnables...)
	return l
}

// Iterations returns the number of completed iterations.
func (l *Loop) Iterations() uint64 {
	return l.iterations.Load()
}

// Run implements Runnable. Runnables added to the loop run alongside and
// the loop stops when ctx is done or any of them fails.
func (l *Loop) Run(ctx context.Context) error {
	if l.wakeUpCh == nil {
		l.wakeUpCh = make(chan struct{}, 1)
	}
	runner := NewRunnerWith(ctx)
	runner.StopOnError = true
	runner.Go(l.runners...)

	interval := l.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-runner.Context.Done():
			if err := runner.Wait(); err != nil {
				return err
			}
			return context.Canceled
		case <-ticker.C:
			l.RunIteration(ctx)
		case <-l.wakeUpCh:
			l.RunIteration(ctx)
		}
	}
}

// PostMessage implements LoopControl.
func (l *Loop) PostMessage(msg Message) {
	l.lock.Lock()
	l.messages.append(&messageItem{msg: msg})
	l.lock.Unlock()
}

// TriggerNext implements LoopControl.
func (l *Loop) TriggerNext() {
	select {
	case l.wakeUpCh <- struct{}{}:
	default:
	}
}

// RunIteration runs all controllers once. Run calls it; tests and
// single-stepped hosts may call it directly.
func (l *Loop) RunIteration(ctx context.Context) {
	iter := &loopIteration{Loop: l, ctx: ctx, time: time.Now()}
	iter.seq = l.iterations.Add(1)
	l.lock.Lock()
	iter.messages.take(&l.messages)
	l.lock.Unlock()
	for level := range l.controllers {
		for _, ctl := range l.controllers[level] {
			if err := ctl.Control(iter); err != nil {
				glog.Errorf("controller error: %v", err)
			}
		}
	}
	if n := iter.messages.len(); n > 0 && glog.V(3) {
		glog.Infof("iteration %d dropped %d unprocessed messages", iter.seq, n)
	}
}

func (t *loopIteration) Context() context.Context {
	return t.ctx
}

func (t *loopIteration) Iteration() uint64 {
	return t.seq
}

func (t *loopIteration) Time() time.Time {
	return t.time
}

func (t *loopIteration) Messages() MessageStore {
	return t
}

type messageContext struct {
	item  *messageItem
	taken bool
	stop  bool
}

func (c *messageContext) CurrentMessage() Message { return c.item.msg }
func (c *messageContext) MessageTaken()           { c.taken = true }
func (c *messageContext) StopProcessing()         { c.stop = true }

func (t *loopIteration) ProcessMessages(proc MessageProcessor) {
	var msgs, remains messageList
	msgs.take(&t.messages)
	for msgs.head != nil {
		mctx := &messageContext{item: msgs.head}
		if msgs.head = msgs.head.next; msgs.head == nil {
			msgs.tail = nil
		}
		mctx.item.next = nil
		proc.ProcessMessage(mctx)
		if !mctx.taken {
			remains.append(mctx.item)
		}
		if mctx.stop {
			remains.concat(&msgs)
			break
		}
	}
	remains.concat(&t.messages)
	t.messages = remains
}

func (t *loopIteration) AddMessages(msgs ...Message) {
	for _, msg := range msgs {
		t.messages.append(&messageItem{msg: msg})
	}
}
