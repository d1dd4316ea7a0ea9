// Package timer provides the timer service. Timers fire as TimerFired
// messages dispatched to the service that created them.
package timer

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"code.hybscloud.com/atomix"
	"github.com/najoast/strand/core"
)

// DefaultName is the name the timer service registers when the config
// does not set <name>.register_name.
const DefaultName = "Timer"

type event struct {
	id        core.TimerID
	owner     core.ServiceID
	token     int
	interval  time.Duration
	recurring bool
	cancelled bool
	timer     *time.Timer
}

// Timer is the timer service. Every event is added, fired and cancelled
// on one owner goroutine, so an event fires at most once per arming and
// a cancelled event never fires.
type Timer struct {
	svc    *core.Service
	logger *slog.Logger

	ids    atomix.Uint32
	live   atomic.Int64
	events map[core.TimerID]*event // owner goroutine only

	cmds     chan func()
	done     chan struct{}
	stopOnce sync.Once
	exited   chan struct{}
}

// New creates the timer service on ctx. The registered name is read from
// the "<name>.register_name" setting.
func New(ctx *core.Context, name string) (*Timer, error) {
	registerName := ctx.Config(name+".register_name", DefaultName)
	if ctx.QueryName(registerName) != nil {
		return nil, fmt.Errorf("timer: name %q is already registered", registerName)
	}

	t := &Timer{
		svc:    core.NewService(ctx, registerName),
		events: make(map[core.TimerID]*event),
		cmds:   make(chan func(), 1024),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	t.logger = t.svc.Logger().With("component", "timer")

	if !ctx.Executor().Go(t.loop) {
		ctx.Remove(t.svc)
		return nil, fmt.Errorf("timer: executor is stopped")
	}
	return t, nil
}

// Service returns the underlying service.
func (t *Timer) Service() *core.Service {
	return t.svc
}

// AddTimer starts a recurring timer that fires every d until cancelled.
func (t *Timer) AddTimer(d time.Duration, owner core.ServiceID, token int) core.TimerID {
	return t.add(d, owner, token, true)
}

// AddCallback starts a one-shot timer that fires once after d.
func (t *Timer) AddCallback(d time.Duration, owner core.ServiceID, token int) core.TimerID {
	return t.add(d, owner, token, false)
}

func (t *Timer) add(d time.Duration, owner core.ServiceID, token int, recurring bool) core.TimerID {
	id := core.TimerID(t.ids.Add(1))
	t.post(func() {
		e := &event{
			id:        id,
			owner:     owner,
			token:     token,
			interval:  d,
			recurring: recurring,
		}
		t.events[id] = e
		t.live.Add(1)
		e.timer = time.AfterFunc(d, func() {
			t.post(func() { t.fire(e) })
		})
	})
	return id
}

// Cancel stops an event. It returns before the cancel takes effect; a
// fire that is already queued is swallowed.
func (t *Timer) Cancel(id core.TimerID) {
	t.post(func() {
		e, ok := t.events[id]
		if !ok || e.cancelled {
			return
		}
		e.cancelled = true
		if e.timer.Stop() {
			t.destroy(e)
		}
		// Otherwise a fire is queued and takes the cancelled branch.
	})
}

// Live returns the number of events not yet destroyed.
func (t *Timer) Live() int {
	return int(t.live.Load())
}

// Stop cancels every event and ends the owner goroutine.
func (t *Timer) Stop() {
	t.stopOnce.Do(func() { close(t.done) })
	<-t.exited
}

func (t *Timer) fire(e *event) {
	if e.cancelled {
		t.destroy(e)
		return
	}

	core.Dispatch(t.svc, e.owner, core.TimerFired{Event: e.id, Token: e.token})

	if e.recurring {
		e.timer.Reset(e.interval)
		return
	}
	t.destroy(e)
}

func (t *Timer) destroy(e *event) {
	if _, ok := t.events[e.id]; !ok {
		return
	}
	delete(t.events, e.id)
	t.live.Add(-1)
}

func (t *Timer) post(fn func()) bool {
	select {
	case t.cmds <- fn:
		return true
	case <-t.done:
		return false
	}
}

func (t *Timer) loop() {
	defer close(t.exited)

	ctxDone := t.svc.Context().Done()
	for {
		select {
		case fn := <-t.cmds:
			fn()
		case <-ctxDone:
			t.stopOnce.Do(func() { close(t.done) })
			t.shutdown()
			return
		case <-t.done:
			t.shutdown()
			return
		}
	}
}

func (t *Timer) shutdown() {
	for _, e := range t.events {
		e.timer.Stop()
		t.destroy(e)
	}
	t.logger.Debug("timer stopped")
}

// Now returns the wall clock in milliseconds since the epoch.
func Now() int64 {
	return time.Now().UnixMilli()
}

// MicroNow returns the wall clock in microseconds since the epoch.
func MicroNow() int64 {
	return time.Now().UnixMicro()
}

// NanoNow returns the wall clock in nanoseconds since the epoch.
func NanoNow() int64 {
	return time.Now().UnixNano()
}
