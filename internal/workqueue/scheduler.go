// Package workqueue implements the Work Scheduler from spec §4.1: a
// deferred work primitive binding a callback, a deadline (upper bound on
// dispatch latency), and a cooldown (minimum spacing between dispatches).
package workqueue

import (
	"sync"
	"time"

	"github.com/plume-design/opensync-sub021/internal/eventloop"
)

// State is the Work Scheduler's state machine, §4.1.
type State int

const (
	Idle State = iota
	Pending
	CoolingDown
	CoolingDownAndPending
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Pending:
		return "PENDING"
	case CoolingDown:
		return "COOLING_DOWN"
	case CoolingDownAndPending:
		return "COOLING_DOWN_AND_PENDING"
	default:
		return "UNKNOWN"
	}
}

// Work is one deadline+cooldown debounced callback. Zero value is not
// usable; construct with New.
type Work struct {
	rt       eventloop.Runtime
	callback func()
	deadline time.Duration
	cooldown time.Duration

	mu           sync.Mutex
	state        State
	deadlineTmr  eventloop.Timer
	idleTmr      eventloop.Timer
	cooldownTmr  eventloop.Timer

	// Scheduled/Fired/CooledDown are cumulative diagnostic counters
	// carried over from the original cm2_work debug counters.
	Scheduled  int64
	Fired      int64
	CooledDown int64
}

// New creates a Work item bound to the given runtime. callback is invoked
// at most once per cooldown window (the scheduler's core contract).
func New(rt eventloop.Runtime, deadline, cooldown time.Duration, callback func()) *Work {
	return &Work{
		rt:       rt,
		callback: callback,
		deadline: deadline,
		cooldown: cooldown,
		state:    Idle,
	}
}

// State returns the current state machine state, for tests/diagnostics.
func (w *Work) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Schedule requests the callback run soon, per the table in §4.1:
//
//	IDLE                      -> PENDING, arms deadline timer + idle callback
//	PENDING                   -> no-op
//	COOLING_DOWN              -> COOLING_DOWN_AND_PENDING
//	COOLING_DOWN_AND_PENDING  -> no-op
func (w *Work) Schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Scheduled++

	switch w.state {
	case Idle:
		w.state = Pending
		w.deadlineTmr = w.rt.AfterFunc(w.deadline, w.fireLocked)
		w.idleTmr = w.rt.RunWhenIdle(w.fireLocked)
	case Pending:
		// no-op
	case CoolingDown:
		w.state = CoolingDownAndPending
	case CoolingDownAndPending:
		// no-op
	}
}

// Cancel disarms the work item unconditionally and returns it to IDLE.
func (w *Work) Cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cancelTimersLocked()
	w.state = Idle
}

func (w *Work) cancelTimersLocked() {
	if w.deadlineTmr != nil {
		w.deadlineTmr.Cancel()
		w.deadlineTmr = nil
	}
	if w.idleTmr != nil {
		w.idleTmr.Cancel()
		w.idleTmr = nil
	}
	if w.cooldownTmr != nil {
		w.cooldownTmr.Cancel()
		w.cooldownTmr = nil
	}
}

// fireLocked is shared by both the idle-fire and deadline-fire paths: per
// §4.1 they're identical ("deadline-fire: identical to idle-fire, forces
// progress"). Only valid to run from PENDING.
func (w *Work) fireLocked() {
	w.mu.Lock()
	if w.state != Pending {
		w.mu.Unlock()
		return
	}
	w.cancelTimersLocked()
	w.state = CoolingDown
	w.Fired++
	cb := w.callback
	w.cooldownTmr = w.rt.AfterFunc(w.cooldown, w.cooldownFire)
	w.mu.Unlock()

	cb()
}

func (w *Work) cooldownFire() {
	w.mu.Lock()
	w.CooledDown++
	switch w.state {
	case CoolingDown:
		w.state = Idle
		w.mu.Unlock()
	case CoolingDownAndPending:
		w.state = Idle
		w.mu.Unlock()
		w.Schedule()
	default:
		w.mu.Unlock()
	}
}
