package confsync

import (
	"reflect"
	"sync"
	"time"

	"github.com/bluele/gcache"

	"github.com/plume-design/opensync-sub021/internal/eventloop"
	"github.com/plume-design/opensync-sub021/internal/osw"
)

// State is the confsync state machine, §4.4.1.
type State int

const (
	StateIdle State = iota
	StateRequesting
	StateWaiting
	StateVerifying
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRequesting:
		return "REQUESTING"
	case StateWaiting:
		return "WAITING"
	case StateVerifying:
		return "VERIFYING"
	default:
		return "UNKNOWN"
	}
}

const (
	defaultRetry    = 30 * time.Second
	defaultDeadline = 10 * time.Second
	phyTreeCacheTTL = 60 * time.Second
)

// Builder produces the desired tree, normally by reading the current
// config store; tests substitute a fixed fixture.
type Builder func() []*osw.Phy

// ObserverFunc is the driver-side tree reader used on REQUESTING/
// VERIFYING.
type ObserverFunc func() []*osw.Phy

// DriverMux is the §6.2 driver mux: submit a reconfiguration plan, get
// back whether the driver accepted it.
type DriverMux interface {
	Submit(diffs []PhyDiff) (accepted bool)
}

// Machine is the confsync state machine, wiring the diff engine, gating,
// and a driver mux together under the Work-Scheduler-style deadline/retry
// timers, §4.4.1/§4.4.4.
type Machine struct {
	rt      eventloop.Runtime
	build   Builder
	observe ObserverFunc
	mux     DriverMux
	gate    *Gate
	opts    DiffOptions

	mu           sync.Mutex
	state        State
	retryTmr     eventloop.Timer
	deadlineTmr  eventloop.Timer
	subscribers  []func(State)

	lastTree     gcache.Cache // key "tree" -> []*osw.Phy, §4.4.4 60s cache
	lastDirty    bool         // verdict from the last reconcile that actually ran the diff
	weatherRadar map[string]bool
}

// NewMachine builds a Machine starting in IDLE.
func NewMachine(rt eventloop.Runtime, build Builder, observe ObserverFunc, mux DriverMux, opts DiffOptions) *Machine {
	return &Machine{
		rt:           rt,
		build:        build,
		observe:      observe,
		mux:          mux,
		gate:         NewGate(rt),
		opts:         opts,
		state:        StateIdle,
		lastTree:     gcache.New(1).LRU().Expiration(phyTreeCacheTTL).Build(),
		weatherRadar: map[string]bool{},
	}
}

// State returns the current state, for tests/diagnostics.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers a callback invoked on every state transition, §4.4.1
// ("an additional subscriber callback list").
func (m *Machine) Subscribe(fn func(State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

func (m *Machine) setState(s State) {
	m.state = s
	subs := append([]func(State){}, m.subscribers...)
	m.mu.Unlock()
	for _, fn := range subs {
		fn(s)
	}
	m.mu.Lock()
}

// ConfChanged is the external "conf-changed" signal, §4.4.1: always forces
// REQUESTING, even mid-VERIFYING.
func (m *Machine) ConfChanged() {
	m.mu.Lock()
	m.cancelTimersLocked()
	m.setState(StateRequesting)
	m.mu.Unlock()
	m.runRequesting()
}

// StateChanged is the external "state-changed" signal (driver/state-store
// tick), §4.4.1: IDLE->REQUESTING, WAITING->VERIFYING, else no-op. Never
// regresses the machine backwards, §5.
func (m *Machine) StateChanged() {
	m.mu.Lock()
	switch m.state {
	case StateIdle:
		m.cancelTimersLocked()
		m.setState(StateRequesting)
		m.mu.Unlock()
		m.runRequesting()
	case StateWaiting:
		m.cancelTimersLocked()
		m.setState(StateVerifying)
		m.mu.Unlock()
		m.runVerifying()
	default:
		m.mu.Unlock()
	}
}

func (m *Machine) cancelTimersLocked() {
	if m.retryTmr != nil {
		m.retryTmr.Cancel()
		m.retryTmr = nil
	}
	if m.deadlineTmr != nil {
		m.deadlineTmr.Cancel()
		m.deadlineTmr = nil
	}
}

// runRequesting implements the REQUESTING branch of §4.4.1, routed through
// Apply (§4.4.4): build+cache-check, diff, gate, submit.
func (m *Machine) runRequesting() {
	dirty := m.reconcile()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateRequesting {
		return
	}
	if dirty {
		m.armWaitingLocked()
	} else {
		m.setState(StateIdle)
	}
}

// runVerifying re-runs the reconciler from VERIFYING: dirty -> WAITING,
// clean -> IDLE, §4.4.1.
func (m *Machine) runVerifying() {
	dirty := m.reconcile()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateVerifying {
		return
	}
	if dirty {
		m.armWaitingLocked()
	} else {
		m.setState(StateIdle)
	}
}

func (m *Machine) armWaitingLocked() {
	m.setState(StateWaiting)
	m.retryTmr = m.rt.AfterFunc(defaultRetry, func() {
		m.mu.Lock()
		if m.state != StateWaiting {
			m.mu.Unlock()
			return
		}
		m.cancelTimersLocked()
		m.setState(StateRequesting)
		m.mu.Unlock()
		m.runRequesting()
	})
	m.deadlineTmr = m.rt.AfterFunc(defaultDeadline, func() {
		// The hard deadline forces progress regardless of idle state,
		// §4.4.1/§5; here that means re-running verification immediately
		// rather than waiting out the full retry window.
		m.StateChanged()
	})
}

// reconcile implements Apply, §4.4.4: build the desired tree, short-circuit
// against the 60s cache if unchanged, else diff+gate+submit.
func (m *Machine) reconcile() (dirty bool) {
	desired := m.build()
	observed := m.observe()

	if cached, err := m.lastTree.Get("tree"); err == nil {
		if same, ok := cached.([]*osw.Phy); ok && treesEqual(same, desired) && !m.lastDirty {
			// The desired tree hasn't changed since the last check, and
			// that check found nothing to do; skip rebuilding/diffing,
			// §4.4.4. A still-outstanding plan (lastDirty) always falls
			// through so WAITING's retry can keep nudging the driver.
			return false
		}
	}
	_ = m.lastTree.Set("tree", desired)

	diffs := Diff(desired, observed, m.opts)
	m.gate.ApplyGating(diffs, observed, m.rt.Now(), m.weatherRadar)

	for _, pd := range diffs {
		if pd.Changed {
			dirty = true
		}
	}
	m.lastDirty = dirty
	if !dirty {
		return false
	}

	accepted := m.mux.Submit(diffs)
	if !accepted && !m.anyDeferred(diffs) {
		m.lastDirty = false
		return false
	}
	return true
}

func (m *Machine) anyDeferred(diffs []PhyDiff) bool {
	for _, pd := range diffs {
		for _, vd := range pd.VIFs {
			if m.gate.Deferred(vd.Name) {
				return true
			}
		}
	}
	return false
}

// treesEqual is the §4.4.4 "identical to the cached last phy tree" check.
// It compares tree content (not pointer identity), since the builder
// reconstructs the tree fresh from the store on every call.
func treesEqual(a, b []*osw.Phy) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !reflect.DeepEqual(*a[i], *b[i]) {
			return false
		}
	}
	return true
}
