// Package eventloop provides the "runtime" handle described in spec §9:
// reconcilers and the confsync state machine never touch time.Timer or
// goroutines directly. They're handed a Runtime at construction and call
// its Timer/Idle primitives, so tests can substitute a virtual clock and
// production can substitute a real one without the two ever intermixing.
package eventloop

import (
	"container/heap"
	"sync"
	"time"
)

// Timer is a single-shot or cancelable deadline. Cancel is idempotent.
type Timer interface {
	Cancel()
}

// Runtime is the event-loop primitive set consumed by every component in
// this module: the Work Scheduler, the CMU/DHCP/GRE/MLO reconcilers, and
// the confsync state machine.
type Runtime interface {
	// Now returns the runtime's notion of wall-clock time.
	Now() time.Time

	// AfterFunc arms fn to run once, no earlier than d from now. The
	// returned Timer can cancel it before it fires.
	AfterFunc(d time.Duration, fn func()) Timer

	// RunWhenIdle arms fn to run the next time the runtime has no other
	// pending work ready to run. It is the "idle callback" primitive from
	// §4.1/§4.2: used to coalesce bursts of updates within one tick.
	// The returned Timer can cancel it before it fires.
	RunWhenIdle(fn func()) Timer
}

// real is a goroutine/channel backed Runtime for production use. Idle
// callbacks are modeled as work submitted to a single dispatch goroutine
// that always drains its run queue before re-checking for newly-armed
// idle callbacks, giving the "runs once the current burst settles"
// semantics the reconcilers rely on.
type real struct {
	mu      sync.Mutex
	pending []func()
	wake    chan struct{}
	closed  chan struct{}
}

// NewRuntime returns a production Runtime backed by real wall-clock time
// and a background dispatch goroutine.
func NewRuntime() Runtime {
	r := &real{
		wake:   make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
	go r.dispatch()
	return r
}

func (r *real) Now() time.Time { return time.Now() }

type cancelFunc func()

func (c cancelFunc) Cancel() { c() }

func (r *real) AfterFunc(d time.Duration, fn func()) Timer {
	t := time.AfterFunc(d, func() { r.submit(fn) })
	return cancelFunc(func() { t.Stop() })
	// t.Stop's bool return is discarded intentionally: Cancel is
	// idempotent by contract, and a timer that already fired has nothing
	// left to cancel.
}

func (r *real) RunWhenIdle(fn func()) Timer {
	cancelled := make(chan struct{})
	var once sync.Once
	r.submit(func() {
		select {
		case <-cancelled:
		default:
			fn()
		}
	})
	return cancelFunc(func() {
		once.Do(func() { close(cancelled) })
	})
}

func (r *real) submit(fn func()) {
	r.mu.Lock()
	r.pending = append(r.pending, fn)
	r.mu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *real) dispatch() {
	for {
		select {
		case <-r.wake:
		case <-r.closed:
			return
		}
		for {
			r.mu.Lock()
			if len(r.pending) == 0 {
				r.mu.Unlock()
				break
			}
			fn := r.pending[0]
			r.pending = r.pending[1:]
			r.mu.Unlock()
			fn()
		}
	}
}

// Close stops the dispatch goroutine. Safe to call once.
func (r *real) Close() { close(r.closed) }

// --- virtual clock, for timestamp-driven / deterministic tests ---

type virtualTimer struct {
	idx     int
	at      time.Time
	fn      func()
	cancel  bool
	isIdle  bool
}

// virtualHeap orders pending virtual timers by fire time.
type virtualHeap []*virtualTimer

func (h virtualHeap) Len() int            { return len(h) }
func (h virtualHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h virtualHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].idx = i; h[j].idx = j }
func (h *virtualHeap) Push(x interface{}) {
	t := x.(*virtualTimer)
	t.idx = len(*h)
	*h = append(*h, t)
}
func (h *virtualHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	*h = old[:n-1]
	return t
}

// Virtual is a Runtime whose clock only advances when Advance is called,
// whose idle callbacks only run when RunIdle is called, and whose callbacks
// all execute synchronously on the calling goroutine. It is used by tests that need to drive a reconciler through a
// finite event trace deterministically (S1-S6 and the convergence property
// in §8).
type Virtual struct {
	mu    sync.Mutex
	now   time.Time
	idles []*virtualTimer
	heap  virtualHeap
}

// NewVirtual creates a Virtual runtime starting at the given time.
func NewVirtual(start time.Time) *Virtual {
	return &Virtual{now: start}
}

func (v *Virtual) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

func (v *Virtual) AfterFunc(d time.Duration, fn func()) Timer {
	v.mu.Lock()
	t := &virtualTimer{at: v.now.Add(d), fn: fn}
	heap.Push(&v.heap, t)
	v.mu.Unlock()
	return cancelFunc(func() {
		v.mu.Lock()
		t.cancel = true
		v.mu.Unlock()
	})
}

func (v *Virtual) RunWhenIdle(fn func()) Timer {
	v.mu.Lock()
	t := &virtualTimer{fn: fn, isIdle: true}
	v.idles = append(v.idles, t)
	v.mu.Unlock()
	return cancelFunc(func() {
		v.mu.Lock()
		t.cancel = true
		v.mu.Unlock()
	})
}

// RunIdle fires every currently-armed idle callback, in arming order. It
// mirrors a single pass of a real event loop's "nothing else to do" point.
// Idle callbacks armed by callbacks run in this same pass are picked up by
// a subsequent RunIdle call, not this one - matching a real loop where a
// newly-armed idle callback waits for the next idle point.
func (v *Virtual) RunIdle() {
	v.mu.Lock()
	due := v.idles
	v.idles = nil
	v.mu.Unlock()

	for _, t := range due {
		v.mu.Lock()
		cancelled := t.cancel
		v.mu.Unlock()
		if !cancelled {
			t.fn()
		}
	}
}

// Advance moves the virtual clock forward by d, firing any deadline timers
// whose fire time has now passed, in fire-time order.
func (v *Virtual) Advance(d time.Duration) {
	v.mu.Lock()
	target := v.now.Add(d)
	v.mu.Unlock()

	for {
		v.mu.Lock()
		if v.heap.Len() == 0 || v.heap[0].at.After(target) {
			v.now = target
			v.mu.Unlock()
			return
		}
		t := heap.Pop(&v.heap).(*virtualTimer)
		v.now = t.at
		cancelled := t.cancel
		v.mu.Unlock()
		if !cancelled {
			t.fn()
		}
	}
}
