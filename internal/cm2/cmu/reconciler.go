// Package cmu implements the Connection_Manager_Uplink reconciler, spec
// §4.2.1-§4.2.3: one state machine per backhaul entity (a VIF or a GRE
// tunnel) that mirrors a derived has_L2/has_L3 verdict into the State
// Store, forcing a DELETE/INSERT cycle across an active-state flap.
package cmu

import (
	"log"
	"sync"
	"time"

	"github.com/plume-design/opensync-sub021/internal/basedef"
	"github.com/plume-design/opensync-sub021/internal/eventloop"
	"github.com/plume-design/opensync-sub021/internal/statestore"
	"github.com/plume-design/opensync-sub021/internal/workqueue"
)

// Kind distinguishes a VIF-backed CMU entity from a GRE-tunnel-backed one,
// §4.2.1.
type Kind int

const (
	KindVIF Kind = iota
	KindGRE
)

func (k Kind) ifType() string {
	if k == KindGRE {
		return statestore.IfTypeGRE
	}
	return statestore.IfTypeVIF
}

// Observed is the set of State Store fields this reconciler derives from.
// Active is pre-combined by the caller per §4.2.1: for a VIF entity it is
// wms_active on the VIF's own Master State row; for a GRE entity it is
// parent.wms_active && gre.wms_active.
type Observed struct {
	Sta      bool
	FourAddr bool
	Active   bool
}

func (o Observed) cmuExists(k Kind) bool {
	if k == KindGRE {
		return o.Sta && !o.FourAddr
	}
	return o.Sta && o.FourAddr
}

type entity struct {
	ifName string
	kind   Kind

	mu        sync.Mutex
	observed  Observed
	rowExists bool
	l2, l3    bool
	work      *workqueue.Work
}

// Reconciler runs one entity state machine per registered ifName.
type Reconciler struct {
	rt       eventloop.Runtime
	client   *statestore.Client
	deadline time.Duration
	cooldown time.Duration

	mu       sync.Mutex
	entities map[string]*entity
}

// New creates a CMU reconciler. deadline/cooldown default to
// basedef.ReconcilerDeadline/ReconcilerBackoff when zero.
func New(rt eventloop.Runtime, client *statestore.Client, deadline, cooldown time.Duration) *Reconciler {
	if deadline == 0 {
		deadline = basedef.ReconcilerDeadline
	}
	if cooldown == 0 {
		cooldown = basedef.ReconcilerBackoff
	}
	return &Reconciler{
		rt:       rt,
		client:   client,
		deadline: deadline,
		cooldown: cooldown,
		entities: make(map[string]*entity),
	}
}

// Register starts tracking ifName as a CMU entity of the given kind. It is
// idempotent.
func (r *Reconciler) Register(ifName string, kind Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entities[ifName]; ok {
		return
	}
	e := &entity{ifName: ifName, kind: kind}
	e.work = workqueue.New(r.rt, r.deadline, r.cooldown, func() { r.recalc(e) })
	r.entities[ifName] = e
}

// Unregister stops tracking ifName, canceling any pending recalc.
func (r *Reconciler) Unregister(ifName string) {
	r.mu.Lock()
	e, ok := r.entities[ifName]
	delete(r.entities, ifName)
	r.mu.Unlock()
	if ok {
		e.work.Cancel()
	}
}

// Observe applies a new observed snapshot for ifName, scheduling a recalc
// if anything changed (§4.2 step 1).
func (r *Reconciler) Observe(ifName string, obs Observed) {
	r.mu.Lock()
	e, ok := r.entities[ifName]
	r.mu.Unlock()
	if !ok {
		return
	}

	e.mu.Lock()
	changed := e.observed != obs
	if changed {
		log.Printf("cmu: %s observed %+v -> %+v", ifName, e.observed, obs)
		e.observed = obs
	}
	e.mu.Unlock()

	if changed {
		e.work.Schedule()
	}
}

// recalc is the idle/deadline callback: pure derivation, then diff against
// the last side effects issued, per §4.2.2/§4.2.3.
func (r *Reconciler) recalc(e *entity) {
	e.mu.Lock()
	obs := e.observed
	rowExists := e.rowExists
	l2, l3 := e.l2, e.l3
	e.mu.Unlock()

	cmuExists := obs.cmuExists(e.kind)
	newL2 := cmuExists && obs.Active
	newL3 := newL2

	if !rowExists && cmuExists {
		if err := r.client.InsertCMU(statestore.CMURow{IfName: e.ifName, IfType: e.kind.ifType(), HasL2: newL2, HasL3: newL3}); err != nil {
			log.Printf("cmu: insert %s: %v", e.ifName, err)
			return
		}
		e.mu.Lock()
		e.rowExists, e.l2, e.l3 = true, newL2, newL3
		e.mu.Unlock()
		return
	}

	if !rowExists {
		return
	}

	if newL2 != l2 {
		if err := r.client.UpdateCMUField(e.ifName, "has_L2", newL2); err != nil {
			log.Printf("cmu: update has_L2 %s: %v", e.ifName, err)
			return
		}
		e.mu.Lock()
		e.l2 = newL2
		e.mu.Unlock()
		l2 = newL2
	}
	if newL3 != l3 {
		if err := r.client.UpdateCMUField(e.ifName, "has_L3", newL3); err != nil {
			log.Printf("cmu: update has_L3 %s: %v", e.ifName, err)
			return
		}
		e.mu.Lock()
		e.l3 = newL3
		e.mu.Unlock()
	}

	// force_delete_pending, §9: derived purely from rowExists && !Active,
	// rather than a side-channel flag set by the observer. It naturally
	// clears itself once the DELETE below runs, since rowExists becomes
	// false.
	forceDeletePending := !obs.Active
	if forceDeletePending || !cmuExists {
		if err := r.client.DeleteCMU(e.ifName); err != nil {
			log.Printf("cmu: delete %s: %v", e.ifName, err)
			return
		}
		e.mu.Lock()
		e.rowExists, e.l2, e.l3 = false, false, false
		e.mu.Unlock()
	}
}
