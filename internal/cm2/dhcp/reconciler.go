// Package dhcp implements the DHCP renewal reconciler, spec §4.2.4: when a
// backhaul STA VIF's observed state satisfies the renewal preconditions, it
// issues the atomic State Store write that kicks the external DHCP client
// into renewing its lease.
package dhcp

import (
	"log"
	"sync"
	"time"

	"github.com/plume-design/opensync-sub021/internal/basedef"
	"github.com/plume-design/opensync-sub021/internal/eventloop"
	"github.com/plume-design/opensync-sub021/internal/statestore"
	"github.com/plume-design/opensync-sub021/internal/workqueue"
)

const schemeDHCP = "dhcp"

// Observed is the set of fields the renewal precondition in §4.2.4 is
// computed over.
type Observed struct {
	Configurable bool
	Active       bool
	Enabled      bool
	Network      bool
	Sta          bool
	FourAddr     bool
	AssignScheme string
}

// shouldRenew implements "Preconditions for renewal (all must hold):
// is-configurable ∧ is-active ∧ is-enabled ∧ is-network ∧ is-STA ∧
// ¬is-4addr ∧ ip-assign-scheme == dhcp", §4.2.4.
func (o Observed) shouldRenew() bool {
	return o.Configurable && o.Active && o.Enabled && o.Network &&
		o.Sta && !o.FourAddr && o.AssignScheme == schemeDHCP
}

// nonsensical flags the "is_4addr ∧ scheme==dhcp" combination §4.2.4 says
// to warn on: a 4-address (MLD-aggregated) link can't sensibly run its own
// DHCP client.
func (o Observed) nonsensical() bool {
	return o.FourAddr && o.AssignScheme == schemeDHCP
}

type entity struct {
	ifName string

	mu       sync.Mutex
	observed Observed
	work     *workqueue.Work
}

// Reconciler renews DHCP leases on backhaul STA VIFs per §4.2.4.
type Reconciler struct {
	rt       eventloop.Runtime
	client   *statestore.Client
	deadline time.Duration
	cooldown time.Duration

	mu       sync.Mutex
	entities map[string]*entity
}

// New creates a DHCP reconciler. deadline/cooldown default to
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

// Register starts tracking ifName. Idempotent.
func (r *Reconciler) Register(ifName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entities[ifName]; ok {
		return
	}
	e := &entity{ifName: ifName}
	e.work = workqueue.New(r.rt, r.deadline, r.cooldown, func() { r.recalc(e) })
	r.entities[ifName] = e
}

// Unregister stops tracking ifName.
func (r *Reconciler) Unregister(ifName string) {
	r.mu.Lock()
	e, ok := r.entities[ifName]
	delete(r.entities, ifName)
	r.mu.Unlock()
	if ok {
		e.work.Cancel()
	}
}

// Observe applies a new observed snapshot, scheduling a recalc if changed.
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
		e.observed = obs
	}
	e.mu.Unlock()

	if changed {
		e.work.Schedule()
	}
}

func (r *Reconciler) recalc(e *entity) {
	e.mu.Lock()
	obs := e.observed
	e.mu.Unlock()

	if obs.nonsensical() {
		log.Printf("dhcp: %s: 4-address link configured with dhcp assign scheme, ignoring", e.ifName)
	}

	if !obs.shouldRenew() {
		return
	}

	if err := r.client.RenewDHCP(e.ifName); err != nil {
		log.Printf("dhcp: renew %s: %v", e.ifName, err)
	}
}
