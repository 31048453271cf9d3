// Package gre implements the GRE tunnel reconciler, spec §4.2.5: derives a
// backhaul GRE tunnel's enable flag and endpoint addresses from its parent
// VIF's observed inet state, pushes the result into the bound tunnel
// entity, and mirrors it into the State Store and onto the host's network
// stack.
package gre

import (
	"log"
	"net"
	"sync"
	"time"

	"github.com/plume-design/opensync-sub021/internal/basedef"
	"github.com/plume-design/opensync-sub021/internal/eventloop"
	"github.com/plume-design/opensync-sub021/internal/statestore"
	"github.com/plume-design/opensync-sub021/internal/workqueue"
)

// Observed is the parent VIF's inet state the tunnel endpoint derivation
// in §4.2.5 runs over.
type Observed struct {
	Enabled bool
	Network bool
	InetIP  net.IP
	Netmask net.IPMask
}

var linkLocalNet = &net.IPNet{IP: net.IPv4(169, 254, 0, 0), Mask: net.CIDRMask(16, 32)}

// Endpoint is the derived tunnel parameter set, §4.2.5.
type Endpoint struct {
	Enable bool
	Local  net.IP
	Remote net.IP
}

// derive implements:
//
//	enable := enabled ∧ network ∧ inet_addr != 0 ∧ netmask != 0 ∧ inet_addr is link-local 169.254/16
//	local_ip := inet_addr
//	remote_ip := (inet_addr & netmask) | htonl(1)
func derive(o Observed) Endpoint {
	ip4 := o.InetIP.To4()
	if !o.Enabled || !o.Network || ip4 == nil || len(o.Netmask) != 4 || isZero(ip4) || isZero(net.IP(o.Netmask)) {
		return Endpoint{}
	}
	if !linkLocalNet.Contains(ip4) {
		return Endpoint{}
	}

	network := make(net.IP, 4)
	for i := 0; i < 4; i++ {
		network[i] = ip4[i] & o.Netmask[i]
	}
	remote := make(net.IP, 4)
	copy(remote, network)
	remote[3] |= 1 // the ".1" of the subnet, htonl(1) in network byte order

	return Endpoint{Enable: true, Local: ip4, Remote: remote}
}

func isZero(ip net.IP) bool {
	for _, b := range ip {
		if b != 0 {
			return false
		}
	}
	return true
}

type entity struct {
	parentVIF string
	greIfName string
	mtu       int

	mu       sync.Mutex
	observed Observed
	applied  Endpoint // last endpoint pushed to the State Store
	exists   bool
	work     *workqueue.Work
}

// TunnelApplier installs or tears down the host-side GRE device. The
// production implementation is backed by vishvananda/netlink; tests supply
// a fake.
type TunnelApplier interface {
	Apply(ifName string, local, remote net.IP, mtu int) error
	Remove(ifName string) error
}

// Reconciler derives and applies GRE tunnel endpoints per §4.2.5.
type Reconciler struct {
	rt       eventloop.Runtime
	client   *statestore.Client
	applier  TunnelApplier
	deadline time.Duration
	cooldown time.Duration

	mu       sync.Mutex
	entities map[string]*entity
}

// New creates a GRE reconciler.
func New(rt eventloop.Runtime, client *statestore.Client, applier TunnelApplier, deadline, cooldown time.Duration) *Reconciler {
	if deadline == 0 {
		deadline = basedef.ReconcilerDeadline
	}
	if cooldown == 0 {
		cooldown = basedef.ReconcilerBackoff
	}
	return &Reconciler{
		rt:       rt,
		client:   client,
		applier:  applier,
		deadline: deadline,
		cooldown: cooldown,
		entities: make(map[string]*entity),
	}
}

// Register binds a GRE tunnel entity (greIfName) to its parent VIF
// (parentVIF), with the given MTU (§4.2.5: "mtu from config").
func (r *Reconciler) Register(parentVIF, greIfName string, mtu int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entities[parentVIF]; ok {
		return
	}
	e := &entity{parentVIF: parentVIF, greIfName: greIfName, mtu: mtu}
	e.work = workqueue.New(r.rt, r.deadline, r.cooldown, func() { r.recalc(e) })
	r.entities[parentVIF] = e
}

// Unregister stops tracking parentVIF's tunnel.
func (r *Reconciler) Unregister(parentVIF string) {
	r.mu.Lock()
	e, ok := r.entities[parentVIF]
	delete(r.entities, parentVIF)
	r.mu.Unlock()
	if ok {
		e.work.Cancel()
	}
}

// Observe applies a new parent-VIF inet-state snapshot.
func (r *Reconciler) Observe(parentVIF string, obs Observed) {
	r.mu.Lock()
	e, ok := r.entities[parentVIF]
	r.mu.Unlock()
	if !ok {
		return
	}

	e.mu.Lock()
	changed := !sameObserved(e.observed, obs)
	if changed {
		e.observed = obs
	}
	e.mu.Unlock()

	if changed {
		e.work.Schedule()
	}
}

func sameObserved(a, b Observed) bool {
	return a.Enabled == b.Enabled && a.Network == b.Network &&
		a.InetIP.Equal(b.InetIP) && string(a.Netmask) == string(b.Netmask)
}

func (r *Reconciler) recalc(e *entity) {
	e.mu.Lock()
	obs := e.observed
	prev := e.applied
	exists := e.exists
	e.mu.Unlock()

	ep := derive(obs)

	if sameEndpoint(ep, prev) && exists == ep.Enable {
		return
	}

	if exists {
		if err := r.client.DeleteGRETunnel(e.greIfName); err != nil {
			log.Printf("gre: delete tunnel row %s: %v", e.greIfName, err)
			return
		}
		if err := r.applier.Remove(e.greIfName); err != nil {
			log.Printf("gre: remove device %s: %v", e.greIfName, err)
		}
		e.mu.Lock()
		e.exists = false
		e.applied = Endpoint{}
		e.mu.Unlock()
	}

	if !ep.Enable {
		return
	}

	row := statestore.InetConfig{
		IfName:       e.greIfName,
		Enabled:      true,
		Network:      true,
		MTU:          e.mtu,
		IfType:       statestore.IfTypeGRE,
		GREIfName:    e.parentVIF,
		GRELocalAddr: ep.Local.String(),
		GRERemoteAddr: ep.Remote.String(),
	}
	if err := r.client.UpsertGRETunnel(row); err != nil {
		log.Printf("gre: upsert tunnel row %s: %v", e.greIfName, err)
		return
	}
	if err := r.applier.Apply(e.greIfName, ep.Local, ep.Remote, e.mtu); err != nil {
		log.Printf("gre: apply device %s: %v", e.greIfName, err)
	}

	e.mu.Lock()
	e.exists = true
	e.applied = ep
	e.mu.Unlock()
}

func sameEndpoint(a, b Endpoint) bool {
	return a.Enable == b.Enable && a.Local.Equal(b.Local) && a.Remote.Equal(b.Remote)
}
