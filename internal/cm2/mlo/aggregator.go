// Package mlo implements the MLO aggregator, spec §4.2.6: groups the
// backhaul VIFs sharing an observed mld_if_name into one MLD entity,
// derives its aggregate STA/4-address/3-address verdict, and republishes
// that verdict as if it were a single link's observed state for the
// downstream CMU/GRE reconcilers.
package mlo

import (
	"sync"

	"github.com/plume-design/opensync-sub021/internal/cm2"
)

// LinkObserved is one member VIF's relevant observed fields.
type LinkObserved struct {
	Sta      bool
	FourAddr bool
}

// Verdict is the MLD-level derived state, §4.2.6.
type Verdict struct {
	IsSta    bool
	Is4Addr  bool
	Is3Addr  bool
	NeedsGRE bool
}

func derive(children map[string]LinkObserved) Verdict {
	if len(children) == 0 {
		return Verdict{}
	}

	isSta := true
	all4Addr := true
	any4Addr := false
	for _, c := range children {
		if !c.Sta {
			isSta = false
		}
		if c.FourAddr {
			any4Addr = true
		} else {
			all4Addr = false
		}
	}

	is4Addr := isSta && all4Addr
	is3Addr := isSta && !any4Addr
	return Verdict{
		IsSta:    isSta,
		Is4Addr:  is4Addr,
		Is3Addr:  is3Addr,
		NeedsGRE: isSta && is3Addr,
	}
}

// ReportedState is what the MLD republishes upstream in place of each
// individual link's identity, §4.2.6: "reports (wvs_sta := is_sta ∧
// (is_3addr ∨ is_4addr), wvs_4addr := is_sta ∧ is_4addr) to its CMU-VIF
// handle".
type ReportedState struct {
	WVSSta     bool
	WVS4Addr   bool
}

func (v Verdict) report() ReportedState {
	return ReportedState{
		WVSSta:   v.IsSta && (v.Is3Addr || v.Is4Addr),
		WVS4Addr: v.IsSta && v.Is4Addr,
	}
}

// GREController is the subset of the GRE reconciler the aggregator drives:
// creating and destroying the MLD's shared tunnel entity when needs_gre
// flips.
type GREController interface {
	Create(mldName, greIfName string)
	Destroy(greIfName string)
}

// Publisher receives the MLD's republished link state, typically feeding
// it straight into the cmu reconciler's Observe for the MLD's CMU-VIF
// handle.
type Publisher func(mldName string, rep ReportedState)

// Aggregator tracks MLDs as their member VIFs report mld_if_name and
// recomputes the aggregate verdict whenever membership or a member's
// observed state changes.
type Aggregator struct {
	arena *cm2.Arena
	gre   GREController
	pub   Publisher

	mu       sync.Mutex
	members  map[string]map[string]LinkObserved // mld name -> vif name -> observed
	lastGRE  map[string]bool                     // mld name -> last needs_gre
}

// New creates an Aggregator sharing arena with the rest of the backhaul
// domain's entity bookkeeping.
func New(arena *cm2.Arena, gre GREController, pub Publisher) *Aggregator {
	return &Aggregator{
		arena:   arena,
		gre:     gre,
		pub:     pub,
		members: make(map[string]map[string]LinkObserved),
		lastGRE: make(map[string]bool),
	}
}

// ObserveLink records vifName's membership in mldName (finding-or-creating
// the MLD, §9) with its current observed state, and recomputes.
func (a *Aggregator) ObserveLink(mldName, vifName string, obs LinkObserved) {
	a.arena.AddLinkVIF(mldName, vifName)

	a.mu.Lock()
	set, ok := a.members[mldName]
	if !ok {
		set = make(map[string]LinkObserved)
		a.members[mldName] = set
	}
	set[vifName] = obs
	a.mu.Unlock()

	a.recalc(mldName)
}

// RemoveLink drops vifName from mldName. If the MLD's child set becomes
// empty it is garbage collected, §3.1/§9.
func (a *Aggregator) RemoveLink(mldName, vifName string) {
	removed := a.arena.RemoveLinkVIF(mldName, vifName)

	a.mu.Lock()
	if set, ok := a.members[mldName]; ok {
		delete(set, vifName)
		if len(set) == 0 {
			delete(a.members, mldName)
		}
	}
	a.mu.Unlock()

	if removed {
		a.mu.Lock()
		delete(a.lastGRE, mldName)
		a.mu.Unlock()
		if a.gre != nil {
			a.gre.Destroy(greIfNameFor(mldName))
		}
		return
	}
	a.recalc(mldName)
}

func (a *Aggregator) recalc(mldName string) {
	a.mu.Lock()
	children := make(map[string]LinkObserved, len(a.members[mldName]))
	for k, v := range a.members[mldName] {
		children[k] = v
	}
	prevNeedsGRE := a.lastGRE[mldName]
	a.mu.Unlock()

	v := derive(children)

	if v.NeedsGRE != prevNeedsGRE && a.gre != nil {
		greName := greIfNameFor(mldName)
		if v.NeedsGRE {
			a.gre.Create(mldName, greName)
		} else {
			a.gre.Destroy(greName)
		}
	}
	a.mu.Lock()
	a.lastGRE[mldName] = v.NeedsGRE
	a.mu.Unlock()

	if a.pub != nil {
		a.pub(mldName, v.report())
	}
}

// greIfNameFor names the MLD's shared GRE child "g-<mld_name>", per the
// naming convention this domain's original C uses for MLO GRE children.
func greIfNameFor(mldName string) string {
	return "g-" + mldName
}
