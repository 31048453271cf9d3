// Package defervifdown implements the Defer-Vif-Down mutator, §4.5: a
// grace-period override that keeps a VIF (and its phy) looking enabled for
// a bounded time after it would otherwise go down, so in-flight stations
// aren't yanked off mid-session.
package defervifdown

import (
	"time"

	"github.com/plume-design/opensync-sub021/internal/eventloop"
	"github.com/plume-design/opensync-sub021/internal/osw"
)

// Rule is one configured {vif_name, grace_period_seconds} pair, §4.5.
type Rule struct {
	VIFName           string
	GracePeriodSecs   int
}

// StationCounter reports the current station count for a VIF; swapped for
// a fake in tests.
type StationCounter func(vifName string) int

// Observer is notified when a grace timer starts or stops, §4.5.
type Observer func(vifName string, started bool)

type armedTimer struct {
	timer           eventloop.Timer
	lastChannel     osw.ChannelState
	phyName         string
}

// Mutator holds the per-rule timer state, §4.5.
type Mutator struct {
	rt       eventloop.Runtime
	rules    map[string]Rule
	stations StationCounter
	observer Observer

	armed map[string]*armedTimer
}

// New builds a Mutator from a rule list.
func New(rt eventloop.Runtime, rules []Rule, stations StationCounter, observer Observer) *Mutator {
	ruleMap := make(map[string]Rule, len(rules))
	for _, r := range rules {
		ruleMap[r.VIFName] = r
	}
	return &Mutator{
		rt:       rt,
		rules:    ruleMap,
		stations: stations,
		observer: observer,
		armed:    map[string]*armedTimer{},
	}
}

// csaWouldInterrupt reports whether a channel's DFS state would force a
// service interruption if switched to, §4.5 ("CSA would interrupt service
// as defined by current channel intersecting {CAC-possible,
// CAC-in-progress, NOL}").
func csaWouldInterrupt(cs osw.ChannelState) bool {
	return cs.DFS == osw.DFSCACPossible || cs.DFS == osw.DFSCACInProgress || cs.DFS == osw.DFSNOL
}

// Observe runs one reconcile pass over a phy, arming/clearing grace timers
// per §4.5 and mutating vif.Enabled/phy.Enabled/AP.Channel in place when a
// timer is armed. Call this on the tree the confsync builder is about to
// hand off, after the tree's "natural" enabled bits have been computed.
func (m *Mutator) Observe(phy *osw.Phy) {
	for _, vif := range phy.VIFs {
		rule, ok := m.rules[vif.Name]
		if !ok {
			continue
		}

		shouldArm := vif.WasEnabled && (!vif.Enabled || !phy.Enabled || m.interruptingChannel(phy, vif))
		at, isArmed := m.armed[vif.Name]

		switch {
		case shouldArm && !isArmed:
			m.arm(vif, phy, rule)
		case isArmed && (!shouldArm || m.stations(vif.Name) == 0):
			m.clear(vif.Name)
		}

		if at, isArmed = m.armed[vif.Name]; isArmed {
			vif.Enabled = true
			phy.Enabled = true
			for _, v := range phy.VIFs {
				if v.Type == osw.VIFAp {
					v.AP.Channel = at.lastChannel
				}
			}
		}
	}
}

func (m *Mutator) interruptingChannel(phy *osw.Phy, vif *osw.VIF) bool {
	if vif.Type != osw.VIFAp {
		return false
	}
	cs, ok := phy.ChannelStateFor(vif.AP.Channel.Channel)
	if !ok {
		return false
	}
	return csaWouldInterrupt(cs)
}

func (m *Mutator) arm(vif *osw.VIF, phy *osw.Phy, rule Rule) {
	at := &armedTimer{lastChannel: vif.AP.Channel, phyName: phy.Name}
	at.timer = m.rt.AfterFunc(time.Duration(rule.GracePeriodSecs)*time.Second, func() {
		m.clear(vif.Name)
	})
	m.armed[vif.Name] = at
	if m.observer != nil {
		m.observer(vif.Name, true)
	}
}

func (m *Mutator) clear(vifName string) {
	at, ok := m.armed[vifName]
	if !ok {
		return
	}
	at.timer.Cancel()
	delete(m.armed, vifName)
	if m.observer != nil {
		m.observer(vifName, false)
	}
}

// Armed reports whether vifName's grace timer is currently running, for
// tests/diagnostics.
func (m *Mutator) Armed(vifName string) bool {
	_, ok := m.armed[vifName]
	return ok
}

// NotifyStationsZero clears the timer if the station count has already
// dropped to zero; called from the station-count observer path rather
// than waiting for the next Observe pass, §4.5 ("cancel ... when ...
// station count drops to zero").
func (m *Mutator) NotifyStationsZero(vifName string) {
	if m.stations(vifName) == 0 {
		m.clear(vifName)
	}
}
