package confsync

import (
	"time"

	"github.com/plume-design/opensync-sub021/internal/eventloop"
	"github.com/plume-design/opensync-sub021/internal/osw"
)

// enableDeferralSeconds is the §4.4.3 "10-second per-VIF enable deferral"
// window.
const enableDeferralSeconds = 10 * time.Second

// cacTimeoutDefault / cacTimeoutWeatherRadar are "2x max CAC duration",
// §4.4.3: 60s normally, 600s when the phy's reg domain requires
// weather-radar detection (DFS channels 120-128 in most regulatory
// domains).
const (
	cacTimeoutDefault       = 60 * time.Second
	cacTimeoutWeatherRadar  = 600 * time.Second
)

// Gate holds the per-VIF/per-Phy timer state gating suppresses changes
// with, §4.4.3.
type Gate struct {
	rt eventloop.Runtime

	enableDeferral map[string]eventloop.Timer // vif name -> armed timer
	vifEnabled     map[string]bool            // last-known enabled bit, for edge detection
	cacStarted     map[string]time.Time       // phy name -> CAC start time
}

// NewGate creates an empty Gate bound to rt.
func NewGate(rt eventloop.Runtime) *Gate {
	return &Gate{
		rt:             rt,
		enableDeferral: map[string]eventloop.Timer{},
		vifEnabled:     map[string]bool{},
		cacStarted:     map[string]time.Time{},
	}
}

// ObserveVIFEnabled records the driver's report of a VIF's enabled bit and
// clears any armed enable deferral once the driver reports enabled,
// §4.4.3. It does not arm the deferral; ArmEnableDeferral does.
func (g *Gate) ObserveVIFEnabled(vifName string, enabled bool) {
	g.vifEnabled[vifName] = enabled

	if enabled {
		if t, ok := g.enableDeferral[vifName]; ok {
			t.Cancel()
			delete(g.enableDeferral, vifName)
		}
	}
}

// ArmEnableDeferral starts the suppression window for a VIF transitioning
// disabled -> enabled in the desired config, §4.4.3.
func (g *Gate) ArmEnableDeferral(vifName string) {
	if _, ok := g.enableDeferral[vifName]; ok {
		return
	}
	g.enableDeferral[vifName] = g.rt.AfterFunc(enableDeferralSeconds, func() {
		delete(g.enableDeferral, vifName)
	})
}

// Deferred reports whether vifName is still inside its enable-deferral
// window.
func (g *Gate) Deferred(vifName string) bool {
	_, ok := g.enableDeferral[vifName]
	return ok
}

// ObserveCACStart records that phyName entered CAC-in-progress at ts, if
// not already tracked.
func (g *Gate) ObserveCACStart(phyName string, ts time.Time) {
	if _, ok := g.cacStarted[phyName]; !ok {
		g.cacStarted[phyName] = ts
	}
}

// ClearCAC forgets phyName's CAC bookkeeping once it leaves CAC-in-progress.
func (g *Gate) ClearCAC(phyName string) {
	delete(g.cacStarted, phyName)
}

func cacTimeout(weatherRadar bool) time.Duration {
	if weatherRadar {
		return cacTimeoutWeatherRadar
	}
	return cacTimeoutDefault
}

// CACTimedOut reports whether phyName's CAC-in-progress period has run
// longer than its configured timeout, §4.4.3 / §7 ("CAC timeout overrun").
func (g *Gate) CACTimedOut(phyName string, now time.Time, weatherRadar bool) bool {
	start, ok := g.cacStarted[phyName]
	if !ok {
		return false
	}
	return now.Sub(start) > cacTimeout(weatherRadar)
}

// inCACBlockingState reports whether a channel state should suppress
// reconfiguration of the phy it belongs to.
func inCACBlockingState(cs osw.ChannelState) bool {
	return cs.DFS == osw.DFSCACInProgress || cs.DFS == osw.DFSCACPossible || cs.DFS == osw.DFSNOL
}

// ApplyGating mutates a slice of PhyDiffs in place per §4.4.3:
//   - a phy in CAC-in-progress whose timeout hasn't expired has all its
//     VIFs skipped entirely;
//   - a VIF still inside its enable-deferral window is suppressed;
//   - if one VIF's desired channel would initiate CAC, every other VIF on
//     that phy is suppressed this round.
func (g *Gate) ApplyGating(diffs []PhyDiff, phys []*osw.Phy, now time.Time, weatherRadar map[string]bool) {
	phyByName := make(map[string]*osw.Phy, len(phys))
	for _, p := range phys {
		phyByName[p.Name] = p
	}

	for pi := range diffs {
		pd := &diffs[pi]
		phy := phyByName[pd.Name]
		if phy == nil {
			continue
		}

		if g.phyBlockedByCAC(phy, now, weatherRadar[phy.Name]) {
			for vi := range pd.VIFs {
				pd.VIFs[vi].Changed = false
			}
			pd.Changed = false
			continue
		}

		initiatorIdx := -1
		for vi, vd := range pd.VIFs {
			if vd.ChannelChanged && g.channelInitiatesCAC(phy, vd.New.AP.Channel) {
				initiatorIdx = vi
				break
			}
		}
		if initiatorIdx >= 0 {
			for vi := range pd.VIFs {
				if vi != initiatorIdx {
					pd.VIFs[vi].Changed = false
				}
			}
		}

		pd.Changed = false
		for vi, vd := range pd.VIFs {
			if g.Deferred(vd.Name) {
				pd.VIFs[vi].Changed = false
				continue
			}
			if pd.VIFs[vi].Changed {
				pd.Changed = true
			}
		}
	}
}

func (g *Gate) phyBlockedByCAC(phy *osw.Phy, now time.Time, weatherRadar bool) bool {
	for _, cs := range phy.Channels {
		if cs.DFS == osw.DFSCACInProgress {
			g.ObserveCACStart(phy.Name, now)
			if !g.CACTimedOut(phy.Name, now, weatherRadar) {
				return true
			}
			return false
		}
	}
	g.ClearCAC(phy.Name)
	return false
}

func (g *Gate) channelInitiatesCAC(phy *osw.Phy, want osw.ChannelState) bool {
	cs, ok := phy.ChannelStateFor(want.Channel)
	if !ok {
		return false
	}
	return cs.DFS == osw.DFSCACPossible
}
