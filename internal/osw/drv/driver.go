// Package drv is the §6.2 driver mux: the seam between the confsync state
// machine's reconciliation plans and whatever actually talks to the wifi
// driver. NetlinkDriverMux is the default implementation shipped here;
// it doesn't speak a real 802.11 driver ioctl/nl80211 protocol (wholly out
// of scope, §1's Non-goals), but it at least verifies a changed phy's
// backing netdev exists before accepting a plan, which is a meaningfully
// better default than an always-true stub.
package drv

import (
	"fmt"

	"github.com/vishvananda/netlink"

	"github.com/plume-design/opensync-sub021/internal/osw/confsync"
)

// NetlinkDriverMux implements confsync.DriverMux.
type NetlinkDriverMux struct {
	LinkByName func(name string) (netlink.Link, error)
}

// New builds a mux using the real netlink package.
func New() *NetlinkDriverMux {
	return &NetlinkDriverMux{LinkByName: netlink.LinkByName}
}

// Submit implements confsync.DriverMux: accepts a plan iff every changed
// phy names an interface the kernel actually knows about.
func (m *NetlinkDriverMux) Submit(diffs []confsync.PhyDiff) bool {
	for _, pd := range diffs {
		if !pd.Changed {
			continue
		}
		if _, err := m.LinkByName(pd.Name); err != nil {
			return false
		}
	}
	return true
}

// Dump renders diffs as a human-readable plan, for diagnostics.
func (m *NetlinkDriverMux) Dump(diffs []confsync.PhyDiff) string {
	out := ""
	for _, pd := range diffs {
		if !pd.Changed {
			continue
		}
		out += fmt.Sprintf("phy %s:\n", pd.Name)
		for _, vd := range pd.VIFs {
			if vd.Changed {
				out += fmt.Sprintf("  vif %s: ssid=%v channel=%v csa=%v acl=%v neighbor=%v sta_op=%v\n",
					vd.Name, vd.SSIDChanged, vd.ChannelChanged, vd.CSARequired, vd.ACLChanged, vd.NeighborChanged, vd.STAOp)
			}
		}
	}
	return out
}
