// Package confsync implements the wireless configuration synchronizer,
// §4.4: a state machine (statemachine.go) driving a diff engine (this
// file) against gating rules (gating.go) and a driver-mux apply step
// (the reconcile pass in statemachine.go).
package confsync

import (
	"github.com/plume-design/opensync-sub021/internal/osw"
)

// VIFDiff is one VIF's reconfiguration plan, §4.4.2: per-field changed
// booleans plus the full new value, so the driver can use either.
type VIFDiff struct {
	Name    string
	Changed bool

	SSIDChanged     bool
	ChannelChanged  bool
	CSARequired     bool
	PSKChanged      bool
	ACLChanged      bool
	ACLAdd, ACLDel  []string
	NeighborChanged bool
	NeighborAdd     []osw.Neighbor
	NeighborMod     []osw.Neighbor
	NeighborDel     []osw.Neighbor
	ModeChanged     bool
	WPAChanged      bool

	// STA-only.
	NetworkChanged bool
	STAOp          STAOperation

	New osw.VIF
}

// PhyDiff is one Phy's reconfiguration plan, §4.4.2.
type PhyDiff struct {
	Name    string
	Changed bool
	VIFs    []VIFDiff
}

// STAOperation is the STA reconcile verb, §4.4.2.
type STAOperation int

const (
	STANop STAOperation = iota
	STAConnect
	STAReconnect
	STADisconnect
)

// DiffOptions carries the environment knobs the diff rules reference.
type DiffOptions struct {
	// SuppressNetworkChangedOnNOP mirrors "once NOP and env flag not set,
	// network_changed is suppressed", §4.4.2 — true is the documented
	// default (the flag is unset).
	SuppressNetworkChangedOnNOP bool

	// DriverSupportsCSA gates the channel-change CSA-vs-full-reconfig
	// choice, §4.4.2/scenario S5.
	DriverSupportsCSA bool
}

// Diff compares a desired tree against an observed tree, producing one
// PhyDiff per phy. Phys present in desired but absent from observed are
// treated as wholly changed (first bring-up).
func Diff(desired, observed []*osw.Phy, opts DiffOptions) []PhyDiff {
	observedByName := make(map[string]*osw.Phy, len(observed))
	for _, p := range observed {
		observedByName[p.Name] = p
	}

	diffs := make([]PhyDiff, 0, len(desired))
	for _, want := range desired {
		have := observedByName[want.Name]
		diffs = append(diffs, diffPhy(want, have, opts))
	}
	return diffs
}

func diffPhy(want, have *osw.Phy, opts DiffOptions) PhyDiff {
	pd := PhyDiff{Name: want.Name}

	haveVIFs := map[string]*osw.VIF{}
	if have != nil {
		for _, v := range have.VIFs {
			haveVIFs[v.Name] = v
		}
	}

	for _, wv := range want.VIFs {
		hv := haveVIFs[wv.Name]
		vd := diffVIF(wv, hv, opts)
		if vd.Changed {
			pd.Changed = true
		}
		pd.VIFs = append(pd.VIFs, vd)
	}
	return pd
}

func diffVIF(want, have *osw.VIF, opts DiffOptions) VIFDiff {
	vd := VIFDiff{Name: want.Name, New: *want}

	if have == nil {
		vd.Changed = true
		return vd
	}

	switch want.Type {
	case osw.VIFAp, osw.VIFApVlan:
		diffAP(&vd, want, have, opts)
	case osw.VIFSta:
		diffSTA(&vd, want, have, opts)
	}

	return vd
}

func diffAP(vd *VIFDiff, want, have *osw.VIF, opts DiffOptions) {
	wa, ha := want.AP, have.AP

	if !ssidEqual(wa.SSID, ha.SSID) {
		vd.SSIDChanged = true
		vd.Changed = true
	}

	if wa.Channel != ha.Channel {
		vd.ChannelChanged = true
		vd.Changed = true
		// current channel's DFS state (ha.Channel.DFS) gates CSA vs a
		// full reconfig, §4.4.2/scenario S5.
		if opts.DriverSupportsCSA && !inCACBlockingState(ha.Channel) {
			vd.CSARequired = true
		}
	}

	if !pskListEqual(wa, ha) {
		vd.PSKChanged = true
		vd.Changed = true
	}

	if !aclPolicyEqual(wa, ha) {
		vd.ACLAdd, vd.ACLDel = aclDiff(wa.ACLSet, ha.ACLSet)
		if len(vd.ACLAdd) > 0 || len(vd.ACLDel) > 0 {
			vd.ACLChanged = true
			vd.Changed = true
		}
	}

	add, mod, del := neighborDiff(wa.Neighbors, ha.Neighbors)
	if len(add) > 0 || len(mod) > 0 || len(del) > 0 {
		vd.NeighborChanged = true
		vd.NeighborAdd, vd.NeighborMod, vd.NeighborDel = add, mod, del
		vd.Changed = true
	}

	wm, hm := clearUnsupportedMode(wa.Mode, ha.Mode), ha.Mode
	if !modeEqual(wm, hm) {
		vd.ModeChanged = true
		vd.Changed = true
	}

	if !wa.WPA.Equal(ha.WPA) {
		vd.WPAChanged = true
		vd.Changed = true
	}
}

func ssidEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// pskListEqual implements the §4.4.2 psk-list rule: under SAE with a
// single PSK entry on each side, compare passphrases only (SAE can't
// multiplex by key_id); otherwise compare the full {key_id: passphrase}
// map.
func pskListEqual(want, have osw.APConfig) bool {
	saeSingle := want.WPA.Enable80211w && len(want.PSKs) == 1 && len(have.PSKs) == 1
	if saeSingle {
		return want.PSKs[0].Passphrase == have.PSKs[0].Passphrase
	}

	wm := pskMap(want.PSKs)
	hm := pskMap(have.PSKs)
	if len(wm) != len(hm) {
		return false
	}
	for k, v := range wm {
		if hm[k] != v {
			return false
		}
	}
	return true
}

func pskMap(psks []osw.PSK) map[int]string {
	m := make(map[int]string, len(psks))
	for _, p := range psks {
		m[p.KeyID] = p.Passphrase
	}
	return m
}

// aclPolicyEqual treats NONE and DENY_LIST-with-empty-list as equivalent,
// §4.4.2.
func aclPolicyEqual(want, have osw.APConfig) bool {
	normalize := func(a osw.APConfig) osw.ACLPolicy {
		if a.ACLPolicy == osw.ACLDenyList && len(a.ACLSet) == 0 {
			return osw.ACLNone
		}
		return a.ACLPolicy
	}
	return normalize(want) == normalize(have)
}

func aclDiff(want, have []string) (add, del []string) {
	wantSet := make(map[string]bool, len(want))
	for _, m := range want {
		wantSet[m] = true
	}
	haveSet := make(map[string]bool, len(have))
	for _, m := range have {
		haveSet[m] = true
	}
	for m := range wantSet {
		if !haveSet[m] {
			add = append(add, m)
		}
	}
	for m := range haveSet {
		if !wantSet[m] {
			del = append(del, m)
		}
	}
	return add, del
}

func neighborDiff(want, have []osw.Neighbor) (add, mod, del []osw.Neighbor) {
	wantByBSSID := make(map[string]osw.Neighbor, len(want))
	for _, n := range want {
		wantByBSSID[n.BSSID] = n
	}
	haveByBSSID := make(map[string]osw.Neighbor, len(have))
	for _, n := range have {
		haveByBSSID[n.BSSID] = n
	}

	for bssid, wn := range wantByBSSID {
		hn, ok := haveByBSSID[bssid]
		if !ok {
			add = append(add, wn)
			continue
		}
		if wn.BSSIDInfo != hn.BSSIDInfo || wn.OpClass != hn.OpClass ||
			wn.Channel != hn.Channel || wn.PhyType != hn.PhyType {
			mod = append(mod, wn)
		}
	}
	for bssid, hn := range haveByBSSID {
		if _, ok := wantByBSSID[bssid]; !ok {
			del = append(del, hn)
		}
	}
	return add, mod, del
}

// clearUnsupportedMode implements "if any of supported_rates/basic_rates/
// beacon_rate/mcast_rate/mgmt_rate is reported absent by driver, clear the
// corresponding config field before comparing", §4.4.2.
func clearUnsupportedMode(want, have osw.Mode) osw.Mode {
	if len(have.SupportedRates) == 0 {
		want.SupportedRates = nil
	}
	if len(have.BasicRates) == 0 {
		want.BasicRates = nil
	}
	if have.BeaconRate == "" {
		want.BeaconRate = ""
	}
	if have.MulticastRate == "" {
		want.MulticastRate = ""
	}
	if have.ManagementRate == "" {
		want.ManagementRate = ""
	}
	return want
}

func modeEqual(a, b osw.Mode) bool {
	return a.HT == b.HT && a.VHT == b.VHT && a.HE == b.HE &&
		stringSliceEqual(a.SupportedRates, b.SupportedRates) &&
		stringSliceEqual(a.BasicRates, b.BasicRates) &&
		a.BeaconRate == b.BeaconRate &&
		a.MulticastRate == b.MulticastRate &&
		a.ManagementRate == b.ManagementRate
}

func stringSliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// diffSTA implements the §4.4.2 STA rules: network_changed via symmetric
// difference under net-equality, then an operation derived from connection
// state and active-link comparison.
func diffSTA(vd *VIFDiff, want, have *osw.VIF, opts DiffOptions) {
	changed := networkListChanged(want.STA.Networks, have.STA.Networks)

	op := staOperation(want, have)
	vd.STAOp = op

	if op == STANop && opts.SuppressNetworkChangedOnNOP {
		changed = false
	}
	vd.NetworkChanged = changed
	if changed || op != STANop {
		vd.Changed = true
	}
}

func networkListChanged(want, have []osw.Network) bool {
	if len(want) != len(have) {
		return true
	}
	used := make([]bool, len(have))
	for _, wn := range want {
		found := false
		for i, hn := range have {
			if used[i] {
				continue
			}
			if wn.Equal(hn) {
				used[i] = true
				found = true
				break
			}
		}
		if !found {
			return true
		}
	}
	return false
}

// staOperation implements the §4.4.2 STA operation table.
func staOperation(want, have *osw.VIF) STAOperation {
	hasNetwork := len(want.STA.Networks) > 0
	state := have.STA.ConnState

	switch {
	case hasNetwork && state == osw.STADisconnected:
		return STAConnect
	case !hasNetwork && (state == osw.STAConnected || state == osw.STAConnecting):
		return STADisconnect
	case state == osw.STAConnected:
		active := have.STA.ActiveLink
		for _, wn := range want.STA.Networks {
			if staLinkMatches(active, wn) {
				return STANop
			}
		}
		return STAReconnect
	default:
		return STANop
	}
}

// staLinkMatches implements "compare active link against each desired
// network on {bssid if non-zero else ssid, crypto family intersection,
// multi-ap, bridge}", §4.4.2.
func staLinkMatches(active, want osw.Network) bool {
	if want.BSSID != "" {
		if active.BSSID != want.BSSID {
			return false
		}
	} else if string(active.SSID) != string(want.SSID) {
		return false
	}
	if active.Crypto != want.Crypto {
		return false
	}
	return active.MultiAP == want.MultiAP && active.Bridge == want.Bridge
}
