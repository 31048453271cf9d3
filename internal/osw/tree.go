// Package osw holds the wireless-config domain types the synchronizer
// (confsync), the defer-vif-down mutator, and the stats scheduler all
// operate on: a tree of Phys, each owning a list of VIFs, each of which is
// either an AP or a STA, §3.3.
package osw

// RadarDetect is a Phy's DFS radar-detection capability.
type RadarDetect int

const (
	RadarUnsupported RadarDetect = iota
	RadarEnabled
	RadarDisabled
)

// DFSState is one channel's DFS lifecycle state.
type DFSState int

const (
	DFSNonDFS DFSState = iota
	DFSCACPossible
	DFSCACInProgress
	DFSCACCompleted
	DFSNOL
)

// ChannelState pairs a channel number with its DFS state.
type ChannelState struct {
	Channel int
	DFS     DFSState
}

// Phy is one radio, §3.3.
type Phy struct {
	Name        string
	Enabled     bool
	TxChainmask int
	RadarDetect RadarDetect
	RegDomain   [2]string
	Channels    []ChannelState
	VIFs        []*VIF
}

// ChannelStateFor returns the channel state matching ch, or (ChannelState{}, false).
func (p *Phy) ChannelStateFor(ch int) (ChannelState, bool) {
	for _, cs := range p.Channels {
		if cs.Channel == ch {
			return cs, true
		}
	}
	return ChannelState{}, false
}

// VIFType distinguishes an undefined/AP/AP-VLAN/STA VIF.
type VIFType int

const (
	VIFUndefined VIFType = iota
	VIFAp
	VIFApVlan
	VIFSta
)

// ACLPolicy is the AP's MAC-filter policy.
type ACLPolicy int

const (
	ACLNone ACLPolicy = iota
	ACLAllowList
	ACLDenyList
)

// WPA is the subset of the AP's WPA configuration the diff engine cares
// about; group_rekey_seconds is zeroed on both sides before comparison
// since the driver may not echo it back, §4.4.2.
type WPA struct {
	Enable30211    bool
	Enable80211w   bool
	GroupRekeySecs int
	KeyMgmt        []string
}

func (w WPA) comparable() WPA {
	w.GroupRekeySecs = 0
	return w
}

// Equal compares two WPA structs per the "rekey ignored" rule.
func (w WPA) Equal(o WPA) bool {
	a, b := w.comparable(), o.comparable()
	if a.Enable30211 != b.Enable30211 || a.Enable80211w != b.Enable80211w {
		return false
	}
	return stringSlicesEqualUnordered(a.KeyMgmt, b.KeyMgmt)
}

// PSK is one pre-shared key entry, keyed by key_id.
type PSK struct {
	KeyID      int
	Passphrase string
}

// Neighbor is one 802.11k neighbor report entry.
type Neighbor struct {
	BSSID      string
	BSSIDInfo  uint32
	OpClass    int
	Channel    int
	PhyType    int
}

// Mode is the subset of rate-set fields the diff engine may need to clear
// when the driver reports them as unsupported, §4.4.2.
type Mode struct {
	HT, VHT, HE      bool
	SupportedRates   []string
	BasicRates       []string
	BeaconRate       string
	MulticastRate    string
	ManagementRate   string
}

// APConfig is the AP-specific substructure of a VIF, §3.3.
type APConfig struct {
	SSID            []byte
	Channel         ChannelState
	BeaconIntervalTU int
	Isolated        bool
	Hidden          bool
	Mcast2Ucast     bool
	ACLPolicy       ACLPolicy
	ACLSet          []string
	WPA             WPA
	PSKs            []PSK
	Neighbors       []Neighbor
	MultiAP         bool
	Mode            Mode
	BridgeName      string
}

// CryptoFamily is a coarse classification of a network's security type,
// used by the STA reconcile-operation comparison, §4.4.2.
type CryptoFamily int

const (
	CryptoOpen CryptoFamily = iota
	CryptoWPA2
	CryptoWPA3SAE
)

// Network is one candidate network a STA VIF may associate to.
type Network struct {
	BSSID   string
	SSID    []byte
	PSK     string
	WPA     WPA
	MultiAP bool
	Bridge  string
	Crypto  CryptoFamily
}

// Equal implements the net-equality rule for network_changed, §4.4.2:
// compares bssid, ssid, psk, wpa (rekey ignored), multi-ap, bridge.
func (n Network) Equal(o Network) bool {
	return n.BSSID == o.BSSID &&
		string(n.SSID) == string(o.SSID) &&
		n.PSK == o.PSK &&
		n.WPA.Equal(o.WPA) &&
		n.MultiAP == o.MultiAP &&
		n.Bridge == o.Bridge
}

// STAConnState is a STA VIF's observed association state.
type STAConnState int

const (
	STADisconnected STAConnState = iota
	STAConnecting
	STAConnected
)

// STAConfig is the STA-specific substructure of a VIF, §3.3/§4.4.2.
type STAConfig struct {
	Networks []Network

	// Observed-only fields, populated from the driver side of a tree.
	ConnState  STAConnState
	ActiveLink Network
}

// VIF is one virtual interface, AP or STA, §3.3.
type VIF struct {
	Name     string
	Type     VIFType
	Enabled  bool
	TxPower  int
	AP       APConfig
	STA      STAConfig

	// WasEnabled snapshots the VIF's enabled bit from the previous round,
	// used by defer-vif-down's edge detection, §4.5.
	WasEnabled bool
}

func stringSlicesEqualUnordered(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, s := range a {
		seen[s]++
	}
	for _, s := range b {
		seen[s]--
		if seen[s] < 0 {
			return false
		}
	}
	return true
}
