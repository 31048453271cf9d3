package confsync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plume-design/opensync-sub021/internal/osw"
)

func apPhy(name string, ch osw.ChannelState, ssid string) *osw.Phy {
	return &osw.Phy{
		Name:     name,
		Enabled:  true,
		Channels: []osw.ChannelState{ch},
		VIFs: []*osw.VIF{{
			Name:    name + ".ap0",
			Type:    osw.VIFAp,
			Enabled: true,
			AP: osw.APConfig{
				SSID:    []byte(ssid),
				Channel: ch,
			},
		}},
	}
}

// TestS5CACBlocksCSAFallsBackToFullReconfig is spec §8 scenario S5, first
// half: the current channel 52 is in CAC-POSSIBLE and the desired channel
// is 56, so the channel change is flagged but, since the current channel is
// still in a blocking state, CSA must not be requested for it.
func TestS5CACBlocksCSAFallsBackToFullReconfig(t *testing.T) {
	observedChannel := osw.ChannelState{Channel: 52, DFS: osw.DFSCACPossible}
	desiredChannel := osw.ChannelState{Channel: 56, DFS: osw.DFSNonDFS}

	observed := []*osw.Phy{apPhy("wifi0", observedChannel, "ssid")}
	desired := []*osw.Phy{apPhy("wifi0", desiredChannel, "ssid")}

	diffs := Diff(desired, observed, DiffOptions{DriverSupportsCSA: true})
	require.Len(t, diffs, 1)
	require.Len(t, diffs[0].VIFs, 1)

	vd := diffs[0].VIFs[0]
	assert.True(t, vd.ChannelChanged)
	assert.False(t, vd.CSARequired, "current channel is CAC-POSSIBLE, so CSA must not be used")
}

// TestS5CACCompletedAllowsCSA is spec §8 scenario S5, second half: channel
// 36 CAC-COMPLETED (not a blocking state) permits CSA.
func TestS5CACCompletedAllowsCSA(t *testing.T) {
	observedChannel := osw.ChannelState{Channel: 36, DFS: osw.DFSCACCompleted}
	desiredChannel := osw.ChannelState{Channel: 40, DFS: osw.DFSNonDFS}

	observed := []*osw.Phy{apPhy("wifi0", observedChannel, "ssid")}
	desired := []*osw.Phy{apPhy("wifi0", desiredChannel, "ssid")}

	diffs := Diff(desired, observed, DiffOptions{DriverSupportsCSA: true})
	vd := diffs[0].VIFs[0]
	assert.True(t, vd.ChannelChanged)
	assert.True(t, vd.CSARequired)
}

func TestSSIDUnchangedProducesNoChange(t *testing.T) {
	ch := osw.ChannelState{Channel: 36, DFS: osw.DFSNonDFS}
	observed := []*osw.Phy{apPhy("wifi0", ch, "same")}
	desired := []*osw.Phy{apPhy("wifi0", ch, "same")}

	diffs := Diff(desired, observed, DiffOptions{})
	assert.False(t, diffs[0].Changed)
}

func TestACLPolicyNoneEquivalentToEmptyDenyList(t *testing.T) {
	want := osw.APConfig{ACLPolicy: osw.ACLNone}
	have := osw.APConfig{ACLPolicy: osw.ACLDenyList, ACLSet: nil}
	assert.True(t, aclPolicyEqual(want, have))
}

func TestACLDiffAddAndDel(t *testing.T) {
	add, del := aclDiff([]string{"aa:bb", "cc:dd"}, []string{"cc:dd", "ee:ff"})
	assert.ElementsMatch(t, []string{"aa:bb"}, add)
	assert.ElementsMatch(t, []string{"ee:ff"}, del)
}

func TestPSKListSAESingleComparesPassphraseOnly(t *testing.T) {
	want := osw.APConfig{
		WPA:  osw.WPA{Enable80211w: true},
		PSKs: []osw.PSK{{KeyID: 1, Passphrase: "same"}},
	}
	have := osw.APConfig{
		WPA:  osw.WPA{Enable80211w: true},
		PSKs: []osw.PSK{{KeyID: 2, Passphrase: "same"}},
	}
	assert.True(t, pskListEqual(want, have))
}

func TestNeighborDiffAddModDel(t *testing.T) {
	want := []osw.Neighbor{
		{BSSID: "a", OpClass: 1, Channel: 36},
		{BSSID: "b", OpClass: 2, Channel: 40},
	}
	have := []osw.Neighbor{
		{BSSID: "a", OpClass: 1, Channel: 36},
		{BSSID: "c", OpClass: 3, Channel: 44},
	}
	add, mod, del := neighborDiff(want, have)
	assert.Len(t, add, 1)
	assert.Equal(t, "b", add[0].BSSID)
	assert.Len(t, del, 1)
	assert.Equal(t, "c", del[0].BSSID)
	assert.Empty(t, mod)

	have2 := []osw.Neighbor{{BSSID: "a", OpClass: 1, Channel: 100}}
	_, mod2, _ := neighborDiff(want, have2)
	require.Len(t, mod2, 1)
	assert.Equal(t, "a", mod2[0].BSSID)
}

func TestSTAOperationConnectWhenDisconnectedWithNetwork(t *testing.T) {
	want := &osw.VIF{Type: osw.VIFSta, STA: osw.STAConfig{Networks: []osw.Network{{SSID: []byte("net")}}}}
	have := &osw.VIF{Type: osw.VIFSta, STA: osw.STAConfig{ConnState: osw.STADisconnected}}
	assert.Equal(t, STAConnect, staOperation(want, have))
}

func TestSTAOperationDisconnectWhenNoNetworkButConnected(t *testing.T) {
	want := &osw.VIF{Type: osw.VIFSta}
	have := &osw.VIF{Type: osw.VIFSta, STA: osw.STAConfig{ConnState: osw.STAConnected}}
	assert.Equal(t, STADisconnect, staOperation(want, have))
}

func TestSTAOperationNopOnMatchingActiveLink(t *testing.T) {
	net := osw.Network{SSID: []byte("net"), Crypto: osw.CryptoWPA2}
	want := &osw.VIF{Type: osw.VIFSta, STA: osw.STAConfig{Networks: []osw.Network{net}}}
	have := &osw.VIF{Type: osw.VIFSta, STA: osw.STAConfig{ConnState: osw.STAConnected, ActiveLink: net}}
	assert.Equal(t, STANop, staOperation(want, have))
}

func TestSTAOperationReconnectOnMismatchedActiveLink(t *testing.T) {
	want := &osw.VIF{Type: osw.VIFSta, STA: osw.STAConfig{Networks: []osw.Network{{SSID: []byte("other")}}}}
	have := &osw.VIF{Type: osw.VIFSta, STA: osw.STAConfig{ConnState: osw.STAConnected, ActiveLink: osw.Network{SSID: []byte("net")}}}
	assert.Equal(t, STAReconnect, staOperation(want, have))
}
