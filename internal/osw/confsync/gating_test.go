package confsync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plume-design/opensync-sub021/internal/eventloop"
	"github.com/plume-design/opensync-sub021/internal/osw"
)

func TestEnableDeferralSuppressesChangeUntilCleared(t *testing.T) {
	rt := eventloop.NewVirtual(time.Unix(0, 0))
	g := NewGate(rt)

	g.ArmEnableDeferral("wifi0.ap0")
	require.True(t, g.Deferred("wifi0.ap0"))

	diffs := []PhyDiff{{Name: "wifi0", Changed: true, VIFs: []VIFDiff{{Name: "wifi0.ap0", Changed: true}}}}
	phys := []*osw.Phy{{Name: "wifi0", Channels: []osw.ChannelState{{Channel: 36}}}}

	g.ApplyGating(diffs, phys, rt.Now(), nil)
	assert.False(t, diffs[0].Changed)
	assert.False(t, diffs[0].VIFs[0].Changed)

	// The driver reports the VIF enabled; the deferral clears.
	g.ObserveVIFEnabled("wifi0.ap0", true)
	assert.False(t, g.Deferred("wifi0.ap0"))
}

func TestCACInProgressSkipsWholePhyUntilTimeout(t *testing.T) {
	rt := eventloop.NewVirtual(time.Unix(0, 0))
	g := NewGate(rt)

	phys := []*osw.Phy{{Name: "wifi0", Channels: []osw.ChannelState{{Channel: 52, DFS: osw.DFSCACInProgress}}}}
	diffs := []PhyDiff{{Name: "wifi0", Changed: true, VIFs: []VIFDiff{{Name: "wifi0.ap0", Changed: true}}}}

	g.ApplyGating(diffs, phys, rt.Now(), nil)
	assert.False(t, diffs[0].Changed, "phy in CAC-in-progress must be skipped entirely")

	// Past the 60s default timeout, the phy is no longer skipped even
	// though the driver still reports CAC-in-progress (§7 overrun note).
	diffs2 := []PhyDiff{{Name: "wifi0", Changed: true, VIFs: []VIFDiff{{Name: "wifi0.ap0", Changed: true}}}}
	g.ApplyGating(diffs2, phys, rt.Now().Add(61*time.Second), nil)
	assert.True(t, diffs2[0].Changed)
}

func TestOneCACInitiatorSuppressesOtherVIFsOnSamePhy(t *testing.T) {
	rt := eventloop.NewVirtual(time.Unix(0, 0))
	g := NewGate(rt)

	phys := []*osw.Phy{{
		Name: "wifi0",
		Channels: []osw.ChannelState{
			{Channel: 52, DFS: osw.DFSCACPossible},
			{Channel: 36, DFS: osw.DFSNonDFS},
		},
	}}
	diffs := []PhyDiff{{
		Name:    "wifi0",
		Changed: true,
		VIFs: []VIFDiff{
			{Name: "wifi0.ap0", Changed: true, ChannelChanged: true, New: osw.VIF{AP: osw.APConfig{Channel: osw.ChannelState{Channel: 52}}}},
			{Name: "wifi0.ap1", Changed: true},
		},
	}}

	g.ApplyGating(diffs, phys, rt.Now(), nil)
	assert.True(t, diffs[0].VIFs[0].Changed, "the CAC-initiating VIF keeps its change")
	assert.False(t, diffs[0].VIFs[1].Changed, "other VIFs on the phy are suppressed this round")
}
