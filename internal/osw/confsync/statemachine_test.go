package confsync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plume-design/opensync-sub021/internal/eventloop"
	"github.com/plume-design/opensync-sub021/internal/osw"
)

type fakeMux struct {
	accept bool
	calls  int
}

func (m *fakeMux) Submit(diffs []PhyDiff) bool {
	m.calls++
	return m.accept
}

func simplePhy(ssid string) *osw.Phy {
	return &osw.Phy{
		Name:    "wifi0",
		Enabled: true,
		Channels: []osw.ChannelState{{Channel: 36, DFS: osw.DFSNonDFS}},
		VIFs: []*osw.VIF{{
			Name:    "wifi0.ap0",
			Type:    osw.VIFAp,
			Enabled: true,
			AP:      osw.APConfig{SSID: []byte(ssid), Channel: osw.ChannelState{Channel: 36}},
		}},
	}
}

func TestConfChangedWhenCleanGoesBackToIdle(t *testing.T) {
	rt := eventloop.NewVirtual(time.Unix(0, 0))
	mux := &fakeMux{accept: true}
	tree := simplePhy("ssid")

	m := NewMachine(rt, func() []*osw.Phy { return []*osw.Phy{tree} }, func() []*osw.Phy { return []*osw.Phy{tree} }, mux, DiffOptions{})

	m.ConfChanged()
	assert.Equal(t, StateIdle, m.State())
	assert.Equal(t, 0, mux.calls, "an unchanged tree never reaches the driver mux")
}

func TestConfChangedWithDriftGoesToWaitingThenConverges(t *testing.T) {
	rt := eventloop.NewVirtual(time.Unix(0, 0))
	mux := &fakeMux{accept: true}

	desired := simplePhy("new-ssid")
	observed := simplePhy("old-ssid")

	m := NewMachine(rt, func() []*osw.Phy { return []*osw.Phy{desired} }, func() []*osw.Phy { return []*osw.Phy{observed} }, mux, DiffOptions{})

	m.ConfChanged()
	require.Equal(t, StateWaiting, m.State())
	require.Equal(t, 1, mux.calls)

	// The driver converges: a subsequent state-changed tick finds WAITING
	// and moves to VERIFYING, which re-diffs against the now-matching
	// observed tree.
	observed.VIFs[0].AP.SSID = []byte("new-ssid")
	m.StateChanged()
	assert.Equal(t, StateIdle, m.State())
}

func TestDeadlineTimerReRequestsWhileStillWaiting(t *testing.T) {
	rt := eventloop.NewVirtual(time.Unix(0, 0))
	mux := &fakeMux{accept: true}

	desired := simplePhy("new-ssid")
	observed := simplePhy("old-ssid")

	m := NewMachine(rt, func() []*osw.Phy { return []*osw.Phy{desired} }, func() []*osw.Phy { return []*osw.Phy{observed} }, mux, DiffOptions{})

	m.ConfChanged()
	require.Equal(t, StateWaiting, m.State())
	callsAfterFirst := mux.calls

	// Past the 10s deadline, StateChanged fires internally and moves to
	// VERIFYING, which re-diffs (observed still stale) and goes back to
	// WAITING.
	rt.Advance(11 * time.Second)
	assert.Equal(t, StateWaiting, m.State())
	assert.Greater(t, mux.calls, callsAfterFirst)
}

func TestStateChangedFromIdleSettlesBackToIdleWhenClean(t *testing.T) {
	rt := eventloop.NewVirtual(time.Unix(0, 0))
	mux := &fakeMux{accept: true}
	tree := simplePhy("ssid")

	m := NewMachine(rt, func() []*osw.Phy { return []*osw.Phy{tree} }, func() []*osw.Phy { return []*osw.Phy{tree} }, mux, DiffOptions{})

	// StateChanged from IDLE goes straight through REQUESTING and settles
	// back at IDLE since nothing is dirty.
	m.StateChanged()
	assert.Equal(t, StateIdle, m.State())
}
