package gre

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plume-design/opensync-sub021/internal/eventloop"
	"github.com/plume-design/opensync-sub021/internal/statestore"
)

type fakeTransport struct {
	calls []statestore.Request
}

func (f *fakeTransport) Do(req statestore.Request) (statestore.Response, error) {
	f.calls = append(f.calls, req)
	return statestore.Response{OK: true}, nil
}

func (f *fakeTransport) Close() error { return nil }

type applyCall struct {
	op             string
	ifName         string
	local, remote  net.IP
	mtu            int
}

type fakeApplier struct {
	calls []applyCall
}

func (a *fakeApplier) Apply(ifName string, local, remote net.IP, mtu int) error {
	a.calls = append(a.calls, applyCall{op: "apply", ifName: ifName, local: local, remote: remote, mtu: mtu})
	return nil
}

func (a *fakeApplier) Remove(ifName string) error {
	a.calls = append(a.calls, applyCall{op: "remove", ifName: ifName})
	return nil
}

const testCooldown = 3 * time.Second

func settle(vrt *eventloop.Virtual) {
	vrt.RunIdle()
	vrt.Advance(testCooldown + time.Millisecond)
	vrt.RunIdle()
}

func TestS2GRETunnelEndpointDerivation(t *testing.T) {
	_, netmask, err := net.ParseCIDR("0.0.0.0/16")
	require.NoError(t, err)

	ep := derive(Observed{
		Enabled: true,
		Network: true,
		InetIP:  net.IPv4(169, 254, 7, 42),
		Netmask: netmask.Mask,
	})

	require.True(t, ep.Enable)
	assert.Equal(t, "169.254.7.42", ep.Local.String())
	assert.Equal(t, "169.254.0.1", ep.Remote.String())
}

func TestDeriveRejectsNonLinkLocal(t *testing.T) {
	_, netmask, _ := net.ParseCIDR("0.0.0.0/24")
	ep := derive(Observed{Enabled: true, Network: true, InetIP: net.IPv4(10, 0, 0, 5), Netmask: netmask.Mask})
	assert.False(t, ep.Enable)
}

func TestReconcilerAppliesAndTearsDownTunnel(t *testing.T) {
	vrt := eventloop.NewVirtual(time.Unix(0, 0))
	ft := &fakeTransport{}
	fa := &fakeApplier{}
	client := statestore.NewClient("test", ft)
	r := New(vrt, client, fa, testCooldown, testCooldown)
	r.Register("bhaul-sta-5", "g-bhaul-sta-5", 1562)

	_, netmask, _ := net.ParseCIDR("0.0.0.0/16")
	r.Observe("bhaul-sta-5", Observed{Enabled: true, Network: true, InetIP: net.IPv4(169, 254, 7, 42), Netmask: netmask.Mask})
	settle(vrt)

	require.Len(t, fa.calls, 1)
	assert.Equal(t, "apply", fa.calls[0].op)
	assert.Equal(t, "169.254.7.42", fa.calls[0].local.String())
	assert.Equal(t, "169.254.0.1", fa.calls[0].remote.String())
	assert.Equal(t, 1562, fa.calls[0].mtu)
	require.Len(t, ft.calls, 2, "upsert is delete-then-insert, §4.2.5")
	assert.Equal(t, statestore.OpDelete, ft.calls[0].Operation)
	assert.Equal(t, statestore.OpInsert, ft.calls[1].Operation)

	// network withdrawn -> tunnel torn down.
	r.Observe("bhaul-sta-5", Observed{Enabled: true, Network: false, InetIP: net.IPv4(169, 254, 7, 42), Netmask: netmask.Mask})
	settle(vrt)

	require.Len(t, fa.calls, 2)
	assert.Equal(t, "remove", fa.calls[1].op)
}
