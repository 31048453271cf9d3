package statestore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plume-design/opensync-sub021/internal/basedef"
)

func TestInsertUpdateDeleteCMURow(t *testing.T) {
	ft := newFakeTransport()
	c := NewClient("test", ft)

	require.NoError(t, c.InsertCMU(CMURow{IfName: "bhaul-sta-5", IfType: IfTypeVIF, HasL2: true, HasL3: true}))

	row, ok := ft.row(basedef.TableConnectionManagerUplink, "bhaul-sta-5")
	require.True(t, ok)
	assert.Equal(t, "true", row["has_L2"])

	require.NoError(t, c.UpdateCMUField("bhaul-sta-5", "has_L2", false))
	row, _ = ft.row(basedef.TableConnectionManagerUplink, "bhaul-sta-5")
	assert.Equal(t, "false", row["has_L2"])

	require.NoError(t, c.DeleteCMU("bhaul-sta-5"))
	_, ok = ft.row(basedef.TableConnectionManagerUplink, "bhaul-sta-5")
	assert.False(t, ok)
}

func TestRenewDHCPIsOneCall(t *testing.T) {
	ft := newFakeTransport()
	c := NewClient("test", ft)

	require.NoError(t, c.RenewDHCP("bhaul-sta-5"))
	assert.Equal(t, 1, ft.callCount(), "DHCP renewal must be a single atomic multi-statement write")
}

func TestUpsertGRETunnelDeletesBeforeInsert(t *testing.T) {
	ft := newFakeTransport()
	c := NewClient("test", ft)

	require.NoError(t, c.UpsertGRETunnel(InetConfig{IfName: "g-bhaul-sta-5", GREIfName: "bhaul-sta-5", MTU: 1562}))
	require.Len(t, ft.calls, 2, "upsert must be DELETE then INSERT, never in-place mutation")
	assert.Equal(t, OpDelete, ft.calls[0].Operation)
	assert.Equal(t, OpInsert, ft.calls[1].Operation)

	row, ok := ft.row(basedef.TableWifiInetConfig, "g-bhaul-sta-5")
	require.True(t, ok)
	assert.Equal(t, "1562", row["mtu"])
	assert.Equal(t, IfTypeGRE, row["if_type"])
}

func TestInsertFailureSurfacesError(t *testing.T) {
	ft := newFakeTransport()
	ft.failOp = map[string]bool{basedef.TableConnectionManagerUplink: true}
	c := NewClient("test", ft)

	err := c.InsertCMU(CMURow{IfName: "x", IfType: IfTypeVIF, HasL2: true, HasL3: true})
	assert.Error(t, err)
}
