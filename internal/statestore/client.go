package statestore

import (
	"fmt"
	"strconv"

	"github.com/plume-design/opensync-sub021/internal/basedef"
)

// Client is the typed façade reconcilers use instead of raw Requests,
// mirroring apcfg.APConfig's typed accessors (GetRings, GetClients, ...)
// but over this subsystem's five tables.
type Client struct {
	transport Transport
	sender    string
}

// NewClient wraps a Transport (usually a *zmqTransport, or a fake in
// tests) with the typed per-table accessors.
func NewClient(sender string, transport Transport) *Client {
	return &Client{transport: transport, sender: sender}
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func strBool(s string) bool { return s == "true" }

// GetVIFState fetches one Wifi_VIF_State row. ok is false if the row
// doesn't exist.
func (c *Client) GetVIFState(ifName string) (row VIFState, ok bool, err error) {
	resp, err := c.transport.Do(Request{Operation: OpGet, Table: basedef.TableWifiVIFState, Key: ifName, Sender: c.sender})
	if err != nil || !resp.OK || len(resp.Rows) == 0 {
		return VIFState{}, false, err
	}
	r := resp.Rows[0]
	return VIFState{
		IfName:    ifName,
		Mode:      r["mode"],
		WDS:       strBool(r["wds"]),
		MLDIfName: r["mld_if_name"],
	}, true, nil
}

// GetMasterState fetches one Wifi_Master_State row.
func (c *Client) GetMasterState(ifName string) (row MasterState, ok bool, err error) {
	resp, err := c.transport.Do(Request{Operation: OpGet, Table: basedef.TableWifiMasterState, Key: ifName, Sender: c.sender})
	if err != nil || !resp.OK || len(resp.Rows) == 0 {
		return MasterState{}, false, err
	}
	r := resp.Rows[0]
	return MasterState{IfName: ifName, PortState: r["port_state"], InetAddr: r["inet_addr"]}, true, nil
}

// GetInetState fetches one Wifi_Inet_State row.
func (c *Client) GetInetState(ifName string) (row InetState, ok bool, err error) {
	resp, err := c.transport.Do(Request{Operation: OpGet, Table: basedef.TableWifiInetState, Key: ifName, Sender: c.sender})
	if err != nil || !resp.OK || len(resp.Rows) == 0 {
		return InetState{}, false, err
	}
	r := resp.Rows[0]
	return InetState{
		IfName:          ifName,
		Enabled:         strBool(r["enabled"]),
		Network:         strBool(r["network"]),
		IPAssignScheme:  r["ip_assign_scheme"],
		InetAddr:        r["inet_addr"],
		Netmask:         r["netmask"],
		GREIfName:       r["gre_ifname"],
		GRELocalAddr:    r["gre_local_inet_addr"],
		GREV6RemoteAddr: r["gre_remote_inet_addr"],
	}, true, nil
}

// --- CMU row operations, §4.2.2 ---

// InsertCMU issues an INSERT per §4.2.2: cmu_exists transitioning
// false->true.
func (c *Client) InsertCMU(row CMURow) error {
	resp, err := c.transport.Do(Request{
		Operation: OpInsert,
		Table:     basedef.TableConnectionManagerUplink,
		Key:       row.IfName,
		Sender:    c.sender,
		Fields: map[string]string{
			"if_type": row.IfType,
			"has_L2":  boolStr(row.HasL2),
			"has_L3":  boolStr(row.HasL3),
		},
	})
	return wrapErr("insert CMU", row.IfName, resp, err)
}

// UpdateCMUField issues an UPDATE of a single column, per §4.2.2.
func (c *Client) UpdateCMUField(ifName, field string, value bool) error {
	resp, err := c.transport.Do(Request{
		Operation: OpUpdate,
		Table:     basedef.TableConnectionManagerUplink,
		Key:       ifName,
		Sender:    c.sender,
		Fields:    map[string]string{field: boolStr(value)},
	})
	return wrapErr("update CMU."+field, ifName, resp, err)
}

// DeleteCMU issues a DELETE, per §4.2.2/§4.2.3 (cmu_exists true->false, or
// need_delete).
func (c *Client) DeleteCMU(ifName string) error {
	resp, err := c.transport.Do(Request{Operation: OpDelete, Table: basedef.TableConnectionManagerUplink, Key: ifName, Sender: c.sender})
	return wrapErr("delete CMU", ifName, resp, err)
}

// --- DHCP renewal, §4.2.4 and §6.1 ("atomic multi-statement write") ---

// RenewDHCP performs the single atomic multi-row transaction §4.2.4
// describes: zero inet_addr on Wifi_Master_State and Wifi_Inet_State for
// ifName, and increment Wifi_Inet_Config's dhcp_renew counter. The
// transport is responsible for making the three writes atomic; the zmq
// transport does this by sending them as one Request with a
// table-qualified field map understood by the State Store as a single
// transaction.
func (c *Client) RenewDHCP(ifName string) error {
	resp, err := c.transport.Do(Request{
		Operation: OpUpdate,
		Table:     "__txn_dhcp_renew",
		Key:       ifName,
		Sender:    c.sender,
		Fields: map[string]string{
			basedef.TableWifiMasterState + ".inet_addr": "0.0.0.0",
			basedef.TableWifiInetState + ".inet_addr":   "0.0.0.0",
			basedef.TableWifiInetConfig + ".dhcp_renew":  "+1",
		},
	})
	return wrapErr("renew dhcp", ifName, resp, err)
}

// --- GRE tunnel row, §4.2.5 ---

// UpsertGRETunnel deletes any existing Wifi_Inet_Config row for ifName and
// inserts a fresh one. Per §4.2.5, GRE tunnel params are never mutated in
// place: "if already present and any parameter differs, DELETE then
// INSERT".
func (c *Client) UpsertGRETunnel(row InetConfig) error {
	// best-effort delete; absence is not an error for an upsert.
	_, _ = c.transport.Do(Request{Operation: OpDelete, Table: basedef.TableWifiInetConfig, Key: row.IfName, Sender: c.sender})

	resp, err := c.transport.Do(Request{
		Operation: OpInsert,
		Table:     basedef.TableWifiInetConfig,
		Key:       row.IfName,
		Sender:    c.sender,
		Fields: map[string]string{
			"enabled":          boolStr(row.Enabled),
			"network":          boolStr(row.Network),
			"mtu":              strconv.Itoa(row.MTU),
			"ip_assign_scheme": "none",
			"if_type":          IfTypeGRE,
			"gre_ifname":       row.GREIfName,
			"gre_local_inet_addr":  row.GRELocalAddr,
			"gre_remote_inet_addr": row.GRERemoteAddr,
		},
	})
	return wrapErr("upsert GRE tunnel", row.IfName, resp, err)
}

// DeleteGRETunnel removes the Wifi_Inet_Config row for a GRE tunnel.
func (c *Client) DeleteGRETunnel(ifName string) error {
	resp, err := c.transport.Do(Request{Operation: OpDelete, Table: basedef.TableWifiInetConfig, Key: ifName, Sender: c.sender})
	return wrapErr("delete GRE tunnel", ifName, resp, err)
}

func wrapErr(op, key string, resp Response, err error) error {
	if err != nil {
		return fmt.Errorf("statestore: %s %s: %w", op, key, err)
	}
	if !resp.OK {
		return fmt.Errorf("statestore: %s %s: %s", op, key, resp.Err)
	}
	return nil
}

// Close releases the underlying transport.
func (c *Client) Close() error { return c.transport.Close() }
