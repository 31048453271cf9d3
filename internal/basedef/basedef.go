// Package basedef holds the shared constant definitions used across the
// reconciler daemons: ZMQ endpoints, event topics, State Store table names,
// and the default deadline/cooldown/timeout values from spec §4-§7.
package basedef

import "time"

const (
	ApplianceZMQURL = "tcp://127.0.0.1"

	BrokerZMQPubPort = 4131
	BrokerZMQSubPort = 4132

	StateStoreZMQRepPort = 4140

	LocalZMQSendTimeout    = 2 * time.Second
	LocalZMQReceiveTimeout = 2 * time.Second

	TopicPing       = "sys.ping"
	TopicStateStore = "sys.statestore"
	TopicDriver     = "net.driver"

	CM2PrometheusPort       = 4200
	OSWConfsyncPrometheus   = 4201
)

// State Store table names (§6.1). Preserved verbatim to keep wire
// compatibility with upstream deployments.
const (
	TableWifiVIFState           = "Wifi_VIF_State"
	TableWifiMasterState        = "Wifi_Master_State"
	TableWifiInetState          = "Wifi_Inet_State"
	TableWifiInetConfig         = "Wifi_Inet_Config"
	TableConnectionManagerUplink = "Connection_Manager_Uplink"
)

// Reconciler (CMU/DHCP/GRE) defaults, §4.2.
const (
	ReconcilerDeadline = 3 * time.Second
	ReconcilerBackoff  = 3 * time.Second
)

// Confsync defaults, §4.4.1.
const (
	ConfsyncRetryTimeout    = 30 * time.Second
	ConfsyncDeadline        = 10 * time.Second
	ConfsyncPhyTreeCacheTTL = 60 * time.Second
)

// Defer-vif-down and CAC defaults, §4.4.3, §4.5.
const (
	VifEnableDeferral  = 10 * time.Second
	CACTimeoutNormal   = 60 * time.Second
	CACTimeoutWeather  = 600 * time.Second
)

// EnvStrictNetworkChanges is the environment toggle from §6.5.
const EnvStrictNetworkChanges = "OSW_CONFSYNC_STRICT_NETWORK_CHANGES"
