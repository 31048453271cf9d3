// Package nfe is the connection-flow engine, spec §4.3: packet
// classification into a protocol-agnostic tuple, conntrack lookup/creation
// with per-protocol LRU expiry, and a TCP state machine tracking each
// connection's two per-direction halves.
package nfe

// Domain distinguishes IPv4 from IPv6 tuples, §3.2.
type Domain uint8

const (
	DomainV4 Domain = iota
	DomainV6
)

// addrLen is the address length relevant to hashing/equality/canonical
// ordering for a domain: 4 bytes of a zero-extended-to-16 v4 address, or
// the full 16 for v6.
func (d Domain) addrLen() int {
	if d == DomainV6 {
		return 16
	}
	return 4
}

// Proto is the IP protocol number, reused directly from the wire value
// (TCP=6, UDP=17, ICMP=1, ICMPv6=58, ...).
type Proto uint8

const (
	ProtoICMP   Proto = 1
	ProtoTCP    Proto = 6
	ProtoUDP    Proto = 17
	ProtoIPv6   Proto = 41
	ProtoGRE    Proto = 47
	ProtoICMPv6 Proto = 58
)

// PacketType classifies a packet by its destination MAC/IP, §4.3.1.
type PacketType uint8

const (
	PacketHost PacketType = iota
	PacketBroadcast
	PacketMulticast
)

// NextAction is the dispatch tag a parser stage hands to conn_lookup,
// §4.3.1/§4.3.3.
type NextAction uint8

const (
	NextUnknown NextAction = iota
	NextDrop
	NextLookupTCP
	NextLookupUDP
	NextLookupICMP
	NextBypassICMP
	NextBypassEther
)

// Policy controls how conn_lookup behaves on a hash-bucket miss, §4.3.3.
type Policy uint8

const (
	PolicyNone Policy = iota
	PolicyCreate
	PolicyInvert
)
