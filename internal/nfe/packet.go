// Packet decode, spec §4.3.1: packet_hash normalizes a raw frame into a
// Tuple plus a dispatch tag, delegating the actual byte-level parsing to
// gopacket's layer decoders rather than hand-rolled header math.
package nfe

import (
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Packet is the normalized result of PacketHash, §4.3.1.
type Packet struct {
	Tuple     Tuple
	Timestamp int64
	Type      PacketType
	Next      NextAction
	DataLen   int

	// Valid when Next == NextLookupTCP.
	TCPSeq, TCPAck uint32
	TCPFlags       TCPFlag
	TCPWindow      uint16
	TCPMSS         uint16
}

// startLayer picks the decoder to hand the raw bytes to, based on the
// caller-supplied ethertype: 0 means "data starts with an Ethernet II
// header", any other value names the protocol already stripped of its
// link-layer framing, §4.3.1.
func startLayer(ethertype uint16) gopacket.LayerType {
	switch ethertype {
	case 0:
		return layers.LayerTypeEthernet
	case 0x8100:
		return layers.LayerTypeDot1Q
	case 0x0800:
		return layers.LayerTypeIPv4
	case 0x86DD:
		return layers.LayerTypeIPv6
	case 0x0806:
		return layers.LayerTypeARP
	default:
		return gopacket.LayerTypeZero
	}
}

func classifyMAC(dst net.HardwareAddr) PacketType {
	if len(dst) == 6 {
		allFF := true
		for _, b := range dst {
			if b != 0xff {
				allFF = false
				break
			}
		}
		if allFF {
			return PacketBroadcast
		}
		if dst[0]&0x01 != 0 {
			return PacketMulticast
		}
	}
	return PacketHost
}

// PacketHash implements packet_hash, §4.3.1: normalize, dispatch by
// ethertype through VLAN/IPv4/IPv6/ARP-bypass, then by IP protocol to the
// TCP/UDP/ICMP/IPIP/GRE/IPv6-in-IPv6 handoff table.
func PacketHash(data []byte, ethertype uint16, ts int64) (*Packet, error) {
	layer := startLayer(ethertype)
	if layer == gopacket.LayerTypeZero {
		return &Packet{Timestamp: ts, Next: NextUnknown}, nil
	}

	pkt := gopacket.NewPacket(data, layer, gopacket.NoCopy)
	if err := pkt.ErrorLayer(); err != nil {
		return nil, err.Error()
	}

	p := &Packet{Timestamp: ts}

	if eth, ok := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet); ok {
		p.Type = classifyMAC(eth.DstMAC)
	}

	if arp := pkt.Layer(layers.LayerTypeARP); arp != nil {
		p.Next = NextBypassEther
		return p, nil
	}

	v4, isV4 := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	v6, isV6 := pkt.Layer(layers.LayerTypeIPv6).(*layers.IPv6)

	var proto layers.IPProtocol
	switch {
	case isV4:
		// Reject fragmented datagrams outright, §4.3.1.
		if v4.Flags&layers.IPv4MoreFragments != 0 || v4.FragOffset != 0 {
			p.Next = NextDrop
			return p, nil
		}
		p.Tuple.Domain = DomainV4
		p.Tuple.Addr[0] = AddrFromV4([4]byte(v4.SrcIP.To4()))
		p.Tuple.Addr[1] = AddrFromV4([4]byte(v4.DstIP.To4()))
		proto = v4.Protocol
		if p.Type == PacketHost {
			p.Type = classifyIP(v4.DstIP)
		}
	case isV6:
		p.Tuple.Domain = DomainV6
		p.Tuple.Addr[0] = AddrFromV6([16]byte(v6.SrcIP.To16()))
		p.Tuple.Addr[1] = AddrFromV6([16]byte(v6.DstIP.To16()))
		proto = v6.NextHeader
		if p.Type == PacketHost {
			p.Type = classifyIP(v6.DstIP)
		}
	default:
		p.Next = NextUnknown
		return p, nil
	}
	p.Tuple.Proto = Proto(proto)

	switch proto {
	case layers.IPProtocolTCP:
		tcp, _ := pkt.Layer(layers.LayerTypeTCP).(*layers.TCP)
		if tcp == nil {
			p.Next = NextDrop
			return p, nil
		}
		p.Tuple.Port[0] = uint16(tcp.SrcPort)
		p.Tuple.Port[1] = uint16(tcp.DstPort)
		p.TCPSeq = tcp.Seq
		p.TCPAck = tcp.Ack
		p.TCPWindow = tcp.Window
		p.TCPMSS = tcpMSS(tcp)
		p.TCPFlags = tcpFlags(tcp)
		p.DataLen = len(tcp.Payload)
		p.Next = NextLookupTCP

	case layers.IPProtocolUDP:
		udp, _ := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if udp == nil {
			p.Next = NextDrop
			return p, nil
		}
		p.Tuple.Port[0] = uint16(udp.SrcPort)
		p.Tuple.Port[1] = uint16(udp.DstPort)
		p.DataLen = len(udp.Payload)
		p.Next = NextLookupUDP

	case layers.IPProtocolICMPv4:
		icmp, _ := pkt.Layer(layers.LayerTypeICMPv4).(*layers.ICMPv4)
		if icmp == nil {
			p.Next = NextDrop
			return p, nil
		}
		p.Next = icmpNext(uint8(icmp.TypeCode.Type()))

	case layers.IPProtocolICMPv6:
		icmp, _ := pkt.Layer(layers.LayerTypeICMPv6).(*layers.ICMPv6)
		if icmp == nil {
			p.Next = NextDrop
			return p, nil
		}
		p.Next = icmpNext(uint8(icmp.TypeCode.Type()))

	case layers.IPProtocolIPv4, layers.IPProtocolIPv6, layers.IPProtocolGRE:
		// IPIP/IPv6-in-IPv6/GRE: the relevant inner tuple was already
		// captured above from the outer header per the dispatch table's
		// "re-enter" rule; gopacket has already decoded through to any
		// inner TCP/UDP/ICMP layer, so just resolve Next from whichever
		// transport layer, if any, ended up present.
		p.Next = resolveInnerNext(pkt, p)

	default:
		p.Next = NextUnknown
	}

	return p, nil
}

func classifyIP(ip net.IP) PacketType {
	if ip.IsMulticast() {
		return PacketMulticast
	}
	if b := ip.To4(); b != nil && b[3] == 255 {
		return PacketBroadcast
	}
	return PacketHost
}

func tcpFlags(tcp *layers.TCP) TCPFlag {
	var f TCPFlag
	if tcp.SYN {
		f |= FlagSYN
	}
	if tcp.FIN {
		f |= FlagFIN
	}
	if tcp.RST {
		f |= FlagRST
	}
	if tcp.ACK {
		f |= FlagACK
	}
	return f
}

// tcpMSS extracts TCP_OPTION_MSS on SYN, defaulting to 1460, §4.3.4.
func tcpMSS(tcp *layers.TCP) uint16 {
	if !tcp.SYN {
		return 0
	}
	for _, opt := range tcp.Options {
		if opt.OptionType == layers.TCPOptionKindMSS && len(opt.OptionData) == 2 {
			return uint16(opt.OptionData[0])<<8 | uint16(opt.OptionData[1])
		}
	}
	return 1460
}

// icmpNext classifies stateless ICMP error types (destination unreachable,
// source quench, redirect) as BYPASS_ICMP, everything else as
// LOOKUP_ICMP, §4.3.1.
func icmpNext(icmpType uint8) NextAction {
	switch icmpType {
	case 3, 4, 5:
		return NextBypassICMP
	default:
		return NextLookupICMP
	}
}

func resolveInnerNext(pkt gopacket.Packet, p *Packet) NextAction {
	if tcp, ok := pkt.Layer(layers.LayerTypeTCP).(*layers.TCP); ok {
		p.Tuple.Port[0] = uint16(tcp.SrcPort)
		p.Tuple.Port[1] = uint16(tcp.DstPort)
		p.TCPSeq, p.TCPAck = tcp.Seq, tcp.Ack
		p.TCPWindow = tcp.Window
		p.TCPMSS = tcpMSS(tcp)
		p.TCPFlags = tcpFlags(tcp)
		p.DataLen = len(tcp.Payload)
		return NextLookupTCP
	}
	if udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP); ok {
		p.Tuple.Port[0] = uint16(udp.SrcPort)
		p.Tuple.Port[1] = uint16(udp.DstPort)
		p.DataLen = len(udp.Payload)
		return NextLookupUDP
	}
	return NextUnknown
}
