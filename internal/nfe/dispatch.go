package nfe

// LookupPacket is nfe_conn_lookup, §4.3.3/§6.3: dispatch a decoded Packet to
// the protocol-specific lookup, driving the TCP state machine when the
// packet is TCP. midflow mirrors the "midflow config" knob from §4.3.4 step
// 2: whether a non-SYN TCP packet with no matching connection should still
// create one.
func (ct *Conntrack) LookupPacket(pkt *Packet, midflow bool) (*Conn, bool) {
	broadcast := pkt.Type == PacketBroadcast

	switch pkt.Next {
	case NextLookupTCP:
		return ct.lookupTCP(pkt, midflow, broadcast)
	case NextLookupUDP, NextLookupICMP:
		return ct.Lookup(pkt.Tuple, pkt.Timestamp, PolicyCreate, broadcast)
	default:
		return nil, false
	}
}

// lookupTCP implements §4.3.4 steps 1-6: pick an allocation policy from the
// packet's control flags, resolve or create the connection, determine
// direction by comparing the packet's addresses to the stored tuple, and
// run the packet through the per-direction state machine.
func (ct *Conntrack) lookupTCP(pkt *Packet, midflow, broadcast bool) (*Conn, bool) {
	policy := PolicyNone
	switch {
	case pkt.TCPFlags&FlagSYN != 0 && pkt.TCPFlags&FlagACK == 0:
		policy = PolicyCreate
	case pkt.TCPFlags&FlagSYN != 0 && pkt.TCPFlags&FlagACK != 0:
		policy = PolicyInvert
	case midflow:
		policy = PolicyCreate
	}

	conn, existed := ct.Lookup(pkt.Tuple, pkt.Timestamp, policy, broadcast)
	if conn == nil {
		return nil, false
	}

	dir := directionOf(conn.Tuple, pkt.Tuple)
	conn.applyTCP(dir, pkt.TCPSeq, pkt.TCPAck, pkt.TCPFlags, pkt.DataLen, pkt.TCPWindow, pkt.TCPMSS, pkt.Timestamp)
	return conn, existed
}

// directionOf implements §4.3.4 step 3: side 0 is whichever of the stored
// tuple's two (addr, port) slots the packet's own side-0 slot matches.
func directionOf(stored, pkt Tuple) int {
	if stored.Addr[0] == pkt.Addr[0] && stored.Port[0] == pkt.Port[0] {
		return 0
	}
	return 1
}
