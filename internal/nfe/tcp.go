package nfe

// TCPState is the per-connection state machine, §4.3.4.
type TCPState uint8

const (
	TCPConnecting TCPState = iota
	TCPEstablished
	TCPHalfDisconnected
	TCPLastAck
	TCPClosed
)

func (s TCPState) String() string {
	switch s {
	case TCPConnecting:
		return "CONNECTING"
	case TCPEstablished:
		return "ESTABLISHED"
	case TCPHalfDisconnected:
		return "HALF_DISCONNECTED"
	case TCPLastAck:
		return "LAST_ACK"
	case TCPClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// TCPFlag is the subset of TCP control bits the state machine cares about,
// §4.3.4 step 5 ("SYN/FIN/RST flags").
type TCPFlag uint8

const (
	FlagSYN TCPFlag = 1 << iota
	FlagFIN
	FlagRST
	FlagACK
)

// TCPHalf is one direction's worth of sequence-space bookkeeping, §4.3.4.
type TCPHalf struct {
	InitSeq     uint32
	LastSeq     uint32
	NextSeq     uint32
	LastAck     uint32
	LastSeqTime int64
	CurrSeqWrap uint32
	Packets     uint64
	MSS         uint16
	Retransmit  bool
	OutOfOrder  bool
	Keepalive   bool
	Opened      bool
	Closed      bool
	seeded      bool
}

// Classification is the per-packet classification result, §4.3.4 step 6.
type Classification uint8

const (
	ClassNormal Classification = iota
	ClassKeepalive
	ClassZeroWindowProbe
	ClassInOrder
	ClassPast
	ClassFuture
)

// retransmitThreshold is the "> 30 time units" inter-arrival threshold from
// §4.3.4/§9: the original's "last_seq_time - timestamp > 30" comparison is
// read here as "inter-arrival since this half's last_seq_time > 30",
// per the Open Question resolution - flagged there as needing empirical
// validation against the original's exact intent.
const retransmitThreshold = 30

// seed initializes a half from its first observed packet, §4.3.4 step 4.
func (h *TCPHalf) seed(seq uint32, dataLen int, ts int64, mss uint16) {
	h.InitSeq = seq
	h.LastSeq = seq
	h.NextSeq = seq + uint32(dataLen)
	h.LastSeqTime = ts
	h.MSS = mss
	h.seeded = true
}

// classify implements §4.3.4 step 6 for an already-seeded half.
func (h *TCPHalf) classify(seq uint32, dataLen int, window uint16, ts int64) Classification {
	switch {
	case dataLen <= 1 && seq == h.NextSeq-1:
		return ClassKeepalive
	case dataLen == 1 && seq == h.NextSeq && window == 0:
		return ClassZeroWindowProbe
	case seq == h.NextSeq:
		h.NextSeq += uint32(dataLen)
		h.Retransmit = false
		h.OutOfOrder = false
		return ClassInOrder
	case seqLess(seq, h.NextSeq):
		if ts-h.LastSeqTime > retransmitThreshold {
			h.Retransmit = true
		} else {
			h.OutOfOrder = true
		}
		return ClassPast
	default: // seq > next_seq
		h.OutOfOrder = true
		h.NextSeq = seq + uint32(dataLen)
		return ClassFuture
	}
}

// seqLess compares two 32-bit sequence numbers with wraparound, treating a
// as "before" b when the signed difference is negative.
func seqLess(a, b uint32) bool {
	return int32(a-b) < 0
}

// Conn.applyTCP runs one packet through the TCP state machine, §4.3.4. dir
// is 0 or 1, already resolved by address comparison against the stored
// tuple. ts is the packet timestamp, recorded as the half's LastSeqTime.
//
// The FSM only fires on SYN/FIN/RST; every other packet - including plain
// ACKs and ACK-bearing data, which is effectively all established-connection
// traffic - falls through to classify() instead, per §4.3.4 step 6.
func (c *Conn) applyTCP(dir int, seq, ack uint32, flags TCPFlag, dataLen int, window uint16, mss uint16, ts int64) {
	h := &c.TCP.Half[dir]
	other := &c.TCP.Half[1-dir]

	if !h.seeded {
		// SYN and FIN each consume one octet of sequence space, so the
		// half's next_seq must already sit past them before later data
		// packets are classified against it.
		seqOccupied := dataLen
		if flags&(FlagSYN|FlagFIN) != 0 {
			seqOccupied++
		}
		h.seed(seq, seqOccupied, ts, mss)
	}
	h.Packets++
	if seqLess(h.LastSeq, seq) || h.LastSeq == seq {
		h.LastSeq = seq
	}
	wrapped := h.seeded && seqLess(seq, h.LastSeq) && h.LastSeq-seq > 1<<31
	if wrapped {
		h.CurrSeqWrap++
	}
	h.LastSeqTime = ts

	switch {
	case flags&FlagSYN != 0:
		h.Opened = true
		if c.TCP.State == TCPConnecting && (other.Opened || dataLen > 0) {
			c.TCP.State = TCPEstablished
		}
	case flags&FlagFIN != 0:
		if !h.Closed {
			// The FIN itself consumes one octet of sequence space, same
			// as seed()'s SYN/FIN accounting.
			h.NextSeq = seq + uint32(dataLen) + 1
		}
		h.Closed = true
		switch c.TCP.State {
		case TCPEstablished:
			if other.Opened {
				c.TCP.State = TCPHalfDisconnected
			} else {
				c.TCP.State = TCPLastAck
			}
		case TCPHalfDisconnected:
			if other.Closed {
				c.TCP.State = TCPLastAck
			}
		}
	case flags&FlagRST != 0:
		c.TCP.State = TCPClosed
	default:
		h.classify(seq, dataLen, window, ts)
		if c.TCP.State == TCPConnecting && dataLen > 0 {
			c.TCP.State = TCPEstablished
		}
	}

	if flags&FlagACK != 0 {
		h.LastAck = ack
	}
	// LAST_ACK drains once the acking half's last_ack has caught up to
	// the other, already-closed half's next_seq - the final ACK covering
	// both FINs - rather than on any ACK merely arriving in this state.
	if c.TCP.State == TCPLastAck && other.Closed && h.Closed && h.LastAck == other.NextSeq {
		c.TCP.State = TCPClosed
	}
}

// TCPControlBlock is the TCP-specific per-connection state, a tagged
// variant of the generic conn control block (§9: "union types ... sum
// types with explicit discriminant").
type TCPControlBlock struct {
	State TCPState
	Half  [2]TCPHalf
}
