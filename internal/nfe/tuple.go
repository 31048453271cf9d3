package nfe

import "encoding/binary"

// Addr is an IP address zero-extended to 16 bytes regardless of domain,
// §4.3.1 ("extract src/dst into addr slots (zero-extended to 16 bytes)").
type Addr [16]byte

// Tuple is the 5-tuple (plus VLAN) conntrack keys connections by, §3.2.
type Tuple struct {
	Domain Domain
	Proto  Proto
	VLAN   uint16
	Addr   [2]Addr
	Port   [2]uint16
}

// inverted swaps the two (addr, port) pairs, §4.3.2/§4.3.3: "tuple-equal
// tolerates swapped addr/port pairs".
func (t Tuple) inverted() Tuple {
	inv := t
	inv.Addr[0], inv.Addr[1] = t.Addr[1], t.Addr[0]
	inv.Port[0], inv.Port[1] = t.Port[1], t.Port[0]
	return inv
}

// canonical returns the tuple in its canonical orientation: side 0 is the
// lexicographically lesser of (port, addr), §4.3.2. "if (port[0],addr[0]) >
// (port[1],addr[1])... the canonical form swaps addr/port pairs."
func (t Tuple) canonical() Tuple {
	n := t.Domain.addrLen()
	if t.Port[0] > t.Port[1] {
		return t.inverted()
	}
	if t.Port[0] == t.Port[1] {
		for i := 0; i < n; i++ {
			if t.Addr[0][i] != t.Addr[1][i] {
				if t.Addr[0][i] > t.Addr[1][i] {
					return t.inverted()
				}
				break
			}
		}
	}
	return t
}

// Hash computes the symmetric tuple hash, §4.3.2/§8 property 4: canonicalize
// first, then jhash2 over the canonical addr words with an initval mixing
// domain/proto/vlan.
func (t Tuple) Hash() uint32 {
	c := t.canonical()

	words := make([]uint32, 0, 9)
	words = append(words, addrWords(c.Addr[0])...)
	words = append(words, addrWords(c.Addr[1])...)
	words = append(words, uint32(c.Port[0])<<16|uint32(c.Port[1]))

	initval := uint32(c.Domain)<<24 | uint32(c.Proto)<<16 | uint32(c.VLAN)
	return jhash2(words, initval)
}

func addrWords(a Addr) []uint32 {
	return []uint32{
		binary.BigEndian.Uint32(a[0:4]),
		binary.BigEndian.Uint32(a[4:8]),
		binary.BigEndian.Uint32(a[8:12]),
		binary.BigEndian.Uint32(a[12:16]),
	}
}

// Equal implements tuple_equal, §8 property 5: symmetric, and tolerant of
// swapped addr/port pairs (same canonicalization as Hash).
func (t Tuple) Equal(o Tuple) bool {
	if t.Domain != o.Domain || t.Proto != o.Proto || t.VLAN != o.VLAN {
		return false
	}
	return t.canonical().rawEqual(o.canonical())
}

func (t Tuple) rawEqual(o Tuple) bool {
	return t.Addr[0] == o.Addr[0] && t.Addr[1] == o.Addr[1] &&
		t.Port[0] == o.Port[0] && t.Port[1] == o.Port[1]
}

// AddrFromV4 zero-extends a 4-byte IPv4 address into a 16-byte slot.
func AddrFromV4(b [4]byte) Addr {
	var a Addr
	copy(a[:4], b[:])
	return a
}

// AddrFromV6 copies a 16-byte IPv6 address directly.
func AddrFromV6(b [16]byte) Addr {
	return Addr(b)
}
