package nfe

import (
	"fmt"
)

// Expiry holds the per-protocol expiry windows configured at
// conntrack-create time, §4.3.5.
type Expiry struct {
	ICMP   int64
	TCPSyn int64
	TCPEst int64
	UDP    int64
	Ether  int64
}

// DefaultExpiry mirrors conventional conntrack defaults (seconds, if the
// caller's timestamps are in seconds; the engine is timestamp-unit
// agnostic).
var DefaultExpiry = Expiry{
	ICMP:   30,
	TCPSyn: 120,
	TCPEst: 432000,
	UDP:    180,
	Ether:  600,
}

// Conntrack is the connection table: one hash-bucket array plus one LRU
// list per expiry class, §4.3.3/§4.3.5.
type Conntrack struct {
	buckets   []*Conn
	mask      uint32
	expiry    Expiry
	alloc     Allocator
	lruICMP   lruList
	lruTCPSyn lruList
	lruTCPEst lruList
	lruUDP    lruList
	lruEther  lruList
	size      int
}

// clp2 rounds size up to the next power of two, §6.3.
func clp2(size int) int {
	if size <= 1 {
		return 1
	}
	n := size - 1
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	return n + 1
}

// NewConntrack creates a table sized to clp2(size). size must be > 0,
// §6.3.
func NewConntrack(size int, expiry Expiry, alloc Allocator) (*Conntrack, error) {
	if size <= 0 {
		return nil, fmt.Errorf("nfe: conntrack size must be > 0")
	}
	alloc.fillDefaults()
	n := clp2(size)
	return &Conntrack{
		buckets: make([]*Conn, n),
		mask:    uint32(n - 1),
		expiry:  expiry,
		alloc:   alloc,
		size:    n,
	}, nil
}

// Destroy walks every LRU list, unlinking and freeing each connection,
// §4.3.5.
func (ct *Conntrack) Destroy() {
	for _, l := range ct.allLRUs() {
		for n := l.head; n != nil; {
			next := n.next
			ct.unlinkBucket(n.conn)
			ct.alloc.ConnFree(n.conn, n.conn.Tuple)
			n = next
		}
		*l = lruList{}
	}
}

func (ct *Conntrack) allLRUs() []*lruList {
	return []*lruList{&ct.lruICMP, &ct.lruTCPSyn, &ct.lruTCPEst, &ct.lruUDP, &ct.lruEther}
}

func (ct *Conntrack) bucketIndex(hash uint32) uint32 { return hash & ct.mask }

func (ct *Conntrack) unlinkBucket(c *Conn) {
	idx := ct.bucketIndex(c.Hash)
	cur := ct.buckets[idx]
	if cur == c {
		ct.buckets[idx] = c.bucketNext
		return
	}
	for cur != nil {
		if cur.bucketNext == c {
			cur.bucketNext = c.bucketNext
			return
		}
		cur = cur.bucketNext
	}
}

func (ct *Conntrack) lruFor(proto Proto, tcpState TCPState) *lruList {
	switch proto {
	case ProtoTCP:
		if tcpState == TCPConnecting {
			return &ct.lruTCPSyn
		}
		return &ct.lruTCPEst
	case ProtoUDP:
		return &ct.lruUDP
	case ProtoICMP, ProtoICMPv6:
		return &ct.lruICMP
	default:
		return &ct.lruEther
	}
}

func (ct *Conntrack) expiryFor(proto Proto, tcpState TCPState) int64 {
	switch proto {
	case ProtoTCP:
		if tcpState == TCPConnecting {
			return ct.expiry.TCPSyn
		}
		return ct.expiry.TCPEst
	case ProtoUDP:
		return ct.expiry.UDP
	case ProtoICMP, ProtoICMPv6:
		return ct.expiry.ICMP
	default:
		return ct.expiry.Ether
	}
}

func (ct *Conntrack) release(c *Conn) {
	c.Release()
	ct.unlinkBucket(c)
	ct.alloc.ConnFree(c, c.Tuple)
}

// Lookup implements conn_lookup's per-protocol pattern, §4.3.3:
//  1. expire the relevant LRU
//  2. hash-bucket lookup with tolerant tuple equality
//  3. on miss with policy CREATE/INVERT, allocate and link
//  4. stamp timestamp, move to LRU tail
//
// Broadcast packets get a fresh, unshared, un-inserted connection
// regardless of policy, §4.3.3.
func (ct *Conntrack) Lookup(tuple Tuple, ts int64, policy Policy, broadcast bool) (*Conn, bool) {
	if broadcast {
		c := ct.alloc.ConnAlloc(tuple)
		c.Hash = tuple.Hash()
		c.Timestamp = ts
		c.Lockref = 1
		c.proto = tuple.Proto
		return c, true
	}

	if tuple.Proto == ProtoTCP {
		ct.lruTCPSyn.expire(ts, ct.expiry.TCPSyn, ct.release)
		ct.lruTCPEst.expire(ts, ct.expiry.TCPEst, ct.release)
	} else {
		ct.lruFor(tuple.Proto, TCPEstablished).expire(ts, ct.expiryFor(tuple.Proto, TCPEstablished), ct.release)
	}

	hash := tuple.Hash()
	idx := ct.bucketIndex(hash)
	for c := ct.buckets[idx]; c != nil; c = c.bucketNext {
		if c.Hash == hash && c.Tuple.Equal(tuple) {
			c.Timestamp = ts
			ct.lruFor(c.proto, ct.stateOf(c)).moveToTail(c.lruNode)
			return c, true
		}
	}

	if policy == PolicyNone {
		return nil, false
	}

	canon := tuple
	if policy == PolicyInvert {
		canon = tuple.inverted()
	}

	c := ct.alloc.ConnAlloc(canon)
	c.Hash = hash
	c.Timestamp = ts
	c.Lockref = 1
	c.proto = tuple.Proto
	c.bucketNext = ct.buckets[idx]
	ct.buckets[idx] = c
	c.lruNode = ct.lruFor(c.proto, ct.stateOf(c)).pushTail(c)
	return c, false
}

func (ct *Conntrack) stateOf(c *Conn) TCPState {
	if c.proto == ProtoTCP {
		return c.TCP.State
	}
	return TCPEstablished
}

// DumpEntry is one row yielded by Dump.
type DumpEntry struct {
	Tuple     Tuple
	Timestamp int64
	Lockref   int32
}

// Dump invokes cb for every live connection, §6.3 (nfe_conntrack_dump),
// for diagnostics rather than the hot packet path.
func (ct *Conntrack) Dump(cb func(DumpEntry)) {
	for _, l := range ct.allLRUs() {
		for n := l.head; n != nil; n = n.next {
			cb(DumpEntry{Tuple: n.conn.Tuple, Timestamp: n.conn.Timestamp, Lockref: n.conn.Lockref})
		}
	}
}

// Size returns the table's power-of-two bucket count, §6.3.
func (ct *Conntrack) Size() int { return ct.size }
