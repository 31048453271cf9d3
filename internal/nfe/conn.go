package nfe

// Conn is one tracked connection, keyed by its canonical Tuple. Per-proto
// control blocks are carried as a discriminated union (§9): only TCP has
// fields beyond the generic bookkeeping today, but UDP/ICMP read the same
// Timestamp/LRU machinery.
type Conn struct {
	Tuple     Tuple
	Hash      uint32
	Timestamp int64
	Lockref   int32

	TCP TCPControlBlock

	bucketNext *Conn
	lruNode    *lruNode
	proto      Proto
}

// Release decrements the connection's reference count, mirroring
// nfe_conn_release / "lockref--", §4.3.3/§4.3.5, §8 property 7 ("exactly
// one transition to CLOSED invokes conn_release").
func (c *Conn) Release() {
	c.Lockref--
}
