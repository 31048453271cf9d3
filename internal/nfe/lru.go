package nfe

// lruNode is an intrusive doubly-linked list node so a connection can be
// moved to the tail or unlinked in O(1) without a map lookup, §4.3.5.
type lruNode struct {
	conn       *Conn
	prev, next *lruNode
}

// lruList is a head(oldest)-to-tail(newest) list, one per protocol's
// expiry class (ICMP, TCP-SYN, TCP-EST, UDP, Ether), §4.3.5.
type lruList struct {
	head, tail *lruNode
	len        int
}

func (l *lruList) pushTail(c *Conn) *lruNode {
	n := &lruNode{conn: c}
	if l.tail == nil {
		l.head, l.tail = n, n
	} else {
		n.prev = l.tail
		l.tail.next = n
		l.tail = n
	}
	l.len++
	return n
}

func (l *lruList) moveToTail(n *lruNode) {
	if l.tail == n {
		return
	}
	l.unlink(n)
	n.prev, n.next = nil, nil
	if l.tail == nil {
		l.head, l.tail = n, n
	} else {
		n.prev = l.tail
		l.tail.next = n
		l.tail = n
	}
	l.len++
}

func (l *lruList) unlink(n *lruNode) {
	if n.prev != nil {
		n.prev.next = n.next
	} else if l.head == n {
		l.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else if l.tail == n {
		l.tail = n.prev
	}
	n.prev, n.next = nil, nil
	l.len--
}

// expire walks the list head-first (oldest first, §8 property 6: "entries
// expire in LRU-head-first order"), releasing and removing every node
// whose connection has aged past ttl as of ts.
func (l *lruList) expire(ts int64, ttl int64, release func(*Conn)) {
	for l.head != nil {
		c := l.head.conn
		if ts-c.Timestamp < ttl {
			return
		}
		release(c)
		l.unlink(l.head)
	}
}
