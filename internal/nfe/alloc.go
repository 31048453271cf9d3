package nfe

// Allocator is the dependency-injected stand-in for the native
// implementation's weak-symbol allocator hooks, §4.3.6/§9: a struct of
// four hook functions handed to the conntrack when it is created.
//
// Any hook left nil gets a default. A nil ConnAlloc allocates a plain
// *Conn and a nil ConnFree frees nothing; neither default goes through
// Alloc/Free, so a caller-supplied Alloc/Free is not used for connections.
type Allocator struct {
	Alloc func(size int) interface{}
	Free  func(interface{})

	ConnAlloc func(tuple Tuple) *Conn
	ConnFree  func(c *Conn, tuple Tuple)
}

func defaultAllocator() Allocator {
	return Allocator{
		Alloc:     func(size int) interface{} { return make([]byte, size) },
		Free:      func(interface{}) {},
		ConnAlloc: func(tuple Tuple) *Conn { return &Conn{Tuple: tuple} },
		ConnFree:  func(c *Conn, tuple Tuple) {},
	}
}

func (a *Allocator) fillDefaults() {
	d := defaultAllocator()
	if a.Alloc == nil {
		a.Alloc = d.Alloc
	}
	if a.Free == nil {
		a.Free = d.Free
	}
	if a.ConnAlloc == nil {
		a.ConnAlloc = d.ConnAlloc
	}
	if a.ConnFree == nil {
		a.ConnFree = d.ConnFree
	}
}
