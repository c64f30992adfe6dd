package topology

import "sync/atomic"

// ID is the topology id the client knows. It only ever moves forward.
type ID struct {
	v atomic.Int32
}

// NewID creates an id starting at initial
func NewID(initial int32) *ID {
	id := &ID{}
	id.v.Store(initial)
	return id
}

// Get returns the current id
func (i *ID) Get() int32 {
	return i.v.Load()
}

// Advance moves the id to next if next is newer and reports whether it did
func (i *ID) Advance(next int32) bool {
	for {
		cur := i.v.Load()
		if next <= cur {
			return false
		}
		if i.v.CompareAndSwap(cur, next) {
			return true
		}
	}
}
