package listener

import (
	"github.com/ValentinKolb/hotrod/rpc/protocol"
)

// Event is a cache event pushed by the server
type Event = protocol.ClientEvent

// Listener is the caller's subscription handle. Handles are used as map keys, so an
// implementation must be comparable (typically a pointer).
type Listener interface {
	// OnEvent is called from the listener's consumer goroutine, one event at a time
	OnEvent(ev *Event)
}

// FuncListener adapts a function to the Listener interface
type FuncListener struct {
	fn func(ev *Event)
}

// Func creates a listener handle calling fn for every event
func Func(fn func(ev *Event)) *FuncListener {
	return &FuncListener{fn: fn}
}

func (f *FuncListener) OnEvent(ev *Event) {
	f.fn(ev)
}
