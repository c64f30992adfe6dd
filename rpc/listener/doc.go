// Package listener manages the client listeners of a remote cache.
//
// A listener is added on a dedicated connection and the server pushes all of its events on
// that connection from then on. The Registry keeps, per listener handle, the server assigned
// listener id, the address of the node streaming the events and the event connection, and
// runs one consumer goroutine per listener that reads events and calls Listener.OnEvent.
//
// Removal never uses the event connection: the caller sends the remove request to the address
// returned by FindAddress on a regular pooled connection and calls Remove once the server
// confirmed it (or reported the listener as unknown). Remove then stops the consumer and
// evicts the event connection, which also unblocks the pending read. Lookups and removal do
// not share a lock with event delivery.
//
// When an event connection breaks the registration is dropped and the failover callback is
// called, so the client can add the listener again on another node. Retire marks a handle
// as being removed: it waits for a failover of the handle that is running, and until it is
// released neither a failover nor Register brings the handle back. After Close every
// registration is refused.
package listener
