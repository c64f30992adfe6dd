package operation

import (
	"github.com/ValentinKolb/hotrod/rpc/protocol"
)

// Operation is one request/response exchange with a typed result. Execute can be called
// again on a new stream after a retryable fault and sends the same request.
type Operation[T any] interface {
	// Route tells the dispatcher which server must serve the operation
	Route() Route

	// OpCode returns the request code, used for logging and metrics
	OpCode() protocol.OpCode

	// Execute writes the request on s, flushes it, reads and validates the response
	// and decodes the result. I/O errors are returned as they are.
	Execute(s protocol.Stream) (T, error)
}

// RouteKind selects how the dispatcher resolves the server address
type RouteKind int

const (
	// RouteAny lets the dispatcher pick any server
	RouteAny RouteKind = iota
	// RouteKey targets the owner of a key
	RouteKey
	// RouteAddress targets one explicit server, never another one
	RouteAddress
)

// Route is the routing requirement of an operation
type Route struct {
	Kind    RouteKind
	Key     []byte
	Address string
}

// AnyServer routes to any server
func AnyServer() Route {
	return Route{Kind: RouteAny}
}

// ForKey routes to the owner of key
func ForKey(key []byte) Route {
	return Route{Kind: RouteKey, Key: key}
}

// ToAddress routes to exactly address
func ToAddress(address string) Route {
	return Route{Kind: RouteAddress, Address: address}
}

// TopologySink receives the topology information found in response headers
type TopologySink interface {
	ID() int32
	Update(info *protocol.TopologyInfo) bool
}

// Params holds what every operation of a cache needs to build its header
type Params struct {
	Codec        protocol.Codec
	CacheName    []byte
	Flags        int32
	Intelligence byte
	// Topology provides the id sent with each request and is updated from responses, may be nil
	Topology TopologySink
}

// Result is the outcome of a conditional write
type Result struct {
	// Executed is false when the server did not apply the write (status not-executed)
	Executed bool
	// Previous is the previous value, set only when the server returned it
	Previous []byte
}
