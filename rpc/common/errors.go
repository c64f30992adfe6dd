package common

import (
	"fmt"

	"github.com/pkg/errors"
)

// FaultKind classifies every error surfaced by the client
type FaultKind int

const (
	KindUnknown FaultKind = iota
	// KindConnection is an I/O error, timeout or dial failure; the connection is evicted
	KindConnection
	// KindTopologyChanged is a retryable status; routing must be resolved again
	KindTopologyChanged
	// KindProtocol is malformed or unexpected framing; never retried
	KindProtocol
	// KindServer is an error status reported by the server; surfaced verbatim
	KindServer
	// KindRouting means the retry budget was used up on a stale topology
	KindRouting
	// KindClosed means the client or pool was closed
	KindClosed
	// KindNoServers means no address could be resolved
	KindNoServers
	// KindListener is a listener lifecycle error (e.g. handle registered twice)
	KindListener
)

// String returns the string representation of a FaultKind.
func (k FaultKind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindTopologyChanged:
		return "topology-changed"
	case KindProtocol:
		return "protocol"
	case KindServer:
		return "server"
	case KindRouting:
		return "routing"
	case KindClosed:
		return "closed"
	case KindNoServers:
		return "no-servers"
	case KindListener:
		return "listener"
	default:
		return "unknown"
	}
}

// Fault is the typed error returned by all client layers
type Fault struct {
	Kind    FaultKind
	Status  byte   // response status, 0 if the fault did not come from a response
	Address string // server address, empty if unknown
	Msg     string
	cause   error
}

func NewFault(kind FaultKind, msg string) *Fault {
	return &Fault{Kind: kind, Msg: msg}
}

func NewFaultf(kind FaultKind, format string, args ...interface{}) *Fault {
	return &Fault{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WrapFault wraps cause into a fault of the given kind
func WrapFault(kind FaultKind, cause error, msg string) *Fault {
	return &Fault{Kind: kind, Msg: msg, cause: cause}
}

// NewStatusFault creates a fault for an error status returned by the server
func NewStatusFault(kind FaultKind, status byte, msg string) *Fault {
	return &Fault{Kind: kind, Status: status, Msg: msg}
}

func (f *Fault) Error() string {
	msg := f.Msg
	if f.Status != 0 {
		msg = fmt.Sprintf("%s (status 0x%02x)", msg, f.Status)
	}
	if f.Address != "" {
		msg = fmt.Sprintf("%s [%s]", msg, f.Address)
	}
	if f.cause != nil {
		return fmt.Sprintf("%s fault: %s: %v", f.Kind, msg, f.cause)
	}
	return fmt.Sprintf("%s fault: %s", f.Kind, msg)
}

func (f *Fault) Unwrap() error {
	return f.cause
}

// Cause implements the github.com/pkg/errors causer interface
func (f *Fault) Cause() error {
	return f.cause
}

// Retryable reports whether the dispatcher may try the operation again
func (f *Fault) Retryable() bool {
	return f.Kind == KindConnection || f.Kind == KindTopologyChanged
}

// WithAddress returns a copy of the fault annotated with the server address
func (f *Fault) WithAddress(address string) *Fault {
	c := *f
	c.Address = address
	return &c
}

// AsFault returns the first Fault in the chain of err
func AsFault(err error) (*Fault, bool) {
	var f *Fault
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// IsKind reports whether err carries a fault of the given kind
func IsKind(err error, kind FaultKind) bool {
	f, ok := AsFault(err)
	return ok && f.Kind == kind
}
