package transport

import (
	"context"
	"net"

	"github.com/ValentinKolb/hotrod/rpc/common"
)

// IConnector defines the interface for transport-specific connection operations
type IConnector interface {
	// Connect establishes a single connection to the endpoint, honoring the ctx deadline
	Connect(ctx context.Context, endpoint string) (net.Conn, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn, config common.ClientConfig) error
}

// IConnectionProvider is the part of the pool the dispatcher and the listener registry depend on
type IConnectionProvider interface {
	// Acquire lends a pooled connection to address
	Acquire(ctx context.Context, address string) (*Conn, error)
	// AcquireDedicated lends a connection outside the pool bound, ended only by Evict
	AcquireDedicated(ctx context.Context, address string) (*Conn, error)
	// Release returns a healthy connection, exactly once per acquire
	Release(conn *Conn)
	// Evict closes a connection that must never be reused
	Evict(conn *Conn)
}

// IServerConnector defines the listening side of a transport, used by servers speaking the protocol
type IServerConnector interface {
	// Listen creates a listener on the endpoint
	Listen(endpoint string) (net.Listener, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string
}
