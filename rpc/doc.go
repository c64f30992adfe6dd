// Package rpc provides the client side of the remote cache protocol. It acts as the
// communication layer between applications and a cluster of cache servers.
//
// The package is organized into several subpackages:
//
//   - common: Configuration structures, the Fault error type and logging.
//
//   - protocol: Wire framing of request and response headers, events and topologies.
//
//   - transport: Connections, the per server connection pool and pluggable connectors
//     (TCP, Unix sockets).
//
//   - topology: The routing view of the cluster and key to server resolution.
//
//   - operation: One type per protocol operation, executed on a borrowed connection.
//
//   - listener: Registry of client listeners and the event consumers of their connections.
//
//   - marshaller: Conversion of typed keys and values to byte arrays (raw, string, JSON, GOB).
//
//   - client: The dispatcher driving operations with retries and the RemoteCache caller API.
package rpc
