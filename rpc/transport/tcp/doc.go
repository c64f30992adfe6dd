// Package tcp implements TCP socket based connectors for the remote cache client.
//
// Key Components:
//
//   - clientConnector: dials host:port endpoints and applies TCPConf and SocketConf
//     settings (no delay, keep-alive, linger, socket buffers) to new connections
//
//   - serverConnector: listens on a TCP endpoint, used by servers speaking the protocol
//     such as the in-memory test server
package tcp
