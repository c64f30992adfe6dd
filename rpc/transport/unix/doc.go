// Package unix implements Unix domain socket connectors for the remote cache client.
// They are meant for servers running on the same host; socket buffer sizes from
// SocketConf are applied to new connections.
package unix
