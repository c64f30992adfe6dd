// Package transport manages the connections of the remote cache client.
//
// Key Components:
//
//   - IConnector: transport specific dialing (tcp, unix) and socket tuning
//
//   - Conn: a buffered connection bound to one server address. Conn implements
//     protocol.Stream and arms per request deadlines with Bind, which also aborts
//     blocked I/O when the request context is cancelled.
//
//   - Pool: lends connections per address. At most MaxActive connections are lent
//     per address at once, Acquire blocks (up to the acquire timeout) when the bound is
//     reached. Released connections are kept idle up to MaxIdle and reused oldest first.
//     Evicted connections are closed and never handed out again.
//
// Every Acquire must be followed by exactly one Release or Evict. A connection is never
// lent to two callers at the same time; lending a connection twice panics.
//
// Listener connections are taken with AcquireDedicated. They do not count against
// MaxActive, so a client with a pool bound of one can still run operations while a
// listener is blocked reading events, and they end only through Evict.
//
// Pool statistics (acquire latency, created, released and evicted connections) are
// kept in a go-metrics registry available through Pool.Metrics.
package transport
