// Package operation implements the request/response exchanges of the remote cache client.
//
// Every operation implements Operation[T]: it names the server it must run on (Route) and
// executes on a stream lent by the connection pool. Execute writes the request header (opcode,
// cache name, flags, intelligence and the current topology id) and the operation body, flushes,
// reads and validates the response header and decodes the body. Operations keep no state
// between attempts, so the dispatcher can run them again on another connection after a
// retryable fault.
//
// Topology information attached to a response is passed to Params.Topology before the status
// is evaluated, so a retry after a topology-changed status is routed with the new view.
//
// Errors:
//   - I/O errors from the stream are returned unchanged, the connection must be evicted
//   - malformed framing is a common.KindProtocol fault
//   - topology-changed statuses are common.KindTopologyChanged faults (retryable)
//   - other error statuses are common.KindServer faults carrying the server message
//
// Not-executed statuses are results, not errors (e.g. Get of a missing key returns nil,
// Remove of a missing key returns Result{Executed: false}).
package operation
