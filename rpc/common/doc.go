// Package common provides the configuration, error and logging types shared by
// all packages of the remote cache client.
//
// The package focuses on:
//   - Client configuration with conservative defaults and validation
//   - A typed fault model used by every layer to signal how an error must be handled
//   - Custom logging integrated with Dragonboat's logger facade and backed by zap
//
// Key Components:
//
//   - ClientConfig: Connection, pool, retry and protocol settings. String() renders
//     the configuration in sections for the command line tools.
//
//   - Fault: The error type of the client. Its FaultKind tells the dispatcher whether
//     a connection must be evicted, whether the operation may be retried and what the
//     caller finally sees:
//
//     KindConnection       I/O error or timeout, connection evicted, retried
//     KindTopologyChanged  retryable status, routing resolved again, retried
//     KindProtocol         malformed response, connection evicted, not retried
//     KindServer           error status from the server, not retried
//     KindRouting          retry budget exhausted on a stale topology
//
//   - Logger: InitLoggers installs a Dragonboat logger factory that writes through zap
//     in console or json format. Packages obtain their logger with logger.GetLogger.
package common
