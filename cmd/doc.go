// Package cmd implements the command-line interface of the hotrod remote cache client.
// It provides a hierarchical command structure with operations for talking to a cluster
// and for running a local development server.
//
// The package is organized into several subpackages:
//
//   - cache: Commands for cache operations (get, put, remove, size, perf, etc.)
//   - listen: Prints the events of a cache through a client listener
//   - serve: Starts an in-memory server for local development
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See hotrod -help for a list of all commands.
package cmd
