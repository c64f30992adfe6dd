// Package topology keeps the client's view of the cluster and resolves where a request goes.
//
// The view starts with the configured server list and topology id 0. Every request carries
// the current id; when a server knows a newer topology it attaches it to the response and
// Update installs it. Ids only move forward, so a late response with an older topology never
// replaces a newer one.
//
// Key based routing hashes the key with sha-256 (cached in an LRU by KeyHashes), maps the
// hash to a segment with jump consistent hashing and picks the segment's first owner that
// did not fail during the current invocation. Without segment information the servers are
// used round robin.
package topology
