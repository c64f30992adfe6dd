// Package marshaller converts user keys and values to the byte arrays stored in the remote
// cache. The client itself only deals with byte arrays; client.TypedCache uses a marshaller
// for its key and value types.
//
// Key Components:
//
//   - IMarshaller: Core interface that all marshaller implementations must satisfy.
//
//   - rawMarshallerImpl: passes []byte through unchanged.
//
//   - stringMarshallerImpl: stores strings as their utf-8 bytes, readable by clients
//     written in other languages.
//
//   - jsonMarshallerImpl: json encoding, useful for structs shared with other systems.
//
//   - gobMarshallerImpl: Go's gob encoding, only readable by Go clients. Note that gob
//     output for the same value is stable, but it carries type information and is larger
//     than json for small values.
//
// Keys are hashed on their marshalled bytes, so all clients of a cache must use the same
// key marshaller to route keys to the same owners.
//
// Thread Safety:
//
//	All marshaller implementations are stateless and safe for concurrent use.
package marshaller
