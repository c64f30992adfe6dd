// Package protocol implements the binary framing of the remote cache protocol
// (version 2.5) shared by all operations.
//
// Request header:
//
//	magic 0xA0 | message id (vlong) | version | opcode | cache name (array)
//	| flags (vint) | client intelligence | topology id (vint)
//
// Response header:
//
//	magic 0xA1 | message id (vlong) | opcode | status | topology marker
//	[ topology when marker = 1 ] [ error message when opcode = 0x50 ]
//
// Arrays and strings are prefixed with their length as vint. Variable length
// integers store 7 bits per byte, least significant group first.
//
// Statuses are partitioned into success, not-executed, topology-changed and
// failure (see Status.Class). Codec.ReadHeaderAndValidate turns failure statuses
// into common.Fault values and returns any topology the server attached, so the
// caller can refresh its routing before it decides to retry.
//
// Server pushed events use the response header with an event opcode (0x60-0x63)
// followed by the listener id, custom and retried markers, the key and, for
// created and modified events, the entry version.
package protocol
