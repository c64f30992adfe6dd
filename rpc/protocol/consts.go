package protocol

// --------------------------------------------------------------------------
// Framing constants
// --------------------------------------------------------------------------

const (
	RequestMagic  byte = 0xA0
	ResponseMagic byte = 0xA1

	// Version is the protocol version written in every request header (2.5)
	Version byte = 25
)

// --------------------------------------------------------------------------
// Operation codes
// --------------------------------------------------------------------------

// OpCode identifies a request or response type. Responses use the request code + 1.
type OpCode byte

const (
	OpPut                  OpCode = 0x01
	OpGet                  OpCode = 0x03
	OpPutIfAbsent          OpCode = 0x05
	OpReplace              OpCode = 0x07
	OpRemove               OpCode = 0x0B
	OpContainsKey          OpCode = 0x0F
	OpClear                OpCode = 0x13
	OpPing                 OpCode = 0x17
	OpAddClientListener    OpCode = 0x25
	OpRemoveClientListener OpCode = 0x27
	OpSize                 OpCode = 0x29

	// OpError is the response code of every error response
	OpError OpCode = 0x50

	// server pushed events
	OpCacheEntryCreated  OpCode = 0x60
	OpCacheEntryModified OpCode = 0x61
	OpCacheEntryRemoved  OpCode = 0x62
	OpCacheEntryExpired  OpCode = 0x63
)

// Response returns the response code that belongs to a request code
func (o OpCode) Response() OpCode {
	return o + 1
}

// IsEvent reports whether the code is a server pushed event
func (o OpCode) IsEvent() bool {
	return o >= OpCacheEntryCreated && o <= OpCacheEntryExpired
}

// String returns the string representation of an OpCode.
func (o OpCode) String() string {
	switch o {
	case OpPut:
		return "put"
	case OpGet:
		return "get"
	case OpPutIfAbsent:
		return "putIfAbsent"
	case OpReplace:
		return "replace"
	case OpRemove:
		return "remove"
	case OpContainsKey:
		return "containsKey"
	case OpClear:
		return "clear"
	case OpPing:
		return "ping"
	case OpAddClientListener:
		return "addClientListener"
	case OpRemoveClientListener:
		return "removeClientListener"
	case OpSize:
		return "size"
	case OpError:
		return "error"
	case OpCacheEntryCreated:
		return "created"
	case OpCacheEntryModified:
		return "modified"
	case OpCacheEntryRemoved:
		return "removed"
	case OpCacheEntryExpired:
		return "expired"
	default:
		if o&1 == 0 && o > 0 && o < OpError {
			return (o - 1).String() + "Response"
		}
		return "unknown"
	}
}

// --------------------------------------------------------------------------
// Response status
// --------------------------------------------------------------------------

// Status is the result code of a response
type Status byte

const (
	StatusSuccess                 Status = 0x00
	StatusNotExecuted             Status = 0x01 // not put, removed or replaced
	StatusKeyDoesNotExist         Status = 0x02
	StatusSuccessWithPrevious     Status = 0x03
	StatusNotExecutedWithPrevious Status = 0x04

	StatusInvalidMagicOrMessageID Status = 0x81
	StatusUnknownCommand          Status = 0x82
	StatusUnknownVersion          Status = 0x83
	StatusRequestParsingError     Status = 0x84
	StatusServerError             Status = 0x85
	StatusCommandTimeout          Status = 0x86
	StatusNodeSuspected           Status = 0x87
	StatusIllegalLifecycleState   Status = 0x88
)

// StatusClass partitions the status codes by how the client reacts to them
type StatusClass int

const (
	ClassSuccess StatusClass = iota
	ClassNotExecuted
	ClassTopologyChanged
	ClassFailure
)

// Class returns the class a status belongs to
func (s Status) Class() StatusClass {
	switch s {
	case StatusSuccess, StatusSuccessWithPrevious:
		return ClassSuccess
	case StatusNotExecuted, StatusKeyDoesNotExist, StatusNotExecutedWithPrevious:
		return ClassNotExecuted
	case StatusNodeSuspected, StatusIllegalLifecycleState:
		return ClassTopologyChanged
	default:
		return ClassFailure
	}
}

func (s Status) IsSuccess() bool     { return s.Class() == ClassSuccess }
func (s Status) IsNotExecuted() bool { return s.Class() == ClassNotExecuted }
func (s Status) IsRetryable() bool   { return s.Class() == ClassTopologyChanged }

// HasPrevious reports whether the response body carries the previous value
func (s Status) HasPrevious() bool {
	return s == StatusSuccessWithPrevious || s == StatusNotExecutedWithPrevious
}

// String returns the string representation of a Status.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusNotExecuted:
		return "not executed"
	case StatusKeyDoesNotExist:
		return "key does not exist"
	case StatusSuccessWithPrevious:
		return "success with previous"
	case StatusNotExecutedWithPrevious:
		return "not executed with previous"
	case StatusInvalidMagicOrMessageID:
		return "invalid magic or message id"
	case StatusUnknownCommand:
		return "unknown command"
	case StatusUnknownVersion:
		return "unknown version"
	case StatusRequestParsingError:
		return "request parsing error"
	case StatusServerError:
		return "server error"
	case StatusCommandTimeout:
		return "command timeout"
	case StatusNodeSuspected:
		return "node suspected"
	case StatusIllegalLifecycleState:
		return "illegal lifecycle state"
	default:
		return "unknown status"
	}
}
