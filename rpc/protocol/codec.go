package protocol

import (
	"sync/atomic"

	"github.com/ValentinKolb/hotrod/rpc/common"
)

// Codec frames requests and validates responses. Operation specific bodies are
// written and read by the operations themselves using the encoding helpers.
type Codec interface {
	// WriteHeader assigns a message id to params and writes the request header
	WriteHeader(w Writer, params *HeaderParams) error

	// ReadHeaderAndValidate reads a response header and checks it against params.
	// A non nil TopologyInfo is returned whenever the server attached a new topology,
	// also together with a fault for an error status.
	ReadHeaderAndValidate(r Reader, params *HeaderParams) (Status, *TopologyInfo, error)

	// ReadEvent reads one server pushed event from a listener connection
	ReadEvent(r Reader) (*ClientEvent, *TopologyInfo, error)
}

// NewCodec creates the codec for protocol version 2.5
func NewCodec() Codec {
	return &codec25{}
}

type codec25 struct {
	nextMessageID atomic.Uint64
}

// --------------------------------------------------------------------------
// Interface Methods (docu see protocol.Codec)
// --------------------------------------------------------------------------

func (c *codec25) WriteHeader(w Writer, params *HeaderParams) error {
	params.MessageID = c.nextMessageID.Add(1)
	return WriteRequestHeader(w, params)
}

func (c *codec25) ReadHeaderAndValidate(r Reader, params *HeaderParams) (Status, *TopologyInfo, error) {
	magic, err := r.ReadByte()
	if err != nil {
		return 0, nil, err
	}
	if magic != ResponseMagic {
		return 0, nil, common.NewFaultf(common.KindProtocol, "invalid magic 0x%02x, expected 0x%02x", magic, ResponseMagic)
	}

	msgID, err := ReadVLong(r)
	if err != nil {
		return 0, nil, err
	}
	if uint64(msgID) != params.MessageID {
		return 0, nil, common.NewFaultf(common.KindProtocol, "invalid message id %d, expected %d", msgID, params.MessageID)
	}

	op, err := r.ReadByte()
	if err != nil {
		return 0, nil, err
	}
	st, err := r.ReadByte()
	if err != nil {
		return 0, nil, err
	}
	status := Status(st)

	topology, err := readTopologyMarker(r)
	if err != nil {
		return 0, nil, err
	}

	switch status.Class() {
	case ClassFailure, ClassTopologyChanged:
		if OpCode(op) != OpError {
			return status, topology, common.NewStatusFault(common.KindProtocol, st,
				"error status on non error response "+OpCode(op).String())
		}
		msg, err := ReadString(r)
		if err != nil {
			return status, topology, err
		}
		kind := common.KindServer
		if status.IsRetryable() {
			kind = common.KindTopologyChanged
		}
		return status, topology, common.NewStatusFault(kind, st, msg)
	}

	if OpCode(op) != params.ResponseOpCode {
		return status, topology, common.NewFaultf(common.KindProtocol,
			"invalid response operation 0x%02x, expected 0x%02x", op, byte(params.ResponseOpCode))
	}
	return status, topology, nil
}

func (c *codec25) ReadEvent(r Reader) (*ClientEvent, *TopologyInfo, error) {
	magic, err := r.ReadByte()
	if err != nil {
		return nil, nil, err
	}
	if magic != ResponseMagic {
		return nil, nil, common.NewFaultf(common.KindProtocol, "invalid event magic 0x%02x", magic)
	}
	// events are not correlated to a request, the message id is ignored
	if _, err := ReadVLong(r); err != nil {
		return nil, nil, err
	}
	op, err := r.ReadByte()
	if err != nil {
		return nil, nil, err
	}
	if !OpCode(op).IsEvent() {
		return nil, nil, common.NewFaultf(common.KindProtocol, "unexpected operation 0x%02x on event connection", op)
	}
	if _, err := r.ReadByte(); err != nil { // status
		return nil, nil, err
	}
	topology, err := readTopologyMarker(r)
	if err != nil {
		return nil, nil, err
	}

	ev := &ClientEvent{Type: OpCode(op)}
	if ev.ListenerID, err = ReadArray(r); err != nil {
		return nil, nil, err
	}
	if ev.Custom, err = ReadBool(r); err != nil {
		return nil, nil, err
	}
	if ev.Retried, err = ReadBool(r); err != nil {
		return nil, nil, err
	}
	if ev.Key, err = ReadArray(r); err != nil {
		return nil, nil, err
	}
	if ev.HasVersion() {
		if ev.Version, err = ReadUint64(r); err != nil {
			return nil, nil, err
		}
	}
	return ev, topology, nil
}

func readTopologyMarker(r Reader) (*TopologyInfo, error) {
	marker, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	switch marker {
	case 0:
		return nil, nil
	case 1:
		return ReadTopology(r)
	default:
		return nil, common.NewFaultf(common.KindProtocol, "invalid topology change marker %d", marker)
	}
}

// --------------------------------------------------------------------------
// Header encoding (shared with servers speaking the protocol)
// --------------------------------------------------------------------------

// WriteRequestHeader writes a request header including the already assigned message id
func WriteRequestHeader(w Writer, p *HeaderParams) error {
	if err := w.WriteByte(RequestMagic); err != nil {
		return err
	}
	if err := WriteVLong(w, int64(p.MessageID)); err != nil {
		return err
	}
	if err := w.WriteByte(Version); err != nil {
		return err
	}
	if err := w.WriteByte(byte(p.OpCode)); err != nil {
		return err
	}
	if err := WriteArray(w, p.CacheName); err != nil {
		return err
	}
	if err := WriteVInt(w, p.Flags); err != nil {
		return err
	}
	if err := w.WriteByte(p.Intelligence); err != nil {
		return err
	}
	return WriteVInt(w, p.TopologyID)
}

// ReadRequestHeader reads a request header written by WriteRequestHeader
func ReadRequestHeader(r Reader) (*HeaderParams, error) {
	magic, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if magic != RequestMagic {
		return nil, common.NewFaultf(common.KindProtocol, "invalid request magic 0x%02x", magic)
	}
	p := &HeaderParams{}
	msgID, err := ReadVLong(r)
	if err != nil {
		return nil, err
	}
	p.MessageID = uint64(msgID)
	version, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != Version {
		return p, common.NewStatusFault(common.KindProtocol, byte(StatusUnknownVersion), "unsupported version")
	}
	op, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	p.OpCode = OpCode(op)
	p.ResponseOpCode = p.OpCode.Response()
	if p.CacheName, err = ReadArray(r); err != nil {
		return nil, err
	}
	if p.Flags, err = ReadVInt(r); err != nil {
		return nil, err
	}
	if p.Intelligence, err = r.ReadByte(); err != nil {
		return nil, err
	}
	if p.TopologyID, err = ReadVInt(r); err != nil {
		return nil, err
	}
	return p, nil
}

// WriteResponseHeader writes a response header. A non nil topology is attached with the
// change marker set. For error statuses op must be OpError and msg is written after the header.
func WriteResponseHeader(w Writer, msgID uint64, op OpCode, status Status, topology *TopologyInfo, msg string) error {
	if err := w.WriteByte(ResponseMagic); err != nil {
		return err
	}
	if err := WriteVLong(w, int64(msgID)); err != nil {
		return err
	}
	if err := w.WriteByte(byte(op)); err != nil {
		return err
	}
	if err := w.WriteByte(byte(status)); err != nil {
		return err
	}
	if topology == nil {
		if err := w.WriteByte(0); err != nil {
			return err
		}
	} else {
		if err := w.WriteByte(1); err != nil {
			return err
		}
		if err := WriteTopology(w, topology); err != nil {
			return err
		}
	}
	if op == OpError {
		return WriteString(w, msg)
	}
	return nil
}

// WriteEvent writes a server pushed event frame
func WriteEvent(w Writer, ev *ClientEvent) error {
	if err := WriteResponseHeader(w, 0, ev.Type, StatusSuccess, nil, ""); err != nil {
		return err
	}
	if err := WriteArray(w, ev.ListenerID); err != nil {
		return err
	}
	if err := WriteBool(w, ev.Custom); err != nil {
		return err
	}
	if err := WriteBool(w, ev.Retried); err != nil {
		return err
	}
	if err := WriteArray(w, ev.Key); err != nil {
		return err
	}
	if ev.HasVersion() {
		return WriteUint64(w, ev.Version)
	}
	return nil
}
