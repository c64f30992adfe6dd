package operation

import (
	"github.com/ValentinKolb/hotrod/rpc/protocol"
)

// base implements the header handling shared by all operations
type base struct {
	params *Params
	op     protocol.OpCode
}

func (b *base) OpCode() protocol.OpCode {
	return b.op
}

func (b *base) topologyID() int32 {
	if b.params.Topology == nil {
		return 0
	}
	return b.params.Topology.ID()
}

func (b *base) writeHeader(s protocol.Stream) (*protocol.HeaderParams, error) {
	hp := protocol.NewHeaderParams(b.op, b.params.CacheName, b.params.Flags, b.params.Intelligence, b.topologyID())
	if err := b.params.Codec.WriteHeader(s, hp); err != nil {
		return nil, err
	}
	return hp, nil
}

// readHeaderAndValidate reads the response header and installs any topology the server sent,
// also when the status is an error
func (b *base) readHeaderAndValidate(s protocol.Stream, hp *protocol.HeaderParams) (protocol.Status, error) {
	status, topology, err := b.params.Codec.ReadHeaderAndValidate(s, hp)
	if topology != nil && b.params.Topology != nil {
		b.params.Topology.Update(topology)
	}
	return status, err
}

// roundTrip writes the header and the body, flushes and reads the response header
func (b *base) roundTrip(s protocol.Stream, body func(w protocol.Writer) error) (protocol.Status, error) {
	hp, err := b.writeHeader(s)
	if err != nil {
		return 0, err
	}
	if body != nil {
		if err := body(s); err != nil {
			return 0, err
		}
	}
	if err := s.Flush(); err != nil {
		return 0, err
	}
	return b.readHeaderAndValidate(s, hp)
}

// readPrevious reads the previous value if the status says one follows
func readPrevious(s protocol.Stream, status protocol.Status) ([]byte, error) {
	if !status.HasPrevious() {
		return nil, nil
	}
	return protocol.ReadArray(s)
}
