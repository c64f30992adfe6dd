package protocol

import (
	"fmt"

	"github.com/ValentinKolb/hotrod/rpc/common"
)

// HeaderParams is the request metadata of one operation invocation
type HeaderParams struct {
	OpCode         OpCode
	ResponseOpCode OpCode
	MessageID      uint64 // assigned by Codec.WriteHeader
	CacheName      []byte
	Flags          int32
	Intelligence   byte
	TopologyID     int32 // topology id known to the client when the request was sent
}

// NewHeaderParams creates the header params for a request code
func NewHeaderParams(op OpCode, cacheName []byte, flags int32, intelligence byte, topologyID int32) *HeaderParams {
	return &HeaderParams{
		OpCode:         op,
		ResponseOpCode: op.Response(),
		CacheName:      cacheName,
		Flags:          flags,
		Intelligence:   intelligence,
		TopologyID:     topologyID,
	}
}

// --------------------------------------------------------------------------
// Topology
// --------------------------------------------------------------------------

// TopologyInfo is the cluster view a server attaches to a response when the client's
// topology id is stale
type TopologyInfo struct {
	ID      int32
	Servers []string
	// HashVersion is the hash function version of the segment mapping, 0 if no segments follow
	HashVersion byte
	// Segments holds, per segment, the indexes into Servers of the owners (primary first)
	Segments [][]int32
}

// Validate checks that every owner index points into Servers
func (t *TopologyInfo) Validate() error {
	if len(t.Servers) == 0 {
		return common.NewFault(common.KindProtocol, "topology without servers")
	}
	for i, owners := range t.Segments {
		for _, o := range owners {
			if o < 0 || int(o) >= len(t.Servers) {
				return common.NewFaultf(common.KindProtocol, "segment %d owner index %d out of range", i, o)
			}
		}
	}
	return nil
}

// WriteTopology encodes a topology the way a server attaches it to a response header
func WriteTopology(w Writer, t *TopologyInfo) error {
	if err := WriteVInt(w, t.ID); err != nil {
		return err
	}
	if err := WriteVInt(w, int32(len(t.Servers))); err != nil {
		return err
	}
	for _, s := range t.Servers {
		if err := WriteString(w, s); err != nil {
			return err
		}
	}
	if err := w.WriteByte(t.HashVersion); err != nil {
		return err
	}
	if t.HashVersion == 0 {
		return nil
	}
	if err := WriteVInt(w, int32(len(t.Segments))); err != nil {
		return err
	}
	for _, owners := range t.Segments {
		if err := w.WriteByte(byte(len(owners))); err != nil {
			return err
		}
		for _, o := range owners {
			if err := WriteVInt(w, o); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReadTopology decodes a topology written by WriteTopology
func ReadTopology(r Reader) (*TopologyInfo, error) {
	id, err := ReadVInt(r)
	if err != nil {
		return nil, err
	}
	numServers, err := ReadVInt(r)
	if err != nil {
		return nil, err
	}
	if numServers < 0 || numServers > 1<<16 {
		return nil, common.NewFaultf(common.KindProtocol, "invalid server count %d", numServers)
	}
	t := &TopologyInfo{ID: id, Servers: make([]string, 0, numServers)}
	for i := int32(0); i < numServers; i++ {
		s, err := ReadString(r)
		if err != nil {
			return nil, err
		}
		t.Servers = append(t.Servers, s)
	}
	if t.HashVersion, err = r.ReadByte(); err != nil {
		return nil, err
	}
	if t.HashVersion == 0 {
		return t, t.Validate()
	}
	numSegments, err := ReadVInt(r)
	if err != nil {
		return nil, err
	}
	if numSegments < 0 || numSegments > 1<<20 {
		return nil, common.NewFaultf(common.KindProtocol, "invalid segment count %d", numSegments)
	}
	t.Segments = make([][]int32, numSegments)
	for i := range t.Segments {
		numOwners, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		owners := make([]int32, numOwners)
		for j := range owners {
			if owners[j], err = ReadVInt(r); err != nil {
				return nil, err
			}
		}
		t.Segments[i] = owners
	}
	return t, t.Validate()
}

// --------------------------------------------------------------------------
// Events
// --------------------------------------------------------------------------

// ClientEvent is a cache event pushed by the server on a listener's connection
type ClientEvent struct {
	Type       OpCode
	ListenerID []byte
	Key        []byte
	// Version is set for created and modified events
	Version uint64
	Custom  bool
	// Retried is set when the event may be a duplicate caused by a retried command on the server
	Retried bool
}

func (e *ClientEvent) String() string {
	return fmt.Sprintf("%s key=%q version=%d retried=%t", e.Type, e.Key, e.Version, e.Retried)
}

// HasVersion reports whether the event type carries an entry version
func (e *ClientEvent) HasVersion() bool {
	return e.Type == OpCacheEntryCreated || e.Type == OpCacheEntryModified
}
