package operation

import (
	"math"
	"time"

	"github.com/ValentinKolb/hotrod/rpc/protocol"
)

// Expiration holds the expiration settings of a write. Zero values mean the entry never expires.
type Expiration struct {
	Lifespan time.Duration
	MaxIdle  time.Duration
}

func (e Expiration) write(w protocol.Writer) error {
	if err := protocol.WriteVInt(w, seconds(e.Lifespan)); err != nil {
		return err
	}
	return protocol.WriteVInt(w, seconds(e.MaxIdle))
}

func seconds(d time.Duration) int32 {
	if d <= 0 {
		return 0
	}
	if d/time.Second >= math.MaxInt32 {
		return math.MaxInt32
	}
	s := int32(d / time.Second)
	if s == 0 {
		return 1 // sub second durations round up, 0 would mean immortal
	}
	return s
}

// --------------------------------------------------------------------------
// Ping
// --------------------------------------------------------------------------

// PingOp checks that a server is reachable and speaks the protocol
type PingOp struct {
	base
}

func NewPing(params *Params) *PingOp {
	return &PingOp{base{params: params, op: protocol.OpPing}}
}

func (o *PingOp) Route() Route {
	return AnyServer()
}

func (o *PingOp) Execute(s protocol.Stream) (struct{}, error) {
	_, err := o.roundTrip(s, nil)
	return struct{}{}, err
}

// --------------------------------------------------------------------------
// Get
// --------------------------------------------------------------------------

// GetOp reads the value of a key, the result is nil if the key does not exist
type GetOp struct {
	base
	key []byte
}

func NewGet(params *Params, key []byte) *GetOp {
	return &GetOp{base: base{params: params, op: protocol.OpGet}, key: key}
}

func (o *GetOp) Route() Route {
	return ForKey(o.key)
}

func (o *GetOp) Execute(s protocol.Stream) ([]byte, error) {
	status, err := o.roundTrip(s, func(w protocol.Writer) error {
		return protocol.WriteArray(w, o.key)
	})
	if err != nil || !status.IsSuccess() {
		return nil, err
	}
	return protocol.ReadArray(s)
}

// --------------------------------------------------------------------------
// ContainsKey
// --------------------------------------------------------------------------

// ContainsKeyOp checks whether a key exists
type ContainsKeyOp struct {
	base
	key []byte
}

func NewContainsKey(params *Params, key []byte) *ContainsKeyOp {
	return &ContainsKeyOp{base: base{params: params, op: protocol.OpContainsKey}, key: key}
}

func (o *ContainsKeyOp) Route() Route {
	return ForKey(o.key)
}

func (o *ContainsKeyOp) Execute(s protocol.Stream) (bool, error) {
	status, err := o.roundTrip(s, func(w protocol.Writer) error {
		return protocol.WriteArray(w, o.key)
	})
	if err != nil {
		return false, err
	}
	return status.IsSuccess(), nil
}

// --------------------------------------------------------------------------
// Writes (Put, PutIfAbsent, Replace)
// --------------------------------------------------------------------------

// WriteOp stores a value. Depending on the opcode the write is unconditional (put), only
// applied if the key is absent (putIfAbsent) or only if it is present (replace).
type WriteOp struct {
	base
	key        []byte
	value      []byte
	expiration Expiration
}

func newWrite(params *Params, op protocol.OpCode, key, value []byte, exp Expiration) *WriteOp {
	return &WriteOp{base: base{params: params, op: op}, key: key, value: value, expiration: exp}
}

func NewPut(params *Params, key, value []byte, exp Expiration) *WriteOp {
	return newWrite(params, protocol.OpPut, key, value, exp)
}

func NewPutIfAbsent(params *Params, key, value []byte, exp Expiration) *WriteOp {
	return newWrite(params, protocol.OpPutIfAbsent, key, value, exp)
}

func NewReplace(params *Params, key, value []byte, exp Expiration) *WriteOp {
	return newWrite(params, protocol.OpReplace, key, value, exp)
}

func (o *WriteOp) Route() Route {
	return ForKey(o.key)
}

func (o *WriteOp) Execute(s protocol.Stream) (Result, error) {
	status, err := o.roundTrip(s, func(w protocol.Writer) error {
		if err := protocol.WriteArray(w, o.key); err != nil {
			return err
		}
		if err := o.expiration.write(w); err != nil {
			return err
		}
		return protocol.WriteArray(w, o.value)
	})
	if err != nil {
		return Result{}, err
	}
	prev, err := readPrevious(s, status)
	if err != nil {
		return Result{}, err
	}
	return Result{Executed: status.IsSuccess(), Previous: prev}, nil
}

// --------------------------------------------------------------------------
// Remove
// --------------------------------------------------------------------------

// RemoveOp deletes a key, Executed is false if the key did not exist
type RemoveOp struct {
	base
	key []byte
}

func NewRemove(params *Params, key []byte) *RemoveOp {
	return &RemoveOp{base: base{params: params, op: protocol.OpRemove}, key: key}
}

func (o *RemoveOp) Route() Route {
	return ForKey(o.key)
}

func (o *RemoveOp) Execute(s protocol.Stream) (Result, error) {
	status, err := o.roundTrip(s, func(w protocol.Writer) error {
		return protocol.WriteArray(w, o.key)
	})
	if err != nil {
		return Result{}, err
	}
	prev, err := readPrevious(s, status)
	if err != nil {
		return Result{}, err
	}
	return Result{Executed: status.IsSuccess(), Previous: prev}, nil
}

// --------------------------------------------------------------------------
// Size and Clear
// --------------------------------------------------------------------------

// SizeOp returns the number of entries of the cache
type SizeOp struct {
	base
}

func NewSize(params *Params) *SizeOp {
	return &SizeOp{base{params: params, op: protocol.OpSize}}
}

func (o *SizeOp) Route() Route {
	return AnyServer()
}

func (o *SizeOp) Execute(s protocol.Stream) (int64, error) {
	if _, err := o.roundTrip(s, nil); err != nil {
		return 0, err
	}
	return protocol.ReadVLong(s)
}

// ClearOp removes all entries of the cache
type ClearOp struct {
	base
}

func NewClear(params *Params) *ClearOp {
	return &ClearOp{base{params: params, op: protocol.OpClear}}
}

func (o *ClearOp) Route() Route {
	return AnyServer()
}

func (o *ClearOp) Execute(s protocol.Stream) (struct{}, error) {
	_, err := o.roundTrip(s, nil)
	return struct{}{}, err
}
