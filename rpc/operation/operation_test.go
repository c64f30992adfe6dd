package operation

import (
	"bytes"
	"io"
	"math"
	"testing"
	"time"

	"github.com/ValentinKolb/hotrod/rpc/common"
	"github.com/ValentinKolb/hotrod/rpc/protocol"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

// scriptedStream answers every flushed request with the response built by respond
type scriptedStream struct {
	out      bytes.Buffer
	in       bytes.Buffer
	flushErr error
	requests []*protocol.HeaderParams
	respond  func(req *protocol.HeaderParams, body *bytes.Buffer, resp *bytes.Buffer)
}

func (s *scriptedStream) Read(p []byte) (int, error) { return s.in.Read(p) }
func (s *scriptedStream) ReadByte() (byte, error)    { return s.in.ReadByte() }
func (s *scriptedStream) Write(p []byte) (int, error) {
	return s.out.Write(p)
}
func (s *scriptedStream) WriteByte(b byte) error { return s.out.WriteByte(b) }

func (s *scriptedStream) Flush() error {
	if s.flushErr != nil {
		return s.flushErr
	}
	req, err := protocol.ReadRequestHeader(&s.out)
	if err != nil {
		return err
	}
	s.requests = append(s.requests, req)
	s.respond(req, &s.out, &s.in)
	s.out.Reset()
	return nil
}

// reply writes a response header for req with the given status
func reply(req *protocol.HeaderParams, resp *bytes.Buffer, status protocol.Status, topology *protocol.TopologyInfo) {
	op := req.OpCode.Response()
	msg := ""
	if status.Class() == protocol.ClassFailure || status.Class() == protocol.ClassTopologyChanged {
		op = protocol.OpError
		msg = "rejected"
	}
	_ = protocol.WriteResponseHeader(resp, req.MessageID, op, status, topology, msg)
}

type sink struct {
	id      int32
	updates []*protocol.TopologyInfo
}

func (s *sink) ID() int32 { return s.id }
func (s *sink) Update(info *protocol.TopologyInfo) bool {
	s.updates = append(s.updates, info)
	if info.ID > s.id {
		s.id = info.ID
		return true
	}
	return false
}

func newParams() (*Params, *sink) {
	topo := &sink{}
	return &Params{
		Codec:        protocol.NewCodec(),
		CacheName:    []byte("books"),
		Flags:        common.FlagForceReturnValue,
		Intelligence: common.IntelligenceDistribution.Byte(),
		Topology:     topo,
	}, topo
}

func TestGetFoundAndMissing(t *testing.T) {
	params, _ := newParams()
	store := map[string][]byte{"dune": []byte("herbert")}
	s := &scriptedStream{respond: func(req *protocol.HeaderParams, body, resp *bytes.Buffer) {
		key, err := protocol.ReadArray(body)
		require.NoError(t, err)
		if v, ok := store[string(key)]; ok {
			reply(req, resp, protocol.StatusSuccess, nil)
			_ = protocol.WriteArray(resp, v)
			return
		}
		reply(req, resp, protocol.StatusKeyDoesNotExist, nil)
	}}

	get := NewGet(params, []byte("dune"))
	require.Equal(t, ForKey([]byte("dune")), get.Route())
	v, err := get.Execute(s)
	require.NoError(t, err)
	require.Equal(t, []byte("herbert"), v)

	v, err = NewGet(params, []byte("missing")).Execute(s)
	require.NoError(t, err)
	require.Nil(t, v)

	require.Len(t, s.requests, 2)
	require.Equal(t, protocol.OpGet, s.requests[0].OpCode)
	require.Equal(t, []byte("books"), s.requests[0].CacheName)
	require.Equal(t, common.FlagForceReturnValue, s.requests[0].Flags)
	require.Equal(t, byte(0x03), s.requests[0].Intelligence)
}

func TestPutBodyAndPreviousValue(t *testing.T) {
	params, _ := newParams()
	s := &scriptedStream{respond: func(req *protocol.HeaderParams, body, resp *bytes.Buffer) {
		key, _ := protocol.ReadArray(body)
		lifespan, _ := protocol.ReadVInt(body)
		maxIdle, _ := protocol.ReadVInt(body)
		value, _ := protocol.ReadArray(body)
		require.Equal(t, "k", string(key))
		require.Equal(t, int32(60), lifespan)
		require.Equal(t, int32(1), maxIdle)
		require.Equal(t, "v2", string(value))
		require.Zero(t, body.Len())

		reply(req, resp, protocol.StatusSuccessWithPrevious, nil)
		_ = protocol.WriteArray(resp, []byte("v1"))
	}}

	res, err := NewPut(params, []byte("k"), []byte("v2"), Expiration{
		Lifespan: time.Minute,
		MaxIdle:  200 * time.Millisecond,
	}).Execute(s)
	require.NoError(t, err)
	require.True(t, res.Executed)
	require.Equal(t, []byte("v1"), res.Previous)
	require.Zero(t, s.in.Len())
}

func TestExpirationSeconds(t *testing.T) {
	for _, tc := range []struct {
		d    time.Duration
		want int32
	}{
		{0, 0},
		{-time.Second, 0},
		{time.Millisecond, 1},
		{90 * time.Second, 90},
		{math.MaxInt32 * time.Second, math.MaxInt32},
		{100 * 365 * 24 * time.Hour, math.MaxInt32},
		{time.Duration(math.MaxInt64), math.MaxInt32},
	} {
		t.Run(tc.d.String(), func(t *testing.T) {
			require.Equal(t, tc.want, seconds(tc.d))
		})
	}
}

func TestPutIfAbsentNotExecuted(t *testing.T) {
	params, _ := newParams()
	s := &scriptedStream{respond: func(req *protocol.HeaderParams, body, resp *bytes.Buffer) {
		require.Equal(t, protocol.OpPutIfAbsent, req.OpCode)
		reply(req, resp, protocol.StatusNotExecutedWithPrevious, nil)
		_ = protocol.WriteArray(resp, []byte("existing"))
	}}

	res, err := NewPutIfAbsent(params, []byte("k"), []byte("v"), Expiration{}).Execute(s)
	require.NoError(t, err)
	require.False(t, res.Executed)
	require.Equal(t, []byte("existing"), res.Previous)
}

func TestReplaceAndRemoveWithoutPrevious(t *testing.T) {
	params, _ := newParams()
	s := &scriptedStream{respond: func(req *protocol.HeaderParams, body, resp *bytes.Buffer) {
		switch req.OpCode {
		case protocol.OpReplace:
			reply(req, resp, protocol.StatusNotExecuted, nil)
		case protocol.OpRemove:
			reply(req, resp, protocol.StatusSuccess, nil)
		}
	}}

	res, err := NewReplace(params, []byte("k"), []byte("v"), Expiration{}).Execute(s)
	require.NoError(t, err)
	require.Equal(t, Result{}, res)

	res, err = NewRemove(params, []byte("k")).Execute(s)
	require.NoError(t, err)
	require.Equal(t, Result{Executed: true}, res)
}

func TestContainsKeySizeClearPing(t *testing.T) {
	params, _ := newParams()
	s := &scriptedStream{respond: func(req *protocol.HeaderParams, body, resp *bytes.Buffer) {
		switch req.OpCode {
		case protocol.OpContainsKey:
			key, _ := protocol.ReadArray(body)
			if string(key) == "here" {
				reply(req, resp, protocol.StatusSuccess, nil)
			} else {
				reply(req, resp, protocol.StatusKeyDoesNotExist, nil)
			}
		case protocol.OpSize:
			reply(req, resp, protocol.StatusSuccess, nil)
			_ = protocol.WriteVLong(resp, 1234)
		default:
			reply(req, resp, protocol.StatusSuccess, nil)
		}
	}}

	ok, err := NewContainsKey(params, []byte("here")).Execute(s)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = NewContainsKey(params, []byte("gone")).Execute(s)
	require.NoError(t, err)
	require.False(t, ok)

	size, err := NewSize(params).Execute(s)
	require.NoError(t, err)
	require.Equal(t, int64(1234), size)

	_, err = NewClear(params).Execute(s)
	require.NoError(t, err)
	ping := NewPing(params)
	require.Equal(t, AnyServer(), ping.Route())
	_, err = ping.Execute(s)
	require.NoError(t, err)
}

func TestTopologyFromResponseIsApplied(t *testing.T) {
	params, topo := newParams()
	next := &protocol.TopologyInfo{ID: 9, Servers: []string{"a:1", "b:1"}}
	s := &scriptedStream{respond: func(req *protocol.HeaderParams, body, resp *bytes.Buffer) {
		if req.TopologyID < next.ID {
			reply(req, resp, protocol.StatusNodeSuspected, next)
			return
		}
		reply(req, resp, protocol.StatusSuccess, nil)
	}}

	_, err := NewPing(params).Execute(s)
	require.True(t, common.IsKind(err, common.KindTopologyChanged))
	require.Len(t, topo.updates, 1)
	require.Equal(t, int32(9), topo.ID())

	// the retry carries the new topology id
	_, err = NewPing(params).Execute(s)
	require.NoError(t, err)
	require.Equal(t, int32(9), s.requests[1].TopologyID)
}

func TestServerErrorIsNotRetryable(t *testing.T) {
	params, _ := newParams()
	s := &scriptedStream{respond: func(req *protocol.HeaderParams, body, resp *bytes.Buffer) {
		reply(req, resp, protocol.StatusServerError, nil)
	}}

	_, err := NewGet(params, []byte("k")).Execute(s)
	f, ok := common.AsFault(err)
	require.True(t, ok)
	require.Equal(t, common.KindServer, f.Kind)
	require.False(t, f.Retryable())
}

func TestIOErrorIsReturnedUnwrapped(t *testing.T) {
	params, _ := newParams()
	s := &scriptedStream{flushErr: io.ErrClosedPipe}

	_, err := NewPut(params, []byte("k"), []byte("v"), Expiration{}).Execute(s)
	require.Equal(t, io.ErrClosedPipe, errors.Cause(err))
	_, isFault := common.AsFault(err)
	require.False(t, isFault)
}

func TestListenerOperations(t *testing.T) {
	params, _ := newParams()
	known := map[string]bool{}
	s := &scriptedStream{respond: func(req *protocol.HeaderParams, body, resp *bytes.Buffer) {
		switch req.OpCode {
		case protocol.OpAddClientListener:
			state, _ := protocol.ReadBool(body)
			filter, _ := protocol.ReadString(body)
			converter, _ := protocol.ReadString(body)
			require.True(t, state)
			require.Equal(t, "filter", filter)
			require.Empty(t, converter)
			known["L1"] = true
			reply(req, resp, protocol.StatusSuccess, nil)
			_ = protocol.WriteArray(resp, []byte("L1"))
		case protocol.OpRemoveClientListener:
			id, _ := protocol.ReadArray(body)
			if known[string(id)] {
				delete(known, string(id))
				reply(req, resp, protocol.StatusSuccess, nil)
			} else {
				reply(req, resp, protocol.StatusNotExecuted, nil)
			}
		}
	}}

	id, err := NewAddClientListener(params, ListenerOptions{IncludeCurrentState: true, FilterFactory: "filter"}).Execute(s)
	require.NoError(t, err)
	require.Equal(t, []byte("L1"), id)

	remove := NewRemoveClientListener(params, id, "n1:11222")
	require.Equal(t, ToAddress("n1:11222"), remove.Route())
	removed, err := remove.Execute(s)
	require.NoError(t, err)
	require.True(t, removed)

	// the server no longer knows the listener, that is not an error
	removed, err = remove.Execute(s)
	require.NoError(t, err)
	require.False(t, removed)
}
