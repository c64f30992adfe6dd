package protocol

import (
	"bytes"
	"io"
	"math"
	"testing"

	"github.com/ValentinKolb/hotrod/rpc/common"
	"github.com/stretchr/testify/require"
)

func TestVIntEncoding(t *testing.T) {
	cases := []struct {
		value int32
		bytes []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{127, []byte{0x7F}},
		{128, []byte{0x80, 0x01}},
		{300, []byte{0xAC, 0x02}},
		{16384, []byte{0x80, 0x80, 0x01}},
		{math.MaxInt32, []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x07}},
	}
	for _, tc := range cases {
		var buf bytes.Buffer
		require.NoError(t, WriteVInt(&buf, tc.value))
		require.Equal(t, tc.bytes, buf.Bytes(), "encoding %d", tc.value)

		v, err := ReadVInt(&buf)
		require.NoError(t, err)
		require.Equal(t, tc.value, v)
	}
}

func TestVLongLargeValues(t *testing.T) {
	for _, v := range []int64{0, 1 << 35, math.MaxInt64} {
		var buf bytes.Buffer
		require.NoError(t, WriteVLong(&buf, v))
		got, err := ReadVLong(&buf)
		require.NoError(t, err)
		require.Equal(t, v, got)
	}
}

func TestVIntTooLong(t *testing.T) {
	_, err := ReadVInt(bytes.NewReader([]byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x01}))
	require.True(t, common.IsKind(err, common.KindProtocol))
}

func TestReadArrayTruncated(t *testing.T) {
	_, err := ReadArray(bytes.NewReader([]byte{0x05, 'a', 'b'}))
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestStringAndUint64(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteString(&buf, "größe"))
	require.NoError(t, WriteUint64(&buf, 0x0102030405060708))
	require.NoError(t, WriteBool(&buf, true))

	s, err := ReadString(&buf)
	require.NoError(t, err)
	require.Equal(t, "größe", s)
	u, err := ReadUint64(&buf)
	require.NoError(t, err)
	require.Equal(t, uint64(0x0102030405060708), u)
	b, err := ReadBool(&buf)
	require.NoError(t, err)
	require.True(t, b)
}

func TestStatusClasses(t *testing.T) {
	require.Equal(t, ClassSuccess, StatusSuccessWithPrevious.Class())
	require.Equal(t, ClassNotExecuted, StatusNotExecutedWithPrevious.Class())
	require.Equal(t, ClassTopologyChanged, StatusIllegalLifecycleState.Class())
	require.Equal(t, ClassFailure, StatusCommandTimeout.Class())
	require.Equal(t, ClassFailure, Status(0x99).Class())
	require.True(t, StatusSuccessWithPrevious.HasPrevious())
	require.False(t, StatusSuccess.HasPrevious())
}
