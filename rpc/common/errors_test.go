package common

import (
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestFaultError(t *testing.T) {
	f := NewStatusFault(KindServer, 0x85, "disk full").WithAddress("n1:11222")
	require.Equal(t, "server fault: disk full (status 0x85) [n1:11222]", f.Error())

	w := WrapFault(KindConnection, io.EOF, "get failed")
	require.Equal(t, "connection fault: get failed: EOF", w.Error())
	require.Equal(t, io.EOF, errors.Cause(w))
	require.ErrorIs(t, w, io.EOF)
}

func TestWithAddressCopies(t *testing.T) {
	f := NewFault(KindProtocol, "bad magic")
	g := f.WithAddress("n2:11222")
	require.Empty(t, f.Address)
	require.Equal(t, "n2:11222", g.Address)
}

func TestAsFaultThroughWrapping(t *testing.T) {
	f := NewFaultf(KindTopologyChanged, "node %d suspected", 3)
	err := errors.Wrap(f, "ping")

	got, ok := AsFault(err)
	require.True(t, ok)
	require.Same(t, f, got)
	require.True(t, IsKind(err, KindTopologyChanged))
	require.False(t, IsKind(err, KindServer))

	_, ok = AsFault(io.EOF)
	require.False(t, ok)
	require.False(t, IsKind(nil, KindUnknown))
}

func TestRetryable(t *testing.T) {
	retryable := map[FaultKind]bool{
		KindConnection:      true,
		KindTopologyChanged: true,
		KindProtocol:        false,
		KindServer:          false,
		KindRouting:         false,
		KindClosed:          false,
		KindNoServers:       false,
		KindListener:        false,
	}
	for kind, want := range retryable {
		require.Equal(t, want, NewFault(kind, "x").Retryable(), kind.String())
	}
}
