package topology

import (
	"fmt"
	"sync"
	"testing"

	"github.com/ValentinKolb/hotrod/rpc/common"
	"github.com/ValentinKolb/hotrod/rpc/protocol"
	"github.com/stretchr/testify/require"
)

func TestIDOnlyAdvances(t *testing.T) {
	id := NewID(3)
	require.False(t, id.Advance(2))
	require.False(t, id.Advance(3))
	require.True(t, id.Advance(5))
	require.Equal(t, int32(5), id.Get())

	var wg sync.WaitGroup
	for i := int32(6); i < 100; i++ {
		wg.Add(1)
		go func(v int32) {
			defer wg.Done()
			id.Advance(v)
		}(i)
	}
	wg.Wait()
	require.Equal(t, int32(99), id.Get())
}

func TestResolveAnyRoundRobin(t *testing.T) {
	topo, err := New([]string{"a", "b", "c"}, 0)
	require.NoError(t, err)

	seen := map[string]int{}
	for i := 0; i < 30; i++ {
		addr, err := topo.ResolveAny(nil)
		require.NoError(t, err)
		seen[addr]++
	}
	require.Equal(t, map[string]int{"a": 10, "b": 10, "c": 10}, seen)
}

func TestResolveAnyHonorsExclusions(t *testing.T) {
	topo, err := New([]string{"a", "b"}, 0)
	require.NoError(t, err)

	exclude := Exclusions{}
	exclude.Add("a")
	for i := 0; i < 5; i++ {
		addr, err := topo.ResolveAny(exclude)
		require.NoError(t, err)
		require.Equal(t, "b", addr)
	}
	exclude.Add("b")
	_, err = topo.ResolveAny(exclude)
	require.True(t, common.IsKind(err, common.KindNoServers))
}

func TestNewRequiresServers(t *testing.T) {
	_, err := New(nil, 0)
	require.True(t, common.IsKind(err, common.KindNoServers))
}

func segmentedTopology(id int32) *protocol.TopologyInfo {
	return &protocol.TopologyInfo{
		ID:          id,
		Servers:     []string{"a", "b", "c"},
		HashVersion: 3,
		Segments:    [][]int32{{0, 1}, {1, 2}, {2, 0}, {0, 2}},
	}
}

func TestResolveForKeyUsesSegmentOwners(t *testing.T) {
	topo, err := New([]string{"seed"}, 16)
	require.NoError(t, err)
	require.True(t, topo.Update(segmentedTopology(1)))
	require.Equal(t, 4, topo.NumSegments())

	for i := 0; i < 50; i++ {
		key := []byte(fmt.Sprintf("key-%d", i))
		first, err := topo.ResolveForKey(key, nil)
		require.NoError(t, err)
		// stable for the same key
		again, err := topo.ResolveForKey(key, nil)
		require.NoError(t, err)
		require.Equal(t, first, again)

		// the backup owner takes over when the primary is excluded
		exclude := Exclusions{}
		exclude.Add(first)
		backup, err := topo.ResolveForKey(key, exclude)
		require.NoError(t, err)
		require.NotEqual(t, first, backup)
	}
	require.Equal(t, 16, topo.hashes.Len())
}

func TestUpdateIgnoresStaleTopology(t *testing.T) {
	topo, err := New([]string{"seed"}, 0)
	require.NoError(t, err)

	require.True(t, topo.Update(segmentedTopology(4)))
	require.False(t, topo.Update(&protocol.TopologyInfo{ID: 2, Servers: []string{"old"}}))
	require.False(t, topo.Update(nil))
	require.Equal(t, int32(4), topo.ID())
	require.Equal(t, []string{"a", "b", "c"}, topo.Servers())

	// newer topology without segments drops key routing
	require.True(t, topo.Update(&protocol.TopologyInfo{ID: 5, Servers: []string{"x"}}))
	require.Equal(t, 0, topo.NumSegments())
	addr, err := topo.ResolveForKey([]byte("k"), nil)
	require.NoError(t, err)
	require.Equal(t, "x", addr)
}

func TestKeyHashesStable(t *testing.T) {
	cached, err := NewKeyHashes(8)
	require.NoError(t, err)
	uncached, err := NewKeyHashes(0)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		key := []byte(fmt.Sprintf("k%d", i))
		require.Equal(t, uncached.Hash(key), cached.Hash(key))
		require.Equal(t, uncached.Hash(key), cached.Hash(key))
	}
	require.Equal(t, 8, cached.Len())
	require.Equal(t, 0, uncached.Len())
}
