package topology

import (
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/hotrod/rpc/common"
	"github.com/ValentinKolb/hotrod/rpc/protocol"
	"github.com/dgryski/go-jump"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("topology")

// Exclusions is the set of addresses that already failed during one invocation
type Exclusions map[string]struct{}

// Add marks address as failed
func (e Exclusions) Add(address string) {
	e[address] = struct{}{}
}

// Contains reports whether address is excluded, a nil set excludes nothing
func (e Exclusions) Contains(address string) bool {
	_, ok := e[address]
	return ok
}

// view is an immutable snapshot of the cluster
type view struct {
	servers []string
	// segments holds the owner indexes into servers per segment, primary first
	segments [][]int32
}

// Topology is the routing view of the client. It starts with the configured servers and
// is replaced whenever a server sends a newer topology.
type Topology struct {
	id     *ID
	view   atomic.Pointer[view]
	hashes *KeyHashes
	next   atomic.Uint64
	mu     sync.Mutex
}

// New creates a topology with the initial server list and id 0
func New(servers []string, hashCacheSize int) (*Topology, error) {
	if len(servers) == 0 {
		return nil, common.NewFault(common.KindNoServers, "no initial servers")
	}
	hashes, err := NewKeyHashes(hashCacheSize)
	if err != nil {
		return nil, err
	}
	t := &Topology{id: NewID(0), hashes: hashes}
	t.view.Store(&view{servers: append([]string(nil), servers...)})
	return t, nil
}

// ID returns the id of the current topology, sent with every request
func (t *Topology) ID() int32 {
	return t.id.Get()
}

// Servers returns a copy of the current server list
func (t *Topology) Servers() []string {
	return append([]string(nil), t.view.Load().servers...)
}

// NumSegments returns the number of hash segments, 0 if the server sent none
func (t *Topology) NumSegments() int {
	return len(t.view.Load().segments)
}

// Update installs info if its id is newer than the current one and reports whether it did
func (t *Topology) Update(info *protocol.TopologyInfo) bool {
	if info == nil {
		return false
	}
	if err := info.Validate(); err != nil {
		Logger.Warningf("Ignoring invalid topology %d: %v", info.ID, err)
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if info.ID <= t.id.Get() {
		return false
	}
	v := &view{servers: append([]string(nil), info.Servers...)}
	if info.HashVersion != 0 {
		v.segments = info.Segments
	}
	t.view.Store(v)
	t.id.Advance(info.ID)
	Logger.Infof("Topology updated to %d (%d servers, %d segments)", info.ID, len(v.servers), len(v.segments))
	return true
}

// ResolveForKey returns the first owner of the key's segment that is not excluded. Without
// segment information or when all owners are excluded any other server is returned.
func (t *Topology) ResolveForKey(key []byte, exclude Exclusions) (string, error) {
	v := t.view.Load()
	if len(v.segments) > 0 {
		segment := jump.Hash(t.hashes.Hash(key), len(v.segments))
		for _, owner := range v.segments[segment] {
			if addr := v.servers[owner]; !exclude.Contains(addr) {
				return addr, nil
			}
		}
	}
	return t.resolveAny(v, exclude)
}

// ResolveAny returns the next server that is not excluded, round robin
func (t *Topology) ResolveAny(exclude Exclusions) (string, error) {
	return t.resolveAny(t.view.Load(), exclude)
}

func (t *Topology) resolveAny(v *view, exclude Exclusions) (string, error) {
	n := uint64(len(v.servers))
	start := t.next.Add(1)
	for i := uint64(0); i < n; i++ {
		if addr := v.servers[(start+i)%n]; !exclude.Contains(addr) {
			return addr, nil
		}
	}
	return "", common.NewFaultf(common.KindNoServers, "all %d servers failed", n)
}
