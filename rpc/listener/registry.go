package listener

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/hotrod/rpc/common"
	"github.com/ValentinKolb/hotrod/rpc/operation"
	"github.com/ValentinKolb/hotrod/rpc/protocol"
	"github.com/ValentinKolb/hotrod/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("listener")

// Registration binds a listener handle to its server assigned id and the connection
// the server pushes its events on
type Registration struct {
	Handle  Listener
	ID      []byte
	Address string
	// Options are the settings the listener was added with, used to add it again on failover
	Options operation.ListenerOptions

	conn    *transport.Conn
	stopped atomic.Bool
	done    chan struct{}
}

// Done is closed when the consumer of the registration has exited
func (r *Registration) Done() <-chan struct{} {
	return r.done
}

// FailoverFunc is called when the event connection of a registration fails. The registration
// is already removed from the registry and its connection evicted.
type FailoverFunc func(reg *Registration, cause error)

// failover tracks a running FailoverFunc of one handle
type failover struct {
	done chan struct{}
}

// Registry tracks the active listeners. Event delivery runs on one goroutine per listener
// reading its dedicated connection; lookups and removal never touch that connection and
// never wait for the consumer.
type Registry struct {
	codec    protocol.Codec
	conns    transport.IConnectionProvider
	byHandle *xsync.MapOf[Listener, *Registration]
	byID     *xsync.MapOf[string, *Registration]
	wg       sync.WaitGroup

	// mu orders registration against Retire, failover and Close
	mu        sync.Mutex
	closed    bool
	retired   map[Listener]int
	failovers map[Listener]*failover

	onFailover FailoverFunc
	onTopology func(info *protocol.TopologyInfo) bool

	events   *metrics.Counter
	failures *metrics.Counter
}

// RegistryOption configures a Registry
type RegistryOption func(r *Registry)

// WithFailover sets the callback run when an event connection breaks
func WithFailover(fn FailoverFunc) RegistryOption {
	return func(r *Registry) {
		r.onFailover = fn
	}
}

// WithTopologySink sets the receiver of topology updates found in event frames
func WithTopologySink(fn func(info *protocol.TopologyInfo) bool) RegistryOption {
	return func(r *Registry) {
		r.onTopology = fn
	}
}

// WithMetrics registers the listener metrics in set
func WithMetrics(set *metrics.Set) RegistryOption {
	return func(r *Registry) {
		r.events = set.GetOrCreateCounter("hotrod_listener_events_total")
		r.failures = set.GetOrCreateCounter("hotrod_listener_failures_total")
		set.GetOrCreateGauge("hotrod_listeners", func() float64 {
			return float64(r.Len())
		})
	}
}

// NewRegistry creates an empty registry. Evicted event connections are handed back to conns.
func NewRegistry(codec protocol.Codec, conns transport.IConnectionProvider, opts ...RegistryOption) *Registry {
	r := &Registry{
		codec:    codec,
		conns:    conns,
		byHandle: xsync.NewMapOf[Listener, *Registration](),
		byID:     xsync.NewMapOf[string, *Registration](),

		retired:   make(map[Listener]int),
		failovers: make(map[Listener]*failover),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register records an established subscription and starts delivering the events read from
// conn to handle. conn must be a dedicated connection on which the listener was added.
// An error is returned if handle or id is already registered, handle is being removed or the
// registry is closed; conn is not touched in that case.
func (r *Registry) Register(handle Listener, id []byte, address string, conn *transport.Conn, options operation.ListenerOptions) error {
	reg := &Registration{
		Handle:  handle,
		ID:      append([]byte(nil), id...),
		Address: address,
		Options: options,
		conn:    conn,
		done:    make(chan struct{}),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return common.NewFault(common.KindClosed, "listener registry is closed")
	}
	if r.retired[handle] > 0 {
		return common.NewFault(common.KindListener, "listener is being removed")
	}
	if _, ok := r.byHandle.Load(handle); ok {
		return common.NewFault(common.KindListener, "listener is already registered")
	}
	if _, loaded := r.byID.LoadOrStore(string(reg.ID), reg); loaded {
		return common.NewFaultf(common.KindListener, "listener id %x is already registered", reg.ID)
	}
	r.byHandle.Store(handle, reg)

	// events may arrive at any time, the connection must not time out
	_ = conn.ClearDeadline()

	r.wg.Add(1)
	go r.consume(reg)
	Logger.Debugf("Registered listener %x on %s", reg.ID, address)
	return nil
}

// Retire refuses every registration of handle until release is called and waits for a
// failover of handle that is already running. Afterwards the registration found for handle,
// if any, is the last one until release.
func (r *Registry) Retire(ctx context.Context, handle Listener) (release func(), err error) {
	r.mu.Lock()
	r.retired[handle]++
	running := r.failovers[handle]
	r.mu.Unlock()

	release = func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.retired[handle]--; r.retired[handle] <= 0 {
			delete(r.retired, handle)
		}
	}
	if running == nil {
		return release, nil
	}
	select {
	case <-running.done:
		return release, nil
	case <-ctx.Done():
		release()
		return nil, ctx.Err()
	}
}

// FindListenerID returns the id of the active subscription of handle
func (r *Registry) FindListenerID(handle Listener) ([]byte, bool) {
	reg, ok := r.byHandle.Load(handle)
	if !ok {
		return nil, false
	}
	return reg.ID, true
}

// FindAddress returns the address of the node streaming the events of a listener
func (r *Registry) FindAddress(id []byte) (string, bool) {
	reg, ok := r.byID.Load(string(id))
	if !ok {
		return "", false
	}
	return reg.Address, true
}

// Lookup returns the registration of a handle
func (r *Registry) Lookup(handle Listener) (*Registration, bool) {
	return r.byHandle.Load(handle)
}

// Remove drops the registration of id, stops its consumer and evicts its event connection.
// It reports whether a registration existed. Remove does not wait for the consumer, so it
// can be called from within OnEvent.
func (r *Registry) Remove(id []byte) bool {
	reg, ok := r.byID.Load(string(id))
	if !ok {
		return false
	}
	if !reg.stopped.CompareAndSwap(false, true) {
		return false
	}
	r.drop(reg)
	Logger.Debugf("Removed listener %x from %s", reg.ID, reg.Address)
	return true
}

// Len returns the number of active registrations
func (r *Registry) Len() int {
	return r.byID.Size()
}

// Registrations returns a snapshot of all active registrations
func (r *Registry) Registrations() []*Registration {
	regs := make([]*Registration, 0, r.byID.Size())
	r.byID.Range(func(_ string, reg *Registration) bool {
		regs = append(regs, reg)
		return true
	})
	return regs
}

// Close removes all registrations and waits for their consumers to exit. The listeners are
// not removed on the server, closing their connections ends the subscriptions there.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	for _, reg := range r.Registrations() {
		if reg.stopped.CompareAndSwap(false, true) {
			r.drop(reg)
		}
	}
	r.wg.Wait()
}

// --------------------------------------------------------------------------
// Event consumer
// --------------------------------------------------------------------------

func (r *Registry) consume(reg *Registration) {
	defer r.wg.Done()
	defer close(reg.done)

	for {
		ev, topology, err := r.codec.ReadEvent(reg.conn)
		if topology != nil && r.onTopology != nil {
			r.onTopology(topology)
		}
		if err != nil {
			r.fail(reg, err)
			return
		}
		if !bytes.Equal(ev.ListenerID, reg.ID) {
			Logger.Warningf("Dropping %s event for listener %x on connection of listener %x", ev.Type, ev.ListenerID, reg.ID)
			continue
		}
		r.deliver(reg, ev)
	}
}

func (r *Registry) deliver(reg *Registration, ev *Event) {
	defer func() {
		if p := recover(); p != nil {
			Logger.Errorf("Listener %x panicked handling %s: %v", reg.ID, ev, p)
		}
	}()
	if r.events != nil {
		r.events.Inc()
	}
	reg.Handle.OnEvent(ev)
}

func (r *Registry) fail(reg *Registration, err error) {
	// a removed registration ends with an error because its connection was closed
	if !reg.stopped.CompareAndSwap(false, true) {
		return
	}
	Logger.Warningf("Event connection of listener %x to %s failed: %v", reg.ID, reg.Address, err)
	if r.failures != nil {
		r.failures.Inc()
	}

	// the failover is announced before the registration disappears, so Retire either sees
	// the registration or waits for its replacement
	r.mu.Lock()
	var running *failover
	if r.onFailover != nil && !r.closed && r.retired[reg.Handle] == 0 {
		running = &failover{done: make(chan struct{})}
		r.failovers[reg.Handle] = running
	}
	r.mu.Unlock()

	r.drop(reg)
	if running == nil {
		return
	}
	defer func() {
		r.mu.Lock()
		if r.failovers[reg.Handle] == running {
			delete(r.failovers, reg.Handle)
		}
		r.mu.Unlock()
		close(running.done)
	}()
	r.onFailover(reg, err)
}

// drop deletes the bookkeeping of reg and evicts its connection, reg must be stopped
func (r *Registry) drop(reg *Registration) {
	r.byID.Compute(string(reg.ID), func(cur *Registration, loaded bool) (*Registration, bool) {
		return cur, !loaded || cur == reg
	})
	r.byHandle.Compute(reg.Handle, func(cur *Registration, loaded bool) (*Registration, bool) {
		return cur, !loaded || cur == reg
	})
	r.conns.Evict(reg.conn)
}
