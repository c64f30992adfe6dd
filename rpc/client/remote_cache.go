package client

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/hotrod/rpc/common"
	"github.com/ValentinKolb/hotrod/rpc/listener"
	"github.com/ValentinKolb/hotrod/rpc/operation"
	"github.com/ValentinKolb/hotrod/rpc/protocol"
	"github.com/ValentinKolb/hotrod/rpc/topology"
	"github.com/ValentinKolb/hotrod/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	gometrics "github.com/rcrowley/go-metrics"
)

// RemoteCache is a client of one named remote cache. It owns the connection pool, the
// topology and the listener registry of the session and is safe for concurrent use.
type RemoteCache struct {
	config     common.ClientConfig
	pool       *transport.Pool
	topology   *topology.Topology
	dispatcher *Dispatcher
	registry   *listener.Registry
	params     *operation.Params
	metrics    *metrics.Set

	// ctx bounds background work (listener failover) and is cancelled on Close
	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
}

// NewRemoteCache creates a client for the cache configured in config. No connection is
// opened until the first operation.
func NewRemoteCache(config common.ClientConfig, connector transport.IConnector) (*RemoteCache, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	topo, err := topology.New(config.Servers, config.HashCacheSize)
	if err != nil {
		return nil, err
	}

	c := &RemoteCache{
		config:   config,
		pool:     transport.NewPool(connector, transport.NewPoolConfig(config)),
		topology: topo,
		metrics:  metrics.NewSet(),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.dispatcher = NewDispatcher(c.pool, topo, config, c.metrics)
	c.params = &operation.Params{
		Codec:        protocol.NewCodec(),
		CacheName:    []byte(config.CacheName),
		Flags:        config.Flags(),
		Intelligence: config.Intelligence.Byte(),
		Topology:     topo,
	}
	c.registry = listener.NewRegistry(c.params.Codec, c.pool,
		listener.WithFailover(c.failover),
		listener.WithTopologySink(topo.Update),
		listener.WithMetrics(c.metrics),
	)

	Logger.Infof("Created client for cache %q with %d servers using %s transport",
		config.CacheName, len(config.Servers), connector.GetName())
	return c, nil
}

// WriteOption configures the expiration of a write
type WriteOption func(exp *operation.Expiration)

// WithLifespan lets the entry expire after d
func WithLifespan(d time.Duration) WriteOption {
	return func(exp *operation.Expiration) {
		exp.Lifespan = d
	}
}

// WithMaxIdle lets the entry expire when it was not accessed for d
func WithMaxIdle(d time.Duration) WriteOption {
	return func(exp *operation.Expiration) {
		exp.MaxIdle = d
	}
}

func expiration(opts []WriteOption) operation.Expiration {
	var exp operation.Expiration
	for _, opt := range opts {
		opt(&exp)
	}
	return exp
}

// --------------------------------------------------------------------------
// Cache operations
// --------------------------------------------------------------------------

// Ping checks that a server of the cluster is reachable
func (c *RemoteCache) Ping(ctx context.Context) error {
	_, err := Invoke[struct{}](ctx, c.dispatcher, operation.NewPing(c.params))
	return err
}

// Get returns the value of key, found is false if the key does not exist
func (c *RemoteCache) Get(ctx context.Context, key []byte) (value []byte, found bool, err error) {
	value, err = Invoke[[]byte](ctx, c.dispatcher, operation.NewGet(c.params, key))
	return value, value != nil, err
}

// Put stores value under key. The previous value is only returned when ForceReturnValues is set.
func (c *RemoteCache) Put(ctx context.Context, key, value []byte, opts ...WriteOption) ([]byte, error) {
	res, err := Invoke[operation.Result](ctx, c.dispatcher, operation.NewPut(c.params, key, value, expiration(opts)))
	return res.Previous, err
}

// PutIfAbsent stores value only if key does not exist yet
func (c *RemoteCache) PutIfAbsent(ctx context.Context, key, value []byte, opts ...WriteOption) (operation.Result, error) {
	return Invoke[operation.Result](ctx, c.dispatcher, operation.NewPutIfAbsent(c.params, key, value, expiration(opts)))
}

// Replace stores value only if key already exists
func (c *RemoteCache) Replace(ctx context.Context, key, value []byte, opts ...WriteOption) (operation.Result, error) {
	return Invoke[operation.Result](ctx, c.dispatcher, operation.NewReplace(c.params, key, value, expiration(opts)))
}

// Remove deletes key, Result.Executed is false if the key did not exist
func (c *RemoteCache) Remove(ctx context.Context, key []byte) (operation.Result, error) {
	return Invoke[operation.Result](ctx, c.dispatcher, operation.NewRemove(c.params, key))
}

// ContainsKey reports whether key exists
func (c *RemoteCache) ContainsKey(ctx context.Context, key []byte) (bool, error) {
	return Invoke[bool](ctx, c.dispatcher, operation.NewContainsKey(c.params, key))
}

// Size returns the number of entries in the cache
func (c *RemoteCache) Size(ctx context.Context) (int64, error) {
	return Invoke[int64](ctx, c.dispatcher, operation.NewSize(c.params))
}

// Clear removes all entries of the cache
func (c *RemoteCache) Clear(ctx context.Context) error {
	_, err := Invoke[struct{}](ctx, c.dispatcher, operation.NewClear(c.params))
	return err
}

// --------------------------------------------------------------------------
// Listeners
// --------------------------------------------------------------------------

// AddListener subscribes handle to the events of the cache. The events are delivered on a
// dedicated connection until RemoveListener is called or the client is closed. If that
// connection breaks, the listener is added again on another server.
func (c *RemoteCache) AddListener(ctx context.Context, handle listener.Listener, options operation.ListenerOptions) error {
	if c.closed.Load() {
		return common.NewFault(common.KindClosed, "client is closed")
	}
	if _, ok := c.registry.FindListenerID(handle); ok {
		return common.NewFault(common.KindListener, "listener is already registered")
	}
	return c.addListener(ctx, handle, options, nil)
}

func (c *RemoteCache) addListener(ctx context.Context, handle listener.Listener, options operation.ListenerOptions, exclude topology.Exclusions) error {
	op := operation.NewAddClientListener(c.params, options)
	id, conn, err := invokeDedicated[[]byte](ctx, c.dispatcher, op, exclude)
	if err != nil {
		return err
	}
	if err := c.registry.Register(handle, id, conn.Address(), conn, options); err != nil {
		// closing the event connection ends the subscription on the server
		c.pool.Evict(conn)
		return err
	}
	Logger.Infof("Added listener %x on %s", id, conn.Address())
	return nil
}

// RemoveListener ends the subscription of handle. The remove request is sent to the node
// streaming the listener's events on a separate pooled connection; the event connection is
// closed only after the server confirmed the removal. Removing a listener that is not
// registered (or no longer known by the server) succeeds without error. A failover of the
// listener that is running is awaited first and no failover adds it again afterwards.
func (c *RemoteCache) RemoveListener(ctx context.Context, handle listener.Listener) error {
	release, err := c.registry.Retire(ctx, handle)
	if err != nil {
		return common.WrapFault(common.KindListener, err, "remove listener")
	}
	defer release()

	id, ok := c.registry.FindListenerID(handle)
	if !ok {
		return nil
	}
	address, ok := c.registry.FindAddress(id)
	if !ok {
		// removed concurrently
		return nil
	}

	removed, err := Invoke[bool](ctx, c.dispatcher, operation.NewRemoveClientListener(c.params, id, address))
	if err != nil {
		return err
	}
	if !removed {
		Logger.Debugf("Listener %x was already gone on %s", id, address)
	}
	c.registry.Remove(id)
	return nil
}

// failover adds a listener whose event connection broke again, preferably on another node
func (c *RemoteCache) failover(reg *listener.Registration, cause error) {
	if c.closed.Load() {
		return
	}
	ctx, cancel := context.WithTimeout(c.ctx, c.failoverTimeout())
	defer cancel()

	exclude := topology.Exclusions{}
	exclude.Add(reg.Address)
	err := c.addListener(ctx, reg.Handle, reg.Options, exclude)
	if common.IsKind(err, common.KindNoServers) {
		// the failed node is the only one known, it may be back already
		err = c.addListener(ctx, reg.Handle, reg.Options, nil)
	}
	if common.IsKind(err, common.KindListener) || common.IsKind(err, common.KindClosed) {
		// removed or closed while the listener was added again, the new connection is evicted
		Logger.Infof("Dropped failover of listener %x from %s: %v", reg.ID, reg.Address, err)
		return
	}
	if err != nil {
		Logger.Errorf("Failed to fail over listener %x from %s (%v): %v", reg.ID, reg.Address, cause, err)
		return
	}
	Logger.Infof("Listener %x failed over from %s", reg.ID, reg.Address)
}

func (c *RemoteCache) failoverTimeout() time.Duration {
	timeout := c.config.Timeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return timeout * time.Duration(c.config.MaxRetries+1)
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

// Dispatcher returns the dispatcher, used with Invoke to run custom operations
func (c *RemoteCache) Dispatcher() *Dispatcher {
	return c.dispatcher
}

// Params returns the header parameters shared by all operations of this cache
func (c *RemoteCache) Params() *operation.Params {
	return c.params
}

// Topology returns the current routing view
func (c *RemoteCache) Topology() *topology.Topology {
	return c.topology
}

// Listeners returns the listener registry
func (c *RemoteCache) Listeners() *listener.Registry {
	return c.registry
}

// Pool returns the connection pool
func (c *RemoteCache) Pool() *transport.Pool {
	return c.pool
}

// Metrics returns the set holding the operation and listener metrics
func (c *RemoteCache) Metrics() *metrics.Set {
	return c.metrics
}

// PoolMetrics returns the registry holding the connection pool metrics
func (c *RemoteCache) PoolMetrics() gometrics.Registry {
	return c.pool.Metrics()
}

// Close stops all listeners and closes every connection. Operations still running fail
// with a connection or closed fault.
func (c *RemoteCache) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.cancel()
	c.registry.Close()
	return c.pool.Close()
}
