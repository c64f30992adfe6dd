package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/hotrod/rpc/common"
	"github.com/edwingeng/deque/v2"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rcrowley/go-metrics"
	"golang.org/x/sync/semaphore"
)

var Logger = logger.GetLogger("transport")

// PoolConfig holds the limits and timeouts of a Pool
type PoolConfig struct {
	// MaxActive bounds the connections lent per address (dedicated connections excluded)
	MaxActive int
	// MaxIdle bounds the idle connections kept per address
	MaxIdle int
	// AcquireTimeout bounds how long Acquire waits for a free slot (0 = until ctx is done)
	AcquireTimeout time.Duration
	// ConnectTimeout bounds a single dial
	ConnectTimeout time.Duration
	// IOTimeout is the per request deadline armed by Conn.Bind
	IOTimeout time.Duration
	// Client is passed to IConnector.UpgradeConnection
	Client common.ClientConfig
}

// NewPoolConfig derives the pool settings from a client configuration
func NewPoolConfig(cfg common.ClientConfig) PoolConfig {
	return PoolConfig{
		MaxActive:      cfg.Pool.MaxActive,
		MaxIdle:        cfg.Pool.MaxIdle,
		AcquireTimeout: cfg.AcquireTimeout(),
		ConnectTimeout: cfg.ConnectTimeout(),
		IOTimeout:      cfg.Timeout(),
		Client:         cfg,
	}
}

// nodePool holds the idle connections of one server address
type nodePool struct {
	address string
	mu      sync.Mutex
	idle    *deque.Deque[*Conn]
	active  *semaphore.Weighted
	closed  bool
}

// pushIdle queues conn at the front, the oldest idle connection is reused first. Nothing is
// queued once the node or the pool is closed.
func (n *nodePool) pushIdle(conn *Conn, maxIdle int, poolClosed *atomic.Bool) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed || poolClosed.Load() || n.idle.Len() >= maxIdle {
		return false
	}
	n.idle.PushFront(conn)
	return true
}

// popIdle returns the oldest idle connection or nil
func (n *nodePool) popIdle() *Conn {
	n.mu.Lock()
	defer n.mu.Unlock()
	for n.idle.Len() > 0 {
		conn := n.idle.PopBack()
		if !conn.Broken() {
			return conn
		}
		_ = conn.Close()
	}
	return nil
}

// drain closes the node and returns its idle connections
func (n *nodePool) drain() []*Conn {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	conns := make([]*Conn, 0, n.idle.Len())
	for n.idle.Len() > 0 {
		conns = append(conns, n.idle.PopBack())
	}
	return conns
}

// Pool lends connections keyed by server address. A connection is either idle in
// exactly one node pool or lent to exactly one caller, never both.
type Pool struct {
	connector  IConnector
	config     PoolConfig
	nodes      *xsync.MapOf[string, *nodePool]
	lent       *xsync.MapOf[uint64, *Conn]
	nextConnID atomic.Uint64
	closed     atomic.Bool

	registry     metrics.Registry
	acquireTimer metrics.Timer
	created      metrics.Counter
	released     metrics.Counter
	evicted      metrics.Counter
}

// NewPool creates an empty pool, connections are dialed lazily on Acquire
func NewPool(connector IConnector, config PoolConfig) *Pool {
	if config.MaxActive < 1 {
		config.MaxActive = 1
	}
	if config.MaxIdle < 0 {
		config.MaxIdle = 0
	}
	p := &Pool{
		connector: connector,
		config:    config,
		nodes:     xsync.NewMapOf[string, *nodePool](),
		lent:      xsync.NewMapOf[uint64, *Conn](),
		registry:  metrics.NewRegistry(),
	}
	p.acquireTimer = metrics.NewRegisteredTimer("pool.acquire", p.registry)
	p.created = metrics.NewRegisteredCounter("pool.created", p.registry)
	p.released = metrics.NewRegisteredCounter("pool.released", p.registry)
	p.evicted = metrics.NewRegisteredCounter("pool.evicted", p.registry)
	metrics.NewRegisteredFunctionalGauge("pool.lent", p.registry, func() int64 {
		return int64(p.lent.Size())
	})
	return p
}

// --------------------------------------------------------------------------
// Lending (docu see transport.IConnectionProvider)
// --------------------------------------------------------------------------

func (p *Pool) Acquire(ctx context.Context, address string) (*Conn, error) {
	if p.closed.Load() {
		return nil, common.NewFault(common.KindClosed, "connection pool is closed")
	}
	start := time.Now()
	node := p.node(address)

	waitCtx := ctx
	if p.config.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, p.config.AcquireTimeout)
		defer cancel()
	}
	if err := node.active.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrapf(ctx.Err(), "acquire connection to %s", address)
		}
		return nil, common.WrapFault(common.KindConnection, err,
			"timed out waiting for a free connection").WithAddress(address)
	}

	conn := node.popIdle()
	if conn == nil {
		var err error
		if conn, err = p.dial(ctx, address); err != nil {
			node.active.Release(1)
			return nil, err
		}
	}
	p.lend(conn)
	p.acquireTimer.UpdateSince(start)
	return conn, nil
}

func (p *Pool) AcquireDedicated(ctx context.Context, address string) (*Conn, error) {
	if p.closed.Load() {
		return nil, common.NewFault(common.KindClosed, "connection pool is closed")
	}
	conn, err := p.dial(ctx, address)
	if err != nil {
		return nil, err
	}
	conn.dedicated = true
	p.lend(conn)
	return conn, nil
}

func (p *Pool) Release(conn *Conn) {
	if !p.unlend(conn) {
		Logger.Warningf("Ignoring release of connection %d to %s that is not lent", conn.id, conn.address)
		return
	}
	if conn.dedicated {
		// dedicated connections are never pooled
		_ = conn.Close()
		p.evicted.Inc(1)
		return
	}
	node := p.node(conn.address)
	defer node.active.Release(1)
	if conn.Broken() || !node.pushIdle(conn, p.config.MaxIdle, &p.closed) {
		_ = conn.Close()
		p.evicted.Inc(1)
		return
	}
	p.released.Inc(1)
}

func (p *Pool) Evict(conn *Conn) {
	if !p.unlend(conn) {
		// already evicted, make sure the socket is gone anyway
		_ = conn.Close()
		return
	}
	_ = conn.Close()
	p.evicted.Inc(1)
	if !conn.dedicated {
		p.node(conn.address).active.Release(1)
	}
	Logger.Debugf("Evicted connection %d to %s", conn.id, conn.address)
}

// --------------------------------------------------------------------------
// Introspection
// --------------------------------------------------------------------------

// NumLent returns the number of connections currently lent, dedicated ones included
func (p *Pool) NumLent() int {
	return p.lent.Size()
}

// NumIdle returns the number of idle connections kept for address
func (p *Pool) NumIdle(address string) int {
	node, ok := p.nodes.Load(address)
	if !ok {
		return 0
	}
	node.mu.Lock()
	defer node.mu.Unlock()
	return node.idle.Len()
}

// Metrics returns the registry holding the pool timers and counters
func (p *Pool) Metrics() metrics.Registry {
	return p.registry
}

// Close closes every idle and lent connection. Callers still holding a connection get an
// I/O error and must still release or evict it.
func (p *Pool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.nodes.Range(func(_ string, node *nodePool) bool {
		for _, conn := range node.drain() {
			_ = conn.Close()
		}
		return true
	})
	p.lent.Range(func(_ uint64, conn *Conn) bool {
		_ = conn.Close()
		return true
	})
	return nil
}

// --------------------------------------------------------------------------
// Helper Functions
// --------------------------------------------------------------------------

func (p *Pool) node(address string) *nodePool {
	node, _ := p.nodes.LoadOrCompute(address, func() *nodePool {
		return &nodePool{
			address: address,
			idle:    deque.NewDeque[*Conn](),
			active:  semaphore.NewWeighted(int64(p.config.MaxActive)),
		}
	})
	return node
}

func (p *Pool) lend(conn *Conn) {
	if !conn.lent.CompareAndSwap(false, true) {
		panic(errors.Errorf("connection %d to %s lent twice", conn.id, conn.address))
	}
	p.lent.Store(conn.id, conn)
}

func (p *Pool) unlend(conn *Conn) bool {
	if !conn.lent.CompareAndSwap(true, false) {
		return false
	}
	p.lent.Delete(conn.id)
	return true
}

func (p *Pool) dial(ctx context.Context, address string) (*Conn, error) {
	dialCtx := ctx
	if p.config.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, p.config.ConnectTimeout)
		defer cancel()
	}
	nc, err := p.connector.Connect(dialCtx, address)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrapf(ctx.Err(), "connect to %s", address)
		}
		return nil, common.WrapFault(common.KindConnection, err, "failed to connect").WithAddress(address)
	}
	if err := p.connector.UpgradeConnection(nc, p.config.Client); err != nil {
		_ = nc.Close()
		return nil, common.WrapFault(common.KindConnection, err, "failed to upgrade connection").WithAddress(address)
	}
	conn := newConn(p.nextConnID.Add(1), address, nc, p.config.IOTimeout)
	p.created.Inc(1)
	Logger.Debugf("Connected to %s (connection %d) using %s transport", address, conn.id, p.connector.GetName())
	return conn, nil
}
