package client

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/ValentinKolb/hotrod/rpc/common"
	"github.com/ValentinKolb/hotrod/rpc/operation"
	"github.com/ValentinKolb/hotrod/rpc/topology"
	"github.com/ValentinKolb/hotrod/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
)

var Logger = logger.GetLogger("client")

// Dispatcher drives operations to completion: it resolves the server of an operation,
// borrows a connection for it, executes the operation and returns the connection.
type Dispatcher struct {
	conns      transport.IConnectionProvider
	topology   *topology.Topology
	maxRetries int
	backoff    time.Duration
	metrics    *metrics.Set
}

// NewDispatcher creates a dispatcher. set receives the operation metrics, it may be shared
// with other components of the same client.
func NewDispatcher(conns transport.IConnectionProvider, topo *topology.Topology, config common.ClientConfig, set *metrics.Set) *Dispatcher {
	maxRetries := config.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Dispatcher{
		conns:      conns,
		topology:   topo,
		maxRetries: maxRetries,
		backoff:    time.Duration(config.RetryBackoffMillis) * time.Millisecond,
		metrics:    set,
	}
}

// Topology returns the routing view used by the dispatcher
func (d *Dispatcher) Topology() *topology.Topology {
	return d.topology
}

// Invoke executes op and returns its result. The operation is attempted at most MaxRetries+1
// times: connection faults and topology-changed statuses are retried on a newly resolved
// server, all other faults are returned immediately. The connection of every attempt is
// released, or evicted if it may be broken, before Invoke returns.
func Invoke[T any](ctx context.Context, d *Dispatcher, op operation.Operation[T]) (T, error) {
	res, _, err := invoke(ctx, d, op, false, nil)
	return res, err
}

// invokeDedicated executes op like Invoke but on a dedicated connection which stays lent to
// the caller on success
func invokeDedicated[T any](ctx context.Context, d *Dispatcher, op operation.Operation[T], exclude topology.Exclusions) (T, *transport.Conn, error) {
	return invoke(ctx, d, op, true, exclude)
}

func invoke[T any](ctx context.Context, d *Dispatcher, op operation.Operation[T], dedicated bool, exclude topology.Exclusions) (res T, kept *transport.Conn, err error) {
	var zero T
	name := op.OpCode().String()
	route := op.Route()
	start := time.Now()
	defer func() {
		d.observe(name, start, err)
	}()

	if exclude == nil {
		exclude = topology.Exclusions{}
	}
	backoff := d.backoff
	var lastErr error

	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		if attempt > 0 {
			d.counter("hotrod_operation_retries_total", "op", name).Inc()
			if err := sleep(ctx, backoff); err != nil {
				return zero, nil, errors.Wrapf(err, "%s cancelled", name)
			}
			backoff *= 2
		}
		if err := ctx.Err(); err != nil {
			return zero, nil, errors.Wrapf(err, "%s cancelled", name)
		}

		// RESOLVE_ADDRESS
		address, err := d.resolve(route, exclude)
		if err != nil && lastErr != nil && len(exclude) > 0 && common.IsKind(err, common.KindNoServers) {
			// every known server failed once, try them again with a new connection
			exclude = topology.Exclusions{}
			address, err = d.resolve(route, exclude)
		}
		if err != nil {
			if lastErr != nil {
				break
			}
			return zero, nil, err
		}

		// ACQUIRE_CONNECTION
		conn, err := d.acquire(ctx, address, dedicated)
		if err != nil {
			if ctx.Err() != nil {
				return zero, nil, err
			}
			if f, ok := common.AsFault(err); ok && f.Retryable() {
				Logger.Debugf("Attempt %d of %s: %v", attempt+1, name, err)
				lastErr = err
				exclude.Add(address)
				continue
			}
			return zero, nil, err
		}

		// EXECUTE
		res, err := execute(ctx, d.conns, op, conn)
		if err == nil {
			if dedicated {
				return res, conn, nil
			}
			d.conns.Release(conn)
			return res, nil, nil
		}

		f, isFault := common.AsFault(err)
		switch {
		case ctx.Err() != nil:
			d.conns.Evict(conn)
			return zero, nil, errors.Wrapf(ctx.Err(), "%s on %s cancelled", name, address)

		case !isFault:
			// the connection state is unknown after an I/O error
			d.conns.Evict(conn)
			lastErr = common.WrapFault(common.KindConnection, err, name+" failed").WithAddress(address)
			exclude.Add(address)

		case f.Kind == common.KindTopologyChanged:
			// the response was read completely, the connection is still usable
			d.conns.Release(conn)
			lastErr = f.WithAddress(address)

		case f.Kind == common.KindServer || f.Kind == common.KindListener:
			d.conns.Release(conn)
			return zero, nil, f.WithAddress(address)

		default:
			d.conns.Evict(conn)
			return zero, nil, f.WithAddress(address)
		}
		Logger.Debugf("Attempt %d of %s failed: %v", attempt+1, name, lastErr)
	}

	return zero, nil, d.exhausted(name, lastErr)
}

// exhausted builds the fault returned when no attempt succeeded
func (d *Dispatcher) exhausted(name string, lastErr error) error {
	kind := common.KindConnection
	if common.IsKind(lastErr, common.KindTopologyChanged) {
		kind = common.KindRouting
	}
	msg := fmt.Sprintf("%s failed after %d attempts", name, d.maxRetries+1)
	return common.WrapFault(kind, lastErr, msg)
}

// --------------------------------------------------------------------------
// Helper Functions
// --------------------------------------------------------------------------

func (d *Dispatcher) resolve(route operation.Route, exclude topology.Exclusions) (string, error) {
	switch route.Kind {
	case operation.RouteAddress:
		// explicit routes must never go to another node
		return route.Address, nil
	case operation.RouteKey:
		return d.topology.ResolveForKey(route.Key, exclude)
	default:
		return d.topology.ResolveAny(exclude)
	}
}

func (d *Dispatcher) acquire(ctx context.Context, address string, dedicated bool) (*transport.Conn, error) {
	if dedicated {
		return d.conns.AcquireDedicated(ctx, address)
	}
	return d.conns.Acquire(ctx, address)
}

func (d *Dispatcher) observe(name string, start time.Time, err error) {
	if d.metrics == nil {
		return
	}
	d.counter("hotrod_operations_total", "op", name).Inc()
	d.metrics.GetOrCreateHistogram(fmt.Sprintf(`hotrod_operation_duration_seconds{op=%q}`, name)).UpdateDuration(start)
	if err != nil {
		kind := "cancelled"
		if f, ok := common.AsFault(err); ok {
			kind = f.Kind.String()
		}
		d.counter("hotrod_faults_total", "kind", kind).Inc()
	}
}

func (d *Dispatcher) counter(metric, label, value string) *metrics.Counter {
	if d.metrics == nil {
		return discard
	}
	return d.metrics.GetOrCreateCounter(fmt.Sprintf(`%s{%s=%q}`, metric, label, value))
}

// discard is the counter used when metrics are disabled, it is never exported
var discard = &metrics.Counter{}

// sleep waits for the backoff with a small random jitter (+-10%) or until ctx is done
// execute runs op on conn bound to ctx. A panicking operation leaves the connection in an
// unknown state, it is evicted before the panic continues.
func execute[T any](ctx context.Context, conns transport.IConnectionProvider, op operation.Operation[T], conn *transport.Conn) (res T, err error) {
	completed := false
	defer func() {
		if !completed {
			conns.Evict(conn)
		}
	}()
	unbind := conn.Bind(ctx)
	defer unbind()
	res, err = op.Execute(conn)
	completed = true
	return res, err
}

func sleep(ctx context.Context, backoff time.Duration) error {
	if backoff <= 0 {
		return ctx.Err()
	}
	jitter := float64(backoff) * (0.9 + 0.2*rand.Float64())
	timer := time.NewTimer(time.Duration(jitter))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
