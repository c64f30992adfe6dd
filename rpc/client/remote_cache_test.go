package client

import (
	"bytes"
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/hotrod/internal/testserver"
	"github.com/ValentinKolb/hotrod/rpc/common"
	"github.com/ValentinKolb/hotrod/rpc/listener"
	"github.com/ValentinKolb/hotrod/rpc/marshaller"
	"github.com/ValentinKolb/hotrod/rpc/operation"
	"github.com/ValentinKolb/hotrod/rpc/protocol"
	"github.com/ValentinKolb/hotrod/rpc/transport/tcp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func startServer(t *testing.T) *testserver.Server {
	t.Helper()
	srv, err := testserver.Start()
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func newClient(t *testing.T, servers []string, configure func(c *common.ClientConfig)) *RemoteCache {
	t.Helper()
	config := common.DefaultClientConfig()
	config.CacheName = "books"
	config.Servers = servers
	config.TimeoutSecond = 2
	config.RetryBackoffMillis = 1
	if configure != nil {
		configure(&config)
	}
	c, err := NewRemoteCache(config, tcp.NewTCPConnector())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// recorder collects the events delivered to it
type recorder struct {
	events chan *listener.Event
}

func newRecorder() *recorder {
	return &recorder{events: make(chan *listener.Event, 64)}
}

func (r *recorder) OnEvent(ev *listener.Event) {
	r.events <- ev
}

func (r *recorder) next(t *testing.T) *listener.Event {
	t.Helper()
	select {
	case ev := <-r.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
		return nil
	}
}

// --------------------------------------------------------------------------
// Cache operations
// --------------------------------------------------------------------------

func TestCacheOperations(t *testing.T) {
	srv := startServer(t)
	c := newClient(t, []string{srv.Address()}, func(c *common.ClientConfig) {
		c.ForceReturnValues = true
	})
	ctx := context.Background()

	require.NoError(t, c.Ping(ctx))

	prev, err := c.Put(ctx, []byte("dune"), []byte("herbert"))
	require.NoError(t, err)
	require.Nil(t, prev)

	v, found, err := c.Get(ctx, []byte("dune"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("herbert"), v)

	_, found, err = c.Get(ctx, []byte("missing"))
	require.NoError(t, err)
	require.False(t, found)

	res, err := c.PutIfAbsent(ctx, []byte("dune"), []byte("other"))
	require.NoError(t, err)
	require.False(t, res.Executed)
	require.Equal(t, []byte("herbert"), res.Previous)

	res, err = c.Replace(ctx, []byte("dune"), []byte("frank herbert"))
	require.NoError(t, err)
	require.True(t, res.Executed)
	require.Equal(t, []byte("herbert"), res.Previous)

	res, err = c.Replace(ctx, []byte("absent"), []byte("x"))
	require.NoError(t, err)
	require.False(t, res.Executed)

	ok, err := c.ContainsKey(ctx, []byte("dune"))
	require.NoError(t, err)
	require.True(t, ok)

	_, err = c.Put(ctx, []byte("emma"), []byte("austen"), WithLifespan(time.Hour))
	require.NoError(t, err)
	size, err := c.Size(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), size)

	res, err = c.Remove(ctx, []byte("dune"))
	require.NoError(t, err)
	require.True(t, res.Executed)
	require.Equal(t, []byte("frank herbert"), res.Previous)

	res, err = c.Remove(ctx, []byte("dune"))
	require.NoError(t, err)
	require.False(t, res.Executed)

	require.NoError(t, c.Clear(ctx))
	size, err = c.Size(ctx)
	require.NoError(t, err)
	require.Zero(t, size)

	require.Zero(t, c.Pool().NumLent())
	// every operation ran sequentially, one connection is enough
	require.Equal(t, int64(1), srv.Accepted())
}

func TestConcurrentOperations(t *testing.T) {
	srv := startServer(t)
	c := newClient(t, []string{srv.Address()}, nil)
	ctx := context.Background()

	var g errgroup.Group
	for w := 0; w < 8; w++ {
		g.Go(func() error {
			for i := 0; i < 50; i++ {
				key := []byte{byte(w), byte(i)}
				if _, err := c.Put(ctx, key, key); err != nil {
					return err
				}
				v, found, err := c.Get(ctx, key)
				if err != nil {
					return err
				}
				if !found || !bytes.Equal(v, key) {
					return errors.Errorf("read %x for key %x", v, key)
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	size, err := c.Size(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(400), size)
	require.Zero(t, c.Pool().NumLent())
	require.LessOrEqual(t, srv.Accepted(), int64(8))
}

func TestTypedCache(t *testing.T) {
	type book struct {
		Title  string
		Author string
	}
	srv := startServer(t)
	c := newClient(t, []string{srv.Address()}, nil)
	books := NewTypedCache[string, book](c, marshaller.NewStringMarshaller(), marshaller.NewJSONMarshaller())
	ctx := context.Background()

	require.NoError(t, books.Put(ctx, "dune", book{Title: "Dune", Author: "Herbert"}))
	b, found, err := books.Get(ctx, "dune")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "Herbert", b.Author)

	stored, err := books.PutIfAbsent(ctx, "dune", book{Title: "Other"})
	require.NoError(t, err)
	require.False(t, stored)

	replaced, err := books.Replace(ctx, "dune", book{Title: "Dune", Author: "Frank Herbert"})
	require.NoError(t, err)
	require.True(t, replaced)
	b, _, err = books.Get(ctx, "dune")
	require.NoError(t, err)
	require.Equal(t, "Frank Herbert", b.Author)

	ok, err := books.ContainsKey(ctx, "dune")
	require.NoError(t, err)
	require.True(t, ok)

	removed, err := books.Remove(ctx, "dune")
	require.NoError(t, err)
	require.True(t, removed)

	_, found, err = books.Get(ctx, "dune")
	require.NoError(t, err)
	require.False(t, found)
}

// --------------------------------------------------------------------------
// Retries and faults
// --------------------------------------------------------------------------

func TestTopologyChangedExhaustsRetries(t *testing.T) {
	for _, retries := range []int{1, 3} {
		srv := startServer(t)
		srv.SetHook(func(req *testserver.Request) *testserver.Reply {
			return &testserver.Reply{Status: protocol.StatusNodeSuspected}
		})
		c := newClient(t, []string{srv.Address()}, func(c *common.ClientConfig) {
			c.MaxRetries = retries
		})

		_, _, err := c.Get(context.Background(), []byte("k"))
		f, ok := common.AsFault(err)
		require.True(t, ok, "got %v", err)
		require.Equal(t, common.KindRouting, f.Kind)
		require.Len(t, srv.Requests(protocol.OpGet), retries+1)
		require.Zero(t, c.Pool().NumLent())
		// the connection stays usable after a topology-changed response
		require.Equal(t, int64(1), srv.Accepted())
	}
}

func TestTopologyUpdateFromResponse(t *testing.T) {
	srv := startServer(t)
	srv.SetTopology(&protocol.TopologyInfo{ID: 5, Servers: []string{srv.Address()}})
	c := newClient(t, []string{srv.Address()}, nil)

	require.NoError(t, c.Ping(context.Background()))
	require.Equal(t, int32(5), c.Topology().ID())

	require.NoError(t, c.Ping(context.Background()))
	pings := srv.Requests(protocol.OpPing)
	require.Len(t, pings, 2)
	require.Equal(t, int32(0), pings[0].Header.TopologyID)
	require.Equal(t, int32(5), pings[1].Header.TopologyID)
}

func TestServerErrorIsNotRetried(t *testing.T) {
	srv := startServer(t)
	srv.SetHook(func(req *testserver.Request) *testserver.Reply {
		return &testserver.Reply{Status: protocol.StatusServerError, Message: "disk full"}
	})
	c := newClient(t, []string{srv.Address()}, nil)

	_, err := c.Put(context.Background(), []byte("k"), []byte("v"))
	f, ok := common.AsFault(err)
	require.True(t, ok)
	require.Equal(t, common.KindServer, f.Kind)
	require.Equal(t, srv.Address(), f.Address)
	require.Contains(t, f.Error(), "disk full")
	require.Len(t, srv.Requests(protocol.OpPut), 1)
	require.Zero(t, c.Pool().NumLent())
}

func TestDroppedConnectionIsRetriedOnNewConnection(t *testing.T) {
	srv := startServer(t)
	var drops atomic.Int32
	srv.SetHook(func(req *testserver.Request) *testserver.Reply {
		if req.Header.OpCode == protocol.OpPut && drops.Add(1) == 1 {
			return &testserver.Reply{Drop: true}
		}
		return nil
	})
	c := newClient(t, []string{srv.Address()}, nil)

	_, err := c.Put(context.Background(), []byte("k"), []byte("v"))
	require.NoError(t, err)

	puts := srv.Requests(protocol.OpPut)
	require.Len(t, puts, 2)
	require.NotEqual(t, puts[0].ConnID, puts[1].ConnID)
	require.Equal(t, int64(2), srv.Accepted())
	require.Zero(t, c.Pool().NumLent())
}

func TestUnreachableServerIsSkipped(t *testing.T) {
	dead := startServer(t)
	deadAddr := dead.Address()
	require.NoError(t, dead.Close())
	alive := startServer(t)
	c := newClient(t, []string{deadAddr, alive.Address()}, nil)

	for i := 0; i < 4; i++ {
		require.NoError(t, c.Ping(context.Background()))
	}
	require.Len(t, alive.Requests(protocol.OpPing), 4)
	require.Zero(t, c.Pool().NumLent())
}

func TestAllServersUnreachable(t *testing.T) {
	dead := startServer(t)
	deadAddr := dead.Address()
	require.NoError(t, dead.Close())
	c := newClient(t, []string{deadAddr}, func(c *common.ClientConfig) {
		c.MaxRetries = 2
	})

	err := c.Ping(context.Background())
	require.True(t, common.IsKind(err, common.KindConnection), "got %v", err)
	require.Zero(t, c.Pool().NumLent())
}

func TestCancelledOperationReleasesConnection(t *testing.T) {
	srv := startServer(t)
	unblock := make(chan struct{})
	srv.SetHook(func(req *testserver.Request) *testserver.Reply {
		if req.Header.OpCode == protocol.OpGet {
			<-unblock
		}
		return nil
	})
	defer close(unblock)
	c := newClient(t, []string{srv.Address()}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, _, err := c.Get(ctx, []byte("k"))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Zero(t, c.Pool().NumLent())

	// the aborted connection is not reused
	accepted := srv.Accepted()
	require.NoError(t, c.Ping(context.Background()))
	require.Equal(t, accepted+1, srv.Accepted())
}

func TestClosedClientRejectsOperations(t *testing.T) {
	srv := startServer(t)
	c := newClient(t, []string{srv.Address()}, nil)
	require.NoError(t, c.Ping(context.Background()))
	require.NoError(t, c.Close())

	err := c.Ping(context.Background())
	require.True(t, common.IsKind(err, common.KindClosed), "got %v", err)
	err = c.AddListener(context.Background(), newRecorder(), operation.ListenerOptions{})
	require.True(t, common.IsKind(err, common.KindClosed), "got %v", err)
}

func TestOperationMetrics(t *testing.T) {
	srv := startServer(t)
	c := newClient(t, []string{srv.Address()}, nil)
	ctx := context.Background()

	_, err := c.Put(ctx, []byte("k"), []byte("v"))
	require.NoError(t, err)
	_, _, err = c.Get(ctx, []byte("k"))
	require.NoError(t, err)

	var out bytes.Buffer
	c.Metrics().WritePrometheus(&out)
	require.Contains(t, out.String(), `hotrod_operations_total{op="put"} 1`)
	require.Contains(t, out.String(), `hotrod_operations_total{op="get"} 1`)
	require.Equal(t, int64(1), c.PoolMetrics().Get("pool.created").(interface{ Count() int64 }).Count())
}

// --------------------------------------------------------------------------
// Listeners
// --------------------------------------------------------------------------

func TestListenerReceivesEvents(t *testing.T) {
	srv := startServer(t)
	c := newClient(t, []string{srv.Address()}, nil)
	ctx := context.Background()
	rec := newRecorder()

	require.NoError(t, c.AddListener(ctx, rec, operation.ListenerOptions{}))
	require.Equal(t, 1, c.Listeners().Len())
	// the event connection is not available to other operations
	require.Equal(t, 1, c.Pool().NumLent())

	_, err := c.Put(ctx, []byte("k"), []byte("v1"))
	require.NoError(t, err)
	_, err = c.Put(ctx, []byte("k"), []byte("v2"))
	require.NoError(t, err)
	_, err = c.Remove(ctx, []byte("k"))
	require.NoError(t, err)

	ev := rec.next(t)
	require.Equal(t, protocol.OpCacheEntryCreated, ev.Type)
	require.Equal(t, []byte("k"), ev.Key)
	require.Equal(t, protocol.OpCacheEntryModified, rec.next(t).Type)
	require.Equal(t, protocol.OpCacheEntryRemoved, rec.next(t).Type)

	err = c.AddListener(ctx, rec, operation.ListenerOptions{})
	require.True(t, common.IsKind(err, common.KindListener), "got %v", err)
}

func TestListenerIncludeCurrentState(t *testing.T) {
	srv := startServer(t)
	c := newClient(t, []string{srv.Address()}, nil)
	ctx := context.Background()
	for _, k := range []string{"a", "b"} {
		_, err := c.Put(ctx, []byte(k), []byte(k))
		require.NoError(t, err)
	}

	rec := newRecorder()
	require.NoError(t, c.AddListener(ctx, rec, operation.ListenerOptions{IncludeCurrentState: true}))
	keys := map[string]bool{}
	for i := 0; i < 2; i++ {
		ev := rec.next(t)
		require.Equal(t, protocol.OpCacheEntryCreated, ev.Type)
		keys[string(ev.Key)] = true
	}
	require.Equal(t, map[string]bool{"a": true, "b": true}, keys)
}

func TestRemoveListenerUsesSeparateConnection(t *testing.T) {
	srv := startServer(t)
	c := newClient(t, []string{srv.Address()}, nil)
	ctx := context.Background()
	rec := newRecorder()

	require.NoError(t, c.AddListener(ctx, rec, operation.ListenerOptions{}))
	reg, ok := c.Listeners().Lookup(rec)
	require.True(t, ok)
	adds := srv.Requests(protocol.OpAddClientListener)
	require.Len(t, adds, 1)

	// the event connection is blocked reading events while the removal runs
	require.NoError(t, c.RemoveListener(ctx, rec))

	removes := srv.Requests(protocol.OpRemoveClientListener)
	require.Len(t, removes, 1)
	require.NotEqual(t, adds[0].ConnID, removes[0].ConnID)
	require.Equal(t, reg.ID, removes[0].ListenerID)

	select {
	case <-reg.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("event consumer did not stop")
	}
	require.Zero(t, c.Listeners().Len())
	require.Zero(t, srv.ListenerCount())
	require.Zero(t, c.Pool().NumLent())

	// no events after removal
	_, err := c.Put(ctx, []byte("k"), []byte("v"))
	require.NoError(t, err)
	select {
	case ev := <-rec.events:
		t.Fatalf("unexpected event %s", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRemoveUnknownListenerIsNoop(t *testing.T) {
	srv := startServer(t)
	c := newClient(t, []string{srv.Address()}, nil)
	ctx := context.Background()

	require.NoError(t, c.RemoveListener(ctx, newRecorder()))
	require.Zero(t, srv.RequestCount())
	require.Zero(t, srv.Accepted())

	rec := newRecorder()
	require.NoError(t, c.AddListener(ctx, rec, operation.ListenerOptions{}))
	require.NoError(t, c.RemoveListener(ctx, rec))
	require.NoError(t, c.RemoveListener(ctx, rec))
	require.Len(t, srv.Requests(protocol.OpRemoveClientListener), 1)
}

func TestRemoveListenerUnknownToServer(t *testing.T) {
	srv := startServer(t)
	c := newClient(t, []string{srv.Address()}, nil)
	ctx := context.Background()
	rec := newRecorder()
	require.NoError(t, c.AddListener(ctx, rec, operation.ListenerOptions{}))

	srv.SetHook(func(req *testserver.Request) *testserver.Reply {
		if req.Header.OpCode == protocol.OpRemoveClientListener {
			return &testserver.Reply{Status: protocol.StatusNotExecuted}
		}
		return nil
	})
	require.NoError(t, c.RemoveListener(ctx, rec))
	require.Zero(t, c.Listeners().Len())
}

func TestListenerFailsOverWhenConnectionBreaks(t *testing.T) {
	srv := startServer(t)
	c := newClient(t, []string{srv.Address()}, nil)
	ctx := context.Background()
	rec := newRecorder()
	require.NoError(t, c.AddListener(ctx, rec, operation.ListenerOptions{}))
	first, _ := c.Listeners().Lookup(rec)

	srv.DropListenerConnections()

	require.Eventually(t, func() bool {
		reg, ok := c.Listeners().Lookup(rec)
		return ok && reg != first && srv.ListenerCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Len(t, srv.Requests(protocol.OpAddClientListener), 2)

	_, err := c.Put(ctx, []byte("k"), []byte("v"))
	require.NoError(t, err)
	require.Equal(t, protocol.OpCacheEntryCreated, rec.next(t).Type)
}

// slowListenerAdds delays every AddClientListener on srv, so a failover stays in flight
func slowListenerAdds(srv *testserver.Server, delay time.Duration) {
	srv.SetHook(func(req *testserver.Request) *testserver.Reply {
		if req.Header.OpCode == protocol.OpAddClientListener {
			time.Sleep(delay)
		}
		return nil
	})
}

func TestRemoveListenerDuringFailover(t *testing.T) {
	srv := startServer(t)
	c := newClient(t, []string{srv.Address()}, nil)
	ctx := context.Background()
	rec := newRecorder()
	require.NoError(t, c.AddListener(ctx, rec, operation.ListenerOptions{}))

	slowListenerAdds(srv, 300*time.Millisecond)
	srv.DropListenerConnections()
	require.Eventually(t, func() bool {
		return len(srv.Requests(protocol.OpAddClientListener)) == 2
	}, 2*time.Second, 5*time.Millisecond)

	// the failover is waiting for the server while the listener is removed
	require.NoError(t, c.RemoveListener(ctx, rec))
	_, ok := c.Listeners().Lookup(rec)
	require.False(t, ok)
	require.Zero(t, c.Listeners().Len())
	require.Eventually(t, func() bool {
		return srv.ListenerCount() == 0 && c.Pool().NumLent() == 0
	}, 2*time.Second, 10*time.Millisecond)

	_, err := c.Put(ctx, []byte("k"), []byte("v"))
	require.NoError(t, err)
	select {
	case ev := <-rec.events:
		t.Fatalf("removed listener received %s", ev)
	case <-time.After(100 * time.Millisecond):
	}

	// the handle can be added again afterwards
	srv.SetHook(nil)
	require.NoError(t, c.AddListener(ctx, rec, operation.ListenerOptions{}))
	require.Equal(t, 1, c.Listeners().Len())
}

func TestCloseDuringFailover(t *testing.T) {
	srv := startServer(t)
	c := newClient(t, []string{srv.Address()}, nil)
	rec := newRecorder()
	require.NoError(t, c.AddListener(context.Background(), rec, operation.ListenerOptions{}))

	slowListenerAdds(srv, 300*time.Millisecond)
	srv.DropListenerConnections()
	require.Eventually(t, func() bool {
		return len(srv.Requests(protocol.OpAddClientListener)) == 2
	}, 2*time.Second, 5*time.Millisecond)

	closed := make(chan error, 1)
	go func() { closed <- c.Close() }()
	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("close blocked on the listener failover")
	}

	require.Zero(t, c.Listeners().Len())
	require.Zero(t, c.Pool().NumLent())
	require.Eventually(t, func() bool {
		return srv.ListenerCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCloseStopsListeners(t *testing.T) {
	srv := startServer(t)
	c := newClient(t, []string{srv.Address()}, nil)
	rec := newRecorder()
	require.NoError(t, c.AddListener(context.Background(), rec, operation.ListenerOptions{}))
	reg, _ := c.Listeners().Lookup(rec)

	require.NoError(t, c.Close())
	select {
	case <-reg.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("event consumer did not stop")
	}
	require.Zero(t, c.Pool().NumLent())
	// no failover after close
	require.Len(t, srv.Requests(protocol.OpAddClientListener), 1)
}

// panicking is a custom operation whose decoding fails in user code
type panicking struct{}

func (panicking) Route() operation.Route { return operation.AnyServer() }

func (panicking) OpCode() protocol.OpCode { return protocol.OpPing }

func (panicking) Execute(protocol.Stream) (struct{}, error) {
	panic("decoder bug")
}

func TestPanickingOperationEvictsConnection(t *testing.T) {
	srv := startServer(t)
	c := newClient(t, []string{srv.Address()}, func(config *common.ClientConfig) {
		config.Pool.MaxActive = 1
		config.Pool.MaxIdle = 1
		config.Pool.AcquireTimeoutMillis = 200
	})
	ctx := context.Background()
	require.NoError(t, c.Ping(ctx))

	require.PanicsWithValue(t, "decoder bug", func() {
		_, _ = Invoke[struct{}](ctx, c.Dispatcher(), panicking{})
	})
	require.Zero(t, c.Pool().NumLent())
	require.Zero(t, c.Pool().NumIdle(srv.Address()))

	// the only slot of the server is free again
	require.NoError(t, c.Ping(ctx))
}
