// Package client implements the remote cache client on top of the transport, topology,
// operation and listener packages.
//
// The package focuses on:
//   - Driving every operation through resolve, acquire and execute with bounded retries
//   - Returning or evicting the borrowed connection on every exit path
//   - Client listeners with removal over a separate connection and failover
//
// Key Components:
//
//   - Dispatcher / Invoke: Executes any operation.Operation. Connection faults and
//     topology-changed statuses are retried (MaxRetries+1 attempts in total) with exponential
//     backoff, failed servers are skipped for the rest of the invocation. All other faults are
//     returned immediately.
//
//   - RemoteCache: The caller API of one named cache (Get, Put, PutIfAbsent, Replace, Remove,
//     ContainsKey, Size, Clear, Ping) plus AddListener and RemoveListener.
//
//   - TypedCache: Marshals keys and values of fixed types with a marshaller.IMarshaller.
//
// Usage Example:
//
//	config := common.DefaultClientConfig()
//	config.Servers = []string{"10.0.0.1:11222", "10.0.0.2:11222"}
//
//	cache, _ := client.NewRemoteCache(config, tcp.NewTCPConnector())
//	defer cache.Close()
//
//	_, _ = cache.Put(ctx, []byte("mykey"), []byte("myvalue"), client.WithLifespan(time.Hour))
//	value, found, _ := cache.Get(ctx, []byte("mykey"))
//
//	handle := listener.Func(func(ev *listener.Event) {
//	  fmt.Println(ev.Type, string(ev.Key))
//	})
//	_ = cache.AddListener(ctx, handle, operation.ListenerOptions{})
//	_ = cache.RemoveListener(ctx, handle)
//
// Thread Safety:
//
//	RemoteCache, TypedCache and Dispatcher are safe for concurrent use. Listener callbacks run
//	on the event goroutine of their listener and may call RemoveListener.
package client
