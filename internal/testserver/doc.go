/*
Package testserver provides an in-memory server for the remote cache protocol.

It answers every operation the client implements against a single map, pushes cache
events to registered listeners on the connection that added them and records each
request together with the connection it arrived on. Hooks let tests reject requests
with arbitrary statuses or drop connections mid-request.

	srv, err := testserver.Start()
	defer srv.Close()
	srv.SetHook(func(req *testserver.Request) *testserver.Reply {
		return &testserver.Reply{Status: protocol.StatusNodeSuspected}
	})
*/
package testserver
