package testserver

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/hotrod/rpc/common"
	"github.com/ValentinKolb/hotrod/rpc/protocol"
	"github.com/ValentinKolb/hotrod/rpc/transport"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pkg/errors"
)

var Logger = logger.GetLogger("testserver")

// Request is a request received by the server
type Request struct {
	Header *protocol.HeaderParams
	// ConnID identifies the connection the request arrived on (accept order, starting at 1)
	ConnID uint64
	// Key is set for keyed operations, ListenerID for listener removal
	Key        []byte
	ListenerID []byte
}

// Reply overrides the normal processing of a request
type Reply struct {
	// Drop closes the connection without answering
	Drop bool
	// Status is answered instead of processing the request; error statuses are sent with Message
	Status   protocol.Status
	Message  string
	Topology *protocol.TopologyInfo
}

// Hook inspects every request before it is processed, a nil reply means normal processing
type Hook func(req *Request) *Reply

type entry struct {
	value     []byte
	version   uint64
	expiresAt time.Time
}

type serverConn struct {
	id   uint64
	conn net.Conn
	r    *bufio.Reader
	mu   sync.Mutex // protects w, responses and events must not interleave
	w    *bufio.Writer
}

// write runs fn on the buffered writer of the connection and flushes
func (c *serverConn) write(fn func(w protocol.Writer) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return err
	}
	if err := fn(c.w); err != nil {
		return err
	}
	return c.w.Flush()
}

// Server is an in-memory server speaking the remote cache protocol. It keeps one store
// for all cache names and records every request it receives.
type Server struct {
	listener net.Listener
	address  string
	wg       sync.WaitGroup
	nextConn atomic.Uint64
	accepted atomic.Int64
	closed   atomic.Bool

	mu        sync.Mutex
	store     map[string]*entry
	version   uint64
	conns     map[uint64]*serverConn
	listeners map[string]*serverConn
	topology  *protocol.TopologyInfo
	requests  []*Request
	hook      Hook
}

// Start listens on a random local TCP port and serves connections until Close
func Start() (*Server, error) {
	return StartWith(nil, "127.0.0.1:0")
}

// StartWith listens on endpoint using connector (nil selects a plain TCP listener)
func StartWith(connector transport.IServerConnector, endpoint string) (*Server, error) {
	var l net.Listener
	var err error
	if connector != nil {
		l, err = connector.Listen(endpoint)
	} else {
		l, err = net.Listen("tcp", endpoint)
	}
	if err != nil {
		return nil, err
	}
	s := &Server{
		listener:  l,
		address:   l.Addr().String(),
		store:     make(map[string]*entry),
		conns:     make(map[uint64]*serverConn),
		listeners: make(map[string]*serverConn),
	}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// Address returns the address clients connect to
func (s *Server) Address() string {
	return s.address
}

// SetHook installs a hook called for every request, nil removes it
func (s *Server) SetHook(hook Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = hook
}

// SetTopology sets the topology sent to clients with an older topology id
func (s *Server) SetTopology(t *protocol.TopologyInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topology = t
}

// Requests returns the recorded requests with the given opcode
func (s *Server) Requests(op protocol.OpCode) []*Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Request
	for _, r := range s.requests {
		if r.Header.OpCode == op {
			out = append(out, r)
		}
	}
	return out
}

// RequestCount returns the number of recorded requests of all kinds
func (s *Server) RequestCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// Accepted returns the number of connections accepted so far
func (s *Server) Accepted() int64 {
	return s.accepted.Load()
}

// OpenConnections returns the number of connections currently open
func (s *Server) OpenConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// ListenerCount returns the number of registered listeners
func (s *Server) ListenerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

// DropListenerConnections closes the connections of all listeners, simulating a node failure
// for event delivery
func (s *Server) DropListenerConnections() {
	s.mu.Lock()
	conns := make([]*serverConn, 0, len(s.listeners))
	for id, c := range s.listeners {
		conns = append(conns, c)
		delete(s.listeners, id)
	}
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.conn.Close()
	}
}

// Close stops accepting, closes all connections and waits for the handlers to exit
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := s.listener.Close()
	s.mu.Lock()
	for _, c := range s.conns {
		_ = c.conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return err
}

// --------------------------------------------------------------------------
// Connection handling
// --------------------------------------------------------------------------

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.closed.Load() {
				return
			}
			Logger.Errorf("Accept error: %v", err)
			continue
		}
		s.accepted.Add(1)
		sc := &serverConn{
			id:   s.nextConn.Add(1),
			conn: conn,
			r:    bufio.NewReader(conn),
			w:    bufio.NewWriter(conn),
		}
		s.mu.Lock()
		s.conns[sc.id] = sc
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConnection(sc)
	}
}

func (s *Server) handleConnection(sc *serverConn) {
	defer s.wg.Done()
	defer func() {
		_ = sc.conn.Close()
		s.mu.Lock()
		delete(s.conns, sc.id)
		for id, c := range s.listeners {
			if c == sc {
				delete(s.listeners, id)
			}
		}
		s.mu.Unlock()
	}()

	for {
		err := s.handleRequest(sc)
		if err == io.EOF || errors.Is(err, net.ErrClosed) {
			return
		}
		if err != nil {
			Logger.Debugf("Closing connection %d: %v", sc.id, err)
			return
		}
	}
}

func (s *Server) handleRequest(sc *serverConn) error {
	header, err := protocol.ReadRequestHeader(sc.r)
	if err != nil {
		if f, ok := common.AsFault(err); ok && header != nil {
			_ = sc.write(func(w protocol.Writer) error {
				return protocol.WriteResponseHeader(w, header.MessageID, protocol.OpError, protocol.Status(f.Status), nil, f.Msg)
			})
		}
		return err
	}

	req := &Request{Header: header, ConnID: sc.id}
	body, err := readBody(sc.r, req)
	if err != nil {
		if f, ok := common.AsFault(err); ok && f.Status != 0 {
			_ = sc.write(func(w protocol.Writer) error {
				return protocol.WriteResponseHeader(w, header.MessageID, protocol.OpError, protocol.Status(f.Status), nil, f.Msg)
			})
		}
		return err
	}

	s.mu.Lock()
	s.requests = append(s.requests, req)
	hook := s.hook
	topology := s.staleTopology(header)
	s.mu.Unlock()

	if hook != nil {
		if reply := hook(req); reply != nil {
			if reply.Drop {
				return errors.New("dropped by hook")
			}
			if reply.Topology != nil {
				topology = reply.Topology
			}
			return s.replyStatus(sc, header, reply.Status, topology, reply.Message)
		}
	}
	return s.process(sc, req, body, topology)
}

// staleTopology returns the topology to attach for a client that knows an older one, s.mu must be held
func (s *Server) staleTopology(h *protocol.HeaderParams) *protocol.TopologyInfo {
	if s.topology == nil || h.Intelligence < common.IntelligenceTopology.Byte() || h.TopologyID >= s.topology.ID {
		return nil
	}
	return s.topology
}

func (s *Server) replyStatus(sc *serverConn, h *protocol.HeaderParams, status protocol.Status, topology *protocol.TopologyInfo, msg string) error {
	op := h.ResponseOpCode
	switch status.Class() {
	case protocol.ClassFailure, protocol.ClassTopologyChanged:
		op = protocol.OpError
		if msg == "" {
			msg = status.String()
		}
	}
	return sc.write(func(w protocol.Writer) error {
		return protocol.WriteResponseHeader(w, h.MessageID, op, status, topology, msg)
	})
}

// --------------------------------------------------------------------------
// Request bodies
// --------------------------------------------------------------------------

type requestBody struct {
	value               []byte
	lifespan            int32
	includeCurrentState bool
}

func readBody(r *bufio.Reader, req *Request) (*requestBody, error) {
	b := &requestBody{}
	var err error
	switch req.Header.OpCode {
	case protocol.OpGet, protocol.OpContainsKey, protocol.OpRemove:
		req.Key, err = protocol.ReadArray(r)
	case protocol.OpPut, protocol.OpPutIfAbsent, protocol.OpReplace:
		if req.Key, err = protocol.ReadArray(r); err != nil {
			return nil, err
		}
		if b.lifespan, err = protocol.ReadVInt(r); err != nil {
			return nil, err
		}
		if _, err = protocol.ReadVInt(r); err != nil { // max idle
			return nil, err
		}
		b.value, err = protocol.ReadArray(r)
	case protocol.OpAddClientListener:
		if b.includeCurrentState, err = protocol.ReadBool(r); err != nil {
			return nil, err
		}
		if _, err = protocol.ReadString(r); err != nil { // filter factory
			return nil, err
		}
		_, err = protocol.ReadString(r) // converter factory
	case protocol.OpRemoveClientListener:
		req.ListenerID, err = protocol.ReadArray(r)
	case protocol.OpPing, protocol.OpSize, protocol.OpClear:
	default:
		return nil, common.NewStatusFault(common.KindProtocol, byte(protocol.StatusUnknownCommand),
			fmt.Sprintf("unknown operation 0x%02x", byte(req.Header.OpCode)))
	}
	return b, err
}

// --------------------------------------------------------------------------
// Processing
// --------------------------------------------------------------------------

func (s *Server) process(sc *serverConn, req *Request, body *requestBody, topology *protocol.TopologyInfo) error {
	h := req.Header
	forceReturn := h.Flags&common.FlagForceReturnValue != 0
	key := string(req.Key)
	var events []*protocol.ClientEvent

	event := func(op protocol.OpCode, version uint64) {
		events = append(events, &protocol.ClientEvent{Type: op, Key: req.Key, Version: version})
	}

	status := protocol.StatusSuccess
	var writeBody func(w protocol.Writer) error
	withPrevious := func(prev *entry, executed bool) {
		if !forceReturn || prev == nil {
			if !executed {
				status = protocol.StatusNotExecuted
			}
			return
		}
		status = protocol.StatusSuccessWithPrevious
		if !executed {
			status = protocol.StatusNotExecutedWithPrevious
		}
		value := prev.value
		writeBody = func(w protocol.Writer) error { return protocol.WriteArray(w, value) }
	}

	s.mu.Lock()
	switch h.OpCode {
	case protocol.OpPing:

	case protocol.OpGet:
		if e := s.lookup(key, &events); e != nil {
			value := e.value
			writeBody = func(w protocol.Writer) error { return protocol.WriteArray(w, value) }
		} else {
			status = protocol.StatusKeyDoesNotExist
		}

	case protocol.OpContainsKey:
		if s.lookup(key, &events) == nil {
			status = protocol.StatusKeyDoesNotExist
		}

	case protocol.OpPut:
		prev := s.lookup(key, &events)
		e := s.set(key, body)
		if prev == nil {
			event(protocol.OpCacheEntryCreated, e.version)
		} else {
			event(protocol.OpCacheEntryModified, e.version)
		}
		withPrevious(prev, true)

	case protocol.OpPutIfAbsent:
		if prev := s.lookup(key, &events); prev != nil {
			withPrevious(prev, false)
		} else {
			e := s.set(key, body)
			event(protocol.OpCacheEntryCreated, e.version)
		}

	case protocol.OpReplace:
		if prev := s.lookup(key, &events); prev == nil {
			status = protocol.StatusNotExecuted
		} else {
			e := s.set(key, body)
			event(protocol.OpCacheEntryModified, e.version)
			withPrevious(prev, true)
		}

	case protocol.OpRemove:
		if prev := s.lookup(key, &events); prev == nil {
			status = protocol.StatusKeyDoesNotExist
		} else {
			delete(s.store, key)
			event(protocol.OpCacheEntryRemoved, 0)
			withPrevious(prev, true)
		}

	case protocol.OpSize:
		size := int64(len(s.store))
		writeBody = func(w protocol.Writer) error { return protocol.WriteVLong(w, size) }

	case protocol.OpClear:
		for k := range s.store {
			events = append(events, &protocol.ClientEvent{Type: protocol.OpCacheEntryRemoved, Key: []byte(k)})
		}
		s.store = make(map[string]*entry)

	case protocol.OpAddClientListener:
		id := []byte(uuid.NewString())
		s.listeners[string(id)] = sc
		writeBody = func(w protocol.Writer) error { return protocol.WriteArray(w, id) }
		if body.includeCurrentState {
			for k, e := range s.store {
				// delivered to the new listener only, after the response
				defer s.pushTo(sc, &protocol.ClientEvent{
					Type: protocol.OpCacheEntryCreated, ListenerID: id, Key: []byte(k), Version: e.version,
				})
			}
		}

	case protocol.OpRemoveClientListener:
		if _, ok := s.listeners[string(req.ListenerID)]; ok {
			delete(s.listeners, string(req.ListenerID))
		} else {
			status = protocol.StatusNotExecuted
		}
	}
	listeners := make(map[string]*serverConn, len(s.listeners))
	for id, c := range s.listeners {
		listeners[id] = c
	}
	s.mu.Unlock()

	err := sc.write(func(w protocol.Writer) error {
		if err := protocol.WriteResponseHeader(w, h.MessageID, h.ResponseOpCode, status, topology, ""); err != nil {
			return err
		}
		if writeBody != nil {
			return writeBody(w)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, ev := range events {
		for id, c := range listeners {
			e := *ev
			e.ListenerID = []byte(id)
			s.pushTo(c, &e)
		}
	}
	return nil
}

// lookup returns the live entry of key, expired entries are removed; s.mu must be held
func (s *Server) lookup(key string, events *[]*protocol.ClientEvent) *entry {
	e, ok := s.store[key]
	if !ok {
		return nil
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		delete(s.store, key)
		*events = append(*events, &protocol.ClientEvent{Type: protocol.OpCacheEntryExpired, Key: []byte(key)})
		return nil
	}
	return e
}

// set stores the value of body under key with a new version; s.mu must be held
func (s *Server) set(key string, body *requestBody) *entry {
	s.version++
	e := &entry{value: body.value, version: s.version}
	if body.lifespan > 0 {
		e.expiresAt = time.Now().Add(time.Duration(body.lifespan) * time.Second)
	}
	s.store[key] = e
	return e
}

func (s *Server) pushTo(c *serverConn, ev *protocol.ClientEvent) {
	if err := c.write(func(w protocol.Writer) error { return protocol.WriteEvent(w, ev) }); err != nil {
		Logger.Debugf("Failed to push %s to connection %d: %v", ev, c.id, err)
	}
}
