package transport

import (
	"bufio"
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// expired is a deadline in the past used to abort blocked I/O
var expired = time.Unix(1, 0)

// Conn is a buffered connection to one server address. It is owned by exactly one
// operation while lent, or idle in the pool.
type Conn struct {
	id        uint64
	address   string
	netConn   net.Conn
	r         *bufio.Reader
	w         *bufio.Writer
	timeout   time.Duration
	dedicated bool

	lent      atomic.Bool
	broken    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func newConn(id uint64, address string, nc net.Conn, timeout time.Duration) *Conn {
	return &Conn{
		id:      id,
		address: address,
		netConn: nc,
		r:       bufio.NewReader(nc),
		w:       bufio.NewWriter(nc),
		timeout: timeout,
	}
}

// ID returns the pool unique id of the connection
func (c *Conn) ID() uint64 {
	return c.id
}

// Address returns the server address the connection is bound to
func (c *Conn) Address() string {
	return c.address
}

// LocalAddr returns the local network address of the socket
func (c *Conn) LocalAddr() net.Addr {
	return c.netConn.LocalAddr()
}

// Dedicated reports whether the connection lives outside the pool bound
func (c *Conn) Dedicated() bool {
	return c.dedicated
}

// --------------------------------------------------------------------------
// protocol.Stream
// --------------------------------------------------------------------------

func (c *Conn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

func (c *Conn) ReadByte() (byte, error) {
	return c.r.ReadByte()
}

func (c *Conn) Write(p []byte) (int, error) {
	return c.w.Write(p)
}

func (c *Conn) WriteByte(b byte) error {
	return c.w.WriteByte(b)
}

func (c *Conn) Flush() error {
	return c.w.Flush()
}

// --------------------------------------------------------------------------
// Deadlines and cancellation
// --------------------------------------------------------------------------

// Bind arms the I/O deadline for one request (the configured timeout, or the ctx deadline if
// earlier) and aborts blocked I/O when ctx is cancelled. The returned function must be called
// when the request is done. A connection whose request was cancelled is marked broken.
func (c *Conn) Bind(ctx context.Context) (unbind func()) {
	var deadline time.Time
	if c.timeout > 0 {
		deadline = time.Now().Add(c.timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	_ = c.netConn.SetDeadline(deadline)

	stop := context.AfterFunc(ctx, func() {
		_ = c.netConn.SetDeadline(expired)
	})
	return func() {
		if !stop() {
			c.MarkBroken()
		}
	}
}

// ClearDeadline removes all deadlines, used for connections that block reading events
func (c *Conn) ClearDeadline() error {
	return c.netConn.SetDeadline(time.Time{})
}

// MarkBroken flags the connection so the pool closes it instead of reusing it
func (c *Conn) MarkBroken() {
	c.broken.Store(true)
}

// Broken reports whether the connection was flagged as unusable
func (c *Conn) Broken() bool {
	return c.broken.Load()
}

// Close closes the underlying socket, it is safe to call more than once
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.broken.Store(true)
		c.closeErr = c.netConn.Close()
	})
	return c.closeErr
}
