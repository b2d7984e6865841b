// Package dbconn implements the dbserver Connection Manager (spec.md
// §4.F): one-shot TCP port discovery on 12523, pooled per-target-player
// connections with an idle sweeper, and the greeting+setup handshake that
// must succeed before a connection is handed to the Query Engine.
package dbconn

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/beatlink/djlink/internal/dbproto"
	"github.com/beatlink/djlink/internal/djerr"
)

// Connection holds a TCP socket to one player's dbserver port, the target
// and posing-as device numbers, a monotonic per-connection transaction
// counter, an I/O lock, a last-used timestamp, and a use count (spec.md
// §3 "Connection").
type Connection struct {
	netConn  net.Conn
	target   byte
	posingAs byte
	timeout  time.Duration

	mu  sync.Mutex // serializes invokeWithClientSession per spec.md §5
	txn uint32

	poolMu   sync.Mutex // guards use-count/idle bookkeeping only
	useCount int
	idleFrom time.Time
}

// NewConnection wraps an already-established, already-handshaken socket
// as a Connection. Production code obtains connections via
// Manager.Allocate; this constructor exists for callers (and tests) that
// bridge a session set up outside the Connection Manager's own dial path.
func NewConnection(netConn net.Conn, target, posingAs byte, timeout time.Duration) *Connection {
	return &Connection{netConn: netConn, target: target, posingAs: posingAs, timeout: timeout}
}

// Target returns the device number this connection was opened against.
func (c *Connection) Target() byte { return c.target }

// PosingAs returns the device number this client presented during setup.
func (c *Connection) PosingAs() byte { return c.posingAs }

// NextTransaction returns the next transaction ID for this connection,
// starting at 1 (spec.md §4.G "Transaction IDs"). Callers must already
// hold the connection's lock (see Lock/Unlock).
func (c *Connection) NextTransaction() uint32 {
	c.txn++
	return c.txn
}

// Lock serializes access to this connection for the duration of one
// request/response exchange; a concurrent caller blocks until Unlock
// (spec.md §5 "a second invokeWithClientSession blocks until the first
// releases the lock").
func (c *Connection) Lock() { c.mu.Lock() }

// Unlock releases the lock acquired by Lock.
func (c *Connection) Unlock() { c.mu.Unlock() }

// Send writes m to the connection's socket under the configured socket
// timeout. Callers must hold the connection's lock.
func (c *Connection) Send(m dbproto.Message) error {
	c.netConn.SetWriteDeadline(time.Now().Add(c.timeout))
	if err := dbproto.Write(c.netConn, m); err != nil {
		return fmt.Errorf("dbconn: %w: write message: %v", djerr.ErrNetwork, err)
	}
	return nil
}

// Receive reads one message from the connection's socket under the
// configured socket timeout. Callers must hold the connection's lock.
func (c *Connection) Receive() (dbproto.Message, error) {
	c.netConn.SetReadDeadline(time.Now().Add(c.timeout))
	m, err := dbproto.Read(c.netConn)
	if err != nil {
		return dbproto.Message{}, fmt.Errorf("dbconn: %w: read message: %v", djerr.ErrNetwork, err)
	}
	return m, nil
}

// Close closes the underlying socket. Safe to call more than once.
func (c *Connection) Close() error {
	if c.netConn == nil {
		return nil
	}
	return c.netConn.Close()
}

// acquire increments the use count, marking the connection as in use so
// the sweeper does not reclaim it.
func (c *Connection) acquire() {
	c.poolMu.Lock()
	c.useCount++
	c.poolMu.Unlock()
}

// release decrements the use count and, once it reaches zero, stamps the
// idle start time the sweeper measures against (spec.md §4.F "Pooling").
func (c *Connection) release() {
	c.poolMu.Lock()
	c.useCount--
	if c.useCount <= 0 {
		c.useCount = 0
		c.idleFrom = time.Now()
	}
	c.poolMu.Unlock()
}

// idleFor reports how long this connection has been unused, and whether
// it is currently unused at all (useCount == 0).
func (c *Connection) idleFor(now time.Time) (time.Duration, bool) {
	c.poolMu.Lock()
	defer c.poolMu.Unlock()
	if c.useCount > 0 {
		return 0, false
	}
	return now.Sub(c.idleFrom), true
}
