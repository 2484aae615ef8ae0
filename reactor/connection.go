package reactor

import (
	"encoding/binary"
	"net"
	"sync/atomic"
)

// connState is a Connection's lifecycle stage, per spec §3.
type connState int32

const (
	stateOpen connState = iota
	stateHalfClosedPeer
	stateClosed
)

// Connection owns one non-blocking TCP file descriptor plus its peer
// address, and the partial-frame state needed to resume a read or write
// across successive edge-triggered wakeups. It is owned by exactly one
// Worker at a time and is only ever touched by that Worker's own reactor
// goroutine — there is no connection-level lock, which is what lets the
// reactor loop avoid locking on the hot path.
type Connection struct {
	fd    int
	addr  net.Addr
	state int32 // connState, read and written atomically through getState/setState

	// read side: a frame is either mid-header or mid-body.
	header  [4]byte
	headerN int
	haveHdr bool
	body    []byte
	bodyN   int

	// write side: a previously short write resumes here on the next
	// write-readiness edge.
	writeBuf []byte
	writeOff int

	// inflight counts requests submitted to the executor that haven't yet
	// stored their response in pending — touched from both the reactor
	// goroutine (dispatchFrame) and executor goroutines (on completion), so
	// it's the one piece of Connection state that needs atomic access.
	inflight int32
}

func newConnection(fd int, addr net.Addr) *Connection {
	return &Connection{fd: fd, addr: addr, state: int32(stateOpen)}
}

// Addr returns the connection's peer address.
func (c *Connection) Addr() net.Addr { return c.addr }

func (c *Connection) setState(s connState) { atomic.StoreInt32(&c.state, int32(s)) }
func (c *Connection) getState() connState  { return connState(atomic.LoadInt32(&c.state)) }

func (c *Connection) incInflight() int32  { return atomic.AddInt32(&c.inflight, 1) }
func (c *Connection) decInflight() int32  { return atomic.AddInt32(&c.inflight, -1) }
func (c *Connection) loadInflight() int32 { return atomic.LoadInt32(&c.inflight) }

// resetFrame clears read-side state once a complete frame has been consumed,
// so the connection is ready to assemble the next one.
func (c *Connection) resetFrame() {
	c.headerN = 0
	c.haveHdr = false
	c.body = nil
	c.bodyN = 0
}

// bodyLen decodes the 4-byte big-endian length prefix once the header is
// fully read.
func (c *Connection) bodyLen() uint32 {
	return binary.BigEndian.Uint32(c.header[:])
}

// frameReady reports whether a complete length-prefixed frame has been
// assembled and is ready for dispatch.
func (c *Connection) frameReady() bool {
	return c.haveHdr && c.bodyN == len(c.body)
}
