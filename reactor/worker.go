package reactor

import (
	"encoding/binary"
	"log"
	"net"
	"sync"

	"golang.org/x/sys/unix"

	"reactorpc/dispatch"
	"reactorpc/executor"
)

// Worker is one worker reactor: an edge-triggered epoll instance, the set of
// connections it currently owns, the bounded task executor those
// connections' requests are dispatched to, and the map of responses waiting
// to be written back once their connection becomes write-ready.
//
// Only the goroutine running Worker.run reads or writes a Connection's
// sockets and read/write state. Two other goroutines call epoll_ctl on this
// worker's instance: the acceptor registers new connections through adopt,
// and task-executor goroutines store into pending and arm write-readiness
// through armWrite, never touching a socket directly.
type Worker struct {
	id        int
	epfd      int
	heapIndex int // heap.Interface bookkeeping, guarded by pool.mu
	active    int // active connection count, guarded by pool.mu

	bufferSize int
	waitMillis int

	dispatcher *dispatch.Dispatcher
	exec       *executor.Executor
	pool       *workerPool
	lifecycle  *Lifecycle

	connsMu sync.Mutex
	conns   map[int]*Connection

	pendingMu sync.Mutex
	pending   map[int][]byte

	infoLog  *log.Logger
	errorLog *log.Logger
}

func newWorker(id, bufferSize, waitMillis, taskThreadNums, taskQueueCap int, dispatcher *dispatch.Dispatcher, lifecycle *Lifecycle, infoLog, errorLog *log.Logger) (*Worker, error) {
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, err
	}
	return &Worker{
		id:         id,
		epfd:       epfd,
		bufferSize: bufferSize,
		waitMillis: waitMillis,
		dispatcher: dispatcher,
		exec:       executor.New(taskThreadNums, taskQueueCap),
		conns:      make(map[int]*Connection),
		pending:    make(map[int][]byte),
		infoLog:    infoLog,
		errorLog:   errorLog,
		lifecycle:  lifecycle,
	}, nil
}

// attachPool gives the worker a back-reference to the pool it belongs to, so
// it can release its own slot in the least-load heap when a connection
// closes.
func (w *Worker) attachPool(p *workerPool) { w.pool = p }

// close releases the worker's epoll instance. Call only after run has
// returned (i.e. after Core.Wait), matching Core.Close's contract.
func (w *Worker) close() error {
	return unix.Close(w.epfd)
}

// adopt registers fd (already set non-blocking by the acceptor) for
// edge-triggered read readiness and records its Connection under this
// worker.
func (w *Worker) adopt(fd int, addr net.Addr) error {
	ev := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLET, Fd: int32(fd)}
	if err := unix.EpollCtl(w.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return err
	}
	w.connsMu.Lock()
	w.conns[fd] = newConnection(fd, addr)
	w.connsMu.Unlock()
	return nil
}

// run is the worker reactor loop: it blocks in epoll_wait (bounded by
// waitMillis so shutdown is observed promptly), and dispatches each ready fd
// to the read or write handler. It returns once the lifecycle's exited flag
// has been observed on a wakeup that produced zero events, the same
// quiescence rule spec §5 gives the acceptor.
func (w *Worker) run() {
	w.lifecycle.incActive()
	defer w.lifecycle.decActive()
	defer w.exec.Stop()

	events := make([]unix.EpollEvent, w.bufferSize)
	for {
		n, err := unix.EpollWait(w.epfd, events, w.waitMillis)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			w.errorLog.Printf("reactor: worker %d epoll_wait error: %v", w.id, err)
			continue
		}
		if n == 0 && w.lifecycle.Exited() {
			return
		}
		for i := 0; i < n; i++ {
			w.handleEvent(events[i])
		}
	}
}

func (w *Worker) handleEvent(ev unix.EpollEvent) {
	fd := int(ev.Fd)
	w.connsMu.Lock()
	c := w.conns[fd]
	w.connsMu.Unlock()
	if c == nil {
		return
	}
	if ev.Events&(unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		w.closeConnection(c)
		return
	}
	if ev.Events&unix.EPOLLIN != 0 {
		w.handleReadable(c)
	}
	if ev.Events&unix.EPOLLOUT != 0 {
		w.handleWritable(c)
	}
}

// handleReadable drains everything currently available on c, which may span
// zero, one, or several complete frames — required because edge-triggered
// readiness only fires once per arrival, so the reactor must loop until
// EAGAIN rather than reading a single frame and waiting for the next edge.
func (w *Worker) handleReadable(c *Connection) {
	for {
		if !c.haveHdr {
			n, err := unix.Read(c.fd, c.header[c.headerN:])
			if n > 0 {
				c.headerN += n
			}
			if n == 0 && err == nil {
				w.onPeerEOF(c)
				return
			}
			if err != nil {
				if err == unix.EAGAIN {
					return
				}
				w.errorLog.Printf("reactor: read error on fd %d: %v", c.fd, err)
				w.closeConnection(c)
				return
			}
			if c.headerN < len(c.header) {
				continue
			}
			c.haveHdr = true
			c.body = make([]byte, c.bodyLen())
			c.bodyN = 0
		}

		if c.bodyN < len(c.body) {
			n, err := unix.Read(c.fd, c.body[c.bodyN:])
			if n > 0 {
				c.bodyN += n
			}
			if n == 0 && err == nil {
				w.errorLog.Printf("reactor: peer closed mid-frame on fd %d", c.fd)
				w.closeConnection(c)
				return
			}
			if err != nil {
				if err == unix.EAGAIN {
					return
				}
				w.errorLog.Printf("reactor: read error on fd %d: %v", c.fd, err)
				w.closeConnection(c)
				return
			}
		}

		if c.frameReady() {
			body := c.body
			c.resetFrame()
			w.dispatchFrame(c, body)
		}
	}
}

// onPeerEOF handles a clean read-side close at a frame boundary. If a
// response is still owed to this connection — already pending, mid-write, or
// still executing on the task executor — it moves to HALF_CLOSED_PEER and
// keeps write-readiness armed so that last response can still drain (spec
// §3); otherwise there is nothing left to send and it closes outright.
func (w *Worker) onPeerEOF(c *Connection) {
	c.setState(stateHalfClosedPeer)
	ev := unix.EpollEvent{Events: unix.EPOLLOUT | unix.EPOLLET, Fd: int32(c.fd)}
	if err := unix.EpollCtl(w.epfd, unix.EPOLL_CTL_MOD, c.fd, &ev); err != nil {
		w.closeConnection(c)
		return
	}
	w.pendingMu.Lock()
	_, hasPending := w.pending[c.fd]
	w.pendingMu.Unlock()
	if !hasPending && c.writeBuf == nil && c.loadInflight() == 0 {
		w.closeConnection(c)
	}
}

// dispatchFrame submits a decoded request to the task executor, sharded by
// the owning connection's fd so requests on one connection are answered in
// arrival order while different connections run concurrently (spec §4.4,
// §4.5). A full shard queue is backpressure: the connection is closed
// rather than silently dropping the request (spec §7, QueueFull).
//
// c.inflight is incremented here, before the request leaves the reactor
// goroutine, and decremented once the task stores its response — so a peer
// that half-closes while a request is still executing (onPeerEOF) sees a
// nonzero count and keeps the connection alive until that response drains,
// instead of tearing it down out from under the in-flight task.
func (w *Worker) dispatchFrame(c *Connection, body []byte) {
	fd := c.fd
	c.incInflight()
	err := w.exec.Enqueue(fd, func() {
		resp := w.dispatcher.Handle(body)
		w.pendingMu.Lock()
		w.pending[fd] = resp
		w.pendingMu.Unlock()
		c.decInflight()
		w.armWrite(c)
	})
	if err != nil {
		c.decInflight()
		w.errorLog.Printf("reactor: task queue full for fd %d, closing connection", fd)
		w.closeConnection(c)
	}
}

// armWrite registers write-readiness on c once a response is ready. It runs
// on a task-executor goroutine, never on the reactor loop goroutine, so it
// only touches epoll_ctl — never the socket's read/write state directly.
func (w *Worker) armWrite(c *Connection) {
	ev := unix.EpollEvent{Events: unix.EPOLLOUT | unix.EPOLLET, Fd: int32(c.fd)}
	if err := unix.EpollCtl(w.epfd, unix.EPOLL_CTL_MOD, c.fd, &ev); err != nil {
		w.errorLog.Printf("reactor: epoll_ctl MOD (arm write) failed for fd %d: %v", c.fd, err)
	}
}

// handleWritable serializes the stored response, length-frames it, and
// sends as much as the socket currently accepts; a short write resumes on
// the connection's writeBuf/writeOff the next time this fd is write-ready,
// since edge-triggered EPOLLOUT will not fire again until the kernel buffer
// drains further.
func (w *Worker) handleWritable(c *Connection) {
	if c.writeBuf == nil {
		w.pendingMu.Lock()
		resp, ok := w.pending[c.fd]
		if ok {
			delete(w.pending, c.fd)
		}
		w.pendingMu.Unlock()
		if !ok {
			return // spurious wakeup before the response was ready
		}
		buf := make([]byte, 4+len(resp))
		binary.BigEndian.PutUint32(buf[:4], uint32(len(resp)))
		copy(buf[4:], resp)
		c.writeBuf = buf
		c.writeOff = 0
	}

	for c.writeOff < len(c.writeBuf) {
		n, err := unix.Write(c.fd, c.writeBuf[c.writeOff:])
		if n > 0 {
			c.writeOff += n
		}
		if err != nil {
			if err == unix.EAGAIN {
				return
			}
			w.errorLog.Printf("reactor: write error on fd %d: %v", c.fd, err)
			w.closeConnection(c)
			return
		}
	}
	c.writeBuf = nil
	c.writeOff = 0

	if c.getState() == stateHalfClosedPeer {
		w.closeConnection(c)
		return
	}

	ev := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLET, Fd: int32(c.fd)}
	if err := unix.EpollCtl(w.epfd, unix.EPOLL_CTL_MOD, c.fd, &ev); err != nil {
		w.errorLog.Printf("reactor: epoll_ctl MOD (rearm read) failed for fd %d: %v", c.fd, err)
		w.closeConnection(c)
	}
}

// closeConnection tears down c: it is idempotent, since both a read error
// and a subsequent stray event for the same fd can each try to close it.
func (w *Worker) closeConnection(c *Connection) {
	if c.getState() == stateClosed {
		return
	}
	c.setState(stateClosed)
	unix.EpollCtl(w.epfd, unix.EPOLL_CTL_DEL, c.fd, nil)
	unix.Close(c.fd)

	w.connsMu.Lock()
	delete(w.conns, c.fd)
	w.connsMu.Unlock()

	w.pendingMu.Lock()
	delete(w.pending, c.fd)
	w.pendingMu.Unlock()

	if w.pool != nil {
		w.pool.Release(w)
	}
}
