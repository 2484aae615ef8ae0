// Package reactor implements the multi-Reactor, multi-threaded event loop:
// one acceptor reactor that admits connections and distributes them across
// worker reactors by least active-connection count, and N worker reactors
// that poll their sockets, assemble length-framed requests, and dispatch
// decoded requests to a bounded task executor. It is the Go analogue of the
// original framework's epoll-based RPCServer, built directly on
// golang.org/x/sys/unix rather than net.Conn because edge-triggered epoll
// needs the raw, non-blocking file descriptor.
package reactor

import "sync/atomic"

// Lifecycle is the process-wide shutdown state shared by every reactor loop:
// an "exited" flag set once on the first SIGINT, and a count of reactors
// still running. Reactor loops observe the flag after each wakeup and the
// server's Serve caller waits for the active count to reach zero.
type Lifecycle struct {
	exited int32
	active int32
}

// NewLifecycle returns a fresh, not-yet-exited Lifecycle.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{}
}

// RequestExit sets the exited flag and reports whether it was already set —
// the caller uses that to force an immediate process exit on a second
// shutdown signal, matching the original's sig_handler double-SIGINT
// behavior.
func (l *Lifecycle) RequestExit() (alreadyRequested bool) {
	return !atomic.CompareAndSwapInt32(&l.exited, 0, 1)
}

// Exited reports whether shutdown has been requested.
func (l *Lifecycle) Exited() bool {
	return atomic.LoadInt32(&l.exited) != 0
}

func (l *Lifecycle) incActive() { atomic.AddInt32(&l.active, 1) }
func (l *Lifecycle) decActive() { atomic.AddInt32(&l.active, -1) }

// ActiveReactors returns the number of reactor loops (acceptor plus
// workers) that have not yet observed shutdown and returned.
func (l *Lifecycle) ActiveReactors() int32 {
	return atomic.LoadInt32(&l.active)
}
