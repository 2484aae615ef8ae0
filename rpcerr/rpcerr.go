// Package rpcerr names the error taxonomy shared by the codec, frame,
// dispatch, reactor, and client layers.
package rpcerr

import (
	"errors"
	"fmt"

	"reactorpc/packet"
)

// ErrPeerClosed indicates the peer performed a clean TCP close while a frame
// header was being read.
var ErrPeerClosed = errors.New("rpcerr: peer closed connection")

// ErrWouldBlock names the case of a non-blocking socket operation that made
// partial or no progress. Nothing in this module returns it: the reactor
// checks unix.EAGAIN itself and resumes on the connection's next readiness
// edge.
var ErrWouldBlock = errors.New("rpcerr: operation would block")

// ErrQueueFull indicates a task executor's per-shard queue was at capacity
// when an enqueue was attempted.
var ErrQueueFull = errors.New("rpcerr: task queue full")

// ProtocolError indicates a frame was truncated: the peer closed mid-body, or
// the stream otherwise violated the length-prefixed framing contract.
type ProtocolError struct {
	Err error
}

func (e *ProtocolError) Error() string { return fmt.Sprintf("rpcerr: protocol error: %v", e.Err) }
func (e *ProtocolError) Unwrap() error { return e.Err }

// CallError is raised by the client when a remote call completes with a
// non-SUCCESS status code. Its payload, if any, is undefined per spec and is
// never exposed here.
type CallError struct {
	Code packet.Code
}

func (e *CallError) Error() string {
	return fmt.Sprintf("rpcerr: remote call failed: %s", e.Code)
}
