// Package client implements the blocking RPC client: one persistent TCP
// connection, a synchronous remote_call, and typed decode of the server's
// ReturnPacket (spec §4.6).
package client

import (
	"fmt"
	"net"
	"reflect"
	"time"

	"reactorpc/codec"
	"reactorpc/frame"
	"reactorpc/packet"
	"reactorpc/rpcerr"
)

// Client owns exactly one TCP connection and issues calls over it
// synchronously. A Client is not safe for concurrent use: concurrent calls
// on a single connection produce undefined interleaving of requests and
// responses (spec §4.6), so callers that need concurrency should use
// multiple Clients.
type Client struct {
	conn net.Conn
}

// Dial connects to addr and returns a Client ready for calls.
func Dial(addr string) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// DialTimeout is Dial with a connect timeout.
func DialTimeout(addr string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Close releases the underlying connection. Safe to call once; a second
// call returns the net package's own "use of closed network connection"
// error, which callers may ignore.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call issues a remote call to name with args and decodes the server's
// ReturnPacket payload into out. out must be a pointer to
// the procedure's declared return type, or nil for a procedure declared to
// return nothing. Any non-SUCCESS return code is reported as an
// *rpcerr.CallError; out is left unmodified in that case (spec §3: the
// payload is undefined when code != SUCCESS and must not be consumed).
func (c *Client) Call(name string, out any, args ...any) error {
	req, err := packet.EncodeProcedurePacket(name, args...)
	if err != nil {
		return fmt.Errorf("client: encode call %q: %w", name, err)
	}
	if err := frame.Send(c.conn, req); err != nil {
		return fmt.Errorf("client: send call %q: %w", name, err)
	}

	respBody, err := frame.Receive(c.conn)
	if err != nil {
		return fmt.Errorf("client: receive response for %q: %w", name, err)
	}

	code, inner, err := packet.DecodeReturnPacket(respBody)
	if err != nil {
		return fmt.Errorf("client: decode response for %q: %w", name, err)
	}
	if code != packet.Success {
		return &rpcerr.CallError{Code: code}
	}
	if out == nil {
		return nil // void return: payload placeholder is discarded
	}
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("client: out must be a non-nil pointer, got %T", out)
	}
	if err := codec.NewDecoder(inner).DecodeValue(rv.Elem()); err != nil {
		return fmt.Errorf("client: decode return value for %q: %w", name, err)
	}
	return nil
}
