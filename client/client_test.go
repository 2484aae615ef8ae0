package client

import (
	"errors"
	"net"
	"testing"
	"time"

	"reactorpc/codec"
	"reactorpc/frame"
	"reactorpc/packet"
	"reactorpc/rpcerr"
)

// serveOnce accepts a single connection and answers every frame on it with
// respond(requestBody), without involving the reactor — enough to exercise
// Client.Call's encode/send/receive/decode path in isolation.
func serveOnce(t *testing.T, respond func(body []byte) []byte) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		defer ln.Close()
		for {
			body, err := frame.Receive(conn)
			if err != nil {
				return
			}
			if err := frame.Send(conn, respond(body)); err != nil {
				return
			}
		}
	}()
	return ln.Addr().String()
}

func mustEncode(t *testing.T, v any) []byte {
	t.Helper()
	b, err := codec.Encode(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestCallSuccess(t *testing.T) {
	addr := serveOnce(t, func(body []byte) []byte {
		return packet.EncodeReturnPacket(packet.Success, mustEncode(t, 3))
	})

	c, err := DialTimeout(addr, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	var out int
	if err := c.Call("whatever", &out, 1, 2); err != nil {
		t.Fatal(err)
	}
	if out != 3 {
		t.Errorf("got %d, want 3", out)
	}
}

func TestCallVoidReturn(t *testing.T) {
	addr := serveOnce(t, func(body []byte) []byte {
		return packet.EncodeReturnPacket(packet.Success, packet.VoidPayload())
	})

	c, err := DialTimeout(addr, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if err := c.Call("noop", nil); err != nil {
		t.Fatal(err)
	}
}

func TestCallNonSuccessRaises(t *testing.T) {
	addr := serveOnce(t, func(body []byte) []byte {
		return packet.EncodeReturnPacket(packet.NoSuchProcedure, nil)
	})

	c, err := DialTimeout(addr, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	var out int
	err = c.Call("niubi", &out)
	var callErr *rpcerr.CallError
	if !errors.As(err, &callErr) {
		t.Fatalf("got %v, want *rpcerr.CallError", err)
	}
	if callErr.Code != packet.NoSuchProcedure {
		t.Errorf("code: got %v, want NoSuchProcedure", callErr.Code)
	}
	if out != 0 {
		t.Errorf("out must be untouched on a non-success code, got %d", out)
	}
}

func TestCallSequentialCallsOnOneConnection(t *testing.T) {
	n := 0
	addr := serveOnce(t, func(body []byte) []byte {
		n++
		return packet.EncodeReturnPacket(packet.Success, mustEncode(t, n))
	})

	c, err := DialTimeout(addr, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	for i := 1; i <= 5; i++ {
		var out int
		if err := c.Call("next", &out); err != nil {
			t.Fatal(err)
		}
		if out != i {
			t.Fatalf("call %d: got %d, want %d", i, out, i)
		}
	}
}

func TestDialTimeoutUnreachable(t *testing.T) {
	// 203.0.113.0/24 is reserved for documentation (RFC 5737) and never
	// routable, so the dial will hang until the deadline rather than fail
	// fast with connection-refused.
	_, err := DialTimeout("203.0.113.1:81", 100*time.Millisecond)
	if err == nil {
		t.Fatal("expected a dial error against an unroutable address")
	}
}
