package server

import (
	"bytes"
	"errors"
	"log"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"reactorpc/client"
	"reactorpc/internal/procs"
	"reactorpc/rpcerr"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func startTestServer(t *testing.T, cfg Config) (*Server, string) {
	t.Helper()
	svr := New(cfg)
	if err := svr.Register("add", procs.Add); err != nil {
		t.Fatal(err)
	}
	if err := svr.Register("hello", procs.Hello); err != nil {
		t.Fatal(err)
	}
	if err := svr.Register("twoSum", procs.TwoSum); err != nil {
		t.Fatal(err)
	}
	if err := svr.Register("excp", procs.Excp); err != nil {
		t.Fatal(err)
	}
	if err := svr.Register("testTimeOut", procs.TestTimeOut); err != nil {
		t.Fatal(err)
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- svr.Serve() }()

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	waitForListener(t, addr)

	t.Cleanup(func() {
		svr.Shutdown()
		if err := <-serveErr; err != nil {
			t.Errorf("Serve returned an error: %v", err)
		}
	})
	return svr, addr
}

func waitForListener(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server never came up on %s", addr)
}

func TestEndToEndAdd(t *testing.T) {
	cfg := NewConfig("127.0.0.1", freePort(t))
	_, addr := startTestServer(t, cfg)

	c, err := client.DialTimeout(addr, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	var sum int
	if err := c.Call("add", &sum, 1, 1); err != nil {
		t.Fatal(err)
	}
	if sum != 2 {
		t.Errorf("got %d, want 2", sum)
	}
}

func TestEndToEndHello(t *testing.T) {
	cfg := NewConfig("127.0.0.1", freePort(t))
	_, addr := startTestServer(t, cfg)

	c, err := client.DialTimeout(addr, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	var greeting string
	if err := c.Call("hello", &greeting); err != nil {
		t.Fatal(err)
	}
	if greeting != "hello, clnt!\nhahaha" {
		t.Errorf("got %q", greeting)
	}
}

func TestEndToEndTwoSum(t *testing.T) {
	cfg := NewConfig("127.0.0.1", freePort(t))
	_, addr := startTestServer(t, cfg)

	c, err := client.DialTimeout(addr, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	var idx []int
	if err := c.Call("twoSum", &idx, []int{2, 7, 11, 15}, 9); err != nil {
		t.Fatal(err)
	}
	if len(idx) != 2 || idx[0] != 0 || idx[1] != 1 {
		t.Errorf("got %v, want [0 1]", idx)
	}
}

func TestEndToEndUnknownProcedure(t *testing.T) {
	cfg := NewConfig("127.0.0.1", freePort(t))
	_, addr := startTestServer(t, cfg)

	c, err := client.DialTimeout(addr, time.Second)
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
}

func TestEndToEndHandlerError(t *testing.T) {
	cfg := NewConfig("127.0.0.1", freePort(t))
	_, addr := startTestServer(t, cfg)

	c, err := client.DialTimeout(addr, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	var out int
	err = c.Call("excp", &out)
	var callErr *rpcerr.CallError
	if !errors.As(err, &callErr) {
		t.Fatalf("got %v, want *rpcerr.CallError", err)
	}
}

func TestEndToEndPerConnectionOrdering(t *testing.T) {
	cfg := NewConfig("127.0.0.1", freePort(t))
	_, addr := startTestServer(t, cfg)

	c, err := client.DialTimeout(addr, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	for i := 0; i < 50; i++ {
		var sum int
		if err := c.Call("add", &sum, i, i); err != nil {
			t.Fatal(err)
		}
		if sum != 2*i {
			t.Fatalf("call %d: got %d, want %d", i, sum, 2*i)
		}
	}
}

func TestEndToEndConcurrentClients(t *testing.T) {
	cfg := NewConfig("127.0.0.1", freePort(t))
	_, addr := startTestServer(t, cfg)

	const numClients, callsPerClient = 8, 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	successCount := 0

	wg.Add(numClients)
	for i := 0; i < numClients; i++ {
		go func(clientIdx int) {
			defer wg.Done()
			c, err := client.DialTimeout(addr, time.Second)
			if err != nil {
				t.Error(err)
				return
			}
			defer c.Close()
			for k := 0; k < callsPerClient; k++ {
				var sum int
				if err := c.Call("add", &sum, clientIdx, k); err != nil {
					t.Error(err)
					continue
				}
				if sum != clientIdx+k {
					t.Errorf("got %d, want %d", sum, clientIdx+k)
					continue
				}
				mu.Lock()
				successCount++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if successCount != numClients*callsPerClient {
		t.Errorf("got %d successful calls, want %d", successCount, numClients*callsPerClient)
	}
}

func TestEndToEndSlowHandlerCriticalTimeWarning(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping 5s slow-handler scenario in short mode")
	}
	cfg := NewConfig("127.0.0.1", freePort(t))
	cfg.ProcedureCriticalTime = 200 * time.Millisecond
	svr := New(cfg)
	if err := svr.Register("testTimeOut", procs.TestTimeOut); err != nil {
		t.Fatal(err)
	}

	var infoBuf bytes.Buffer
	var logMu sync.Mutex
	svr.SetLoggers(log.New(lockedWriter{&logMu, &infoBuf}, "", 0), log.New(lockedWriter{&logMu, &infoBuf}, "", 0))

	serveErr := make(chan error, 1)
	go func() { serveErr <- svr.Serve() }()
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	waitForListener(t, addr)
	t.Cleanup(func() {
		svr.Shutdown()
		<-serveErr
	})

	c, err := client.DialTimeout(addr, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	var result int
	if err := c.Call("testTimeOut", &result); err != nil {
		t.Fatal(err)
	}
	if result != 114514 {
		t.Errorf("got %d, want 114514", result)
	}

	logMu.Lock()
	logged := infoBuf.String()
	logMu.Unlock()
	if !bytes.Contains([]byte(logged), []byte("testTimeOut")) {
		t.Errorf("expected a slow-handler warning naming testTimeOut, got %q", logged)
	}
}

type lockedWriter struct {
	mu *sync.Mutex
	w  *bytes.Buffer
}

func (l lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
