package server

import (
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"reactorpc/dispatch"
	"reactorpc/reactor"
)

// Server wires a Config, a procedure Dispatcher, and a reactor.Core
// together. Register procedures before calling Serve — registration after
// Serve has started is not supported (spec §3).
type Server struct {
	cfg        Config
	dispatcher *dispatch.Dispatcher
	core       *reactor.Core

	infoLog  *log.Logger
	errorLog *log.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	stopped  chan struct{}
}

// New creates a Server from cfg, logging informational and warning messages
// to stdout and errors to stderr — the two named channels spec §4.7 calls
// for.
func New(cfg Config) *Server {
	infoLog := log.New(os.Stdout, "[reactorpc] ", log.LstdFlags)
	errorLog := log.New(os.Stderr, "[reactorpc] ", log.LstdFlags)
	return &Server{
		cfg:        cfg,
		dispatcher: dispatch.New(cfg.ProcedureCriticalTime, infoLog, errorLog),
		infoLog:    infoLog,
		errorLog:   errorLog,
		stopCh:     make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

// SetLoggers overrides the default stdout/stderr loggers — tests use this
// to capture the critical-time warning instead of asserting on stdout. The
// server's loggers take on the output, prefix and flags of info and errLog;
// procedures already registered stay registered.
func (s *Server) SetLoggers(info, errLog *log.Logger) {
	s.infoLog.SetOutput(info.Writer())
	s.infoLog.SetPrefix(info.Prefix())
	s.infoLog.SetFlags(info.Flags())
	s.errorLog.SetOutput(errLog.Writer())
	s.errorLog.SetPrefix(errLog.Prefix())
	s.errorLog.SetFlags(errLog.Flags())
}

// Register installs a free function or callable value under name. See
// dispatch.Dispatcher.Register for the supported signatures.
func (s *Server) Register(name string, fn any) error {
	return s.dispatcher.Register(name, fn)
}

// RegisterMethod installs a bound method on receiver under name.
func (s *Server) RegisterMethod(name string, receiver any, methodName string) error {
	return s.dispatcher.RegisterMethod(name, receiver, methodName)
}

// Serve binds the listening socket, starts the acceptor and worker
// reactors, and blocks until a SIGINT (or a call to Shutdown) is observed
// and cleanup completes. A second SIGINT while cleanup is in progress
// forces an immediate process exit, matching the original framework's
// sig_handler.
func (s *Server) Serve() error {
	core, err := reactor.New(reactor.Params{
		Host:              s.cfg.Host,
		Port:              s.cfg.Port,
		Backlog:           s.cfg.Backlog,
		NumReactors:       s.cfg.NumReactors,
		TaskThreadNums:    s.cfg.TaskThreadNums,
		TaskQueueCapacity: s.cfg.TaskQueueCapacity,
		EpollBufferSize:   s.cfg.EpollBufferSize,
		EpollWaitTime:     s.cfg.EpollWaitTime,
		Dispatcher:        s.dispatcher,
		InfoLog:           s.infoLog,
		ErrorLog:          s.errorLog,
	})
	if err != nil {
		return err
	}
	s.core = core
	core.Start()
	defer close(s.stopped)
	s.infoLog.Printf("RPC server listening on %s:%d (reactors=%d, task_threads=%d)",
		s.cfg.Host, s.cfg.Port, s.cfg.NumReactors, s.cfg.TaskThreadNums)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT)
	defer signal.Stop(sigCh)

	select {
	case <-sigCh:
		s.infoLog.Printf("performing necessary cleanup... (press again to force stop)")
	case <-s.stopCh:
		s.infoLog.Printf("shutdown requested, performing necessary cleanup...")
	}
	core.RequestShutdown()

	waitDone := make(chan struct{})
	go func() {
		core.Wait()
		close(waitDone)
	}()

	for {
		select {
		case <-waitDone:
			s.infoLog.Printf("RPC server is about to exit")
			return core.Close()
		case <-sigCh:
			s.errorLog.Printf("second interrupt received, forcing immediate exit")
			os.Exit(1)
		}
	}
}

// Shutdown requests a graceful stop without waiting for a signal, for
// embedding callers (and tests) that manage the server's lifetime
// themselves. It returns once Serve has fully quiesced and released the
// listening socket. Serve must already be running (typically on its own
// goroutine) before Shutdown is called.
func (s *Server) Shutdown() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.stopped
}
