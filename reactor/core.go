package reactor

import (
	"fmt"
	"log"
	"time"

	"reactorpc/dispatch"
)

// Core is the full reactor core: the single acceptor reactor plus its pool
// of worker reactors, all sharing one Lifecycle. It owns the listening
// socket from construction until Close.
type Core struct {
	acceptor  *acceptor
	workers   []*Worker
	pool      *workerPool
	lifecycle *Lifecycle
}

// Params configures a Core. It mirrors spec §6's server configuration
// fields one-to-one; NumReactors counts the acceptor, so NumReactors-1
// worker reactors are created.
type Params struct {
	Host              string
	Port              int
	Backlog           int
	NumReactors       int
	TaskThreadNums    int
	TaskQueueCapacity int
	EpollBufferSize   int
	EpollWaitTime     time.Duration
	Dispatcher        *dispatch.Dispatcher
	InfoLog           *log.Logger
	ErrorLog          *log.Logger
}

// New binds the listening socket and builds the acceptor and all worker
// reactors, but does not start any of their loops — call Start for that.
func New(p Params) (*Core, error) {
	if p.NumReactors < 2 {
		return nil, fmt.Errorf("reactor: at least two reactors required (one acceptor, one worker), got %d", p.NumReactors)
	}
	numWorkers := p.NumReactors - 1
	waitMillis := int(p.EpollWaitTime / time.Millisecond)

	lifecycle := NewLifecycle()

	workers := make([]*Worker, numWorkers)
	for i := range workers {
		w, err := newWorker(i, p.EpollBufferSize, waitMillis, p.TaskThreadNums, p.TaskQueueCapacity, p.Dispatcher, lifecycle, p.InfoLog, p.ErrorLog)
		if err != nil {
			return nil, fmt.Errorf("reactor: create worker %d: %w", i, err)
		}
		workers[i] = w
	}
	pool := newWorkerPool(workers)
	for _, w := range workers {
		w.attachPool(pool)
	}

	listenFD, err := listenTCP(p.Host, p.Port, p.Backlog)
	if err != nil {
		return nil, err
	}
	acc, err := newAcceptor(listenFD, pool, lifecycle, p.EpollBufferSize, waitMillis, p.InfoLog, p.ErrorLog)
	if err != nil {
		return nil, err
	}

	return &Core{acceptor: acc, workers: workers, pool: pool, lifecycle: lifecycle}, nil
}

// Start spawns the acceptor and all worker reactor loops, each on its own
// goroutine, and returns immediately — it does not block for shutdown.
func (c *Core) Start() {
	go c.acceptor.run()
	for _, w := range c.workers {
		go w.run()
	}
}

// RequestShutdown sets the shared lifecycle's exited flag and reports
// whether shutdown had already been requested, so the caller can force an
// immediate exit on a repeated shutdown signal.
func (c *Core) RequestShutdown() (alreadyRequested bool) {
	return c.lifecycle.RequestExit()
}

// Wait blocks until every reactor loop has observed shutdown and returned.
func (c *Core) Wait() {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		if c.lifecycle.ActiveReactors() == 0 {
			return
		}
	}
}

// Close releases the listening socket and every worker's epoll instance.
// Safe to call only after Wait returns, or during error cleanup before
// Start is ever called.
func (c *Core) Close() error {
	err := c.acceptor.close()
	for _, w := range c.workers {
		if wErr := w.close(); wErr != nil && err == nil {
			err = wErr
		}
	}
	return err
}
