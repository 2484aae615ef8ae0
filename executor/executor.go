// Package executor implements the bounded, per-connection-keyed FIFO task
// pool the reactor hands decoded requests to, so that dispatch runs off the
// reactor's own goroutine and never blocks a readiness loop.
//
// It mirrors the original framework's TaskQueue: a fixed number of shards,
// each an independent bounded queue drained by one goroutine, with a task's
// shard chosen by hashing its key — the owning connection's file descriptor
// — modulo the shard count. Two tasks for the same connection always land
// on, and drain from, the same shard, which is what gives per-connection
// request ordering without a lock per connection.
package executor

import (
	"errors"
	"sync"

	"reactorpc/rpcerr"
)

// Task is a unit of dispatch work submitted to one of an Executor's shards.
type Task func()

var errStopped = errors.New("executor: enqueue on stopped executor")

// Executor is a fixed-size pool of worker goroutines, each backed by its own
// bounded FIFO queue.
type Executor struct {
	shards []*shard
}

type shard struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []Task
	cap     int
	stopped bool
}

// New creates an Executor with threadNum worker goroutines, each backed by a
// queue bounded at capPerShard entries.
func New(threadNum, capPerShard int) *Executor {
	if threadNum < 1 {
		threadNum = 1
	}
	if capPerShard < 1 {
		capPerShard = 1
	}
	e := &Executor{shards: make([]*shard, threadNum)}
	for i := range e.shards {
		s := &shard{cap: capPerShard}
		s.cond = sync.NewCond(&s.mu)
		e.shards[i] = s
		go drain(s)
	}
	return e
}

func drain(s *shard) {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.stopped {
			s.cond.Wait()
		}
		if s.stopped && len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		task := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		task()
	}
}

// Enqueue submits fn to the shard selected by key modulo the shard count.
// It returns rpcerr.ErrQueueFull if that shard is already at capacity; the
// reactor is expected to close the offending connection rather than retry or
// silently drop the request.
func (e *Executor) Enqueue(key int, fn Task) error {
	s := e.shards[shardIndex(key, len(e.shards))]
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return errStopped
	}
	if len(s.queue) >= s.cap {
		return rpcerr.ErrQueueFull
	}
	s.queue = append(s.queue, fn)
	s.cond.Signal()
	return nil
}

// Stop cooperatively shuts down every shard: each worker goroutine exits
// once its queue has drained, never mid-task.
func (e *Executor) Stop() {
	for _, s := range e.shards {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
		s.cond.Broadcast()
	}
}

func shardIndex(key, n int) int {
	if key < 0 {
		key = -key
	}
	return key % n
}
