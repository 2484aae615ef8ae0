// Package server wires configuration, the procedure dispatcher, and the
// reactor core together into a runnable RPC server, and owns the SIGINT
// quiescence protocol spec §4.4/§5 describes.
package server

import "time"

// Config holds every option spec.md §6 names for the server. NewConfig sets
// every field other than Host and Port to the matching Default* constant,
// mirroring how the original's RPCServer constructor defaults unspecified
// parameters rather than requiring a config file or env vars. A Config built
// any other way is used as is: zero-valued fields are not replaced.
type Config struct {
	Host string
	Port int

	// Backlog is the TCP listen backlog, subject to the OS's somaxconn.
	Backlog int
	// NumReactors is the total reactor count including the single
	// acceptor; at least 2.
	NumReactors int
	// TaskThreadNums is the number of task threads per worker reactor.
	TaskThreadNums int
	// TaskQueueCapacity bounds each task thread's FIFO queue.
	TaskQueueCapacity int
	// EpollBufferSize is the max epoll_event count returned per wakeup.
	EpollBufferSize int
	// EpollWaitTime bounds how long a reactor blocks in epoll_wait
	// before re-checking the shutdown flag.
	EpollWaitTime time.Duration
	// ProcedureCriticalTime is the slow-handler log threshold; negative
	// disables the warning entirely.
	ProcedureCriticalTime time.Duration
}

// Defaults, named the way RPCServer's constructor names its static members.
const (
	DefaultBacklog               = 1 << 15
	DefaultNumReactors           = 2
	DefaultTaskThreadNums        = 8
	DefaultTaskQueueCapacity     = 200
	DefaultEpollBufferSize       = 4096
	DefaultEpollWaitTime         = 5000 * time.Millisecond
	DefaultProcedureCriticalTime = 3000 * time.Millisecond
)

// NewConfig returns a Config for host:port with every other field set to its
// default.
func NewConfig(host string, port int) Config {
	return Config{
		Host:                  host,
		Port:                  port,
		Backlog:               DefaultBacklog,
		NumReactors:           DefaultNumReactors,
		TaskThreadNums:        DefaultTaskThreadNums,
		TaskQueueCapacity:     DefaultTaskQueueCapacity,
		EpollBufferSize:       DefaultEpollBufferSize,
		EpollWaitTime:         DefaultEpollWaitTime,
		ProcedureCriticalTime: DefaultProcedureCriticalTime,
	}
}
