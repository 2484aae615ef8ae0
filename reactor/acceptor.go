package reactor

import (
	"fmt"
	"log"
	"net"

	"golang.org/x/sys/unix"
)

// acceptor is the single reactor that owns the listening socket. On read
// readiness it accepts every connection currently queued, hands each to the
// least-loaded worker (spec §4.4's least-load selection), and registers it
// for edge-triggered read readiness there.
type acceptor struct {
	listenFD   int
	epfd       int
	pool       *workerPool
	lifecycle  *Lifecycle
	bufferSize int
	waitMillis int
	infoLog    *log.Logger
	errorLog   *log.Logger
}

func newAcceptor(listenFD int, pool *workerPool, lifecycle *Lifecycle, bufferSize, waitMillis int, infoLog, errorLog *log.Logger) (*acceptor, error) {
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, err
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(listenFD)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, listenFD, &ev); err != nil {
		unix.Close(epfd)
		return nil, err
	}
	return &acceptor{
		listenFD:   listenFD,
		epfd:       epfd,
		pool:       pool,
		lifecycle:  lifecycle,
		bufferSize: bufferSize,
		waitMillis: waitMillis,
		infoLog:    infoLog,
		errorLog:   errorLog,
	}, nil
}

func (a *acceptor) run() {
	a.lifecycle.incActive()
	defer a.lifecycle.decActive()

	events := make([]unix.EpollEvent, a.bufferSize)
	for {
		n, err := unix.EpollWait(a.epfd, events, a.waitMillis)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			a.errorLog.Printf("reactor: acceptor epoll_wait error: %v", err)
			continue
		}
		if n == 0 && a.lifecycle.Exited() {
			return
		}
		for i := 0; i < n; i++ {
			if int(events[i].Fd) == a.listenFD {
				a.acceptAll()
			}
		}
	}
}

// acceptAll drains every connection currently queued on the listening
// socket. The listen fd is level-triggered (the original does not arm it
// ET either), but looping to EAGAIN here avoids waiting for a second
// wakeup when several connections arrive between two epoll_wait calls.
func (a *acceptor) acceptAll() {
	for {
		fd, sa, err := unix.Accept(a.listenFD)
		if err != nil {
			if err == unix.EAGAIN {
				return
			}
			a.errorLog.Printf("reactor: accept error: %v", err)
			return
		}
		if err := unix.SetNonblock(fd, true); err != nil {
			a.errorLog.Printf("reactor: set non-blocking failed for fd %d: %v", fd, err)
			unix.Close(fd)
			continue
		}
		addr := sockaddrToAddr(sa)
		w := a.pool.Least()
		if err := w.adopt(fd, addr); err != nil {
			a.errorLog.Printf("reactor: epoll_ctl ADD failed for fd %d on worker %d: %v", fd, w.id, err)
			a.pool.Release(w)
			unix.Close(fd)
			continue
		}
		a.infoLog.Printf("reactor: accepted %s on worker %d", addr, w.id)
	}
}

func (a *acceptor) close() error {
	unix.Close(a.epfd)
	return unix.Close(a.listenFD)
}

func sockaddrToAddr(sa unix.Sockaddr) net.Addr {
	switch s := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: append([]byte(nil), s.Addr[:]...), Port: s.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: append([]byte(nil), s.Addr[:]...), Port: s.Port}
	default:
		return nil
	}
}

func listenTCP(host string, port, backlog int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, fmt.Errorf("reactor: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("reactor: setsockopt SO_REUSEADDR: %w", err)
	}

	ip := net.ParseIP(host)
	if ip == nil {
		unix.Close(fd)
		return -1, fmt.Errorf("reactor: invalid host %q", host)
	}
	ip4 := ip.To4()
	if ip4 == nil {
		unix.Close(fd)
		return -1, fmt.Errorf("reactor: only IPv4 listen addresses are supported, got %q", host)
	}
	var addr unix.SockaddrInet4
	copy(addr.Addr[:], ip4)
	addr.Port = port
	if err := unix.Bind(fd, &addr); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("reactor: bind: %w", err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("reactor: listen: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("reactor: set non-blocking: %w", err)
	}
	return fd, nil
}
