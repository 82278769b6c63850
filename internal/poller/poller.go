// Package poller implements an event poller: one thread watching every
// non-blocking socket for read/write readiness and posting wake-ups to
// the owning handler. Registration is edge-armed — once an event fires
// for a socket, the caller must re-arm it before it is delivered
// another event of that kind — which forces callers to drain a socket
// until it reports would-block.
//
// This is the one component with no direct teacher analogue (the
// teacher is goroutine-per-connection and never multiplexes sockets
// onto a shared poller thread); it is built on golang.org/x/sys/unix's
// epoll wrapper, the low-level socket package arzzra-soft_phone also
// depends on (golang.org/x/sys), rather than hand-rolling a syscall
// wrapper from scratch.
package poller

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Mask selects which readiness events a registration cares about.
type Mask uint32

const (
	Readable Mask = 1 << iota
	Writable
)

// Handler receives a readiness notification for one registered fd.
type Handler interface {
	OnReadable()
	OnWritable()
}

// Poller runs a single epoll_wait loop and dispatches readiness events
// to registered Handlers. One Poller is shared by every listener, RTSP
// connection, and UDP socket in the process.
type Poller struct {
	epfd int

	mu       sync.Mutex
	handlers map[int]Handler

	closeCh chan struct{}
	closed  bool
}

// New creates an epoll instance.
func New() (*Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	return &Poller{
		epfd:     fd,
		handlers: make(map[int]Handler),
		closeCh:  make(chan struct{}),
	}, nil
}

// Register arms fd for the given mask, edge-triggered, and associates
// h as the handler invoked on readiness. Re-registering the same fd
// replaces its handler and mask.
func (p *Poller) Register(fd int, mask Mask, h Handler) error {
	ev := &unix.EpollEvent{Fd: int32(fd), Events: toEpollEvents(mask)}

	p.mu.Lock()
	_, exists := p.handlers[fd]
	p.handlers[fd] = h
	p.mu.Unlock()

	op := unix.EPOLL_CTL_ADD
	if exists {
		op = unix.EPOLL_CTL_MOD
	}
	if err := unix.EpollCtl(p.epfd, op, fd, ev); err != nil {
		return fmt.Errorf("epoll_ctl: %w", err)
	}
	return nil
}

// Rearm re-arms fd for mask after a readiness event has been consumed,
// satisfying the "caller must re-arm" contract of edge-triggered mode.
func (p *Poller) Rearm(fd int, mask Mask) error {
	ev := &unix.EpollEvent{Fd: int32(fd), Events: toEpollEvents(mask)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, ev); err != nil {
		return fmt.Errorf("epoll_ctl rearm: %w", err)
	}
	return nil
}

// Unregister removes fd from the poll set. Idempotent: unregistering an
// already-removed fd is not an error.
func (p *Poller) Unregister(fd int) {
	p.mu.Lock()
	delete(p.handlers, fd)
	p.mu.Unlock()
	_ = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func toEpollEvents(mask Mask) uint32 {
	var ev uint32
	if mask&Readable != 0 {
		ev |= unix.EPOLLIN
	}
	if mask&Writable != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

// Run blocks, servicing epoll_wait in a loop, until Close is called.
// It should run on its own dedicated goroutine.
func (p *Poller) Run() error {
	events := make([]unix.EpollEvent, 256)
	for {
		select {
		case <-p.closeCh:
			return nil
		default:
		}

		n, err := unix.EpollWait(p.epfd, events, 1000)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("epoll_wait: %w", err)
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			e := events[i].Events

			p.mu.Lock()
			h := p.handlers[fd]
			p.mu.Unlock()
			if h == nil {
				continue
			}
			if e&(unix.EPOLLIN|unix.EPOLLERR|unix.EPOLLHUP) != 0 {
				h.OnReadable()
			}
			if e&unix.EPOLLOUT != 0 {
				h.OnWritable()
			}
		}
	}
}

// Close stops Run and releases the epoll fd.
func (p *Poller) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	close(p.closeCh)
	return unix.Close(p.epfd)
}
