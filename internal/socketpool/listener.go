// Package socketpool owns the TCP Listener Set and the UDP Socket Pool
// of the server's sole sources of accepted connections and
// shared RTP/RTCP socket pairs.
package socketpool

import (
	"fmt"
	"net"
	"sync"

	"github.com/gtfodev/rtspcore/internal/corelog"
)

// Addr is an (ip, port) listen tuple.
type Addr struct {
	IP   string
	Port int
}

func (a Addr) String() string { return fmt.Sprintf("%s:%d", a.IP, a.Port) }

// AcceptFunc is invoked once per accepted connection; the listener set
// never interprets the connection itself.
type AcceptFunc func(conn net.Conn, local, remote Addr)

// listenerEntry is one live TCP listener task.
type listenerEntry struct {
	addr     Addr
	listener net.Listener
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// ListenerSet owns the live set of RTSP TCP listeners and supports
// Rebuild for prefs reload.
type ListenerSet struct {
	log *corelog.Logger

	mu       sync.Mutex
	live     map[Addr]*listenerEntry
	onAccept AcceptFunc
}

// NewListenerSet creates an empty set that will call onAccept for
// every accepted connection on every listener it owns.
func NewListenerSet(onAccept AcceptFunc, log *corelog.Logger) *ListenerSet {
	if log == nil {
		log = corelog.Default()
	}
	return &ListenerSet{
		log:      log,
		live:     make(map[Addr]*listenerEntry),
		onAccept: onAccept,
	}
}

// Rebuild diffs desired against the live set: kept entries are reused,
// new entries are created and immediately start accepting, removed
// entries are asked to stop. Bind failures (address-in-use,
// permission-denied) are logged and the entry is skipped rather than
// treated as fatal; Rebuild itself returns an error only when the
// resulting live set is empty ("the server comes up on
// whatever subset succeeded, and fails only if zero listeners bound").
func (ls *ListenerSet) Rebuild(desired []Addr) error {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	wanted := make(map[Addr]bool, len(desired))
	for _, a := range desired {
		wanted[a] = true
	}

	for addr, entry := range ls.live {
		if !wanted[addr] {
			ls.stopLocked(entry)
			delete(ls.live, addr)
		}
	}

	for addr := range wanted {
		if _, ok := ls.live[addr]; ok {
			continue
		}
		entry, err := ls.bindLocked(addr)
		if err != nil {
			ls.log.Warn("listener bind failed, skipping", "addr", addr.String(), "error", err)
			continue
		}
		ls.live[addr] = entry
	}

	if len(ls.live) == 0 {
		return fmt.Errorf("no listeners bound out of %d requested", len(desired))
	}
	return nil
}

func (ls *ListenerSet) bindLocked(addr Addr) (*listenerEntry, error) {
	l, err := net.Listen("tcp", addr.String())
	if err != nil {
		return nil, err
	}
	entry := &listenerEntry{
		addr:     addr,
		listener: l,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go ls.acceptLoop(entry)
	return entry, nil
}

func (ls *ListenerSet) acceptLoop(entry *listenerEntry) {
	defer close(entry.doneCh)
	for {
		conn, err := entry.listener.Accept()
		if err != nil {
			select {
			case <-entry.stopCh:
				return
			default:
			}
			ls.log.Warn("accept error", "addr", entry.addr.String(), "error", err)
			return
		}

		local := entry.addr
		remote := Addr{}
		if tcp, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
			remote = Addr{IP: tcp.IP.String(), Port: tcp.Port}
		}
		ls.onAccept(conn, local, remote)
	}
}

func (ls *ListenerSet) stopLocked(entry *listenerEntry) {
	close(entry.stopCh)
	entry.listener.Close()
	<-entry.doneCh
}

// Addrs returns the currently bound addresses.
func (ls *ListenerSet) Addrs() []Addr {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	out := make([]Addr, 0, len(ls.live))
	for a := range ls.live {
		out = append(out, a)
	}
	return out
}

// Close stops every live listener.
func (ls *ListenerSet) Close() {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	for addr, entry := range ls.live {
		ls.stopLocked(entry)
		delete(ls.live, addr)
	}
}
