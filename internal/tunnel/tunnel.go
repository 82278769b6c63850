// Package tunnel implements the HTTP-tunnel pairing map of // a GET registers itself under its X-Sessioncookie value and waits; a
// POST with the same cookie resolves the GET side and transfers its
// socket into it. The map shape is grounded on the teacher's
// pkg/nest/multi_manager.go registry-of-sessions idiom (a mutex-guarded
// map keyed by an external id), generalized from camera ids to tunnel
// cookies.
package tunnel

import (
	"fmt"
	"sync"
)

// GETWaiter is the minimal surface the tunnel map needs from a
// waiting GET-side RTSP Session: a way to try acquiring its read mutex
// and a way to hand it the
// POST side's socket and wake it up.
type GETWaiter interface {
	TryLockRead() bool
	UnlockRead()
	BindPOSTSocket(conn any) error
}

// entry is one registered GET side awaiting its POST pair.
type entry struct {
	mu   sync.Mutex
	get  GETWaiter
}

// Map is the process-wide tunnel cookie -> GET-session map. Its mutex
// is held only during register/resolve/swap, never across I/O.
type Map struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New creates an empty tunnel map.
func New() *Map {
	return &Map{entries: make(map[string]*entry)}
}

// RegisterGET registers get under cookie. Spec invariant (§3, §8): at
// most one RTSP Session is mapped under any cookie at any instant
// after pairing completes; RegisterGET enforces the pre-pairing half
// of that by refusing a second GET under a cookie already pending.
func (m *Map) RegisterGET(cookie string, get GETWaiter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[cookie]; exists {
		return fmt.Errorf("tunnel: cookie %q already has a pending GET session", cookie)
	}
	m.entries[cookie] = &entry{get: get}
	return nil
}

// BindPOST resolves the GET session registered under cookie and
// transfers conn (the POST side's input socket) into it. On success
// the cookie entry is removed: the POST side's socket has been
// transferred to the GET side and the donor connection dies. If the
// GET session's read mutex cannot be acquired, the bind is refused
// and the entry is left in place for a later retry.
func (m *Map) BindPOST(cookie string, conn any) error {
	m.mu.Lock()
	e, ok := m.entries[cookie]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("tunnel: no pending GET session for cookie %q", cookie)
	}
	m.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.get.TryLockRead() {
		return fmt.Errorf("tunnel: GET session for cookie %q is busy, bind refused", cookie)
	}
	defer e.get.UnlockRead()

	if err := e.get.BindPOSTSocket(conn); err != nil {
		return fmt.Errorf("bind POST socket: %w", err)
	}

	m.mu.Lock()
	delete(m.entries, cookie)
	m.mu.Unlock()
	return nil
}

// Forget removes a pending GET registration, e.g. when its session
// terminates before a POST arrives.
func (m *Map) Forget(cookie string) {
	m.mu.Lock()
	delete(m.entries, cookie)
	m.mu.Unlock()
}

// Pending reports whether cookie currently has a GET side waiting.
func (m *Map) Pending(cookie string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[cookie]
	return ok
}
