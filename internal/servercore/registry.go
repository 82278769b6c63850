package servercore

import (
	"sync"

	"github.com/gtfodev/rtspcore/internal/rtpsession"
	"github.com/gtfodev/rtspcore/internal/rtspsession"
	"github.com/gtfodev/rtspcore/internal/sessionid"
)

// rtspRegistry is the process-wide map of live RTSP Sessions, grounded
// on the teacher's pkg/nest/manager.go Manager (a mutex-guarded map of
// live connections keyed by an external id, with add/remove at
// connection lifecycle boundaries).
type rtspRegistry struct {
	mu   sync.RWMutex
	byID map[string]*rtspsession.Session
}

func newRTSPRegistry() *rtspRegistry {
	return &rtspRegistry{byID: make(map[string]*rtspsession.Session)}
}

func (r *rtspRegistry) add(s *rtspsession.Session) {
	r.mu.Lock()
	r.byID[s.ID()] = s
	r.mu.Unlock()
}

func (r *rtspRegistry) remove(id string) {
	r.mu.Lock()
	delete(r.byID, id)
	r.mu.Unlock()
}

func (r *rtspRegistry) exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byID[id]
	return ok
}

func (r *rtspRegistry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// rtpRegistry is the process-wide map of live RTP Sessions. add takes
// the registry's own baseline reference on the session; resolve takes
// an additional one for the duration of one caller's use and the
// caller must release it; remove drops the registry's baseline
// reference, letting the session's refcount reach zero once every
// in-flight resolver has also released.
type rtpRegistry struct {
	mu   sync.RWMutex
	byID map[string]*rtpsession.Session
}

func newRTPRegistry() *rtpRegistry {
	return &rtpRegistry{byID: make(map[string]*rtpsession.Session)}
}

func (r *rtpRegistry) add(s *rtpsession.Session) {
	r.mu.Lock()
	r.byID[s.ID()] = s
	r.mu.Unlock()
	s.Retain()
}

func (r *rtpRegistry) resolve(id string) (*rtpsession.Session, bool) {
	r.mu.RLock()
	s, ok := r.byID[id]
	r.mu.RUnlock()
	if ok {
		s.Retain()
	}
	return s, ok
}

func (r *rtpRegistry) release(s *rtpsession.Session) {
	s.Release(nil)
}

func (r *rtpRegistry) remove(id string) {
	r.mu.Lock()
	s, ok := r.byID[id]
	delete(r.byID, id)
	r.mu.Unlock()
	if ok {
		s.Release(nil)
	}
}

func (r *rtpRegistry) exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byID[id]
	return ok
}

func (r *rtpRegistry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// serverCounters snapshots the aggregate bandwidth/packet counters
// sessionid.Generator mixes into a new id.
func (r *rtpRegistry) serverCounters() sessionid.ServerCounters {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out sessionid.ServerCounters
	for _, s := range r.byID {
		counters := s.Counters()
		out.TotalPackets += counters.PacketsSent
		out.TotalBandwidthBPS += counters.BytesSent
	}
	return out
}
