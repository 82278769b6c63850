package rtpsession

import (
	"sync"
	"sync/atomic"
	"time"
)

// State is the RTP Session playback state.
type State int

const (
	StateIdle State = iota
	StatePaused
	StatePlaying
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePaused:
		return "paused"
	case StatePlaying:
		return "playing"
	default:
		return "unknown"
	}
}

// PacketSender is the "packet-sending module" collaborator interface:
// the Preprocessor module that first adds a stream to a
// session becomes its packet-sending module for the session's
// lifetime. Send is invoked by the Session with the stream to write
// and a deadline; it returns the microseconds until the next call,
// mirroring the task scheduler's reschedule contract so the session's
// sending loop is itself just another cooperative task.
type PacketSender interface {
	Send(stream *Stream, deadline time.Time) (nextCallMicros int64, err error)
}

// DigestState is the per-session Digest auth bookkeeping a playback
// session carries across requests: nonce/opaque/qop plus a
// nonce-count used to detect replay.
type DigestState struct {
	mu         sync.Mutex
	Nonce      string
	Opaque     string
	QOP        string
	lastNC     uint64
	ncObserved bool
	Stale      bool
}

// CheckAndAdvanceNC validates a client-supplied hex nonce-count against
// the last one seen: a reused nonce-count rejects the request and
// marks the nonce stale. nc must be strictly greater than the last
// accepted value.
func (d *DigestState) CheckAndAdvanceNC(nc uint64) (ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ncObserved && nc <= d.lastNC {
		d.Stale = true
		return false
	}
	d.lastNC = nc
	d.ncObserved = true
	return true
}

// Session is the RTP Session of a playing (or set-up) media
// session for one client.
type Session struct {
	id string

	mu      sync.Mutex // per-RTP-session mutex
	streams map[uint32]*Stream
	state   State
	sender  PacketSender

	timeoutDeadline atomic.Int64 // UnixMicro, refreshed by RefreshTimeout

	Digest DigestState

	// Dynamic-rate OPTIONS probe bookkeeping: keyed by the
	// CSeq of the probe OPTIONS the server sent itself, so the
	// response correlates back to a measured RTT.
	pendingProbesMu sync.Mutex
	pendingProbes   map[int]time.Time
	lastProbeRTT    atomic.Int64 // nanoseconds

	bytesSent   atomic.Uint64
	packetsSent atomic.Uint64
	createdAt   time.Time

	refcount atomic.Int32
}

// New creates an idle RTP Session with the given id.
func New(id string) *Session {
	return &Session{
		id:            id,
		streams:       make(map[uint32]*Stream),
		state:         StateIdle,
		createdAt:     time.Now(),
		pendingProbes: make(map[int]time.Time),
	}
}

// ID returns the session's generated id.
func (s *Session) ID() string { return s.id }

// CreatedAt returns the session's creation time, used by sessionid's
// live-stats mixing.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// State returns the current playback state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState transitions the session's playback state.
func (s *Session) SetState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// AddStream registers a new Stream, first-come-first-served for the
// packet-sending module slot.
func (s *Session) AddStream(stream *Stream, sender PacketSender) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams[stream.SSRC] = stream
	if s.sender == nil {
		s.sender = sender
	}
}

// Streams returns a snapshot slice of the session's streams.
func (s *Session) Streams() []*Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Stream, 0, len(s.streams))
	for _, st := range s.streams {
		out = append(out, st)
	}
	return out
}

// Sender returns the session's packet-sending module, or nil before
// the first stream is added.
func (s *Session) Sender() PacketSender {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sender
}

// RefreshTimeout advances the session's timeout deadline.
func (s *Session) RefreshTimeout(d time.Duration) {
	s.timeoutDeadline.Store(time.Now().Add(d).UnixMicro())
}

// TimeoutDeadline returns the last-written deadline.
func (s *Session) TimeoutDeadline() time.Time {
	return time.UnixMicro(s.timeoutDeadline.Load())
}

// RecordSent maintains the session-wide aggregate byte/packet counters.
func (s *Session) RecordSent(bytes, packets uint64) {
	s.bytesSent.Add(bytes)
	s.packetsSent.Add(packets)
}

// Counters is a point-in-time snapshot used by sessionid mixing and by
// the server status file.
type Counters struct {
	BytesSent   uint64
	PacketsSent uint64
	PlayTimeMS  int64
}

func (s *Session) Counters() Counters {
	return Counters{
		BytesSent:   s.bytesSent.Load(),
		PacketsSent: s.packetsSent.Load(),
		PlayTimeMS:  time.Since(s.createdAt).Milliseconds(),
	}
}

// BeginProbe records that a dynamic-rate OPTIONS probe with the given
// CSeq was just sent: the triggering response is flushed first, then
// the probe OPTIONS goes out, and the RTT is measured when its
// response arrives.
func (s *Session) BeginProbe(cseq int) {
	s.pendingProbesMu.Lock()
	s.pendingProbes[cseq] = time.Now()
	s.pendingProbesMu.Unlock()
}

// CompleteProbe resolves a pending probe by CSeq and records the
// measured RTT for adaptive thinning.
func (s *Session) CompleteProbe(cseq int) (time.Duration, bool) {
	s.pendingProbesMu.Lock()
	sentAt, ok := s.pendingProbes[cseq]
	if ok {
		delete(s.pendingProbes, cseq)
	}
	s.pendingProbesMu.Unlock()
	if !ok {
		return 0, false
	}
	rtt := time.Since(sentAt)
	s.lastProbeRTT.Store(int64(rtt))
	return rtt, true
}

// LastProbeRTT returns the most recently measured dynamic-rate probe RTT.
func (s *Session) LastProbeRTT() time.Duration {
	return time.Duration(s.lastProbeRTT.Load())
}

// Retain/Release implement the refcounted-resolve discipline: each
// resolve through the registry increments the count and must be
// paired with a release.
func (s *Session) Retain() { s.refcount.Add(1) }

func (s *Session) Release(onZero func()) {
	if s.refcount.Add(-1) == 0 && onZero != nil {
		onZero()
	}
}
