// Package rtpsession implements the RTP Session and RTP Stream: the
// per-client playback object that owns a set of media substreams,
// handles timeout refresh, and dispatches outgoing packets through a
// packet-sending module.
//
// Lifecycle and counter bookkeeping are grounded on the teacher's
// pkg/relay/relay.go CameraRelay (atomic.Uint64 counters, a
// context.CancelFunc-scoped lifecycle, callback hooks for
// disconnects), adapted from a WebRTC bridge session to a playback
// session whose downstream is RTP/RTCP rather than a browser peer
// connection.
package rtpsession

import (
	"sync"

	"github.com/gtfodev/rtspcore/internal/socketpool"
)

// ThinningParams controls dynamic quality/rate reduction in response
// to measured client-perceived latency (thinning).
type ThinningParams struct {
	Enabled        bool
	MinPayloadRate float64 // fraction of nominal rate, (0,1]
	RTTMillis      float64 // last measured round-trip, from the dynamic-rate OPTIONS probe
}

// PayloadInfo is the stream's static media metadata, supplied by the preprocessor/file-reader collaborator
// that set the stream up.
type PayloadInfo struct {
	MediaType   string
	PayloadType uint8
	Encoding    string
	ClockRateHz uint32
	BitrateBPS  uint64 // reserved against the server's bandwidth ceiling for this stream's lifetime
}

// Stream is one RTP Stream: one SETUP yields one Stream, owned
// exclusively by its Session.
type Stream struct {
	SSRC uint32

	// Interleaved TCP channel numbers; zero value (0,0) with
	// Interleaved=false means this stream uses UDP instead.
	Interleaved    bool
	RTPChannel     byte
	RTCPChannel    byte

	// UDP socket pair, nil when Interleaved.
	udpPair *socketpool.Pair

	Thinning ThinningParams
	Payload  PayloadInfo

	mu           sync.Mutex
	nextSeq      uint16
	packetsSent  uint64
	bytesSent    uint64
	packetsLost  int32
	lastFracLost uint8
}

// NewUDPStream creates a stream backed by a shared UDP socket pair.
// The caller must have already Acquire()d pair from the UDPPool.
func NewUDPStream(ssrc uint32, pair *socketpool.Pair, payload PayloadInfo) *Stream {
	return &Stream{SSRC: ssrc, udpPair: pair, Payload: payload}
}

// NewInterleavedStream creates a stream carried inside the RTSP TCP
// connection using the given channel pair.
func NewInterleavedStream(ssrc uint32, rtpChannel, rtcpChannel byte, payload PayloadInfo) *Stream {
	return &Stream{SSRC: ssrc, Interleaved: true, RTPChannel: rtpChannel, RTCPChannel: rtcpChannel, Payload: payload}
}

// UDPPair returns the stream's socket pair, or nil for interleaved streams.
func (s *Stream) UDPPair() *socketpool.Pair { return s.udpPair }

// RecordSent updates the stream's outgoing counters after one RTP
// packet is written.
func (s *Stream) RecordSent(payloadBytes int) {
	s.mu.Lock()
	s.packetsSent++
	s.bytesSent += uint64(payloadBytes)
	s.mu.Unlock()
}

// RecordReceiverReport folds an RTCP receiver report's loss stats into
// the stream's aggregate late-packet counters.
func (s *Stream) RecordReceiverReport(fractionLost uint8, packetsLost int32) {
	s.mu.Lock()
	s.lastFracLost = fractionLost
	s.packetsLost = packetsLost
	s.mu.Unlock()
}

// Stats is a point-in-time snapshot of the stream's counters.
type Stats struct {
	PacketsSent  uint64
	BytesSent    uint64
	PacketsLost  int32
	LastFracLost uint8
}

// Snapshot returns the current Stats.
func (s *Stream) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{PacketsSent: s.packetsSent, BytesSent: s.bytesSent, PacketsLost: s.packetsLost, LastFracLost: s.lastFracLost}
}
