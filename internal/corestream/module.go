// Package corestream is the server's built-in Preprocessor/Request
// module: SETUP, PLAY, PAUSE, TEARDOWN, DESCRIBE, and GET_PARAMETER —
// the request lifecycle every RTSP origin server answers itself,
// grounded on original_source/QTSSModule splitting "RTP Session
// lifecycle" (its core request-handling modules) from "where media
// bytes come from" (its per-format QTFileModule collaborators, the
// role MediaSource plays here).
package corestream

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/gtfodev/rtspcore/internal/corelog"
	"github.com/gtfodev/rtspcore/internal/module"
	"github.com/gtfodev/rtspcore/internal/qtsserr"
	"github.com/gtfodev/rtspcore/internal/rtpsession"
	"github.com/gtfodev/rtspcore/internal/rtpstream"
	"github.com/gtfodev/rtspcore/internal/socketpool"
)

// Registries is the subset of the server core a corestream.Module
// needs, kept as an interface so this package never imports
// internal/servercore (servercore imports corestream to register it,
// not the other way around).
type Registries interface {
	NextRTPSessionID() string
	AddRTPSession(sess *rtpsession.Session)
	// ResolveRTPSession retains the returned session; the caller must
	// pair every successful resolve with ReleaseRTPSession.
	ResolveRTPSession(id string) (*rtpsession.Session, bool)
	ReleaseRTPSession(sess *rtpsession.Session)
	RemoveRTPSession(id string)
	AcquireUDPPair(localIP string) (*socketpool.Pair, error)
	ReleaseUDPPair(pair *socketpool.Pair)
	RegisterRTCPDemux(pair *socketpool.Pair, lookup func(ssrc uint32) (*rtpsession.Stream, bool)) error
	UnregisterRTCPDemux(pair *socketpool.Pair) error

	// AdmitBandwidth reports whether SETUP may reserve additionalBPS
	// more outgoing bitrate without exceeding the server's configured
	// ceiling. ReserveBandwidth/ReleaseBandwidth commit/give back a
	// reservation once SETUP/TEARDOWN actually go through.
	AdmitBandwidth(additionalBPS uint64) bool
	ReserveBandwidth(additionalBPS uint64)
	ReleaseBandwidth(bps uint64)
}

// Module implements module.Module plus the Preprocessor/Request role
// handlers for the methods above.
type Module struct {
	log    *corelog.Logger
	regs   Registries
	source MediaSource
}

// New builds the built-in stream module. source supplies per-path
// track lists and packet senders; regs gives it access to the core's
// RTP session/UDP pool bookkeeping.
func New(regs Registries, source MediaSource, log *corelog.Logger) *Module {
	if log == nil {
		log = corelog.Default()
	}
	return &Module{log: log, regs: regs, source: source}
}

func (m *Module) Name() string { return "corestream" }

// Register wires m's handlers into reg under the Preprocessor and
// Request roles and claims the methods it answers, for the OPTIONS
// Public: header.
func (m *Module) Register(reg *module.Registry) {
	reg.Register(module.RolePreprocessor, m, m.preprocess)
	reg.Register(module.RoleRequest, m, m.request)
	for _, method := range []string{"DESCRIBE", "SETUP", "PLAY", "PAUSE", "TEARDOWN", "GET_PARAMETER"} {
		reg.ClaimMethod(method)
	}
}

// preprocess handles SETUP: every other method in this package's scope
// is a plain Request-role handler, but SETUP must run before Request
// so a freshly created RTP Session exists by the time later
// Postprocessor modules (e.g. access logging keyed by Session id) run.
func (m *Module) preprocess(p *module.Params) (module.Outcome, error) {
	if p.Request.Method() != "SETUP" {
		return module.Outcome{Result: module.Done}, nil
	}
	if err := m.handleSetup(p); err != nil {
		return module.Outcome{}, err
	}
	return module.Outcome{Result: module.Done}, nil
}

func (m *Module) request(p *module.Params) (module.Outcome, error) {
	switch p.Request.Method() {
	case "DESCRIBE":
		return module.Outcome{Result: module.Done}, m.handleDescribe(p)
	case "PLAY":
		return module.Outcome{Result: module.Done}, m.handlePlayPause(p, rtpsession.StatePlaying)
	case "PAUSE":
		return module.Outcome{Result: module.Done}, m.handlePlayPause(p, rtpsession.StatePaused)
	case "TEARDOWN":
		return module.Outcome{Result: module.Done}, m.handleTeardown(p)
	case "GET_PARAMETER":
		// The core answers only OPTIONS and a bodyless SET_PARAMETER
		// itself, so every GET_PARAMETER lands here; this core has no
		// parameters to report, so it is answered 200 as a keepalive
		// whether or not it carries a body.
		return module.Outcome{Result: module.Done}, p.Session.Respond(200, "", nil, nil)
	}
	return module.Outcome{Result: module.Done}, nil
}

func (m *Module) handleDescribe(p *module.Params) error {
	name, medias, ok := m.source.Describe(p.Request.Path())
	if !ok {
		return p.Session.Respond(404, "", nil, nil)
	}
	sdp, err := rtpstream.BuildSDP(name, p.Request.Path(), "0.0.0.0", medias)
	if err != nil {
		return fmt.Errorf("corestream: build SDP: %w", err)
	}
	headers := map[string]string{
		"Content-Type":   "application/sdp",
		"Content-Base":   p.Request.Path() + "/",
		"Content-Length": strconv.Itoa(len(sdp)),
	}
	return p.Session.Respond(200, "", headers, sdp)
}

func (m *Module) handleSetup(p *module.Params) error {
	spec, err := parseTransport(p.Request.Header("Transport"))
	if err != nil {
		return qtsserr.HeaderFieldNotValid(err.Error())
	}

	bps := m.trackBitrate(p.Request.Path())
	if !m.regs.AdmitBandwidth(bps) {
		return qtsserr.NotEnoughBandwidth("bandwidth ceiling reached")
	}

	sessionID := p.Request.Header("Session")
	var rtpSess *rtpsession.Session
	if sessionID != "" {
		existing, ok := m.regs.ResolveRTPSession(sessionID)
		if !ok {
			return qtsserr.SessionNotFound("no such RTP session: " + sessionID)
		}
		rtpSess = existing
		defer m.regs.ReleaseRTPSession(rtpSess)
	} else {
		sessionID = m.regs.NextRTPSessionID()
		rtpSess = rtpsession.New(sessionID)
		m.regs.AddRTPSession(rtpSess)
	}

	ssrc := rand.Uint32()
	var stream *rtpsession.Stream
	var transportHeader string

	if spec.interleaved {
		stream = rtpsession.NewInterleavedStream(ssrc, spec.rtpChannel, spec.rtcpChannel, rtpsession.PayloadInfo{BitrateBPS: bps})
		transportHeader = buildTransportResponse(spec, 0, 0, ssrc)
	} else {
		pair, err := m.regs.AcquireUDPPair("0.0.0.0")
		if err != nil {
			return fmt.Errorf("corestream: acquire udp pair: %w", err)
		}
		stream = rtpsession.NewUDPStream(ssrc, pair, rtpsession.PayloadInfo{BitrateBPS: bps})
		lookup := func(lookupSSRC uint32) (*rtpsession.Stream, bool) {
			for _, st := range rtpSess.Streams() {
				if st.SSRC == lookupSSRC {
					return st, true
				}
			}
			return nil, false
		}
		if err := m.regs.RegisterRTCPDemux(pair, lookup); err != nil {
			m.regs.ReleaseUDPPair(pair)
			return fmt.Errorf("corestream: register rtcp demux: %w", err)
		}
		transportHeader = buildTransportResponse(spec, pair.RTPPort, pair.RTCPPort, ssrc)
	}

	m.regs.ReserveBandwidth(bps)
	rtpSess.AddStream(stream, m.source.Sender(p.Request.Path()))
	rtpSess.RefreshTimeout(60 * time.Second) // refined by the caller's configured timeout on the next keepalive

	return p.Session.Respond(200, "", map[string]string{
		"Session":   sessionID,
		"Transport": transportHeader,
	}, nil)
}

// trackBitrate looks up the nominal bitrate of the track a SETUP
// request's path names, matching its trailing control suffix (e.g.
// ".../trackID=0") against the source's published MediaDescriptors;
// 0 (no admission effect) if the path doesn't resolve to a known track.
func (m *Module) trackBitrate(path string) uint64 {
	base := path
	if i := strings.LastIndex(path, "/"); i > 0 {
		base = path[:i]
	}
	_, medias, ok := m.source.Describe(base)
	if !ok {
		return 0
	}
	for _, md := range medias {
		if md.Control != "" && strings.HasSuffix(path, md.Control) {
			return md.BitrateBPS
		}
	}
	return 0
}

func (m *Module) handlePlayPause(p *module.Params, state rtpsession.State) error {
	sessionID := p.Request.Header("Session")
	rtpSess, ok := m.regs.ResolveRTPSession(sessionID)
	if !ok {
		return qtsserr.SessionNotFound("no such RTP session: " + sessionID)
	}
	defer m.regs.ReleaseRTPSession(rtpSess)
	rtpSess.SetState(state)
	return p.Session.Respond(200, "", map[string]string{"Session": sessionID}, nil)
}

func (m *Module) handleTeardown(p *module.Params) error {
	sessionID := p.Request.Header("Session")
	rtpSess, ok := m.regs.ResolveRTPSession(sessionID)
	if !ok {
		return qtsserr.SessionNotFound("no such RTP session: " + sessionID)
	}
	var releasedBPS uint64
	for _, st := range rtpSess.Streams() {
		releasedBPS += st.Payload.BitrateBPS
		if pair := st.UDPPair(); pair != nil {
			_ = m.regs.UnregisterRTCPDemux(pair)
			m.regs.ReleaseUDPPair(pair)
		}
	}
	m.regs.ReleaseRTPSession(rtpSess)
	m.regs.RemoveRTPSession(sessionID)
	if releasedBPS > 0 {
		m.regs.ReleaseBandwidth(releasedBPS)
	}
	return p.Session.Respond(200, "", map[string]string{"Session": sessionID}, nil)
}
