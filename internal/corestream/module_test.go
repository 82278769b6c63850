package corestream

import (
	"testing"

	"github.com/gtfodev/rtspcore/internal/module"
	"github.com/gtfodev/rtspcore/internal/qtsserr"
	"github.com/gtfodev/rtspcore/internal/rtpsession"
	"github.com/gtfodev/rtspcore/internal/rtpstream"
	"github.com/gtfodev/rtspcore/internal/socketpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRegistries is an in-memory stand-in for a server core, enough
// to drive Module's handlers without any real socket or poller.
type fakeRegistries struct {
	sessions        map[string]*rtpsession.Session
	nextID          int
	demuxRegistered map[*socketpool.Pair]bool
	pairsOut        int

	maxBandwidthBPS uint64
	usedBandwidth   uint64
}

func newFakeRegistries() *fakeRegistries {
	return &fakeRegistries{
		sessions:        make(map[string]*rtpsession.Session),
		demuxRegistered: make(map[*socketpool.Pair]bool),
	}
}

func (f *fakeRegistries) NextRTPSessionID() string {
	f.nextID++
	return "rtp-test-1"
}

func (f *fakeRegistries) AddRTPSession(sess *rtpsession.Session) {
	f.sessions[sess.ID()] = sess
}

func (f *fakeRegistries) ResolveRTPSession(id string) (*rtpsession.Session, bool) {
	s, ok := f.sessions[id]
	return s, ok
}

func (f *fakeRegistries) ReleaseRTPSession(sess *rtpsession.Session) {}

func (f *fakeRegistries) RemoveRTPSession(id string) { delete(f.sessions, id) }

func (f *fakeRegistries) AcquireUDPPair(localIP string) (*socketpool.Pair, error) {
	f.pairsOut++
	return &socketpool.Pair{LocalIP: localIP, RTPPort: 9000 + f.pairsOut*2, RTCPPort: 9001 + f.pairsOut*2}, nil
}

func (f *fakeRegistries) ReleaseUDPPair(pair *socketpool.Pair) {
	delete(f.demuxRegistered, pair)
}

func (f *fakeRegistries) RegisterRTCPDemux(pair *socketpool.Pair, lookup func(ssrc uint32) (*rtpsession.Stream, bool)) error {
	f.demuxRegistered[pair] = true
	return nil
}

func (f *fakeRegistries) UnregisterRTCPDemux(pair *socketpool.Pair) error {
	delete(f.demuxRegistered, pair)
	return nil
}

func (f *fakeRegistries) AdmitBandwidth(additionalBPS uint64) bool {
	if f.maxBandwidthBPS == 0 {
		return true
	}
	return f.usedBandwidth+additionalBPS <= f.maxBandwidthBPS
}

func (f *fakeRegistries) ReserveBandwidth(additionalBPS uint64) { f.usedBandwidth += additionalBPS }

func (f *fakeRegistries) ReleaseBandwidth(bps uint64) {
	if bps > f.usedBandwidth {
		f.usedBandwidth = 0
		return
	}
	f.usedBandwidth -= bps
}

// fakeRequest and fakeSession implement module.Request/module.Session
// so handlers can be driven without rtspsession's wire codec.
type fakeRequest struct {
	method  string
	path    string
	headers map[string]string
}

func (r *fakeRequest) Method() string { return r.method }
func (r *fakeRequest) Path() string   { return r.path }
func (r *fakeRequest) Header(name string) string { return r.headers[name] }

type fakeSession struct {
	responseSent bool
	status       int
	reason       string
	headers      map[string]string
	body         []byte
}

func (s *fakeSession) ID() string           { return "rtsp-test-1" }
func (s *fakeSession) SetResponseSent()     { s.responseSent = true }
func (s *fakeSession) ResponseSent() bool   { return s.responseSent }
func (s *fakeSession) Respond(status int, reason string, headers map[string]string, body []byte) error {
	s.status = status
	s.reason = reason
	s.headers = headers
	s.body = body
	s.responseSent = true
	return nil
}

func TestModuleDescribeNotFound(t *testing.T) {
	regs := newFakeRegistries()
	m := New(regs, NewStaticSource(), nil)
	sess := &fakeSession{}
	req := &fakeRequest{method: "DESCRIBE", path: "/missing"}

	_, err := m.request(&module.Params{Role: module.RoleRequest, Session: sess, Request: req})
	require.NoError(t, err)
	assert.Equal(t, 404, sess.status)
}

func TestModuleDescribeFound(t *testing.T) {
	regs := newFakeRegistries()
	source := NewStaticSource()
	source.Publish("/cam1", "camera one", []rtpstream.MediaDescriptor{
		{MediaType: "video", PayloadType: 96, Encoding: "H264", ClockRateHz: 90000, Control: "trackID=0"},
	}, nil)
	m := New(regs, source, nil)
	sess := &fakeSession{}
	req := &fakeRequest{method: "DESCRIBE", path: "/cam1"}

	_, err := m.request(&module.Params{Role: module.RoleRequest, Session: sess, Request: req})
	require.NoError(t, err)
	assert.Equal(t, 200, sess.status)
	assert.Equal(t, "application/sdp", sess.headers["Content-Type"])
	assert.NotEmpty(t, sess.body)
}

func TestModuleSetupUDPCreatesSessionAndRegistersDemux(t *testing.T) {
	regs := newFakeRegistries()
	m := New(regs, NewStaticSource(), nil)
	sess := &fakeSession{}
	req := &fakeRequest{method: "SETUP", path: "/cam1", headers: map[string]string{
		"Transport": "RTP/AVP;unicast;client_port=8000-8001",
	}}

	_, err := m.preprocess(&module.Params{Role: module.RolePreprocessor, Session: sess, Request: req})
	require.NoError(t, err)
	assert.Equal(t, 200, sess.status)
	require.NotEmpty(t, sess.headers["Session"])
	assert.Contains(t, sess.headers["Transport"], "server_port=")
	assert.Len(t, regs.sessions, 1)
	assert.Len(t, regs.demuxRegistered, 1)
}

func TestModuleSetupInterleavedSkipsDemux(t *testing.T) {
	regs := newFakeRegistries()
	m := New(regs, NewStaticSource(), nil)
	sess := &fakeSession{}
	req := &fakeRequest{method: "SETUP", path: "/cam1", headers: map[string]string{
		"Transport": "RTP/AVP/TCP;unicast;interleaved=0-1",
	}}

	_, err := m.preprocess(&module.Params{Role: module.RolePreprocessor, Session: sess, Request: req})
	require.NoError(t, err)
	assert.Equal(t, 200, sess.status)
	assert.Contains(t, sess.headers["Transport"], "interleaved=0-1")
	assert.Empty(t, regs.demuxRegistered)
}

func TestModulePlayPauseAndTeardown(t *testing.T) {
	regs := newFakeRegistries()
	m := New(regs, NewStaticSource(), nil)

	setupSess := &fakeSession{}
	setupReq := &fakeRequest{method: "SETUP", path: "/cam1", headers: map[string]string{
		"Transport": "RTP/AVP;unicast;client_port=8000-8001",
	}}
	_, err := m.preprocess(&module.Params{Role: module.RolePreprocessor, Session: setupSess, Request: setupReq})
	require.NoError(t, err)
	sessionID := setupSess.headers["Session"]

	playSess := &fakeSession{}
	playReq := &fakeRequest{method: "PLAY", headers: map[string]string{"Session": sessionID}}
	_, err = m.request(&module.Params{Role: module.RoleRequest, Session: playSess, Request: playReq})
	require.NoError(t, err)
	assert.Equal(t, 200, playSess.status)
	rtpSess, ok := regs.ResolveRTPSession(sessionID)
	require.True(t, ok)
	assert.Equal(t, rtpsession.StatePlaying, rtpSess.State())

	teardownSess := &fakeSession{}
	teardownReq := &fakeRequest{method: "TEARDOWN", headers: map[string]string{"Session": sessionID}}
	_, err = m.request(&module.Params{Role: module.RoleRequest, Session: teardownSess, Request: teardownReq})
	require.NoError(t, err)
	assert.Equal(t, 200, teardownSess.status)
	_, stillThere := regs.ResolveRTPSession(sessionID)
	assert.False(t, stillThere)
	assert.Empty(t, regs.demuxRegistered)
}

func TestModuleGetParameterKeepalive(t *testing.T) {
	regs := newFakeRegistries()
	m := New(regs, NewStaticSource(), nil)
	sess := &fakeSession{}
	req := &fakeRequest{method: "GET_PARAMETER"}

	_, err := m.request(&module.Params{Role: module.RoleRequest, Session: sess, Request: req})
	require.NoError(t, err)
	assert.Equal(t, 200, sess.status)
}

func TestModulePlayUnknownSession(t *testing.T) {
	regs := newFakeRegistries()
	m := New(regs, NewStaticSource(), nil)
	sess := &fakeSession{}
	req := &fakeRequest{method: "PLAY", headers: map[string]string{"Session": "no-such-session"}}

	_, err := m.request(&module.Params{Role: module.RoleRequest, Session: sess, Request: req})
	assert.Error(t, err)
}

func TestModuleSetupReservesBandwidthAndTeardownReleasesIt(t *testing.T) {
	regs := newFakeRegistries()
	regs.maxBandwidthBPS = 10_000_000
	source := NewStaticSource()
	source.Publish("/cam1", "camera one", []rtpstream.MediaDescriptor{
		{MediaType: "video", PayloadType: 96, Encoding: "H264", ClockRateHz: 90000, Control: "trackID=0", BitrateBPS: 4_000_000},
	}, nil)
	m := New(regs, source, nil)

	setupSess := &fakeSession{}
	setupReq := &fakeRequest{method: "SETUP", path: "/cam1/trackID=0", headers: map[string]string{
		"Transport": "RTP/AVP;unicast;client_port=8000-8001",
	}}
	_, err := m.preprocess(&module.Params{Role: module.RolePreprocessor, Session: setupSess, Request: setupReq})
	require.NoError(t, err)
	assert.Equal(t, 200, setupSess.status)
	assert.Equal(t, uint64(4_000_000), regs.usedBandwidth)

	teardownSess := &fakeSession{}
	teardownReq := &fakeRequest{method: "TEARDOWN", headers: map[string]string{"Session": setupSess.headers["Session"]}}
	_, err = m.request(&module.Params{Role: module.RoleRequest, Session: teardownSess, Request: teardownReq})
	require.NoError(t, err)
	assert.Equal(t, 200, teardownSess.status)
	assert.Equal(t, uint64(0), regs.usedBandwidth)
}

func TestModuleSetupRejectsWhenBandwidthExhausted(t *testing.T) {
	regs := newFakeRegistries()
	regs.maxBandwidthBPS = 1_000_000
	source := NewStaticSource()
	source.Publish("/cam1", "camera one", []rtpstream.MediaDescriptor{
		{MediaType: "video", PayloadType: 96, Encoding: "H264", ClockRateHz: 90000, Control: "trackID=0", BitrateBPS: 4_000_000},
	}, nil)
	m := New(regs, source, nil)

	setupSess := &fakeSession{}
	setupReq := &fakeRequest{method: "SETUP", path: "/cam1/trackID=0", headers: map[string]string{
		"Transport": "RTP/AVP;unicast;client_port=8000-8001",
	}}
	_, err := m.preprocess(&module.Params{Role: module.RolePreprocessor, Session: setupSess, Request: setupReq})
	require.Error(t, err)
	var qerr *qtsserr.Error
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, 453, qerr.Status)
	assert.Equal(t, uint64(0), regs.usedBandwidth)
	assert.False(t, setupSess.responseSent)
}
