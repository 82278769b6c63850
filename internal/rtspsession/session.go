package rtspsession

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/looplab/fsm"

	"github.com/gtfodev/rtspcore/internal/corelog"
	"github.com/gtfodev/rtspcore/internal/module"
	"github.com/gtfodev/rtspcore/internal/qtsserr"
	"github.com/gtfodev/rtspcore/internal/rtpstream"
	"github.com/gtfodev/rtspcore/internal/tunnel"
)

// requestAdapter lets *Request satisfy module.Request without a method
// colliding with the struct's own Method/Header fields: Request cannot
// itself carry a method literally named Method() alongside a field of
// the same name, so the module-facing surface lives on this thin
// wrapper instead.
type requestAdapter struct {
	r *Request
}

func (a requestAdapter) Method() string            { return a.r.Method }
func (a requestAdapter) Path() string              { return a.r.URI }
func (a requestAdapter) Header(name string) string { return a.r.Header.Get(name) }

// requestRoleOrder is the fixed per-request dispatch order (mirrors
// the unexported order module.Registry.Dispatch walks one role at a
// time); kept here too so the session can fire the matching state
// transition before invoking each role.
var requestRoleOrder = []module.Role{
	module.RoleFilter, module.RoleRoute, module.RoleAuthenticate, module.RoleAuthorize,
	module.RolePreprocessor, module.RoleRequest, module.RolePostprocessor,
}

var roleEventName = map[module.Role]string{
	module.RoleFilter:        "toFilter",
	module.RoleRoute:         "toRoute",
	module.RoleAuthenticate:  "toAuthenticate",
	module.RoleAuthorize:     "toAuthorize",
	module.RolePreprocessor:  "toPreprocess",
	module.RoleRequest:       "toProcess",
	module.RolePostprocessor: "toPostProcess",
}

// Session drives one RTSP connection's state machine:
// read a request (or bind/relay an HTTP tunnel), run it through the
// Module Registry's fixed role order, write the response, repeat.
//
// Unlike the scheduler's cooperative Task model, a Session owns its
// connection's goroutine outright and blocks on I/O directly — the
// idiomatic Go equivalent of DSS's hand-rolled non-blocking state
// machine, since the Go runtime's netpoller already parks a blocked
// goroutine without pinning an OS thread.
type Session struct {
	id  string
	log *corelog.Logger

	registry *module.Registry
	tunnels  *tunnel.Map

	conn net.Conn
	br   *bufio.Reader
	out  io.Writer // defaults to conn; swapped to a base64 tunnelWriter once bound as a tunnel GET

	readMu sync.Mutex // tunnel bind takes it with TryLock; this session's own read path never locks it

	mu           sync.Mutex
	machine      *fsm.FSM
	responseSent bool
	tunnelCookie string
	postConn     net.Conn

	onKeepAlive       func(sessionID string) error
	onProbeSent       func(cseq int)
	onProbeResponse   func(cseq int)
	onRequestComplete func(RequestLogEntry)
	probeCSeq         atomic.Int64

	curReq     *Request
	curStarted time.Time

	refcount atomic.Int32
}

// RequestLogEntry is one completed request/response exchange, handed
// to the access-log hook after every response is written.
type RequestLogEntry struct {
	Method       string
	Path         string
	CSeq         int
	Status       int
	BytesWritten int
	Duration     time.Duration
}

// SetAccessLogHook installs the callback invoked after every response
// this session writes; internal/servercore wires it to an
// internal/accesslog.Writer.
func (s *Session) SetAccessLogHook(fn func(RequestLogEntry)) {
	s.onRequestComplete = fn
}

// SetDynamicRateHooks installs the callbacks the dynamic-rate SETUP
// probe uses to record timing on the backing RTP
// Session: onSent marks a probe's departure time, onResponse resolves
// it and computes the RTT. Either may be nil; internal/servercore
// passes nil for both, so sessions it accepts record no probe RTT.
func (s *Session) SetDynamicRateHooks(onSent, onResponse func(cseq int)) {
	s.onProbeSent = onSent
	s.onProbeResponse = onResponse
}

// New creates a Session wrapping conn, with id already allocated by
// the caller (internal/sessionid).
func New(id string, conn net.Conn, registry *module.Registry, tunnels *tunnel.Map, log *corelog.Logger) *Session {
	if log == nil {
		log = corelog.Default()
	}
	s := &Session{
		id:       id,
		log:      log,
		registry: registry,
		tunnels:  tunnels,
		conn:     conn,
		br:       bufio.NewReader(conn),
	}
	s.out = conn
	s.refcount.Store(1)
	s.machine = newFSM(s)
	return s
}

func (s *Session) onStateChange(state string) {
	s.log.Debugc(corelog.CategoryRTSP, "session state transition", "session", s.id, "state", state)
}

// ID, SetResponseSent, ResponseSent implement module.Session.
func (s *Session) ID() string { return s.id }

func (s *Session) SetResponseSent() {
	s.mu.Lock()
	s.responseSent = true
	s.mu.Unlock()
}

func (s *Session) ResponseSent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.responseSent
}

// Respond implements module.Session: a Request or Preprocessor module
// handling s.curReq builds its answer this way instead of reaching
// into rtspsession's own Response type, which module must not import.
func (s *Session) Respond(status int, reason string, headers map[string]string, body []byte) error {
	resp := NewResponse(s.curReq, status, reason)
	for k, v := range headers {
		resp.Header.Set(k, v)
	}
	resp.Body = body
	return s.writeAndMark(resp)
}

// TryLockRead, UnlockRead, BindPOSTSocket implement tunnel.GETWaiter.
func (s *Session) TryLockRead() bool { return s.readMu.TryLock() }
func (s *Session) UnlockRead()       { s.readMu.Unlock() }

func (s *Session) BindPOSTSocket(conn any) error {
	c, ok := conn.(net.Conn)
	if !ok {
		return fmt.Errorf("rtspsession: BindPOSTSocket: not a net.Conn")
	}
	s.mu.Lock()
	s.postConn = c
	s.mu.Unlock()
	return nil
}

// Retain/Release give the RTSP Session registry the same refcounted
// resolve discipline as the RTP Session and scheduler Task types.
func (s *Session) Retain() { s.refcount.Add(1) }

func (s *Session) Release(onZero func()) {
	if s.refcount.Add(-1) == 0 && onZero != nil {
		onZero()
	}
}

// Run drives the session to completion: the first request decides
// whether this connection is plain RTSP or one half of an HTTP tunnel
// pair, then the request loop runs until a transport-fatal error or
// Connection: close.
func (s *Session) Run(ctx context.Context) error {
	defer s.conn.Close()

	first, err := ReadRequest(s.br)
	if err != nil {
		if handled, keepAlive, werr := s.answerRequestLevelError(err); handled {
			if werr != nil {
				s.fireIgnoringNoop(ctx, "transportError")
				return werr
			}
			if !keepAlive {
				return nil
			}
			return s.requestLoop(ctx)
		}
		s.fireIgnoringNoop(ctx, "transportError")
		return err
	}
	s.fireIgnoringNoop(ctx, "parsedOK")

	if cookie := first.Header.Get("x-sessioncookie"); cookie != "" {
		switch first.Method {
		case "GET":
			return s.runTunnelGET(ctx, first, cookie)
		case "POST":
			return s.runTunnelPOST(ctx, first, cookie)
		}
	}

	s.fireIgnoringNoop(ctx, "plainRTSP")
	if err := s.processRequest(ctx, first); err != nil {
		return err
	}
	return s.requestLoop(ctx)
}

// runTunnelGET parks this connection as the downstream half of an HTTP
// tunnel: it answers the GET with a 200 (Content-Type
// application/x-rtsp-tunnelled, no chunked encoding), after which the
// connection carries the base64'd server->client stream, then waits for a POST bearing
// the same cookie to supply the upstream half.
func (s *Session) runTunnelGET(ctx context.Context, req *Request, cookie string) error {
	s.fireIgnoringNoop(ctx, "tunnelGET")
	s.mu.Lock()
	s.tunnelCookie = cookie
	s.mu.Unlock()

	resp := NewResponse(req, 200, "OK")
	resp.Header.Set("Content-Type", "application/x-rtsp-tunnelled")
	resp.Header.Set("Cache-Control", "no-cache")
	if _, err := WriteResponse(s.conn, resp); err != nil {
		return err
	}

	if err := s.tunnels.RegisterGET(cookie, s); err != nil {
		return err
	}
	defer s.tunnels.Forget(cookie)

	for {
		s.mu.Lock()
		post := s.postConn
		s.mu.Unlock()
		if post != nil {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}

	s.fireIgnoringNoop(ctx, "tunnelBound")
	s.fireIgnoringNoop(ctx, "beginReadingTunnelled")

	s.mu.Lock()
	s.br = bufio.NewReader(tunnelReader(s.postConn))
	s.out = tunnelWriter{w: s.conn}
	s.mu.Unlock()

	return s.requestLoop(ctx)
}

// runTunnelPOST hands this connection's socket off to the GET side
// registered under cookie and then exits: the POST side's socket is
// transferred to the GET side and the donor connection dies, so the
// POST connection's own Session never enters the request loop.
func (s *Session) runTunnelPOST(ctx context.Context, req *Request, cookie string) error {
	s.fireIgnoringNoop(ctx, "tunnelPOST")
	if err := s.tunnels.BindPOST(cookie, s.conn); err != nil {
		resp := NewResponse(req, 400, "")
		WriteResponse(s.conn, resp)
		return err
	}
	return nil
}

// fireIgnoringNoop fires a state transition without propagating the
// error: an event with no transition out of the current state is
// expected whenever a role's handlers don't change it, the same way
// the teacher's dialog FSM discards Event's return value at call sites
// that only care about best-effort state tracking.
func (s *Session) fireIgnoringNoop(ctx context.Context, event string) {
	_ = s.machine.Event(ctx, event)
}

// requestLoop reads successive requests (or interleaved RTP/RTCP
// frames, RTSPIncomingData) until the peer disconnects or a
// request asks the connection to close.
func (s *Session) requestLoop(ctx context.Context) error {
	for {
		s.fireIgnoringNoop(ctx, "nextRequest")

		peeked, err := s.br.Peek(5)
		if err != nil && len(peeked) == 0 {
			s.fireIgnoringNoop(ctx, "transportError")
			return err
		}

		switch {
		case len(peeked) > 0 && peeked[0] == rtpstream.InterleavedMagic:
			if err := s.handleInterleavedFrame(ctx); err != nil {
				s.fireIgnoringNoop(ctx, "transportError")
				return err
			}
			continue

		case len(peeked) == 5 && string(peeked) == "RTSP/":
			// Not a request at all: the client's response to a
			// dynamic-rate probe OPTIONS this session sent itself.
			resp, err := ReadResponse(s.br)
			if err != nil {
				s.fireIgnoringNoop(ctx, "transportError")
				return err
			}
			if cseq, convErr := strconv.Atoi(resp.Header.Get("CSeq")); convErr == nil && s.onProbeResponse != nil {
				s.onProbeResponse(cseq)
			}
			continue
		}

		req, err := ReadRequest(s.br)
		if err != nil {
			if handled, keepAlive, werr := s.answerRequestLevelError(err); handled {
				if werr != nil {
					s.fireIgnoringNoop(ctx, "transportError")
					return werr
				}
				if !keepAlive {
					return nil
				}
				continue
			}
			s.fireIgnoringNoop(ctx, "transportError")
			return err
		}
		s.fireIgnoringNoop(ctx, "parsedNonTunnel")

		if err := s.processRequest(ctx, req); err != nil {
			return err
		}
		if req.Method == "SETUP" && req.Header.Get("x-dynamic-rate") == "1" {
			s.sendDynamicRateProbe()
		}
		if strings.EqualFold(req.Header.Get("Connection"), "close") {
			return nil
		}
	}
}

// sendDynamicRateProbe issues the server-initiated OPTIONS probe that
// a SETUP carrying x-dynamic-rate: 1 triggers.
func (s *Session) sendDynamicRateProbe() {
	cseq := int(s.probeCSeq.Add(1))
	req := &Request{
		Method:  "OPTIONS",
		URI:     "*",
		Version: "RTSP/1.0",
		Header:  textproto.MIMEHeader{"CSeq": []string{strconv.Itoa(cseq)}},
	}
	if s.onProbeSent != nil {
		s.onProbeSent(cseq)
	}
	s.mu.Lock()
	out := s.out
	s.mu.Unlock()
	// Best-effort: a failed probe write costs only this round's RTT
	// sample, not the session itself.
	_, _ = WriteRequest(out, req)
}

func (s *Session) handleInterleavedFrame(ctx context.Context) error {
	frame, err := rtpstream.ReadFrame(s.br)
	if err != nil {
		return err
	}
	params := &module.Params{Role: module.RoleRTSPIncomingData, Session: s, Extra: frame}
	state := module.DispatchState{Role: module.RoleRTSPIncomingData}
	for {
		step, err := s.registry.Dispatch(&state, params)
		if err != nil {
			return err
		}
		if step.Done {
			return nil
		}
		if state.UnderGlobal {
			s.registry.ResumeUnderGlobalLock(&state)
			continue
		}
		if step.IdleMicros > 0 {
			time.Sleep(time.Duration(step.IdleMicros) * time.Microsecond)
		}
	}
}

// processRequest runs req through every registered role in fixed
// order, then writes whatever response the modules
// produced, or a core default if none claimed it.
func (s *Session) processRequest(ctx context.Context, req *Request) error {
	s.mu.Lock()
	s.responseSent = false
	s.mu.Unlock()
	s.curReq = req
	s.curStarted = time.Now()

	if req.Method == "DESCRIBE" && req.Header.Get("Session") != "" {
		return s.sendError(req, qtsserr.HeaderFieldNotValid("DESCRIBE must not carry a Session header"))
	}

	adapter := requestAdapter{r: req}
	coreHandled := coreAnswers(req)

	for _, role := range requestRoleOrder {
		s.fireIgnoringNoop(ctx, roleEventName[role])

		if coreHandled && role != module.RoleFilter && role != module.RolePostprocessor {
			if role == module.RoleRequest && !s.ResponseSent() {
				if err := s.answerCoreMethod(req); err != nil {
					return err
				}
			}
			continue
		}

		state := module.DispatchState{Role: role}
		for {
			params := &module.Params{Role: role, Session: s, Request: adapter}
			step, err := s.registry.Dispatch(&state, params)
			if err != nil {
				return s.sendError(req, err)
			}
			if step.Done {
				break
			}
			if state.UnderGlobal {
				s.registry.ResumeUnderGlobalLock(&state)
				continue
			}
			if step.IdleMicros > 0 {
				time.Sleep(time.Duration(step.IdleMicros) * time.Microsecond)
			}
		}
	}

	s.fireIgnoringNoop(ctx, "toSendResponse")
	if !s.ResponseSent() {
		if err := s.writeAndMark(NewResponse(req, 200, "")); err != nil {
			return err
		}
	}
	s.fireIgnoringNoop(ctx, "toCleanUp")
	return nil
}

// answerRequestLevelError answers a ReadRequest failure that is
// request-level (414 oversized request, 400 malformed line/headers)
// rather than transport-fatal: these must not drop the connection.
// handled is false for any other error (EOF, socket error, true
// transport-fatal), which the caller terminates on as before. The
// failed request never parsed far enough to read a Connection header,
// so the connection is kept alive unless the write itself fails.
func (s *Session) answerRequestLevelError(err error) (handled, keepAlive bool, writeErr error) {
	var qerr *qtsserr.Error
	if !errors.As(err, &qerr) || qerr.Kind != qtsserr.KindRequestLevel {
		return false, false, nil
	}
	resp := NewResponse(nil, qerr.Status, "")
	s.mu.Lock()
	out := s.out
	s.mu.Unlock()
	if _, werr := WriteResponse(out, resp); werr != nil {
		return true, false, werr
	}
	s.SetResponseSent()
	return true, true, nil
}

// sendError converts a *qtsserr.Error into the matching RTSP response,
// or propagates transport-fatal errors for the caller to terminate on.
func (s *Session) sendError(req *Request, err error) error {
	var qerr *qtsserr.Error
	if errors.As(err, &qerr) {
		if qerr.Kind == qtsserr.KindTransportFatal {
			return qerr
		}
		resp := NewResponse(req, qerr.Status, "")
		for name, value := range qerr.Headers {
			resp.Header.Set(name, value)
		}
		return s.writeAndMark(resp)
	}
	return err
}

func (s *Session) writeAndMark(resp *Response) error {
	s.mu.Lock()
	out := s.out
	s.mu.Unlock()
	n, err := WriteResponse(out, resp)
	if err != nil {
		return err
	}
	s.SetResponseSent()
	if s.onRequestComplete != nil && s.curReq != nil {
		s.onRequestComplete(RequestLogEntry{
			Method:       s.curReq.Method,
			Path:         s.curReq.URI,
			CSeq:         s.curReq.CSeq(),
			Status:       resp.StatusCode,
			BytesWritten: n,
			Duration:     time.Since(s.curStarted),
		})
	}
	return nil
}
