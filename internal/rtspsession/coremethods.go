package rtspsession

import (
	"strings"

	"github.com/gtfodev/rtspcore/internal/qtsserr"
)

// isKeepAliveSetParameter reports whether req is a bodyless
// SET_PARAMETER, the form the core answers itself by refreshing the
// RTP Session timeout; a SET_PARAMETER carrying actual parameters in
// its body goes through the full role pipeline instead.
func isKeepAliveSetParameter(req *Request) bool {
	return req.Method == "SET_PARAMETER" && len(req.Body) == 0
}

// coreAnswers reports whether the core answers req entirely on its
// own: OPTIONS is always core-handled, and a keepalive-only
// SET_PARAMETER is too. Filter and Postprocessor still run regardless.
func coreAnswers(req *Request) bool {
	return req.Method == "OPTIONS" || isKeepAliveSetParameter(req)
}

// answerCoreMethod builds and sends the response for a method
// coreAnswers claimed.
func (s *Session) answerCoreMethod(req *Request) error {
	switch {
	case req.Method == "OPTIONS":
		resp := NewResponse(req, 200, "")
		resp.Header.Set("Public", strings.Join(s.registry.PublicMethods(), ", "))
		return s.writeAndMark(resp)

	case isKeepAliveSetParameter(req):
		sessionID := req.Header.Get("Session")
		if sessionID == "" {
			return s.sendError(req, qtsserr.SessionNotFound("SET_PARAMETER keepalive without Session header"))
		}
		if s.onKeepAlive != nil {
			if err := s.onKeepAlive(sessionID); err != nil {
				return s.sendError(req, err)
			}
		}
		return s.writeAndMark(NewResponse(req, 200, ""))
	}
	return nil
}

// SetKeepAliveHook installs the callback a keepalive-only
// SET_PARAMETER invokes to refresh an RTP Session's timeout deadline.
// internal/servercore wires this at session creation time, since the
// RTP-session registry lives there rather than in this package (it is
// shared across every RTSP Session, not owned by one).
func (s *Session) SetKeepAliveHook(fn func(sessionID string) error) {
	s.onKeepAlive = fn
}
