package auth

import (
	"encoding/base64"
	"strconv"
	"strings"
	"sync"

	"github.com/gtfodev/rtspcore/internal/corelog"
	"github.com/gtfodev/rtspcore/internal/module"
	"github.com/gtfodev/rtspcore/internal/rtpsession"
)

// Scheme picks which WWW-Authenticate challenge a Module issues.
type Scheme int

const (
	SchemeDigest Scheme = iota
	SchemeBasic
)

// CredentialLookup resolves a username to the secrets an Authenticate
// handler needs: ha1 (H(user:realm:password)) for Digest, and the
// possibly one-way-hashed password Basic compares against after
// applying the same hash to the supplied password.
type CredentialLookup func(user string) (ha1, basicSecret string, ok bool)

// RequirePolicy reports whether method/path requires authentication;
// nil means every request does.
type RequirePolicy func(method, path string) bool

// connState is the per-RTSP-connection challenge/nonce bookkeeping.
// Nonce-count tracking is kept here, keyed by the RTSP Session id,
// rather than on an RTP Session as the common re-auth case would
// suggest: the primary challenge point is DESCRIBE, which RFC 2326
// forbids from carrying a Session header and so always precedes
// SETUP — there is no RTP Session yet to hang state off of.
type connState struct {
	digest rtpsession.DigestState
	tried  bool
	ok     bool
	stale  bool
}

// Module implements the Authenticate and Authorize roles: Basic, and
// Digest per RFC 2617 with qop=auth or no qop. Authenticate parses any
// Authorization header and records a verdict; Authorize finalizes it,
// issuing a fresh (or, on nonce-count reuse, stale) challenge when it
// isn't ok.
type Module struct {
	log     *corelog.Logger
	lookup  CredentialLookup
	scheme  Scheme
	require RequirePolicy

	mu    sync.Mutex
	conns map[string]*connState
}

// New builds an Authenticate/Authorize module. lookup supplies
// per-user secrets; require, if non-nil, restricts which requests are
// challenged at all (e.g. only SETUP/PLAY/DESCRIBE on protected
// paths).
func New(lookup CredentialLookup, scheme Scheme, require RequirePolicy, log *corelog.Logger) *Module {
	if log == nil {
		log = corelog.Default()
	}
	if require == nil {
		require = func(string, string) bool { return true }
	}
	return &Module{
		log:     log,
		lookup:  lookup,
		scheme:  scheme,
		require: require,
		conns:   make(map[string]*connState),
	}
}

func (m *Module) Name() string { return "auth" }

// Register wires m's handlers into reg under the Authenticate and
// Authorize roles.
func (m *Module) Register(reg *module.Registry) {
	reg.Register(module.RoleAuthenticate, m, m.authenticate)
	reg.Register(module.RoleAuthorize, m, m.authorize)
}

func (m *Module) state(connID string) *connState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.conns[connID]
	if !ok {
		st = &connState{}
		m.conns[connID] = st
	}
	return st
}

// Forget drops a closed connection's nonce/challenge state; the
// server core calls this from the same connection-teardown path that
// removes the RTSP Session from its registry, so conns does not grow
// without bound across the server's lifetime.
func (m *Module) Forget(connID string) {
	m.mu.Lock()
	delete(m.conns, connID)
	m.mu.Unlock()
}

func (m *Module) authenticate(p *module.Params) (module.Outcome, error) {
	if !m.require(p.Request.Method(), p.Request.Path()) {
		return module.Outcome{Result: module.Done}, nil
	}
	st := m.state(p.Session.ID())
	header := p.Request.Header("Authorization")
	if header == "" {
		st.tried = false
		return module.Outcome{Result: module.Done}, nil
	}
	st.tried = true
	switch {
	case strings.HasPrefix(header, "Basic "):
		st.ok, st.stale = m.checkBasic(strings.TrimPrefix(header, "Basic "))
	case strings.HasPrefix(header, "Digest "):
		st.ok, st.stale = m.checkDigest(p.Request.Method(), strings.TrimPrefix(header, "Digest "), st)
	default:
		st.ok, st.stale = false, false
	}
	return module.Outcome{Result: module.Done}, nil
}

func (m *Module) authorize(p *module.Params) (module.Outcome, error) {
	if !m.require(p.Request.Method(), p.Request.Path()) {
		return module.Outcome{Result: module.Done}, nil
	}
	st := m.state(p.Session.ID())
	if st.tried && st.ok {
		return module.Outcome{Result: module.Done}, nil
	}

	stale := st.tried && st.stale
	if st.digest.Nonce == "" {
		st.digest.Nonce = GenerateNonce()
		st.digest.Opaque = GenerateNonce()
	}

	var challenge string
	if m.scheme == SchemeBasic {
		challenge = BasicChallenge()
	} else {
		challenge = Challenge(st.digest.Nonce, st.digest.Opaque, stale)
	}
	m.log.Debugc(corelog.CategoryModule, "authorize: challenging", "session", p.Session.ID(), "stale", stale)
	return module.Outcome{Result: module.Done}, p.Session.Respond(401, "", map[string]string{"WWW-Authenticate": challenge}, nil)
}

func (m *Module) checkBasic(encoded string) (ok, stale bool) {
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return false, false
	}
	user, pass, valid := DecodeBasic(string(decoded))
	if !valid {
		return false, false
	}
	_, basicSecret, found := m.lookup(user)
	if !found {
		return false, false
	}
	return BasicCompare(basicSecret, pass, identityHash), false
}

func (m *Module) checkDigest(method, raw string, st *connState) (ok, stale bool) {
	cred, err := ParseDigestCredentials(raw)
	if err != nil {
		return false, false
	}
	ha1, _, found := m.lookup(cred.Username)
	if !found {
		return false, false
	}
	if st.digest.Nonce == "" || cred.Nonce != st.digest.Nonce {
		// A response against a nonce this connection never issued (or
		// already replaced): force a fresh challenge rather than
		// silently rejecting.
		return false, true
	}
	expected := ExpectedDigestResponse(ha1, method, cred.URI, cred.Nonce, cred.NC, cred.CNonce, cred.QOP)
	if expected != cred.Response {
		return false, false
	}
	nc, err := strconv.ParseUint(cred.NC, 16, 64)
	if err != nil {
		return false, false
	}
	if !st.digest.CheckAndAdvanceNC(nc) {
		return false, true
	}
	return true, false
}

// identityHash is the Basic comparison hash: the supplied password is
// compared unchanged against the secret CredentialLookup returns, so a
// Basic login matches only a plaintext-stored password. New accepts no
// other hash.
func identityHash(s string) string { return s }
