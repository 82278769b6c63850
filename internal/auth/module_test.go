package auth

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/gtfodev/rtspcore/internal/module"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRequest and fakeSession are minimal module.Request/module.Session
// stand-ins, enough to drive a Module's handlers without rtspsession's
// wire codec.
type fakeRequest struct {
	method  string
	path    string
	headers map[string]string
}

func (r *fakeRequest) Method() string            { return r.method }
func (r *fakeRequest) Path() string              { return r.path }
func (r *fakeRequest) Header(name string) string { return r.headers[name] }

type fakeSession struct {
	id           string
	responseSent bool
	status       int
	headers      map[string]string
}

func (s *fakeSession) ID() string         { return s.id }
func (s *fakeSession) SetResponseSent()   { s.responseSent = true }
func (s *fakeSession) ResponseSent() bool { return s.responseSent }
func (s *fakeSession) Respond(status int, reason string, headers map[string]string, body []byte) error {
	s.status = status
	s.headers = headers
	s.responseSent = true
	return nil
}

func lookupDemo(user string) (ha1, basicSecret string, ok bool) {
	if user != "demo" {
		return "", "", false
	}
	return HashA1("demo", Realm, "demo"), "demo", true
}

// runAuth drives Authenticate then Authorize, the order the registry
// always invokes them in for a single request.
func runAuth(t *testing.T, m *Module, sess *fakeSession, req *fakeRequest) {
	t.Helper()
	_, err := m.authenticate(&module.Params{Role: module.RoleAuthenticate, Session: sess, Request: req})
	require.NoError(t, err)
	_, err = m.authorize(&module.Params{Role: module.RoleAuthorize, Session: sess, Request: req})
	require.NoError(t, err)
}

func TestModuleNoAuthorizationHeaderChallengesDigest(t *testing.T) {
	m := New(lookupDemo, SchemeDigest, nil, nil)
	sess := &fakeSession{id: "conn-1"}
	req := &fakeRequest{method: "DESCRIBE", path: "/cam1"}

	runAuth(t, m, sess, req)

	assert.Equal(t, 401, sess.status)
	assert.Contains(t, sess.headers["WWW-Authenticate"], "Digest")
}

func TestModuleNoAuthorizationHeaderChallengesBasic(t *testing.T) {
	m := New(lookupDemo, SchemeBasic, nil, nil)
	sess := &fakeSession{id: "conn-1"}
	req := &fakeRequest{method: "DESCRIBE", path: "/cam1"}

	runAuth(t, m, sess, req)

	assert.Equal(t, 401, sess.status)
	assert.Contains(t, sess.headers["WWW-Authenticate"], "Basic")
}

func TestModuleValidBasicCredentialsAuthorize(t *testing.T) {
	m := New(lookupDemo, SchemeBasic, nil, nil)
	sess := &fakeSession{id: "conn-1"}
	encoded := base64.StdEncoding.EncodeToString([]byte("demo:demo"))
	req := &fakeRequest{method: "DESCRIBE", path: "/cam1", headers: map[string]string{
		"Authorization": "Basic " + encoded,
	}}

	runAuth(t, m, sess, req)

	assert.False(t, sess.responseSent)
}

func TestModuleWrongBasicCredentialsChallenges(t *testing.T) {
	m := New(lookupDemo, SchemeBasic, nil, nil)
	sess := &fakeSession{id: "conn-1"}
	encoded := base64.StdEncoding.EncodeToString([]byte("demo:wrong"))
	req := &fakeRequest{method: "DESCRIBE", path: "/cam1", headers: map[string]string{
		"Authorization": "Basic " + encoded,
	}}

	runAuth(t, m, sess, req)

	assert.Equal(t, 401, sess.status)
}

func TestModuleValidDigestFirstAttemptAuthorizes(t *testing.T) {
	m := New(lookupDemo, SchemeDigest, nil, nil)
	sess := &fakeSession{id: "conn-1"}
	req := &fakeRequest{method: "DESCRIBE", path: "/cam1"}

	// First round-trip: no Authorization header, get challenged.
	runAuth(t, m, sess, req)
	require.Equal(t, 401, sess.status)
	st := m.state("conn-1")
	nonce, opaque := st.digest.Nonce, st.digest.Opaque
	require.NotEmpty(t, nonce)

	// Second round-trip: answer the challenge with a valid response.
	ha1 := HashA1("demo", Realm, "demo")
	nc := "00000001"
	cnonce := "clientnonce"
	expected := ExpectedDigestResponse(ha1, "DESCRIBE", "/cam1", nonce, nc, cnonce, "auth")
	authz := `Digest username="demo", realm="` + Realm + `", nonce="` + nonce + `", uri="/cam1", ` +
		`response="` + expected + `", opaque="` + opaque + `", qop=auth, nc=` + nc + `, cnonce="` + cnonce + `"`
	sess2 := &fakeSession{id: "conn-1"}
	req2 := &fakeRequest{method: "DESCRIBE", path: "/cam1", headers: map[string]string{"Authorization": authz}}

	runAuth(t, m, sess2, req2)

	assert.False(t, sess2.responseSent)
}

func TestModuleDigestNonceCountReuseChallengesStaleWithSameNonce(t *testing.T) {
	m := New(lookupDemo, SchemeDigest, nil, nil)
	sess := &fakeSession{id: "conn-1"}
	req := &fakeRequest{method: "DESCRIBE", path: "/cam1"}
	runAuth(t, m, sess, req)
	st := m.state("conn-1")
	nonce, opaque := st.digest.Nonce, st.digest.Opaque

	ha1 := HashA1("demo", Realm, "demo")
	nc := "00000001"
	cnonce := "clientnonce"
	expected := ExpectedDigestResponse(ha1, "DESCRIBE", "/cam1", nonce, nc, cnonce, "auth")
	authz := `Digest username="demo", realm="` + Realm + `", nonce="` + nonce + `", uri="/cam1", ` +
		`response="` + expected + `", opaque="` + opaque + `", qop=auth, nc=` + nc + `, cnonce="` + cnonce + `"`

	// First use of nc=1 succeeds.
	sessOK := &fakeSession{id: "conn-1"}
	reqOK := &fakeRequest{method: "DESCRIBE", path: "/cam1", headers: map[string]string{"Authorization": authz}}
	runAuth(t, m, sessOK, reqOK)
	require.False(t, sessOK.responseSent)

	// Reusing the same nc on a second request must be rejected as stale,
	// re-challenging with the same nonce rather than minting a new one.
	sessReplay := &fakeSession{id: "conn-1"}
	reqReplay := &fakeRequest{method: "DESCRIBE", path: "/cam1", headers: map[string]string{"Authorization": authz}}
	runAuth(t, m, sessReplay, reqReplay)

	require.Equal(t, 401, sessReplay.status)
	assert.Contains(t, strings.ToLower(sessReplay.headers["WWW-Authenticate"]), "stale")
	assert.Contains(t, sessReplay.headers["WWW-Authenticate"], nonce)
}

func TestModuleUnknownUserRejected(t *testing.T) {
	m := New(lookupDemo, SchemeBasic, nil, nil)
	sess := &fakeSession{id: "conn-1"}
	encoded := base64.StdEncoding.EncodeToString([]byte("ghost:whatever"))
	req := &fakeRequest{method: "DESCRIBE", path: "/cam1", headers: map[string]string{
		"Authorization": "Basic " + encoded,
	}}

	runAuth(t, m, sess, req)

	assert.Equal(t, 401, sess.status)
}

func TestModuleForgetClearsConnectionState(t *testing.T) {
	m := New(lookupDemo, SchemeDigest, nil, nil)
	sess := &fakeSession{id: "conn-1"}
	req := &fakeRequest{method: "DESCRIBE", path: "/cam1"}
	runAuth(t, m, sess, req)
	firstNonce := m.state("conn-1").digest.Nonce
	require.NotEmpty(t, firstNonce)

	m.Forget("conn-1")

	sess2 := &fakeSession{id: "conn-1"}
	runAuth(t, m, sess2, req)
	secondNonce := m.state("conn-1").digest.Nonce
	assert.NotEqual(t, firstNonce, secondNonce)
}
