// Package auth implements Basic and Digest authentication for the
// Authenticate/Authorize roles. The challenge/credential
// parsing shape is grounded on flowpbx-flowpbx's
// internal/sip/auth.go Authenticator, which uses the same
// github.com/icholy/digest library for SIP digest auth; here it drives
// RTSP's Authorization/WWW-Authenticate headers instead, and — unlike
// the SIP authenticator, which has the plaintext password available —
// the RTSP Authenticate module returns only a pre-hashed credential
// (H(user:realm:password) for Digest, a possibly one-way-hashed
// password for Basic), so the response digest itself is computed here
// rather than through digest.Digest's plaintext-password path.
//
// Nonce and nonce-count state is not kept by the helpers in this file:
// Module (module.go) keeps it per RTSP connection, since it must
// survive across requests on the same connection. This file holds
// stateless helpers plus a nonce generator.
package auth

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/icholy/digest"
)

const Realm = "streaming"

// GenerateNonce returns a fresh random nonce for a WWW-Authenticate
// challenge, grounded on flowpbx's Authenticator.generateNonce.
func GenerateNonce() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return hex.EncodeToString([]byte(fmt.Sprintf("%d", len(b))))
	}
	return hex.EncodeToString(b)
}

// md5hex is the RFC 2617 H() function.
func md5hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashA1 computes H(user:realm:password); this is what the
// Authenticate module is expected to return and store, never the
// plaintext password.
func HashA1(user, realm, password string) string {
	return md5hex(fmt.Sprintf("%s:%s:%s", user, realm, password))
}

// Challenge builds the WWW-Authenticate header value for a fresh
// Digest challenge. stale is set on a nonce-count-reuse re-challenge.
func Challenge(nonce, opaque string, stale bool) string {
	chal := digest.Challenge{
		Realm:     Realm,
		Nonce:     nonce,
		Opaque:    opaque,
		Algorithm: "MD5",
		QOP:       "auth",
		Stale:     stale,
	}
	return chal.String()
}

// BasicChallenge builds the WWW-Authenticate header value for Basic.
func BasicChallenge() string {
	return fmt.Sprintf(`Basic realm="%s"`, Realm)
}

// Credentials is the parsed Authorization: Digest header.
type Credentials struct {
	Username string
	Realm    string
	Nonce    string
	URI      string
	Response string
	CNonce   string
	NC       string
	QOP      string
}

// ParseDigestCredentials parses an Authorization header value carrying
// a Digest response.
func ParseDigestCredentials(header string) (*Credentials, error) {
	cred, err := digest.ParseCredentials(header)
	if err != nil {
		return nil, fmt.Errorf("parse digest credentials: %w", err)
	}
	return &Credentials{
		Username: cred.Username,
		Realm:    cred.Realm,
		Nonce:    cred.Nonce,
		URI:      cred.URI,
		Response: cred.Response,
		CNonce:   cred.Cnonce,
		NC:       cred.Nc,
		QOP:      cred.QOP,
	}, nil
}

// ExpectedDigestResponse computes H(H(A1):nonce:[nc:cnonce:qop:]H(A2))
// per RFC 2617, where H(A1) is ha1 (as returned by the
// Authenticate module) and A2 = method:uri.
func ExpectedDigestResponse(ha1, method, uri, nonce, nc, cnonce, qop string) string {
	ha2 := md5hex(fmt.Sprintf("%s:%s", method, uri))
	if qop == "auth" || qop == "auth-int" {
		return md5hex(fmt.Sprintf("%s:%s:%s:%s:%s:%s", ha1, nonce, nc, cnonce, qop, ha2))
	}
	return md5hex(fmt.Sprintf("%s:%s:%s", ha1, nonce, ha2))
}

// BasicCompare reports whether supplied, after applying hash, matches
// expectedHash.
func BasicCompare(expectedHash, supplied string, hash func(string) string) bool {
	return hash(supplied) == expectedHash
}

// DecodeBasic splits a decoded "user:password" Basic payload.
func DecodeBasic(decoded string) (user, password string, ok bool) {
	for i := 0; i < len(decoded); i++ {
		if decoded[i] == ':' {
			return decoded[:i], decoded[i+1:], true
		}
	}
	return "", "", false
}
