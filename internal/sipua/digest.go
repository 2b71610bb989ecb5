package sipua

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/icholy/digest"
)

// AuthState tracks one in-progress digest challenge/response exchange for
// either the registration or the call dialog, per spec.md's DATA MODEL.
type AuthState struct {
	Realm  string
	Nonce  string
	Qop    string
	Opaque string

	// Nc is the hex nonce-count, incremented once per retry against the
	// same nonce.
	Nc int
	// Cnonce is refreshed on every retry.
	Cnonce string

	// Retries counts responses to a challenge already sent; spec.md's
	// retry budget is two attempts per authenticated request.
	Retries int
}

// MaxAuthRetries is the retry budget spec.md §4.1 assigns to any single
// digest-authenticated request.
const MaxAuthRetries = 2

// Challenge updates the auth state from a freshly received
// WWW-Authenticate/Proxy-Authenticate header and returns false once the
// retry budget is exhausted.
func (a *AuthState) Challenge(c Challenge) bool {
	if a.Retries >= MaxAuthRetries {
		return false
	}
	if c.Nonce != a.Nonce {
		a.Nc = 0
	}
	a.Realm = c.Realm
	a.Nonce = c.Nonce
	a.Qop = c.Qop
	a.Opaque = c.Opaque
	a.Nc++
	a.Retries++
	a.Cnonce = newCnonce()
	return true
}

func newCnonce() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "00000000000000000000000000000000"
	}
	return hex.EncodeToString(b)
}

// Authorization computes the Authorization (or Proxy-Authorization) header
// value for the given method/URI/credentials, per RFC 2617 §3.2.2 via
// github.com/icholy/digest — the same MD5 engine emiago-diago and
// flowpbx-flowpbx use, here driven from the UAC side: we are the one
// computing a response to send, not the one verifying one we received.
func (a *AuthState) Authorization(method Method, uri, username, password string) (string, error) {
	chal := &digest.Challenge{
		Realm:     a.Realm,
		Nonce:     a.Nonce,
		Opaque:    a.Opaque,
		Algorithm: "MD5",
	}
	if a.Qop != "" {
		chal.Qop = "auth"
	}

	cred, err := digest.Digest(chal, digest.Options{
		Method:   string(method),
		URI:      uri,
		Count:    a.Nc,
		Cnonce:   a.Cnonce,
		Username: username,
		Password: password,
	})
	if err != nil {
		return "", fmt.Errorf("compute digest: %w", err)
	}
	return cred.String(), nil
}

// computeResponse implements RFC 2617's MD5 digest formula directly;
// digest_test.go checks it against the exact vector in spec.md §8. The
// Authorization headers the agent sends are built by icholy/digest, not by
// this function.
func computeResponse(user, realm, pass, nonce, nc, cnonce, qop, method, uri string) string {
	ha1 := md5hex(user + ":" + realm + ":" + pass)
	ha2 := md5hex(method + ":" + uri)
	if qop == "auth" {
		return md5hex(ha1 + ":" + nonce + ":" + nc + ":" + cnonce + ":" + qop + ":" + ha2)
	}
	return md5hex(ha1 + ":" + nonce + ":" + ha2)
}
