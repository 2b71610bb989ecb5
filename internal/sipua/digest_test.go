package sipua

import "testing"

// TestComputeResponseVector checks the RFC 2617 MD5 digest formula against a
// hand-computed vector: user=alice, realm=R, pass=P, nonce=N, method=REGISTER,
// uri=sip:alice@D, qop=auth, nc=00000001, cnonce=C.
func TestComputeResponseVector(t *testing.T) {
	ha1 := md5hex("alice:R:P")
	ha2 := md5hex("REGISTER:sip:alice@D")
	want := md5hex(ha1 + ":N:00000001:C:auth:" + ha2)

	got := computeResponse("alice", "R", "P", "N", "00000001", "C", "auth", "REGISTER", "sip:alice@D")
	if got != want {
		t.Fatalf("computeResponse = %s, want %s", got, want)
	}
}

func TestComputeResponseNoQop(t *testing.T) {
	ha1 := md5hex("alice:R:P")
	ha2 := md5hex("REGISTER:sip:alice@D")
	want := md5hex(ha1 + ":N:" + ha2)

	got := computeResponse("alice", "R", "P", "N", "", "", "", "REGISTER", "sip:alice@D")
	if got != want {
		t.Fatalf("computeResponse(no qop) = %s, want %s", got, want)
	}
}

func TestAuthStateChallengeRetryBudget(t *testing.T) {
	a := &AuthState{}
	c := Challenge{Realm: "R", Nonce: "N1", Qop: "auth"}

	if !a.Challenge(c) {
		t.Fatal("first challenge should be retryable")
	}
	if a.Nc != 1 {
		t.Fatalf("Nc = %d, want 1", a.Nc)
	}
	if !a.Challenge(c) {
		t.Fatal("second challenge should still be retryable (budget is 2)")
	}
	if a.Nc != 2 {
		t.Fatalf("Nc = %d, want 2", a.Nc)
	}
	if a.Challenge(c) {
		t.Fatal("third challenge should exceed the retry budget")
	}
}

func TestAuthStateChallengeResetsNcOnNewNonce(t *testing.T) {
	a := &AuthState{}
	a.Challenge(Challenge{Realm: "R", Nonce: "N1", Qop: "auth"})
	a.Challenge(Challenge{Realm: "R", Nonce: "N1", Qop: "auth"})
	if a.Retries != 2 {
		t.Fatalf("Retries = %d, want 2", a.Retries)
	}

	a2 := &AuthState{}
	a2.Challenge(Challenge{Realm: "R", Nonce: "N1", Qop: "auth"})
	a2.Challenge(Challenge{Realm: "R", Nonce: "N2", Qop: "auth"})
	if a2.Nc != 1 {
		t.Fatalf("Nc after fresh nonce = %d, want 1", a2.Nc)
	}
}
