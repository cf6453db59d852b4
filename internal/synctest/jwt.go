// Package synctest provides shared test fixtures for the sync engine's
// packages: an in-memory store.Store/store.Beginner implementation and a
// scriptable transport.Transport fake, plus a helper to mint HashJWTs
// whose embedded hash round-trips through HashJWT.Hash(). Exercised by
// the dag, upload, push, pull, engine, and sqlite test suites, keeping one
// shared fixtures file per subsystem instead of copy-pasting fakes into
// every _test.go.
package synctest

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/steveyegge/sharesync/internal/hash"
)

type testClaims struct {
	Hash string `json:"h"`
	jwt.RegisteredClaims
}

// MintJWT returns a HashJWT embedding h, signed with an arbitrary HMAC key.
// HashJWT.Hash() uses jwt.ParseUnverified and never checks the signature
// (see internal/hash doc comment), so any key produces a token the client
// accepts.
func MintJWT(h hash.Hash32) hash.HashJWT {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, testClaims{Hash: h.String()})
	signed, err := token.SignedString([]byte("synctest-signing-key"))
	if err != nil {
		panic("synctest: mint jwt: " + err.Error())
	}
	return hash.HashJWT(signed)
}

// FakeHash derives a deterministic, distinct-per-seed Hash32, for tests
// that need many hashes without caring about their content.
func FakeHash(seed int) hash.Hash32 {
	var h hash.Hash32
	for i := range h {
		h[i] = byte(seed>>uint(8*(i%4))) ^ byte(i)
	}
	return h
}
