// Package hash defines the content-address types shared across the sync
// engine: Hash32 (a 32-byte content address), CausalHash (a Hash32 known to
// address a causal), and HashJWT (a server-signed token binding a Hash32 to
// permission to fetch it).
package hash

import (
	"encoding/hex"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Size is the length in bytes of a content address.
const Size = 32

// Hash32 is a 32-byte content address. The zero value is not a valid hash.
type Hash32 [Size]byte

// String renders h as lowercase hex, the wire representation used by the
// Share protocol.
func (h Hash32) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the zero hash (used as a "no value" sentinel
// in a few call sites; never a legitimate content address).
func (h Hash32) IsZero() bool {
	return h == Hash32{}
}

// ParseHash32 decodes a 64-character lowercase hex string into a Hash32.
func ParseHash32(s string) (Hash32, error) {
	var h Hash32
	if len(s) != Size*2 {
		return h, fmt.Errorf("hash: wrong length %d, want %d", len(s), Size*2)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("hash: decode: %w", err)
	}
	copy(h[:], b)
	return h, nil
}

// CausalHash is a Hash32 known (by construction or by the caller's context)
// to address a causal rather than an object. It carries no extra runtime
// state; the distinction is purely at the type level to keep causal-only
// APIs (BFS, fast-forward) from accepting arbitrary object hashes.
type CausalHash Hash32

// String renders c as lowercase hex.
func (c CausalHash) String() string {
	return Hash32(c).String()
}

// Hash32 returns the underlying content address.
func (c CausalHash) Hash32() Hash32 {
	return Hash32(c)
}

// hashClaims is the minimal JWT claim set the Share server embeds in a
// HashJWT: the addressed Hash32 rendered as hex, under the "h" claim.
type hashClaims struct {
	Hash string `json:"h"`
	jwt.RegisteredClaims
}

// HashJWT is an opaque, server-signed token binding a Hash32 to the
// bearer's permission to fetch it. The embedded hash is extractable locally
// without verifying the signature: the client never holds the server's
// signing key, so HashJWTs are consumed opaquely and trusted only because
// they arrived over an authenticated connection.
type HashJWT string

// Hash extracts the Hash32 embedded in j without verifying the token's
// signature. This is intentional: the client has no way to verify Share's
// signing key. The extracted Hash32 is what the local store keys entities
// by; the token itself is never used as a storage key.
func (j HashJWT) Hash() (Hash32, error) {
	parser := jwt.NewParser()
	var claims hashClaims
	if _, _, err := parser.ParseUnverified(string(j), &claims); err != nil {
		return Hash32{}, fmt.Errorf("hashjwt: parse: %w", err)
	}
	return ParseHash32(claims.Hash)
}

// Set is a small unordered collection of Hash32, used throughout the store
// and transport interfaces (missing-dependency sets, elaboration results).
type Set map[Hash32]struct{}

// NewSet builds a Set from a slice of Hash32.
func NewSet(hs ...Hash32) Set {
	s := make(Set, len(hs))
	for _, h := range hs {
		s[h] = struct{}{}
	}
	return s
}

// Add inserts h into s.
func (s Set) Add(h Hash32) { s[h] = struct{}{} }

// Has reports whether h is in s.
func (s Set) Has(h Hash32) bool {
	_, ok := s[h]
	return ok
}

// Slice returns the elements of s in unspecified order.
func (s Set) Slice() []Hash32 {
	out := make([]Hash32, 0, len(s))
	for h := range s {
		out = append(out, h)
	}
	return out
}

// Union merges other into s in place.
func (s Set) Union(other Set) {
	for h := range other {
		s[h] = struct{}{}
	}
}

// JWTSet is an unordered collection of HashJWT. Unlike Hash32, a HashJWT
// is never used as a storage identity key (the same hash can arrive under
// many distinct tokens), so membership is keyed by the embedded hash and
// duplicate tokens for the same hash collapse to one.
type JWTSet struct {
	byHash map[Hash32]HashJWT
}

// NewJWTSet builds an empty JWTSet.
func NewJWTSet() *JWTSet {
	return &JWTSet{byHash: make(map[Hash32]HashJWT)}
}

// Add inserts j, keyed by its embedded hash so duplicate JWTs for the same
// hash don't double-count. Returns an error if j cannot be parsed.
func (s *JWTSet) Add(j HashJWT) error {
	h, err := j.Hash()
	if err != nil {
		return err
	}
	if _, exists := s.byHash[h]; !exists {
		s.byHash[h] = j
	}
	return nil
}

// Len returns the number of distinct hashes represented.
func (s *JWTSet) Len() int { return len(s.byHash) }

// IsEmpty reports whether the set has no members.
func (s *JWTSet) IsEmpty() bool { return len(s.byHash) == 0 }

// Has reports whether h has a JWT in the set.
func (s *JWTSet) Has(h Hash32) bool {
	_, ok := s.byHash[h]
	return ok
}

// Slice returns the member JWTs in unspecified order.
func (s *JWTSet) Slice() []HashJWT {
	out := make([]HashJWT, 0, len(s.byHash))
	for _, j := range s.byHash {
		out = append(out, j)
	}
	return out
}

// Hashes returns the Hash32 of every member, in unspecified order.
func (s *JWTSet) Hashes() []Hash32 {
	out := make([]Hash32, 0, len(s.byHash))
	for h := range s.byHash {
		out = append(out, h)
	}
	return out
}

// Take removes and returns up to n members, leaving the remainder in s.
// Used by the pull dispatcher to split a set into batches of at most 50.
func (s *JWTSet) Take(n int) []HashJWT {
	out := make([]HashJWT, 0, n)
	for h, j := range s.byHash {
		if len(out) >= n {
			break
		}
		out = append(out, j)
		delete(s.byHash, h)
	}
	return out
}
