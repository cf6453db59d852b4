// Package entity defines the fully-parsed payloads the sync engine moves
// between stores: causals, namespaces, terms, types, patches, and byte
// blobs, each tagged by kind and carrying zero or more dependency
// references as HashJWTs.
package entity

import (
	"fmt"

	"github.com/steveyegge/sharesync/internal/hash"
)

// Kind tags the variety of entity a payload represents.
type Kind string

const (
	KindCausal    Kind = "causal"
	KindNamespace Kind = "namespace"
	KindTerm      Kind = "term"
	KindType      Kind = "type"
	KindPatch     Kind = "patch"
	KindBytes     Kind = "bytes"
)

// Entity is a fully parsed payload: a kind tag, its dependency references
// (as HashJWTs — never raw Hash32, since a HashJWT also carries the
// server's grant to fetch that dependency), and an opaque body.
//
// Invariant: Dependencies() returns exactly the set of Hash32s that must be
// present somewhere in the store before this entity may be promoted to
// main storage.
type Entity struct {
	Kind     Kind
	CausalNS hash.Hash32 // namespace hash; meaningful only when Kind == KindCausal
	Parents  []hash.Hash32
	Deps     []hash.HashJWT
	Body     []byte
}

// Dependencies returns the set of HashJWTs this entity depends on. For a
// causal, that's its namespace plus its parent causals, carried as JWTs
// exactly as deps for any other entity kind; for object kinds, it is
// whatever dependency list the payload encoded.
func (e *Entity) Dependencies() []hash.HashJWT {
	return e.Deps
}

// Validate checks that an entity is internally well-formed before it is
// handed to the store (e.g. a causal must carry a namespace hash).
func (e *Entity) Validate() error {
	switch e.Kind {
	case KindCausal, KindNamespace, KindTerm, KindType, KindPatch, KindBytes:
	default:
		return fmt.Errorf("entity: unknown kind %q", e.Kind)
	}
	if e.Kind == KindCausal && e.CausalNS.IsZero() {
		return fmt.Errorf("entity: causal missing namespace hash")
	}
	return nil
}
