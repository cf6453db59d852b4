// Package store defines the content-addressed entity store the sync engine
// requires: CRUD over causals/objects in main storage, the temp_entity
// staging table for partially-received sub-DAGs, and the
// server-independent "what do we still need?" elaboration step.
//
// Transactions are exclusive per connection; implementations open their own
// connection(s) via a caller-provided Connect callback, and are responsible
// for grouping related mutations into a single transaction.
package store

import (
	"context"
	"errors"

	"github.com/steveyegge/sharesync/internal/entity"
	"github.com/steveyegge/sharesync/internal/hash"
)

// Location is where a Hash32 currently lives. Every Hash32 is in exactly
// one of these three states at any point in time.
type Location int

const (
	// Absent means the hash is not present in any table.
	Absent Location = iota
	// Temp means the hash is staged in temp_entity with a non-empty set of
	// recorded missing dependencies.
	Temp
	// Main means the hash (and, transitively, all of its dependencies) is
	// in main storage.
	Main
)

func (l Location) String() string {
	switch l {
	case Absent:
		return "absent"
	case Temp:
		return "temp"
	case Main:
		return "main"
	default:
		return "unknown"
	}
}

// ErrAbsent is returned by ExpectEntity when the hash is not present in
// main or temp storage.
var ErrAbsent = errors.New("store: hash is absent")

// Store is the set of transactional operations the sync engine requires
// from the surrounding content-addressed store. Implementations must
// uphold the closure-of-main invariant: once an entity lands in Main,
// every dependency it carries is transitively in Main too.
type Store interface {
	// EntityLocation reports where h currently lives.
	EntityLocation(ctx context.Context, h hash.Hash32) (Location, error)

	// EntityExists reports whether h is present in main storage. A hash
	// staged in temp does not "exist" for dependency-tracking purposes:
	// an entity whose dependency is only in temp must itself wait in temp,
	// or the closure-of-main invariant breaks.
	EntityExists(ctx context.Context, h hash.Hash32) (bool, error)

	// ExpectEntity loads the entity at h. Precondition: h is in Main or
	// Temp. Returns ErrAbsent if h is absent.
	ExpectEntity(ctx context.Context, h hash.Hash32) (*entity.Entity, error)

	// SaveTempEntityInMain writes e directly to main storage.
	// Precondition: every dependency of e is already in Main.
	//
	// Landing h in main also promotes any temp rows whose recorded
	// missing-dependency sets become empty as a result, cascading until no
	// further temp row is ready. That flush is what eventually drains temp
	// during a pull: every entity is downloaded exactly once, and its
	// promotion happens as a side effect of its last missing dependency
	// arriving.
	SaveTempEntityInMain(ctx context.Context, h hash.Hash32, e *entity.Entity) error

	// InsertTempEntity stages e in the temp table, recording missing as the
	// (non-empty) map of Hash32 -> HashJWT this entity is still waiting on.
	InsertTempEntity(ctx context.Context, h hash.Hash32, e *entity.Entity, missing map[hash.Hash32]hash.HashJWT) error

	// LoadCausalParentsByHash returns the parents of a causal currently
	// stored locally, or nil if h is a root or not locally known.
	LoadCausalParentsByHash(ctx context.Context, h hash.Hash32) ([]hash.Hash32, error)

	// ElaborateHashes takes a non-empty set of newly inserted temp hashes
	// and returns the dependency HashJWTs that are currently absent
	// (neither Main nor Temp). A missing dependency that is itself staged
	// in temp is not returned — its bytes are already local — but its own
	// recorded missing dependencies are walked transitively, so the result
	// covers everything a pull still has to fetch. May return a superset
	// of strictly-required items but must never omit one.
	ElaborateHashes(ctx context.Context, newlyTemp []hash.Hash32) ([]hash.HashJWT, error)
}

// Beginner is implemented by Store implementations that support grouping
// several mutations into one transaction, so a batch of insertions is
// never visible to another reader half-applied.
type Beginner interface {
	Begin(ctx context.Context) (Tx, error)
}

// Tx is a Store bound to a single in-flight transaction.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}
