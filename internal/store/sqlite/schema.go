package sqlite

import "context"

// schema creates the tables the sync engine needs: main_entity (the
// closure-complete main storage location), temp_entity (the staging table
// for sub-DAGs whose dependencies haven't all landed yet), and
// temp_entity_missing_dependency (one row per still-missing dependency
// edge, carrying the HashJWT needed to download it later).
//
// Missing dependencies are rows, not a serialized blob, because promotion
// works edge-by-edge: when a hash lands in main, its rows are deleted and
// any dependent left with zero rows is flushed to main. Elaboration walks
// the same rows transitively with one recursive query.
//
// There is exactly one schema version in this repository, so it is
// applied directly as a single CREATE-TABLE-IF-NOT-EXISTS pass rather
// than through a numbered migrations framework.
const schema = `
CREATE TABLE IF NOT EXISTS main_entity (
	hash      TEXT PRIMARY KEY,
	kind      TEXT NOT NULL,
	causal_ns TEXT,
	parents   TEXT NOT NULL DEFAULT '[]',
	deps      TEXT NOT NULL DEFAULT '[]',
	body      BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS main_causal (
	hash TEXT PRIMARY KEY REFERENCES main_entity(hash)
);

CREATE TABLE IF NOT EXISTS temp_entity (
	hash      TEXT PRIMARY KEY,
	kind      TEXT NOT NULL,
	causal_ns TEXT,
	parents   TEXT NOT NULL DEFAULT '[]',
	deps      TEXT NOT NULL DEFAULT '[]',
	body      BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS temp_entity_missing_dependency (
	dependent      TEXT NOT NULL REFERENCES temp_entity(hash),
	dependency     TEXT NOT NULL,
	dependency_jwt TEXT NOT NULL,
	PRIMARY KEY (dependent, dependency)
);

CREATE INDEX IF NOT EXISTS idx_temp_missing_dependency
	ON temp_entity_missing_dependency(dependency);

CREATE INDEX IF NOT EXISTS idx_main_entity_kind ON main_entity(kind);
`

// applySchema creates the schema if it doesn't already exist. Safe to
// call on every open.
func applySchema(ctx context.Context, s *Storage) error {
	_, err := s.db.ExecContext(ctx, schema)
	return wrapDBError("apply schema", err)
}
