// Package sqlite implements the store.Store interface on top of
// database/sql, using the ncruces/go-sqlite3 driver (a WASM-compiled
// SQLite with no cgo dependency).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/steveyegge/sharesync/internal/entity"
	"github.com/steveyegge/sharesync/internal/hash"
	"github.com/steveyegge/sharesync/internal/store"
)

// execer is satisfied by both *sql.DB and *sql.Tx, letting every query
// below run either standalone or inside a caller-managed transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Storage is a store.Store backed by a SQLite database.
type Storage struct {
	db     *sql.DB
	logger *slog.Logger
}

// ConnectOption configures Connect.
type ConnectOption func(*connectOptions)

type connectOptions struct {
	logger         *slog.Logger
	maxElapsedTime time.Duration
}

// WithLogger attaches a logger to the returned Storage and to Connect's
// own retry diagnostics. A nil or unset logger defaults to slog.Default().
func WithLogger(logger *slog.Logger) ConnectOption {
	return func(o *connectOptions) { o.logger = logger }
}

// WithMaxElapsedTime overrides how long Connect retries a locked database
// before giving up (default 5s).
func WithMaxElapsedTime(d time.Duration) ConnectOption {
	return func(o *connectOptions) { o.maxElapsedTime = d }
}

// Connect opens (creating if needed) the SQLite database at dsn and
// applies the schema. Connection setup retries on transient "database is
// locked" errors with exponential backoff. This is connection-level
// retry only — it has nothing to do with retrying a failed sync call,
// which the core never does on its own.
func Connect(ctx context.Context, dsn string, opts ...ConnectOption) (*Storage, error) {
	options := connectOptions{maxElapsedTime: 5 * time.Second}
	for _, opt := range opts {
		opt(&options)
	}
	logger := options.logger
	if logger == nil {
		logger = slog.Default()
	}

	var db *sql.DB

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = options.maxElapsedTime

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		opened, err := sql.Open("sqlite3", dsn)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("sqlite: open: %w", err))
		}
		if pingErr := opened.PingContext(ctx); pingErr != nil {
			_ = opened.Close()
			if isBusy(pingErr) {
				logger.Warn("sqlite: connect retrying after busy database", "dsn", dsn, "attempt", attempt)
				return pingErr // retryable — backoff will retry
			}
			return backoff.Permanent(fmt.Errorf("sqlite: ping: %w", pingErr))
		}
		db = opened
		return nil
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		logger.Error("sqlite: connect failed", "dsn", dsn, "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(1) // SQLite: one writer at a time, matches temp_entity's single-writer contract

	s := &Storage{db: db, logger: logger}
	if err := applySchema(ctx, s); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Debug("sqlite: connected", "dsn", dsn, "attempts", attempt)
	return s, nil
}

func isBusy(err error) bool {
	return err != nil && (containsAny(err.Error(), "database is locked", "SQLITE_BUSY"))
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if len(s) >= len(sub) {
			for i := 0; i+len(sub) <= len(s); i++ {
				if s[i:i+len(sub)] == sub {
					return true
				}
			}
		}
	}
	return false
}

// Close closes the underlying database handle.
func (s *Storage) Close() error {
	return s.db.Close()
}

// Tx is a store.Store bound to a single in-flight transaction. The
// inserter role in the pull pipeline uses this to promote every entity in
// a downloaded batch atomically, so no observer ever sees a partial
// batch land in main.
type Tx struct {
	tx *sql.Tx
}

// Begin starts a new transaction, returned as a store.Tx so Storage
// satisfies store.Beginner.
func (s *Storage) Begin(ctx context.Context) (store.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapDBError("begin tx", err)
	}
	return &Tx{tx: tx}, nil
}

// Commit commits the transaction.
func (t *Tx) Commit() error { return wrapDBError("commit", t.tx.Commit()) }

// Rollback aborts the transaction. Safe to call after Commit.
func (t *Tx) Rollback() error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return wrapDBError("rollback", err)
}

var _ store.Store = (*Storage)(nil)
var _ store.Store = (*Tx)(nil)
var _ store.Beginner = (*Storage)(nil)
var _ store.Tx = (*Tx)(nil)

// --- store.Store, implemented once against the execer interface and
// forwarded by both Storage (auto-commit) and Tx (caller-managed) ---

func (s *Storage) EntityLocation(ctx context.Context, h hash.Hash32) (store.Location, error) {
	return entityLocation(ctx, s.db, h)
}
func (t *Tx) EntityLocation(ctx context.Context, h hash.Hash32) (store.Location, error) {
	return entityLocation(ctx, t.tx, h)
}

func entityLocation(ctx context.Context, q execer, h hash.Hash32) (store.Location, error) {
	var exists int
	row := q.QueryRowContext(ctx, `SELECT 1 FROM main_entity WHERE hash = ?`, h.String())
	if err := row.Scan(&exists); err == nil {
		return store.Main, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return store.Absent, wrapDBError("entity location (main)", err)
	}

	row = q.QueryRowContext(ctx, `SELECT 1 FROM temp_entity WHERE hash = ?`, h.String())
	if err := row.Scan(&exists); err == nil {
		return store.Temp, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return store.Absent, wrapDBError("entity location (temp)", err)
	}

	return store.Absent, nil
}

func (s *Storage) EntityExists(ctx context.Context, h hash.Hash32) (bool, error) {
	return entityExists(ctx, s.db, h)
}
func (t *Tx) EntityExists(ctx context.Context, h hash.Hash32) (bool, error) {
	return entityExists(ctx, t.tx, h)
}

// entityExists checks main storage only. A temp-resident hash does not
// count: an entity whose dependency is still in temp must itself stay in
// temp, or promoting it would break the closure-of-main invariant.
func entityExists(ctx context.Context, q execer, h hash.Hash32) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM main_entity WHERE hash = ?`, h.String()).Scan(&one)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, wrapDBError("entity exists", err)
}

func (s *Storage) ExpectEntity(ctx context.Context, h hash.Hash32) (*entity.Entity, error) {
	return expectEntity(ctx, s.db, h)
}
func (t *Tx) ExpectEntity(ctx context.Context, h hash.Hash32) (*entity.Entity, error) {
	return expectEntity(ctx, t.tx, h)
}

func expectEntity(ctx context.Context, q execer, h hash.Hash32) (*entity.Entity, error) {
	r, err := selectRow(ctx, q, "main_entity", h)
	if err == nil {
		return rowToEntity(*r)
	}
	if !isNotFound(err) {
		return nil, err
	}
	r, err = selectRow(ctx, q, "temp_entity", h)
	if err != nil {
		if isNotFound(err) {
			return nil, store.ErrAbsent
		}
		return nil, err
	}
	return rowToEntity(*r)
}

func selectRow(ctx context.Context, q execer, table string, h hash.Hash32) (*row, error) {
	query := fmt.Sprintf(`SELECT kind, causal_ns, parents, deps, body FROM %s WHERE hash = ?`, table)
	var kind string
	var ns sql.NullString
	var parentsJSON, depsJSON string
	var body []byte
	err := q.QueryRowContext(ctx, query, h.String()).Scan(&kind, &ns, &parentsJSON, &depsJSON, &body)
	if err != nil {
		return nil, wrapDBError("select "+table, err)
	}
	parents, err := unmarshalStrings(parentsJSON)
	if err != nil {
		return nil, err
	}
	deps, err := unmarshalStrings(depsJSON)
	if err != nil {
		return nil, err
	}
	r := &row{Hash: h, Kind: entity.Kind(kind), Parents: parents, Deps: deps, Body: body}
	if ns.Valid {
		r.CausalNS = &ns.String
	}
	return r, nil
}

func (s *Storage) SaveTempEntityInMain(ctx context.Context, h hash.Hash32, e *entity.Entity) error {
	return saveTempEntityInMain(ctx, s.db, h, e)
}
func (t *Tx) SaveTempEntityInMain(ctx context.Context, h hash.Hash32, e *entity.Entity) error {
	return saveTempEntityInMain(ctx, t.tx, h, e)
}

func saveTempEntityInMain(ctx context.Context, q execer, h hash.Hash32, e *entity.Entity) error {
	r, err := toRow(h, e)
	if err != nil {
		return err
	}
	parentsJSON, err := marshalStrings(r.Parents)
	if err != nil {
		return err
	}
	depsJSON, err := marshalStrings(r.Deps)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO main_entity (hash, kind, causal_ns, parents, deps, body)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (hash) DO NOTHING
	`, h.String(), string(r.Kind), r.CausalNS, parentsJSON, depsJSON, r.Body)
	if err != nil {
		return wrapDBError("save entity to main", err)
	}

	if e.Kind == entity.KindCausal {
		_, err = q.ExecContext(ctx, `INSERT INTO main_causal (hash) VALUES (?) ON CONFLICT (hash) DO NOTHING`, h.String())
		if err != nil {
			return wrapDBError("save causal marker", err)
		}
	}

	_, err = q.ExecContext(ctx, `DELETE FROM temp_entity WHERE hash = ?`, h.String())
	if err != nil {
		return wrapDBError("delete promoted temp row", err)
	}
	_, err = q.ExecContext(ctx, `DELETE FROM temp_entity_missing_dependency WHERE dependent = ?`, h.String())
	if err != nil {
		return wrapDBError("delete promoted temp row deps", err)
	}

	return flushTempDependents(ctx, q, h)
}

// flushTempDependents runs the cascade half of promotion: h just landed in
// main, so every temp row waiting on it loses that edge, and any row left
// with an empty missing set is itself moved to main (which recurses into
// its own dependents). The dependency DAG is acyclic and finite, so the
// recursion terminates.
func flushTempDependents(ctx context.Context, q execer, h hash.Hash32) error {
	rows, err := q.QueryContext(ctx,
		`SELECT DISTINCT dependent FROM temp_entity_missing_dependency WHERE dependency = ?`, h.String())
	if err != nil {
		return wrapDBError("flush: list dependents", err)
	}
	var dependents []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			_ = rows.Close()
			return wrapDBError("flush: scan dependent", err)
		}
		dependents = append(dependents, d)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return wrapDBError("flush: iterate dependents", err)
	}
	_ = rows.Close()

	if _, err := q.ExecContext(ctx,
		`DELETE FROM temp_entity_missing_dependency WHERE dependency = ?`, h.String()); err != nil {
		return wrapDBError("flush: delete satisfied edges", err)
	}

	for _, d := range dependents {
		var remaining int
		err := q.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM temp_entity_missing_dependency WHERE dependent = ?`, d).Scan(&remaining)
		if err != nil {
			return wrapDBError("flush: count remaining edges", err)
		}
		if remaining > 0 {
			continue
		}
		dh, err := hash.ParseHash32(d)
		if err != nil {
			return fmt.Errorf("flush: parse dependent: %w", err)
		}
		r, err := selectRow(ctx, q, "temp_entity", dh)
		if err != nil {
			if isNotFound(err) {
				continue // promoted by an earlier branch of this cascade
			}
			return err
		}
		ent, err := rowToEntity(*r)
		if err != nil {
			return err
		}
		if err := saveTempEntityInMain(ctx, q, dh, ent); err != nil {
			return err
		}
	}
	return nil
}

func (s *Storage) InsertTempEntity(ctx context.Context, h hash.Hash32, e *entity.Entity, missing map[hash.Hash32]hash.HashJWT) error {
	return insertTempEntity(ctx, s.db, h, e, missing)
}
func (t *Tx) InsertTempEntity(ctx context.Context, h hash.Hash32, e *entity.Entity, missing map[hash.Hash32]hash.HashJWT) error {
	return insertTempEntity(ctx, t.tx, h, e, missing)
}

func insertTempEntity(ctx context.Context, q execer, h hash.Hash32, e *entity.Entity, missing map[hash.Hash32]hash.HashJWT) error {
	if len(missing) == 0 {
		return fmt.Errorf("store: insertTempEntity requires a non-empty missing set")
	}
	r, err := toRow(h, e)
	if err != nil {
		return err
	}
	parentsJSON, err := marshalStrings(r.Parents)
	if err != nil {
		return err
	}
	depsJSON, err := marshalStrings(r.Deps)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO temp_entity (hash, kind, causal_ns, parents, deps, body)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (hash) DO NOTHING
	`, h.String(), string(r.Kind), r.CausalNS, parentsJSON, depsJSON, r.Body)
	if err != nil {
		return wrapDBError("insert temp entity", err)
	}

	// Refresh the edge rows wholesale so a re-insert of the same hash
	// (e.g. a pull resumed after an interrupt) records the current view of
	// what's missing.
	if _, err := q.ExecContext(ctx,
		`DELETE FROM temp_entity_missing_dependency WHERE dependent = ?`, h.String()); err != nil {
		return wrapDBError("insert temp entity: clear edges", err)
	}
	for depHash, jwt := range missing {
		_, err := q.ExecContext(ctx, `
			INSERT INTO temp_entity_missing_dependency (dependent, dependency, dependency_jwt)
			VALUES (?, ?, ?)
		`, h.String(), depHash.String(), string(jwt))
		if err != nil {
			return wrapDBError("insert temp entity: edge", err)
		}
	}
	return nil
}

func (s *Storage) LoadCausalParentsByHash(ctx context.Context, h hash.Hash32) ([]hash.Hash32, error) {
	return loadCausalParentsByHash(ctx, s.db, h)
}
func (t *Tx) LoadCausalParentsByHash(ctx context.Context, h hash.Hash32) ([]hash.Hash32, error) {
	return loadCausalParentsByHash(ctx, t.tx, h)
}

func loadCausalParentsByHash(ctx context.Context, q execer, h hash.Hash32) ([]hash.Hash32, error) {
	r, err := selectRow(ctx, q, "main_entity", h)
	if err != nil && !isNotFound(err) {
		return nil, err
	}
	if err != nil {
		r, err = selectRow(ctx, q, "temp_entity", h)
		if err != nil {
			if isNotFound(err) {
				return nil, nil
			}
			return nil, err
		}
	}
	parents := make([]hash.Hash32, 0, len(r.Parents))
	for _, p := range r.Parents {
		ph, err := hash.ParseHash32(p)
		if err != nil {
			return nil, fmt.Errorf("store: parse parent: %w", err)
		}
		parents = append(parents, ph)
	}
	return parents, nil
}

func (s *Storage) ElaborateHashes(ctx context.Context, newlyTemp []hash.Hash32) ([]hash.HashJWT, error) {
	return elaborateHashes(ctx, s.db, newlyTemp)
}
func (t *Tx) ElaborateHashes(ctx context.Context, newlyTemp []hash.Hash32) ([]hash.HashJWT, error) {
	return elaborateHashes(ctx, t.tx, newlyTemp)
}

// elaborateHashes answers "what do we still need?" without talking to the
// server. One recursive query walks the missing-dependency edges out from
// the newly inserted temp hashes: an edge to a dependency that is itself
// in temp recurses into that row's own missing edges (its bytes are
// already local, so it is never re-downloaded), and only dependencies
// absent from both tables are returned, each with the JWT recorded when
// its dependent was staged.
func elaborateHashes(ctx context.Context, q execer, newlyTemp []hash.Hash32) ([]hash.HashJWT, error) {
	if len(newlyTemp) == 0 {
		return nil, fmt.Errorf("store: elaborateHashes requires a non-empty set")
	}

	placeholders := make([]byte, 0, 2*len(newlyTemp))
	args := make([]any, 0, len(newlyTemp))
	for i, h := range newlyTemp {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args = append(args, h.String())
	}

	query := fmt.Sprintf(`
		WITH RECURSIVE elaborated (dep, jwt) AS (
			SELECT dependency, dependency_jwt
			FROM temp_entity_missing_dependency
			WHERE dependent IN (%s)
			UNION
			SELECT t.dependency, t.dependency_jwt
			FROM temp_entity_missing_dependency t
			JOIN elaborated e ON t.dependent = e.dep
		)
		SELECT dep, jwt FROM elaborated
		WHERE NOT EXISTS (SELECT 1 FROM temp_entity te WHERE te.hash = elaborated.dep)
		  AND NOT EXISTS (SELECT 1 FROM main_entity me WHERE me.hash = elaborated.dep)
	`, placeholders)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("elaborate", err)
	}
	defer func() { _ = rows.Close() }()

	seen := make(map[hash.Hash32]struct{})
	var out []hash.HashJWT
	for rows.Next() {
		var dep, jwt string
		if err := rows.Scan(&dep, &jwt); err != nil {
			return nil, wrapDBError("elaborate: scan", err)
		}
		depHash, err := hash.ParseHash32(dep)
		if err != nil {
			return nil, fmt.Errorf("elaborate: parse dependency: %w", err)
		}
		if _, dup := seen[depHash]; dup {
			continue
		}
		seen[depHash] = struct{}{}
		out = append(out, hash.HashJWT(jwt))
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDBError("elaborate: iterate", err)
	}
	return out, nil
}
