package synctest

import (
	"context"
	"fmt"
	"sync"

	"github.com/steveyegge/sharesync/internal/entity"
	"github.com/steveyegge/sharesync/internal/hash"
	"github.com/steveyegge/sharesync/internal/store"
)

type tempRow struct {
	entity  *entity.Entity
	missing map[hash.Hash32]hash.HashJWT
}

// MemStore is an in-memory store.Store + store.Beginner, standing in for
// the SQLite implementation in tests. Begin returns a *MemTx that mutates
// the same underlying maps directly (no real isolation) — sufficient for
// exercising the pull pipeline and upload loop's transaction boundaries
// without a real database.
type MemStore struct {
	mu   sync.Mutex
	main map[hash.Hash32]*entity.Entity
	temp map[hash.Hash32]tempRow
}

// NewMemStore builds an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		main: make(map[hash.Hash32]*entity.Entity),
		temp: make(map[hash.Hash32]tempRow),
	}
}

func (s *MemStore) EntityLocation(_ context.Context, h hash.Hash32) (store.Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.main[h]; ok {
		return store.Main, nil
	}
	if _, ok := s.temp[h]; ok {
		return store.Temp, nil
	}
	return store.Absent, nil
}

// EntityExists checks main only, matching the SQLite implementation: a
// temp-resident dependency still counts as missing for promotion purposes.
func (s *MemStore) EntityExists(_ context.Context, h hash.Hash32) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.main[h]
	return ok, nil
}

func (s *MemStore) ExpectEntity(_ context.Context, h hash.Hash32) (*entity.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.main[h]; ok {
		return e, nil
	}
	if r, ok := s.temp[h]; ok {
		return r.entity, nil
	}
	return nil, store.ErrAbsent
}

func (s *MemStore) SaveTempEntityInMain(_ context.Context, h hash.Hash32, e *entity.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promoteLocked(h, e)
	return nil
}

// promoteLocked writes h to main and cascades: any temp row whose missing
// set empties as a result is itself promoted, recursively. Caller holds mu.
func (s *MemStore) promoteLocked(h hash.Hash32, e *entity.Entity) {
	s.main[h] = e
	delete(s.temp, h)

	var ready []hash.Hash32
	for dh, r := range s.temp {
		if _, waiting := r.missing[h]; waiting {
			delete(r.missing, h)
			if len(r.missing) == 0 {
				ready = append(ready, dh)
			}
		}
	}
	for _, dh := range ready {
		if r, ok := s.temp[dh]; ok {
			s.promoteLocked(dh, r.entity)
		}
	}
}

func (s *MemStore) InsertTempEntity(_ context.Context, h hash.Hash32, e *entity.Entity, missing map[hash.Hash32]hash.HashJWT) error {
	if len(missing) == 0 {
		return fmt.Errorf("synctest: insertTempEntity requires non-empty missing")
	}
	copied := make(map[hash.Hash32]hash.HashJWT, len(missing))
	for dh, j := range missing {
		copied[dh] = j
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.temp[h] = tempRow{entity: e, missing: copied}
	return nil
}

func (s *MemStore) LoadCausalParentsByHash(_ context.Context, h hash.Hash32) ([]hash.Hash32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.main[h]; ok {
		return e.Parents, nil
	}
	if r, ok := s.temp[h]; ok {
		return r.entity.Parents, nil
	}
	return nil, nil
}

// ElaborateHashes walks missing-dependency edges transitively: a missing
// dependency that is itself in temp is recursed into rather than returned
// (its bytes are already local), and only truly absent hashes come back.
func (s *MemStore) ElaborateHashes(_ context.Context, newlyTemp []hash.Hash32) ([]hash.HashJWT, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[hash.Hash32]struct{})
	walked := make(map[hash.Hash32]struct{})
	var out []hash.HashJWT

	var walk func(th hash.Hash32)
	walk = func(th hash.Hash32) {
		if _, done := walked[th]; done {
			return
		}
		walked[th] = struct{}{}
		r, ok := s.temp[th]
		if !ok {
			return
		}
		for depHash, jwt := range r.missing {
			if _, dup := seen[depHash]; dup {
				continue
			}
			seen[depHash] = struct{}{}
			if _, inMain := s.main[depHash]; inMain {
				continue
			}
			if _, inTemp := s.temp[depHash]; inTemp {
				walk(depHash)
				continue
			}
			out = append(out, jwt)
		}
	}
	for _, h := range newlyTemp {
		walk(h)
	}
	return out, nil
}

// Begin returns a store.Tx bound to the same underlying maps as s.
func (s *MemStore) Begin(context.Context) (store.Tx, error) {
	return &memTx{s: s}, nil
}

// MainCount reports how many entities currently live in main storage.
func (s *MemStore) MainCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.main)
}

// HasMain reports whether h is in main storage.
func (s *MemStore) HasMain(h hash.Hash32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.main[h]
	return ok
}

// TempCount reports how many entities currently live in temp storage.
func (s *MemStore) TempCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.temp)
}

var _ store.Store = (*MemStore)(nil)
var _ store.Beginner = (*MemStore)(nil)

// memTx forwards every operation straight to the backing MemStore; there
// is no real transaction isolation, only the Commit/Rollback shape the
// pull pipeline's inserter and elaborator require.
type memTx struct {
	s *MemStore
}

func (t *memTx) EntityLocation(ctx context.Context, h hash.Hash32) (store.Location, error) {
	return t.s.EntityLocation(ctx, h)
}
func (t *memTx) EntityExists(ctx context.Context, h hash.Hash32) (bool, error) {
	return t.s.EntityExists(ctx, h)
}
func (t *memTx) ExpectEntity(ctx context.Context, h hash.Hash32) (*entity.Entity, error) {
	return t.s.ExpectEntity(ctx, h)
}
func (t *memTx) SaveTempEntityInMain(ctx context.Context, h hash.Hash32, e *entity.Entity) error {
	return t.s.SaveTempEntityInMain(ctx, h, e)
}
func (t *memTx) InsertTempEntity(ctx context.Context, h hash.Hash32, e *entity.Entity, missing map[hash.Hash32]hash.HashJWT) error {
	return t.s.InsertTempEntity(ctx, h, e, missing)
}
func (t *memTx) LoadCausalParentsByHash(ctx context.Context, h hash.Hash32) ([]hash.Hash32, error) {
	return t.s.LoadCausalParentsByHash(ctx, h)
}
func (t *memTx) ElaborateHashes(ctx context.Context, newlyTemp []hash.Hash32) ([]hash.HashJWT, error) {
	return t.s.ElaborateHashes(ctx, newlyTemp)
}
func (t *memTx) Commit() error   { return nil }
func (t *memTx) Rollback() error { return nil }

var _ store.Tx = (*memTx)(nil)
