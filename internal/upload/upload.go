// Package upload implements the batch upload loop shared by both push
// flavors: check-and-set and fast-forward.
package upload

import (
	"context"
	"fmt"

	"github.com/steveyegge/sharesync/internal/entity"
	"github.com/steveyegge/sharesync/internal/hash"
	"github.com/steveyegge/sharesync/internal/store"
	"github.com/steveyegge/sharesync/internal/transport"
)

// ProgressFunc reports (uploaded, remaining) after each batch.
type ProgressFunc func(uploaded, remaining int)

// Store is the subset of the surrounding store the upload loop needs:
// the full Store contract plus transaction support, since loadBatch
// loads every entity in a batch inside a single transaction.
type Store interface {
	store.Store
	store.Beginner
}

// NoWritePermissionError is returned when the server rejects an upload
// batch outright; no further batches are attempted.
type NoWritePermissionError struct {
	RepoName string
}

func (e *NoWritePermissionError) Error() string {
	return fmt.Sprintf("upload: no write permission for repo %q", e.RepoName)
}

// HashMismatchForEntityError is returned when the server reports the
// content it computed for an uploaded entity does not match the hash the
// client claimed.
type HashMismatchForEntityError struct {
	Hash     hash.Hash32
	Expected hash.Hash32
	Actual   hash.Hash32
}

func (e *HashMismatchForEntityError) Error() string {
	return fmt.Sprintf("upload: hash mismatch for entity %s: expected %s, server computed %s", e.Hash, e.Expected, e.Actual)
}

// Run drives the shared upload loop: while the residual hash set is
// non-empty, split off up to transport.MaxBatchSize hashes, load each
// from the store in one transaction, and call UploadEntities. A
// NeedDependencies response unions more hashes into the residual set
// rather than ending the loop — the client imposes no iteration cap,
// trusting the server's dependency DAG to be acyclic and finite.
func Run(ctx context.Context, st Store, tr transport.Transport, repoName string, residual hash.Set, progress ProgressFunc) error {
	uploaded := 0

	for len(residual) > 0 {
		batch := takeBatch(residual, transport.MaxBatchSize)

		entities, err := loadBatch(ctx, st, batch)
		if err != nil {
			return err
		}

		resp, err := tr.UploadEntities(ctx, transport.UploadEntitiesRequest{RepoName: repoName, Entities: entities})
		if err != nil {
			return err
		}

		switch resp.Kind {
		case transport.UploadEntitiesSuccess:
			uploaded += len(batch)
			if progress != nil {
				progress(uploaded, len(residual))
			}
			if len(residual) == 0 {
				return nil
			}
		case transport.UploadEntitiesNeedDependencies:
			residual.Union(resp.Need)
			if progress != nil {
				progress(uploaded, len(residual))
			}
		case transport.UploadEntitiesNoWritePermission:
			return &NoWritePermissionError{RepoName: repoName}
		case transport.UploadEntitiesHashMismatchForEntity:
			return &HashMismatchForEntityError{Hash: resp.MismatchHash, Expected: resp.Expected, Actual: resp.Actual}
		default:
			return fmt.Errorf("upload: unrecognized response kind %d", resp.Kind)
		}
	}

	if progress != nil {
		progress(uploaded, 0)
	}
	return nil
}

func takeBatch(residual hash.Set, n int) []hash.Hash32 {
	batch := make([]hash.Hash32, 0, n)
	for h := range residual {
		if len(batch) >= n {
			break
		}
		batch = append(batch, h)
		delete(residual, h)
	}
	return batch
}

// loadBatch loads every entity in batch inside a single transaction, so a
// concurrent writer can never be observed mutating the store halfway
// through a batch read.
func loadBatch(ctx context.Context, st Store, batch []hash.Hash32) (map[hash.Hash32]*entity.Entity, error) {
	tx, err := st.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("upload: begin load tx: %w", err)
	}

	out := make(map[hash.Hash32]*entity.Entity, len(batch))
	for _, h := range batch {
		e, err := tx.ExpectEntity(ctx, h)
		if err != nil {
			_ = tx.Rollback()
			return nil, fmt.Errorf("upload: load %s: %w", h, err)
		}
		out[h] = e
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("upload: commit load tx: %w", err)
	}
	return out, nil
}
