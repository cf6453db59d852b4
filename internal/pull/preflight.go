package pull

import (
	"context"

	"github.com/steveyegge/sharesync/internal/hash"
	"github.com/steveyegge/sharesync/internal/store"
	"github.com/steveyegge/sharesync/internal/transport"
)

// preflightResult carries the outcome of the pull pre-flight step: the
// resolved target hash, whether it's already in main (in which case the
// caller returns immediately without running the pipeline), and the seed
// set of temp hashes to elaborate first.
type preflightResult struct {
	target      hash.Hash32
	alreadyMain bool
	seed        []hash.Hash32
}

func preflight(ctx context.Context, st Store, tr transport.Transport, path store.Path, cb Callbacks) (preflightResult, error) {
	resp, err := tr.GetCausalHashByPath(ctx, path)
	if err != nil {
		return preflightResult{}, err
	}
	switch resp.Kind {
	case transport.GetCausalHashByPathNoReadPermission:
		return preflightResult{}, &NoReadPermissionError{Path: path}
	case transport.GetCausalHashByPathSuccess:
		if !resp.Found {
			return preflightResult{}, &NoHistoryAtPathError{Path: path}
		}
	default:
		return preflightResult{}, &NoHistoryAtPathError{Path: path}
	}

	target, err := resp.HashJWT.Hash()
	if err != nil {
		return preflightResult{}, err
	}

	loc, err := st.EntityLocation(ctx, target)
	if err != nil {
		return preflightResult{}, err
	}

	switch loc {
	case store.Main:
		return preflightResult{target: target, alreadyMain: true}, nil
	case store.Temp:
		return preflightResult{target: target, seed: []hash.Hash32{target}}, nil
	default:
		return downloadHeadSynchronously(ctx, st, tr, path, target, resp.HashJWT, cb)
	}
}

// downloadHeadSynchronously handles pre-flight step 4: the target hash is
// absent locally, so it's fetched directly (outside the pipeline) and run
// through the promotion rule once, seeding the pipeline with whatever
// ended up in temp.
func downloadHeadSynchronously(ctx context.Context, st Store, tr transport.Transport, path store.Path, target hash.Hash32, jwt hash.HashJWT, cb Callbacks) (preflightResult, error) {
	if cb.OnQueuedForDownload != nil {
		cb.OnQueuedForDownload(1)
	}

	resp, err := tr.DownloadEntities(ctx, transport.DownloadEntitiesRequest{RepoName: path.RepoName, Hashes: []hash.HashJWT{jwt}})
	if err != nil {
		return preflightResult{}, err
	}
	if cb.OnDownloaded != nil {
		cb.OnDownloaded(1)
	}

	tx, err := st.Begin(ctx)
	if err != nil {
		return preflightResult{}, err
	}

	var seed []hash.Hash32
	for h, e := range resp.Entities {
		loc, err := promote(ctx, tx, h, e)
		if err != nil {
			_ = tx.Rollback()
			return preflightResult{}, err
		}
		if loc == store.Temp {
			seed = append(seed, h)
		}
	}

	if err := tx.Commit(); err != nil {
		return preflightResult{}, err
	}

	return preflightResult{target: target, seed: seed}, nil
}
