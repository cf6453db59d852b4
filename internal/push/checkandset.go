package push

import (
	"context"
	"fmt"

	"github.com/steveyegge/sharesync/internal/hash"
	"github.com/steveyegge/sharesync/internal/store"
	"github.com/steveyegge/sharesync/internal/transport"
	"github.com/steveyegge/sharesync/internal/upload"
)

// CheckAndSet pushes local to path, enforcing expectedHash as a
// compare-and-swap precondition. On MissingDependencies, it runs the
// upload loop once and retries updatePath exactly once; a second
// MissingDependencies is a distinguished ServerMissingDependencies error
// rather than a further retry loop.
func CheckAndSet(ctx context.Context, st upload.Store, tr transport.Transport, path store.Path, expectedHash *hash.Hash32, local hash.CausalHash, progress upload.ProgressFunc) error {
	newHash := local.Hash32()

	resp, err := tr.UpdatePath(ctx, transport.UpdatePathRequest{Path: path, ExpectedHash: expectedHash, NewHash: newHash})
	if err != nil {
		return err
	}

	switch resp.Kind {
	case transport.UpdatePathSuccess:
		return nil
	case transport.UpdatePathHashMismatch:
		return &HashMismatchError{Path: path, Expected: resp.Expected, Actual: resp.Actual}
	case transport.UpdatePathNoWritePermission:
		return &NoWritePermissionError{Path: path}
	case transport.UpdatePathMissingDependencies:
		// fall through to the upload-and-retry sequence below
	default:
		return fmt.Errorf("push: unrecognized updatePath response kind %d", resp.Kind)
	}

	residual := resp.Missing
	if err := upload.Run(ctx, st, tr, path.RepoName, residual, progress); err != nil {
		return err
	}

	retry, err := tr.UpdatePath(ctx, transport.UpdatePathRequest{Path: path, ExpectedHash: expectedHash, NewHash: newHash})
	if err != nil {
		return err
	}

	switch retry.Kind {
	case transport.UpdatePathSuccess:
		return nil
	case transport.UpdatePathHashMismatch:
		return &HashMismatchError{Path: path, Expected: retry.Expected, Actual: retry.Actual}
	case transport.UpdatePathMissingDependencies:
		return &ServerMissingDependenciesError{Missing: retry.Missing}
	case transport.UpdatePathNoWritePermission:
		return &NoWritePermissionError{Path: path}
	default:
		return fmt.Errorf("push: unrecognized updatePath response kind %d", retry.Kind)
	}
}
