package push

import (
	"context"
	"fmt"

	"github.com/steveyegge/sharesync/internal/dag"
	"github.com/steveyegge/sharesync/internal/hash"
	"github.com/steveyegge/sharesync/internal/store"
	"github.com/steveyegge/sharesync/internal/transport"
	"github.com/steveyegge/sharesync/internal/upload"
)

// FastForward pushes local as a fast-forward of whatever path currently
// points at. It computes the causal spine between the remote head and
// local in one read, uploads only the head entity (the server requests
// the interior as needed), then asks the server to apply the chain.
func FastForward(ctx context.Context, st upload.Store, tr transport.Transport, path store.Path, local hash.CausalHash, progress upload.ProgressFunc) error {
	headResp, err := tr.GetCausalHashByPath(ctx, path)
	if err != nil {
		return err
	}
	switch headResp.Kind {
	case transport.GetCausalHashByPathNoReadPermission:
		return &NoReadPermissionError{Path: path}
	case transport.GetCausalHashByPathSuccess:
		if !headResp.Found {
			return &NoHistoryError{Path: path}
		}
	default:
		return &NoHistoryError{Path: path}
	}

	remoteHash, err := headResp.HashJWT.Hash()
	if err != nil {
		return err
	}

	localHash := local.Hash32()
	if remoteHash == localHash {
		// The remote head already is local; nothing to push.
		return nil
	}

	interior, ok, err := dag.CausalSpineBetween(ctx, st, remoteHash, localHash)
	if err != nil {
		return err
	}
	if !ok {
		return &NotFastForwardError{Path: path, Remote: remoteHash, Local: localHash}
	}

	// The chain to transmit is the strictly-interior spine plus the new
	// head, oldest-first. An empty interior just means local is remote's
	// direct child, so the chain is [local] alone.
	chain := append(append([]hash.Hash32{}, interior...), localHash)

	if err := upload.Run(ctx, st, tr, path.RepoName, hash.NewSet(localHash), progress); err != nil {
		return err
	}

	resp, err := tr.FastForwardPath(ctx, transport.FastForwardPathRequest{Path: path, ExpectedHash: remoteHash, Hashes: chain})
	if err != nil {
		return err
	}

	switch resp.Kind {
	case transport.FastForwardPathSuccess:
		return nil
	case transport.FastForwardPathMissingDependencies:
		return &ServerMissingDependenciesError{Missing: resp.Missing}
	case transport.FastForwardPathNoHistory:
		return &NoHistoryError{Path: path}
	case transport.FastForwardPathNotFastForward:
		return &NotFastForwardError{Path: path, Remote: remoteHash, Local: localHash}
	case transport.FastForwardPathInvalidParentage:
		return &InvalidParentageError{Parent: resp.Parent, Child: resp.Child}
	case transport.FastForwardPathNoWritePermission:
		return &NoWritePermissionError{Path: path}
	default:
		return fmt.Errorf("push: unrecognized fastForwardPath response kind %d", resp.Kind)
	}
}
