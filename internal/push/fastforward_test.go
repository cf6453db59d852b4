package push_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/sharesync/internal/entity"
	"github.com/steveyegge/sharesync/internal/hash"
	"github.com/steveyegge/sharesync/internal/push"
	"github.com/steveyegge/sharesync/internal/store"
	"github.com/steveyegge/sharesync/internal/synctest"
	"github.com/steveyegge/sharesync/internal/transport"
)

func putCausalFF(t *testing.T, st *synctest.MemStore, h hash.Hash32, parents ...hash.Hash32) {
	t.Helper()
	require.NoError(t, st.SaveTempEntityInMain(context.Background(), h, &entity.Entity{
		Kind:     entity.KindCausal,
		CausalNS: hash.Hash32{1},
		Parents:  parents,
	}))
}

func headResponse(t *testing.T, remote hash.Hash32) *transport.GetCausalHashByPathResponse {
	t.Helper()
	return &transport.GetCausalHashByPathResponse{
		Kind:    transport.GetCausalHashByPathSuccess,
		Found:   true,
		HashJWT: synctest.MintJWT(remote),
	}
}

func TestFastForwardNoReadPermission(t *testing.T) {
	st := synctest.NewMemStore()
	tr := &synctest.FakeTransport{
		GetCausalHashByPathFunc: func(context.Context, store.Path) (*transport.GetCausalHashByPathResponse, error) {
			return &transport.GetCausalHashByPathResponse{Kind: transport.GetCausalHashByPathNoReadPermission}, nil
		},
	}
	err := push.FastForward(context.Background(), st, tr, testPath(), hash.CausalHash(synctest.FakeHash(1)), nil)
	var permErr *push.NoReadPermissionError
	require.ErrorAs(t, err, &permErr)
}

func TestFastForwardNoHistoryWhenPathUnset(t *testing.T) {
	st := synctest.NewMemStore()
	tr := &synctest.FakeTransport{
		GetCausalHashByPathFunc: func(context.Context, store.Path) (*transport.GetCausalHashByPathResponse, error) {
			return &transport.GetCausalHashByPathResponse{Kind: transport.GetCausalHashByPathSuccess, Found: false}, nil
		},
	}
	err := push.FastForward(context.Background(), st, tr, testPath(), hash.CausalHash(synctest.FakeHash(1)), nil)
	var noHistErr *push.NoHistoryError
	require.ErrorAs(t, err, &noHistErr)
}

func TestFastForwardNoopWhenLocalAlreadyEqualsRemote(t *testing.T) {
	st := synctest.NewMemStore()
	h := synctest.FakeHash(1)
	putCausalFF(t, st, h)

	tr := &synctest.FakeTransport{
		GetCausalHashByPathFunc: func(context.Context, store.Path) (*transport.GetCausalHashByPathResponse, error) {
			return headResponse(t, h), nil
		},
	}

	err := push.FastForward(context.Background(), st, tr, testPath(), hash.CausalHash(h), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, tr.CallCount("FastForwardPath"))
	assert.Equal(t, 0, tr.CallCount("UploadEntities"))
}

func TestFastForwardNotAnAncestorIsRejectedLocally(t *testing.T) {
	st := synctest.NewMemStore()
	remote := synctest.FakeHash(1)
	unrelated := synctest.FakeHash(2)
	putCausalFF(t, st, remote)
	putCausalFF(t, st, unrelated)

	tr := &synctest.FakeTransport{
		GetCausalHashByPathFunc: func(context.Context, store.Path) (*transport.GetCausalHashByPathResponse, error) {
			return headResponse(t, remote), nil
		},
	}

	err := push.FastForward(context.Background(), st, tr, testPath(), hash.CausalHash(unrelated), nil)
	var notFF *push.NotFastForwardError
	require.ErrorAs(t, err, &notFF)
	assert.Equal(t, 0, tr.CallCount("FastForwardPath"))
}

func TestFastForwardAppliesInteriorChainAndUploadsHead(t *testing.T) {
	st := synctest.NewMemStore()
	remote := synctest.FakeHash(1)
	mid := synctest.FakeHash(2)
	local := synctest.FakeHash(3)
	putCausalFF(t, st, remote)
	putCausalFF(t, st, mid, remote)
	putCausalFF(t, st, local, mid)

	tr := &synctest.FakeTransport{
		GetCausalHashByPathFunc: func(context.Context, store.Path) (*transport.GetCausalHashByPathResponse, error) {
			return headResponse(t, remote), nil
		},
		UploadEntitiesFunc: func(_ context.Context, req transport.UploadEntitiesRequest) (*transport.UploadEntitiesResponse, error) {
			assert.Contains(t, req.Entities, local)
			return &transport.UploadEntitiesResponse{Kind: transport.UploadEntitiesSuccess}, nil
		},
		FastForwardPathFunc: func(_ context.Context, req transport.FastForwardPathRequest) (*transport.FastForwardPathResponse, error) {
			assert.Equal(t, remote, req.ExpectedHash)
			assert.Equal(t, []hash.Hash32{mid, local}, req.Hashes)
			return &transport.FastForwardPathResponse{Kind: transport.FastForwardPathSuccess}, nil
		},
	}

	err := push.FastForward(context.Background(), st, tr, testPath(), hash.CausalHash(local), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, tr.CallCount("UploadEntities"))
	assert.Equal(t, 1, tr.CallCount("FastForwardPath"))
}

func TestFastForwardServerReportsMissingDependencies(t *testing.T) {
	st := synctest.NewMemStore()
	remote := synctest.FakeHash(1)
	local := synctest.FakeHash(2)
	putCausalFF(t, st, remote)
	putCausalFF(t, st, local, remote)

	missing := hash.NewSet(synctest.FakeHash(9))
	tr := &synctest.FakeTransport{
		GetCausalHashByPathFunc: func(context.Context, store.Path) (*transport.GetCausalHashByPathResponse, error) {
			return headResponse(t, remote), nil
		},
		UploadEntitiesFunc: func(context.Context, transport.UploadEntitiesRequest) (*transport.UploadEntitiesResponse, error) {
			return &transport.UploadEntitiesResponse{Kind: transport.UploadEntitiesSuccess}, nil
		},
		FastForwardPathFunc: func(context.Context, transport.FastForwardPathRequest) (*transport.FastForwardPathResponse, error) {
			return &transport.FastForwardPathResponse{Kind: transport.FastForwardPathMissingDependencies, Missing: missing}, nil
		},
	}

	err := push.FastForward(context.Background(), st, tr, testPath(), hash.CausalHash(local), nil)
	var stillErr *push.ServerMissingDependenciesError
	require.ErrorAs(t, err, &stillErr)
	assert.Equal(t, missing, stillErr.Missing)
}

func TestFastForwardInvalidParentage(t *testing.T) {
	st := synctest.NewMemStore()
	remote := synctest.FakeHash(1)
	local := synctest.FakeHash(2)
	putCausalFF(t, st, remote)
	putCausalFF(t, st, local, remote)
	parent, child := synctest.FakeHash(7), synctest.FakeHash(8)

	tr := &synctest.FakeTransport{
		GetCausalHashByPathFunc: func(context.Context, store.Path) (*transport.GetCausalHashByPathResponse, error) {
			return headResponse(t, remote), nil
		},
		UploadEntitiesFunc: func(context.Context, transport.UploadEntitiesRequest) (*transport.UploadEntitiesResponse, error) {
			return &transport.UploadEntitiesResponse{Kind: transport.UploadEntitiesSuccess}, nil
		},
		FastForwardPathFunc: func(context.Context, transport.FastForwardPathRequest) (*transport.FastForwardPathResponse, error) {
			return &transport.FastForwardPathResponse{Kind: transport.FastForwardPathInvalidParentage, Parent: parent, Child: child}, nil
		},
	}

	err := push.FastForward(context.Background(), st, tr, testPath(), hash.CausalHash(local), nil)
	var invalidErr *push.InvalidParentageError
	require.ErrorAs(t, err, &invalidErr)
	assert.Equal(t, parent, invalidErr.Parent)
	assert.Equal(t, child, invalidErr.Child)
}
