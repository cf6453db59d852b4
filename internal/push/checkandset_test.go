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

func testPath() store.Path {
	return store.NewPath("repo", "a", "b")
}

func TestCheckAndSetSuccess(t *testing.T) {
	st := synctest.NewMemStore()
	local := hash.CausalHash(synctest.FakeHash(1))

	tr := &synctest.FakeTransport{
		UpdatePathFunc: func(_ context.Context, req transport.UpdatePathRequest) (*transport.UpdatePathResponse, error) {
			assert.Equal(t, local.Hash32(), req.NewHash)
			return &transport.UpdatePathResponse{Kind: transport.UpdatePathSuccess}, nil
		},
	}

	err := push.CheckAndSet(context.Background(), st, tr, testPath(), nil, local, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, tr.CallCount("UpdatePath"))
}

func TestCheckAndSetHashMismatch(t *testing.T) {
	st := synctest.NewMemStore()
	local := hash.CausalHash(synctest.FakeHash(1))
	expected := synctest.FakeHash(2)
	actual := synctest.FakeHash(3)

	tr := &synctest.FakeTransport{
		UpdatePathFunc: func(context.Context, transport.UpdatePathRequest) (*transport.UpdatePathResponse, error) {
			return &transport.UpdatePathResponse{Kind: transport.UpdatePathHashMismatch, Expected: expected, Actual: actual}, nil
		},
	}

	err := push.CheckAndSet(context.Background(), st, tr, testPath(), &expected, local, nil)
	var mismatch *push.HashMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, expected, mismatch.Expected)
	assert.Equal(t, actual, mismatch.Actual)
}

func TestCheckAndSetNoWritePermission(t *testing.T) {
	st := synctest.NewMemStore()
	local := hash.CausalHash(synctest.FakeHash(1))

	tr := &synctest.FakeTransport{
		UpdatePathFunc: func(context.Context, transport.UpdatePathRequest) (*transport.UpdatePathResponse, error) {
			return &transport.UpdatePathResponse{Kind: transport.UpdatePathNoWritePermission}, nil
		},
	}

	err := push.CheckAndSet(context.Background(), st, tr, testPath(), nil, local, nil)
	var permErr *push.NoWritePermissionError
	require.ErrorAs(t, err, &permErr)
}

func TestCheckAndSetMissingDependenciesUploadsThenRetriesSuccessfully(t *testing.T) {
	st := synctest.NewMemStore()
	localHash := synctest.FakeHash(1)
	local := hash.CausalHash(localHash)
	require.NoError(t, st.SaveTempEntityInMain(context.Background(), localHash, &entity.Entity{Kind: entity.KindBytes}))

	updateCalls := 0
	tr := &synctest.FakeTransport{
		UpdatePathFunc: func(context.Context, transport.UpdatePathRequest) (*transport.UpdatePathResponse, error) {
			updateCalls++
			if updateCalls == 1 {
				return &transport.UpdatePathResponse{Kind: transport.UpdatePathMissingDependencies, Missing: hash.NewSet(localHash)}, nil
			}
			return &transport.UpdatePathResponse{Kind: transport.UpdatePathSuccess}, nil
		},
		UploadEntitiesFunc: func(context.Context, transport.UploadEntitiesRequest) (*transport.UploadEntitiesResponse, error) {
			return &transport.UploadEntitiesResponse{Kind: transport.UploadEntitiesSuccess}, nil
		},
	}

	err := push.CheckAndSet(context.Background(), st, tr, testPath(), nil, local, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, updateCalls)
	assert.Equal(t, 1, tr.CallCount("UploadEntities"))
}

func TestCheckAndSetMissingDependenciesPersistsOnRetry(t *testing.T) {
	st := synctest.NewMemStore()
	localHash := synctest.FakeHash(1)
	local := hash.CausalHash(localHash)
	require.NoError(t, st.SaveTempEntityInMain(context.Background(), localHash, &entity.Entity{Kind: entity.KindBytes}))

	stillMissing := hash.NewSet(synctest.FakeHash(2))
	updateCalls := 0
	tr := &synctest.FakeTransport{
		UpdatePathFunc: func(context.Context, transport.UpdatePathRequest) (*transport.UpdatePathResponse, error) {
			updateCalls++
			if updateCalls == 1 {
				return &transport.UpdatePathResponse{Kind: transport.UpdatePathMissingDependencies, Missing: hash.NewSet(localHash)}, nil
			}
			return &transport.UpdatePathResponse{Kind: transport.UpdatePathMissingDependencies, Missing: stillMissing}, nil
		},
		UploadEntitiesFunc: func(context.Context, transport.UploadEntitiesRequest) (*transport.UploadEntitiesResponse, error) {
			return &transport.UploadEntitiesResponse{Kind: transport.UploadEntitiesSuccess}, nil
		},
	}

	err := push.CheckAndSet(context.Background(), st, tr, testPath(), nil, local, nil)
	var stillErr *push.ServerMissingDependenciesError
	require.ErrorAs(t, err, &stillErr)
	assert.Equal(t, stillMissing, stillErr.Missing)
	assert.Equal(t, 2, updateCalls)
}
