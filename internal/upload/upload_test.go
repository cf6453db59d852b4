package upload_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/sharesync/internal/entity"
	"github.com/steveyegge/sharesync/internal/hash"
	"github.com/steveyegge/sharesync/internal/synctest"
	"github.com/steveyegge/sharesync/internal/transport"
	"github.com/steveyegge/sharesync/internal/upload"
)

func putBytes(t *testing.T, st *synctest.MemStore, h hash.Hash32) {
	t.Helper()
	err := st.SaveTempEntityInMain(context.Background(), h, &entity.Entity{Kind: entity.KindBytes, Body: []byte("x")})
	require.NoError(t, err)
}

func TestRunSingleBatchSuccess(t *testing.T) {
	st := synctest.NewMemStore()
	h := synctest.FakeHash(1)
	putBytes(t, st, h)

	var progressed []int
	tr := &synctest.FakeTransport{
		UploadEntitiesFunc: func(_ context.Context, req transport.UploadEntitiesRequest) (*transport.UploadEntitiesResponse, error) {
			assert.Len(t, req.Entities, 1)
			return &transport.UploadEntitiesResponse{Kind: transport.UploadEntitiesSuccess}, nil
		},
	}

	err := upload.Run(context.Background(), st, tr, "repo", hash.NewSet(h), func(uploaded, remaining int) {
		progressed = append(progressed, uploaded)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, tr.CallCount("UploadEntities"))
	assert.Equal(t, []int{1}, progressed)
}

func TestRunNeedDependenciesExpandsResidualAndContinues(t *testing.T) {
	st := synctest.NewMemStore()
	want, dep := synctest.FakeHash(1), synctest.FakeHash(2)
	putBytes(t, st, want)
	putBytes(t, st, dep)

	calls := 0
	tr := &synctest.FakeTransport{
		UploadEntitiesFunc: func(_ context.Context, req transport.UploadEntitiesRequest) (*transport.UploadEntitiesResponse, error) {
			calls++
			if calls == 1 {
				assert.Contains(t, req.Entities, want)
				return &transport.UploadEntitiesResponse{Kind: transport.UploadEntitiesNeedDependencies, Need: hash.NewSet(dep)}, nil
			}
			assert.Contains(t, req.Entities, dep)
			return &transport.UploadEntitiesResponse{Kind: transport.UploadEntitiesSuccess}, nil
		},
	}

	err := upload.Run(context.Background(), st, tr, "repo", hash.NewSet(want), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRunNoWritePermissionStopsImmediately(t *testing.T) {
	st := synctest.NewMemStore()
	h := synctest.FakeHash(1)
	putBytes(t, st, h)

	tr := &synctest.FakeTransport{
		UploadEntitiesFunc: func(context.Context, transport.UploadEntitiesRequest) (*transport.UploadEntitiesResponse, error) {
			return &transport.UploadEntitiesResponse{Kind: transport.UploadEntitiesNoWritePermission, RepoName: "repo"}, nil
		},
	}

	err := upload.Run(context.Background(), st, tr, "repo", hash.NewSet(h), nil)
	var permErr *upload.NoWritePermissionError
	require.ErrorAs(t, err, &permErr)
	assert.Equal(t, "repo", permErr.RepoName)
	assert.Equal(t, 1, tr.CallCount("UploadEntities"))
}

func TestRunHashMismatchStopsImmediately(t *testing.T) {
	st := synctest.NewMemStore()
	h := synctest.FakeHash(1)
	expected, actual := synctest.FakeHash(10), synctest.FakeHash(11)
	putBytes(t, st, h)

	tr := &synctest.FakeTransport{
		UploadEntitiesFunc: func(context.Context, transport.UploadEntitiesRequest) (*transport.UploadEntitiesResponse, error) {
			return &transport.UploadEntitiesResponse{
				Kind:         transport.UploadEntitiesHashMismatchForEntity,
				MismatchHash: h,
				Expected:     expected,
				Actual:       actual,
			}, nil
		},
	}

	err := upload.Run(context.Background(), st, tr, "repo", hash.NewSet(h), nil)
	var mismatchErr *upload.HashMismatchForEntityError
	require.ErrorAs(t, err, &mismatchErr)
	assert.Equal(t, h, mismatchErr.Hash)
	assert.Equal(t, expected, mismatchErr.Expected)
	assert.Equal(t, actual, mismatchErr.Actual)
}

func TestRunSplitsIntoMaxBatchSizeChunks(t *testing.T) {
	st := synctest.NewMemStore()
	residual := make(hash.Set)
	const total = transport.MaxBatchSize + 10
	for i := 0; i < total; i++ {
		h := synctest.FakeHash(i + 1)
		putBytes(t, st, h)
		residual.Add(h)
	}

	var batchSizes []int
	tr := &synctest.FakeTransport{
		UploadEntitiesFunc: func(_ context.Context, req transport.UploadEntitiesRequest) (*transport.UploadEntitiesResponse, error) {
			batchSizes = append(batchSizes, len(req.Entities))
			assert.LessOrEqual(t, len(req.Entities), transport.MaxBatchSize)
			return &transport.UploadEntitiesResponse{Kind: transport.UploadEntitiesSuccess}, nil
		},
	}

	var lastUploaded int
	err := upload.Run(context.Background(), st, tr, "repo", residual, func(uploaded, remaining int) {
		lastUploaded = uploaded
	})
	require.NoError(t, err)
	assert.Equal(t, 2, tr.CallCount("UploadEntities"))
	assert.Equal(t, total, lastUploaded)
	assert.ElementsMatch(t, []int{transport.MaxBatchSize, 10}, batchSizes)
}

func TestRunEmptyResidualIsANoOp(t *testing.T) {
	st := synctest.NewMemStore()
	tr := &synctest.FakeTransport{}

	err := upload.Run(context.Background(), st, tr, "repo", hash.NewSet(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, tr.CallCount("UploadEntities"))
}
