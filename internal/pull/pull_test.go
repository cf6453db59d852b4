package pull_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/sharesync/internal/entity"
	"github.com/steveyegge/sharesync/internal/hash"
	"github.com/steveyegge/sharesync/internal/pull"
	"github.com/steveyegge/sharesync/internal/store"
	"github.com/steveyegge/sharesync/internal/synctest"
	"github.com/steveyegge/sharesync/internal/transport"
)

func testPath() store.Path {
	return store.NewPath("repo", "a", "b")
}

// TestPullEmptyPath: getCausalHashByPath returns success with no hash, so
// pull must fail with NoHistoryAtPathError and never call
// downloadEntities.
func TestPullEmptyPath(t *testing.T) {
	st := synctest.NewMemStore()
	tr := &synctest.FakeTransport{
		GetCausalHashByPathFunc: func(context.Context, store.Path) (*transport.GetCausalHashByPathResponse, error) {
			return &transport.GetCausalHashByPathResponse{Kind: transport.GetCausalHashByPathSuccess, Found: false}, nil
		},
	}

	_, err := pull.Pull(context.Background(), st, tr, testPath(), pull.Callbacks{})
	var noHist *pull.NoHistoryAtPathError
	require.ErrorAs(t, err, &noHist)
	assert.Equal(t, 0, tr.CallCount("DownloadEntities"))
}

// TestPullAlreadySynced: the head hash is already in main, so pull
// returns it immediately with zero downloads.
func TestPullAlreadySynced(t *testing.T) {
	st := synctest.NewMemStore()
	h := synctest.FakeHash(1)
	require.NoError(t, st.SaveTempEntityInMain(context.Background(), h, &entity.Entity{
		Kind:     entity.KindCausal,
		CausalNS: hash.Hash32{1},
	}))

	tr := &synctest.FakeTransport{
		GetCausalHashByPathFunc: func(context.Context, store.Path) (*transport.GetCausalHashByPathResponse, error) {
			return &transport.GetCausalHashByPathResponse{
				Kind: transport.GetCausalHashByPathSuccess, Found: true, HashJWT: synctest.MintJWT(h),
			}, nil
		},
	}

	got, err := pull.Pull(context.Background(), st, tr, testPath(), pull.Callbacks{})
	require.NoError(t, err)
	assert.Equal(t, h, got)
	assert.Equal(t, 0, tr.CallCount("DownloadEntities"))
}

// TestPullThreeEntityChain: the server holds A -> B -> C (A depends on B
// depends on C), the local store is empty,
// and pull must land all three in main with no temp rows left over,
// requiring at least two rounds of downloadEntities (A first, then B/C
// once elaboration discovers them).
func TestPullThreeEntityChain(t *testing.T) {
	st := synctest.NewMemStore()

	a, b, c := synctest.FakeHash(1), synctest.FakeHash(2), synctest.FakeHash(3)
	jB, jC := synctest.MintJWT(b), synctest.MintJWT(c)

	entities := map[hash.Hash32]*entity.Entity{
		a: {Kind: entity.KindCausal, CausalNS: hash.Hash32{9}, Deps: []hash.HashJWT{jB}},
		b: {Kind: entity.KindCausal, CausalNS: hash.Hash32{9}, Deps: []hash.HashJWT{jC}},
		c: {Kind: entity.KindCausal, CausalNS: hash.Hash32{9}},
	}

	tr := &synctest.FakeTransport{
		GetCausalHashByPathFunc: func(context.Context, store.Path) (*transport.GetCausalHashByPathResponse, error) {
			return &transport.GetCausalHashByPathResponse{
				Kind: transport.GetCausalHashByPathSuccess, Found: true, HashJWT: synctest.MintJWT(a),
			}, nil
		},
		DownloadEntitiesFunc: func(_ context.Context, req transport.DownloadEntitiesRequest) (*transport.DownloadEntitiesResponse, error) {
			out := make(map[hash.Hash32]*entity.Entity, len(req.Hashes))
			for _, j := range req.Hashes {
				h, err := j.Hash()
				require.NoError(t, err)
				e, ok := entities[h]
				require.True(t, ok, "unexpected download request for %s", h)
				out[h] = e
			}
			return &transport.DownloadEntitiesResponse{Entities: out}, nil
		},
	}

	got, err := pull.Pull(context.Background(), st, tr, testPath(), pull.Callbacks{})
	require.NoError(t, err)
	assert.Equal(t, a, got)

	assert.True(t, st.HasMain(a))
	assert.True(t, st.HasMain(b))
	assert.True(t, st.HasMain(c))
	assert.Equal(t, 0, st.TempCount())
	assert.GreaterOrEqual(t, tr.CallCount("DownloadEntities"), 2)
}

// TestPullIsIdempotent: the second pull of the same path performs zero
// downloads and leaves the store unchanged.
func TestPullIsIdempotent(t *testing.T) {
	st := synctest.NewMemStore()

	a, b := synctest.FakeHash(1), synctest.FakeHash(2)
	entities := map[hash.Hash32]*entity.Entity{
		a: {Kind: entity.KindCausal, CausalNS: hash.Hash32{9}, Deps: []hash.HashJWT{synctest.MintJWT(b)}},
		b: {Kind: entity.KindBytes, Body: []byte("leaf")},
	}

	tr := &synctest.FakeTransport{
		GetCausalHashByPathFunc: func(context.Context, store.Path) (*transport.GetCausalHashByPathResponse, error) {
			return &transport.GetCausalHashByPathResponse{
				Kind: transport.GetCausalHashByPathSuccess, Found: true, HashJWT: synctest.MintJWT(a),
			}, nil
		},
		DownloadEntitiesFunc: func(_ context.Context, req transport.DownloadEntitiesRequest) (*transport.DownloadEntitiesResponse, error) {
			out := make(map[hash.Hash32]*entity.Entity, len(req.Hashes))
			for _, j := range req.Hashes {
				h, err := j.Hash()
				require.NoError(t, err)
				out[h] = entities[h]
			}
			return &transport.DownloadEntitiesResponse{Entities: out}, nil
		},
	}

	_, err := pull.Pull(context.Background(), st, tr, testPath(), pull.Callbacks{})
	require.NoError(t, err)
	downloadsAfterFirst := tr.CallCount("DownloadEntities")
	mainAfterFirst := st.MainCount()

	got, err := pull.Pull(context.Background(), st, tr, testPath(), pull.Callbacks{})
	require.NoError(t, err)
	assert.Equal(t, a, got)
	assert.Equal(t, downloadsAfterFirst, tr.CallCount("DownloadEntities"), "second pull must download nothing")
	assert.Equal(t, mainAfterFirst, st.MainCount())
}

// TestPullResumesFromTempSeed covers pre-flight step 3: the target is
// already staged in temp (say, from an interrupted earlier pull), so the
// pipeline is seeded from the temp row and only the still-missing
// dependency is downloaded.
func TestPullResumesFromTempSeed(t *testing.T) {
	st := synctest.NewMemStore()

	head, dep := synctest.FakeHash(1), synctest.FakeHash(2)
	jDep := synctest.MintJWT(dep)
	require.NoError(t, st.InsertTempEntity(context.Background(), head,
		&entity.Entity{Kind: entity.KindCausal, CausalNS: hash.Hash32{9}, Deps: []hash.HashJWT{jDep}},
		map[hash.Hash32]hash.HashJWT{dep: jDep}))

	tr := &synctest.FakeTransport{
		GetCausalHashByPathFunc: func(context.Context, store.Path) (*transport.GetCausalHashByPathResponse, error) {
			return &transport.GetCausalHashByPathResponse{
				Kind: transport.GetCausalHashByPathSuccess, Found: true, HashJWT: synctest.MintJWT(head),
			}, nil
		},
		DownloadEntitiesFunc: func(_ context.Context, req transport.DownloadEntitiesRequest) (*transport.DownloadEntitiesResponse, error) {
			require.Len(t, req.Hashes, 1)
			h, err := req.Hashes[0].Hash()
			require.NoError(t, err)
			require.Equal(t, dep, h, "only the missing dependency should be fetched")
			return &transport.DownloadEntitiesResponse{
				Entities: map[hash.Hash32]*entity.Entity{dep: {Kind: entity.KindBytes, Body: []byte("leaf")}},
			}, nil
		},
	}

	got, err := pull.Pull(context.Background(), st, tr, testPath(), pull.Callbacks{})
	require.NoError(t, err)
	assert.Equal(t, head, got)
	assert.True(t, st.HasMain(head))
	assert.True(t, st.HasMain(dep))
	assert.Equal(t, 0, st.TempCount())
	assert.Equal(t, 1, tr.CallCount("DownloadEntities"))
}

// TestPullWideDependencySet exercises the concurrent downloaders: a head
// with 120 leaf dependencies forces the dispatcher to split work into
// batches of at most 50 across up to 10 workers, and every entity must
// land in main exactly once regardless of interleaving.
func TestPullWideDependencySet(t *testing.T) {
	st := synctest.NewMemStore()

	const leaves = 120
	head := synctest.FakeHash(1000)
	entities := map[hash.Hash32]*entity.Entity{}
	var deps []hash.HashJWT
	for i := 0; i < leaves; i++ {
		h := synctest.FakeHash(i + 1)
		entities[h] = &entity.Entity{Kind: entity.KindBytes, Body: []byte{byte(i)}}
		deps = append(deps, synctest.MintJWT(h))
	}
	entities[head] = &entity.Entity{Kind: entity.KindCausal, CausalNS: hash.Hash32{9}, Deps: deps}

	var queued, downloaded int64
	tr := &synctest.FakeTransport{
		GetCausalHashByPathFunc: func(context.Context, store.Path) (*transport.GetCausalHashByPathResponse, error) {
			return &transport.GetCausalHashByPathResponse{
				Kind: transport.GetCausalHashByPathSuccess, Found: true, HashJWT: synctest.MintJWT(head),
			}, nil
		},
		DownloadEntitiesFunc: func(_ context.Context, req transport.DownloadEntitiesRequest) (*transport.DownloadEntitiesResponse, error) {
			require.LessOrEqual(t, len(req.Hashes), transport.MaxBatchSize)
			out := make(map[hash.Hash32]*entity.Entity, len(req.Hashes))
			for _, j := range req.Hashes {
				h, err := j.Hash()
				require.NoError(t, err)
				out[h] = entities[h]
			}
			return &transport.DownloadEntitiesResponse{Entities: out}, nil
		},
	}

	got, err := pull.Pull(context.Background(), st, tr, testPath(), pull.Callbacks{
		OnQueuedForDownload: func(n int) { atomic.AddInt64(&queued, int64(n)) },
		OnDownloaded:        func(n int) { atomic.AddInt64(&downloaded, int64(n)) },
	})
	require.NoError(t, err)
	assert.Equal(t, head, got)
	assert.Equal(t, leaves+1, st.MainCount())
	assert.Equal(t, 0, st.TempCount())
	assert.Equal(t, int64(leaves+1), atomic.LoadInt64(&queued))
	assert.Equal(t, int64(leaves+1), atomic.LoadInt64(&downloaded))
}

// TestPullDownloadErrorAborts covers the propagation policy: a transport
// failure in any downloader surfaces as the pull's failure, with partial
// progress left behind for a later pull to resume from.
func TestPullDownloadErrorAborts(t *testing.T) {
	st := synctest.NewMemStore()

	head, dep := synctest.FakeHash(1), synctest.FakeHash(2)
	tr := &synctest.FakeTransport{
		GetCausalHashByPathFunc: func(context.Context, store.Path) (*transport.GetCausalHashByPathResponse, error) {
			return &transport.GetCausalHashByPathResponse{
				Kind: transport.GetCausalHashByPathSuccess, Found: true, HashJWT: synctest.MintJWT(head),
			}, nil
		},
		DownloadEntitiesFunc: func(_ context.Context, req transport.DownloadEntitiesRequest) (*transport.DownloadEntitiesResponse, error) {
			h, err := req.Hashes[0].Hash()
			require.NoError(t, err)
			if h == head {
				jDep := synctest.MintJWT(dep)
				return &transport.DownloadEntitiesResponse{
					Entities: map[hash.Hash32]*entity.Entity{
						head: {Kind: entity.KindCausal, CausalNS: hash.Hash32{9}, Deps: []hash.HashJWT{jDep}},
					},
				}, nil
			}
			return nil, &transport.Error{Kind: transport.InternalServerError}
		},
	}

	_, err := pull.Pull(context.Background(), st, tr, testPath(), pull.Callbacks{})
	var terr *transport.Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, transport.InternalServerError, terr.Kind)

	// The head landed in temp before the failure and stays there for a
	// later pull to resume from.
	loc, lerr := st.EntityLocation(context.Background(), head)
	require.NoError(t, lerr)
	assert.Equal(t, store.Temp, loc)
}

// TestPullNoReadPermission covers getCausalHashByPath's NoReadPermission
// outcome.
func TestPullNoReadPermission(t *testing.T) {
	st := synctest.NewMemStore()
	tr := &synctest.FakeTransport{
		GetCausalHashByPathFunc: func(context.Context, store.Path) (*transport.GetCausalHashByPathResponse, error) {
			return &transport.GetCausalHashByPathResponse{Kind: transport.GetCausalHashByPathNoReadPermission}, nil
		},
	}

	_, err := pull.Pull(context.Background(), st, tr, testPath(), pull.Callbacks{})
	var permErr *pull.NoReadPermissionError
	require.ErrorAs(t, err, &permErr)
}
