package synctest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/steveyegge/sharesync/internal/store"
	"github.com/steveyegge/sharesync/internal/transport"
)

// FakeTransport is a scriptable transport.Transport: each endpoint is
// driven by an optional function field, defaulting to a not-implemented
// panic so a test that exercises an endpoint it forgot to script fails
// loudly rather than silently returning a zero value. Call counts are
// tracked for assertions on retry/batching behavior.
type FakeTransport struct {
	GetCausalHashByPathFunc func(ctx context.Context, path store.Path) (*transport.GetCausalHashByPathResponse, error)
	UpdatePathFunc          func(ctx context.Context, req transport.UpdatePathRequest) (*transport.UpdatePathResponse, error)
	FastForwardPathFunc     func(ctx context.Context, req transport.FastForwardPathRequest) (*transport.FastForwardPathResponse, error)
	DownloadEntitiesFunc    func(ctx context.Context, req transport.DownloadEntitiesRequest) (*transport.DownloadEntitiesResponse, error)
	UploadEntitiesFunc      func(ctx context.Context, req transport.UploadEntitiesRequest) (*transport.UploadEntitiesResponse, error)

	mu    sync.Mutex
	calls map[string]int
}

func (f *FakeTransport) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[name]++
}

// CallCount returns how many times the named endpoint has been invoked.
// Valid names: "GetCausalHashByPath", "UpdatePath", "FastForwardPath",
// "DownloadEntities", "UploadEntities".
func (f *FakeTransport) CallCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *FakeTransport) GetCausalHashByPath(ctx context.Context, path store.Path) (*transport.GetCausalHashByPathResponse, error) {
	f.record("GetCausalHashByPath")
	if f.GetCausalHashByPathFunc == nil {
		panic("synctest: FakeTransport.GetCausalHashByPathFunc not scripted")
	}
	return f.GetCausalHashByPathFunc(ctx, path)
}

func (f *FakeTransport) UpdatePath(ctx context.Context, req transport.UpdatePathRequest) (*transport.UpdatePathResponse, error) {
	f.record("UpdatePath")
	if f.UpdatePathFunc == nil {
		panic("synctest: FakeTransport.UpdatePathFunc not scripted")
	}
	return f.UpdatePathFunc(ctx, req)
}

func (f *FakeTransport) FastForwardPath(ctx context.Context, req transport.FastForwardPathRequest) (*transport.FastForwardPathResponse, error) {
	f.record("FastForwardPath")
	if f.FastForwardPathFunc == nil {
		panic("synctest: FakeTransport.FastForwardPathFunc not scripted")
	}
	return f.FastForwardPathFunc(ctx, req)
}

func (f *FakeTransport) DownloadEntities(ctx context.Context, req transport.DownloadEntitiesRequest) (*transport.DownloadEntitiesResponse, error) {
	f.record("DownloadEntities")
	if f.DownloadEntitiesFunc == nil {
		panic("synctest: FakeTransport.DownloadEntitiesFunc not scripted")
	}
	return f.DownloadEntitiesFunc(ctx, req)
}

func (f *FakeTransport) UploadEntities(ctx context.Context, req transport.UploadEntitiesRequest) (*transport.UploadEntitiesResponse, error) {
	f.record("UploadEntities")
	if f.UploadEntitiesFunc == nil {
		panic("synctest: FakeTransport.UploadEntitiesFunc not scripted")
	}
	return f.UploadEntitiesFunc(ctx, req)
}

var _ transport.Transport = (*FakeTransport)(nil)

// SeqCounter is a convenience for tests that need to hand out distinct
// int seeds (e.g. to synctest.FakeHash) without a shared package-level
// variable racing between parallel tests.
type SeqCounter struct {
	n int64
}

func (c *SeqCounter) Next() int {
	return int(atomic.AddInt64(&c.n, 1))
}

// NewSeqCounter returns a counter starting at 1, safe for concurrent use.
func NewSeqCounter() *SeqCounter {
	return &SeqCounter{}
}
