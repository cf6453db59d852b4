// Package engine wires the store, transport, and logger into the three
// operations a caller actually invokes — push (check-and-set or
// fast-forward), pull, and the read-only status inspection — collected
// into one small struct rather than package-level globals, since this is
// a library first and a CLI second.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/steveyegge/sharesync/internal/dag"
	"github.com/steveyegge/sharesync/internal/hash"
	"github.com/steveyegge/sharesync/internal/pull"
	"github.com/steveyegge/sharesync/internal/push"
	"github.com/steveyegge/sharesync/internal/store"
	"github.com/steveyegge/sharesync/internal/transport"
	"github.com/steveyegge/sharesync/internal/upload"
)

// Engine bundles the dependencies every sync operation needs. The zero
// value is not usable; construct with New.
type Engine struct {
	Store     pull.Store
	Transport transport.Transport
	Logger    *slog.Logger
}

// New builds an Engine. A nil logger defaults to slog.Default(), matching
// every other component in this repo that accepts an optional *slog.Logger.
func New(st pull.Store, tr transport.Transport, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{Store: st, Transport: tr, Logger: logger}
}

// CheckAndSetPush performs a check-and-set push: the remote path is only
// updated if its current hash matches expectedHash.
func (e *Engine) CheckAndSetPush(ctx context.Context, path store.Path, expectedHash *hash.Hash32, local hash.CausalHash, progress upload.ProgressFunc) error {
	e.Logger.Info("push: check-and-set starting", "path", path.String(), "local", local.String())
	err := push.CheckAndSet(ctx, e.Store, e.Transport, path, expectedHash, local, progress)
	if err != nil {
		e.Logger.Error("push: check-and-set failed", "path", path.String(), "error", err)
		return err
	}
	e.Logger.Info("push: check-and-set succeeded", "path", path.String())
	return nil
}

// FastForwardPush performs a fast-forward push: local must be a causal
// descendant of whatever the remote path currently points to.
func (e *Engine) FastForwardPush(ctx context.Context, path store.Path, local hash.CausalHash, progress upload.ProgressFunc) error {
	e.Logger.Info("push: fast-forward starting", "path", path.String(), "local", local.String())
	err := push.FastForward(ctx, e.Store, e.Transport, path, local, progress)
	if err != nil {
		e.Logger.Error("push: fast-forward failed", "path", path.String(), "error", err)
		return err
	}
	e.Logger.Info("push: fast-forward succeeded", "path", path.String())
	return nil
}

// Pull resolves path and ensures its full dependency closure is present
// in main storage.
func (e *Engine) Pull(ctx context.Context, path store.Path, cb pull.Callbacks) (hash.Hash32, error) {
	if cb.Logger == nil {
		cb.Logger = e.Logger
	}
	return pull.Pull(ctx, e.Store, e.Transport, path, cb)
}

// Status reports where a hash currently lives without performing any
// network I/O, and — when the location is temp — how many dependencies
// it is still waiting on.
type Status struct {
	Hash     hash.Hash32
	Location store.Location
	// Missing is the number of still-missing dependencies, meaningful
	// only when Location == store.Temp.
	Missing int
}

// Inspect reports h's local store location without touching the network.
func (e *Engine) Inspect(ctx context.Context, h hash.Hash32) (Status, error) {
	loc, err := e.Store.EntityLocation(ctx, h)
	if err != nil {
		return Status{}, fmt.Errorf("engine: inspect %s: %w", h, err)
	}
	st := Status{Hash: h, Location: loc}
	if loc != store.Temp {
		e.Logger.Debug("status: inspected", "hash", h.String(), "location", loc.String())
		return st, nil
	}

	ent, err := e.Store.ExpectEntity(ctx, h)
	if err != nil {
		return Status{}, fmt.Errorf("engine: inspect %s: %w", h, err)
	}
	missing := 0
	for _, depJWT := range ent.Dependencies() {
		depHash, err := depJWT.Hash()
		if err != nil {
			return Status{}, fmt.Errorf("engine: inspect %s: %w", h, err)
		}
		exists, err := e.Store.EntityExists(ctx, depHash)
		if err != nil {
			return Status{}, fmt.Errorf("engine: inspect %s: %w", h, err)
		}
		if !exists {
			missing++
		}
	}
	st.Missing = missing
	e.Logger.Debug("status: inspected", "hash", h.String(), "location", loc.String(), "missing", missing)
	return st, nil
}

// CausalSpine exposes the BFS directly for callers that want to inspect
// the spine between two causals without performing a push.
func (e *Engine) CausalSpine(ctx context.Context, earlier, later hash.Hash32) ([]hash.Hash32, bool, error) {
	return dag.CausalSpineBetween(ctx, e.Store, earlier, later)
}
