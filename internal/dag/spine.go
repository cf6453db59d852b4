// Package dag implements breadth-first traversal over the local causal
// parent graph, used to compute the chain a fast-forward push must
// transmit.
package dag

import (
	"context"
	"fmt"

	"github.com/steveyegge/sharesync/internal/hash"
)

// ParentLoader loads the locally known parents of a causal. It is the
// store.Store.LoadCausalParentsByHash method, narrowed to the one
// operation this package needs.
type ParentLoader interface {
	LoadCausalParentsByHash(ctx context.Context, h hash.Hash32) ([]hash.Hash32, error)
}

// CausalSpineBetween returns the chain of causals strictly between earlier
// and later, oldest-to-newest, excluding both endpoints. ok is false if
// earlier is not an ancestor of later reachable via loadCausalParentsByHash
// (the second return mirrors Option<path>, Go-style, since a nil slice is
// ambiguous with "earlier == later").
//
// Breadth-first rather than depth-first: causal graphs can be wide (many
// merges), and BFS bounds the search to the true spine length while
// guaranteeing the shortest path is the one returned.
func CausalSpineBetween(ctx context.Context, loader ParentLoader, earlier, later hash.Hash32) (path []hash.Hash32, ok bool, err error) {
	if earlier == later {
		return []hash.Hash32{}, true, nil
	}

	// Each frontier entry is a node plus the newest-first chain of nodes
	// strictly between later and node (excluding both). New frontier
	// entries are appended to the back, so shorter paths are explored
	// first (FIFO — true BFS, not a stack).
	type frontierEntry struct {
		node     hash.Hash32
		interior []hash.Hash32
	}

	visited := hash.NewSet(later)
	frontier := []frontierEntry{{node: later, interior: nil}}

	for len(frontier) > 0 {
		cur := frontier[0]
		frontier = frontier[1:]

		parents, err := loader.LoadCausalParentsByHash(ctx, cur.node)
		if err != nil {
			return nil, false, fmt.Errorf("dag: load parents of %s: %w", cur.node, err)
		}

		extended := cur.interior
		if cur.node != later {
			extended = append(append([]hash.Hash32{}, cur.interior...), cur.node)
		}

		for _, p := range parents {
			if p == earlier {
				return reverse(extended), true, nil
			}
			if visited.Has(p) {
				continue
			}
			visited.Add(p)
			frontier = append(frontier, frontierEntry{node: p, interior: extended})
		}
	}

	return nil, false, nil
}

func reverse(hs []hash.Hash32) []hash.Hash32 {
	out := make([]hash.Hash32, len(hs))
	for i, h := range hs {
		out[len(hs)-1-i] = h
	}
	return out
}
