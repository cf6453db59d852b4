package pull

import (
	"context"

	"github.com/steveyegge/sharesync/internal/entity"
	"github.com/steveyegge/sharesync/internal/hash"
	"github.com/steveyegge/sharesync/internal/store"
)

// promote applies the promotion rule to a single downloaded (hash,
// entity) pair: if it's already known, do nothing; otherwise save it
// straight to main if every dependency is already in main, or stage it in
// temp recording what it's still waiting on. A dependency that is itself
// only in temp counts as missing — the store's cascade inside
// SaveTempEntityInMain promotes the whole chain once the frontier lands.
func promote(ctx context.Context, st store.Store, h hash.Hash32, e *entity.Entity) (store.Location, error) {
	loc, err := st.EntityLocation(ctx, h)
	if err != nil {
		return store.Absent, err
	}
	if loc != store.Absent {
		return loc, nil
	}

	missing := make(map[hash.Hash32]hash.HashJWT)
	for _, depJWT := range e.Dependencies() {
		depHash, err := depJWT.Hash()
		if err != nil {
			return store.Absent, err
		}
		exists, err := st.EntityExists(ctx, depHash)
		if err != nil {
			return store.Absent, err
		}
		if !exists {
			missing[depHash] = depJWT
		}
	}

	if len(missing) == 0 {
		if err := st.SaveTempEntityInMain(ctx, h, e); err != nil {
			return store.Absent, err
		}
		return store.Main, nil
	}

	if err := st.InsertTempEntity(ctx, h, e, missing); err != nil {
		return store.Absent, err
	}
	return store.Temp, nil
}
