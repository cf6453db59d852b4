package entity_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/steveyegge/sharesync/internal/entity"
	"github.com/steveyegge/sharesync/internal/hash"
)

func TestValidateRejectsUnknownKind(t *testing.T) {
	e := &entity.Entity{Kind: entity.Kind("nonsense")}
	assert.Error(t, e.Validate())
}

func TestValidateRejectsCausalWithoutNamespace(t *testing.T) {
	e := &entity.Entity{Kind: entity.KindCausal}
	assert.Error(t, e.Validate())
}

func TestValidateAcceptsWellFormedCausal(t *testing.T) {
	e := &entity.Entity{Kind: entity.KindCausal, CausalNS: hash.Hash32{1}}
	assert.NoError(t, e.Validate())
}

func TestValidateAcceptsEveryNonCausalKind(t *testing.T) {
	for _, k := range []entity.Kind{entity.KindNamespace, entity.KindTerm, entity.KindType, entity.KindPatch, entity.KindBytes} {
		e := &entity.Entity{Kind: k}
		assert.NoErrorf(t, e.Validate(), "kind %q should validate without a namespace hash", k)
	}
}

func TestDependenciesReturnsDeps(t *testing.T) {
	deps := []hash.HashJWT{"a", "b"}
	e := &entity.Entity{Kind: entity.KindBytes, Deps: deps}
	assert.Equal(t, deps, e.Dependencies())
}

func TestDependenciesEmptyWhenNoDeps(t *testing.T) {
	e := &entity.Entity{Kind: entity.KindBytes}
	assert.Empty(t, e.Dependencies())
}
