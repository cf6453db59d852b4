package sqlite

import (
	"encoding/json"
	"fmt"

	"github.com/steveyegge/sharesync/internal/entity"
	"github.com/steveyegge/sharesync/internal/hash"
)

// row is the flattened, column-shaped form of an entity.Entity as stored in
// either main_entity or temp_entity.
type row struct {
	Hash     hash.Hash32
	Kind     entity.Kind
	CausalNS *string
	Parents  []string
	Deps     []string
	Body     []byte
}

func toRow(h hash.Hash32, e *entity.Entity) (row, error) {
	parents := make([]string, len(e.Parents))
	for i, p := range e.Parents {
		parents[i] = p.String()
	}
	deps := make([]string, len(e.Deps))
	for i, d := range e.Deps {
		deps[i] = string(d)
	}
	var ns *string
	if e.Kind == entity.KindCausal {
		s := e.CausalNS.String()
		ns = &s
	}
	body := e.Body
	if body == nil {
		body = []byte{} // the body column is NOT NULL; an empty payload is legal
	}
	return row{Hash: h, Kind: e.Kind, CausalNS: ns, Parents: parents, Deps: deps, Body: body}, nil
}

func marshalStrings(ss []string) (string, error) {
	b, err := json.Marshal(ss)
	if err != nil {
		return "", fmt.Errorf("serialize: marshal: %w", err)
	}
	return string(b), nil
}

func unmarshalStrings(s string) ([]string, error) {
	var ss []string
	if s == "" {
		return nil, nil
	}
	if err := json.Unmarshal([]byte(s), &ss); err != nil {
		return nil, fmt.Errorf("serialize: unmarshal: %w", err)
	}
	return ss, nil
}

func rowToEntity(r row) (*entity.Entity, error) {
	e := &entity.Entity{Kind: r.Kind, Body: r.Body}
	if r.CausalNS != nil {
		ns, err := hash.ParseHash32(*r.CausalNS)
		if err != nil {
			return nil, fmt.Errorf("serialize: causal_ns: %w", err)
		}
		e.CausalNS = ns
	}
	for _, p := range r.Parents {
		ph, err := hash.ParseHash32(p)
		if err != nil {
			return nil, fmt.Errorf("serialize: parent: %w", err)
		}
		e.Parents = append(e.Parents, ph)
	}
	for _, d := range r.Deps {
		e.Deps = append(e.Deps, hash.HashJWT(d))
	}
	return e, nil
}
