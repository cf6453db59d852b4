package main

import (
	"fmt"
	"strings"

	"github.com/steveyegge/sharesync/internal/store"
)

// parsePath splits "repoName/seg1/seg2" into a store.Path, the inverse of
// store.Path.String.
func parsePath(s string) (store.Path, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return store.Path{}, fmt.Errorf("sharesync: empty path")
	}
	parts := strings.Split(s, "/")
	return store.NewPath(parts[0], parts[1:]...), nil
}
