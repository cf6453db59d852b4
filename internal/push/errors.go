package push

import (
	"fmt"

	"github.com/steveyegge/sharesync/internal/hash"
	"github.com/steveyegge/sharesync/internal/store"
)

// HashMismatchError is returned by check-and-set push when the server's
// current hash for path disagrees with the caller's expectation.
type HashMismatchError struct {
	Path     store.Path
	Expected hash.Hash32
	Actual   hash.Hash32
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("push: hash mismatch at %s: expected %s, server has %s", e.Path, e.Expected, e.Actual)
}

// ServerMissingDependenciesError is the "both sides think the other is at
// fault" outcome: after a successful upload loop, the server still
// reports missing dependencies on retry.
type ServerMissingDependenciesError struct {
	Missing hash.Set
}

func (e *ServerMissingDependenciesError) Error() string {
	return fmt.Sprintf("push: server still reports %d missing dependencies after upload", len(e.Missing))
}

// NoWritePermissionError mirrors the endpoint's NoWritePermission outcome.
type NoWritePermissionError struct {
	Path store.Path
}

func (e *NoWritePermissionError) Error() string {
	return fmt.Sprintf("push: no write permission for %s", e.Path)
}

// NoReadPermissionError is returned by fast-forward push's preliminary
// getCausalHashByPath call.
type NoReadPermissionError struct {
	Path store.Path
}

func (e *NoReadPermissionError) Error() string {
	return fmt.Sprintf("push: no read permission for %s", e.Path)
}

// NoHistoryError is returned when the remote path has no history at all.
type NoHistoryError struct {
	Path store.Path
}

func (e *NoHistoryError) Error() string {
	return fmt.Sprintf("push: no history at %s", e.Path)
}

// NotFastForwardError is returned when local is not reachable forward
// from remote along the causal parent chain.
type NotFastForwardError struct {
	Path   store.Path
	Remote hash.Hash32
	Local  hash.Hash32
}

func (e *NotFastForwardError) Error() string {
	return fmt.Sprintf("push: %s is not a fast-forward of remote %s at %s", e.Local, e.Remote, e.Path)
}

// InvalidParentageError mirrors fastForwardPath's InvalidParentage outcome.
type InvalidParentageError struct {
	Parent hash.Hash32
	Child  hash.Hash32
}

func (e *InvalidParentageError) Error() string {
	return fmt.Sprintf("push: invalid parentage: %s is not a valid parent of %s", e.Parent, e.Child)
}
