package pull

import (
	"fmt"

	"github.com/steveyegge/sharesync/internal/store"
)

// NoHistoryAtPathError is returned when the remote path has no causal
// history at all.
type NoHistoryAtPathError struct {
	Path store.Path
}

func (e *NoHistoryAtPathError) Error() string {
	return fmt.Sprintf("pull: no history at %s", e.Path)
}

// NoReadPermissionError mirrors getCausalHashByPath's NoReadPermission
// outcome.
type NoReadPermissionError struct {
	Path store.Path
}

func (e *NoReadPermissionError) Error() string {
	return fmt.Sprintf("pull: no read permission for %s", e.Path)
}
